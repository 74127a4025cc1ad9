package floworc

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles; implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Coordinator holds the configuration, logger, and persistence backend
// shared by every floworc subsystem. Create one with New and functional
// options, then pass it to engine.Build to wire the orchestrator,
// reconciliation service, and health monitor together.
type Coordinator struct {
	config Config
	logger *slog.Logger
	store  Storer
}

// New creates a Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// Close releases the coordinator's persistence backend.
func (c *Coordinator) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; typically it is a store.Store embedding all subsystem store
// interfaces.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithRetryCeiling sets the per-(flow, phase) retry ceiling.
func WithRetryCeiling(n int) Option {
	return func(c *Coordinator) error {
		c.config.RetryCeiling = n
		return nil
	}
}

// WithHandlerTimeout sets the ceiling on a single phase-handler call.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.HandlerTimeout = d
		return nil
	}
}

// WithSyncConcurrency bounds SynchronizeAll's parallelism.
func WithSyncConcurrency(n int) Option {
	return func(c *Coordinator) error {
		c.config.SyncConcurrency = n
		return nil
	}
}

// WithMonitorInterval sets the health monitor sweep interval.
func WithMonitorInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.MonitorInterval = d
		return nil
	}
}

// WithHangingMultiplier sets the hanging-classification factor.
func WithHangingMultiplier(f float64) Option {
	return func(c *Coordinator) error {
		c.config.HangingMultiplier = f
		return nil
	}
}
