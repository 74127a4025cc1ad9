// Package orchestrator implements the phase state machine that drives a
// flow through its type's ordered phase list.
//
// All state-changing entry points (AdvancePhase, Pause, Resume, the
// recovery overrides) serialize per flow ID through a keyed lock, so the
// idempotence guarantees hold regardless of caller: API triggers, queue
// consumers, and the health monitor's recovery path all go through the
// same code.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/backoff"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/middleware"
	"github.com/floworc/floworc/retry"
	"github.com/floworc/floworc/scope"
)

// Orchestrator advances flows phase by phase.
type Orchestrator struct {
	config   floworc.Config
	logger   *slog.Logger
	store    flow.Store
	registry *flowtype.Registry
	retries  *retry.Metrics
	backoff  backoff.Strategy
	chain    middleware.Middleware
	collab   *collaborators
	locks    *flowLocks

	// sleep is swappable in tests so retry backoff does not slow them.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg floworc.Config) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithBackoff sets the retry delay strategy for transient phase failures.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *Orchestrator) { o.backoff = s }
}

// WithRetryMetrics injects a shared retry tracker, typically the same
// instance the health monitor reads.
func WithRetryMetrics(m *retry.Metrics) Option {
	return func(o *Orchestrator) { o.retries = m }
}

// WithMiddleware replaces the default phase-execution middleware chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *Orchestrator) { o.chain = middleware.Chain(mws...) }
}

// New creates an orchestrator backed by the given store and registry.
func New(store flow.Store, registry *flowtype.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:   floworc.DefaultConfig(),
		logger:   slog.Default(),
		store:    store,
		registry: registry,
		retries:  retry.NewMetrics(),
		backoff:  backoff.DefaultStrategy(),
		collab:   newCollaborators(),
		locks:    newFlowLocks(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.chain == nil {
		o.chain = middleware.Chain(
			middleware.Recover(o.logger),
			middleware.Logging(o.logger),
			middleware.Metrics(),
			middleware.Tracing(),
			middleware.Scope(),
			middleware.Timeout(o.logger),
		)
	}
	return o
}

// RegisterHandler binds a phase handler implementation to the identifier
// flow type configs refer to.
func (o *Orchestrator) RegisterHandler(name string, h Handler) {
	o.collab.registerHandler(name, h)
}

// RegisterValidator binds a validator implementation to its identifier.
func (o *Orchestrator) RegisterValidator(name string, v Validator) {
	o.collab.registerValidator(name, v)
}

// Retries exposes the retry tracker, read by the health monitor.
func (o *Orchestrator) Retries() *retry.Metrics { return o.retries }

// StartFlow creates the master and child records atomically and returns
// the shared flow ID. The flow starts in status initialized with no
// current phase.
func (o *Orchestrator) StartFlow(ctx context.Context, tenant scope.Tenant, t flowtype.Type) (id.FlowID, error) {
	if _, err := o.registry.Get(t); err != nil {
		return id.Nil, err
	}

	master, child := flow.NewFlow(tenant, t)
	if err := o.store.CreateFlow(ctx, master, child); err != nil {
		return id.Nil, err
	}

	o.logger.Info("flow started",
		slog.String("flow_id", master.FlowID.String()),
		slog.String("flow_type", string(t)),
		slog.String("client_account_id", tenant.ClientAccountID),
		slog.String("engagement_id", tenant.EngagementID),
	)
	return master.FlowID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
