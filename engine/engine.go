package engine

import (
	"context"
	"fmt"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/backoff"
	"github.com/floworc/floworc/cache"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/middleware"
	"github.com/floworc/floworc/monitor"
	"github.com/floworc/floworc/orchestrator"
	"github.com/floworc/floworc/reconcile"
	"github.com/floworc/floworc/retry"
)

// Engine bundles the wired subsystems behind typed accessors.
// Use Build() to create one from a Coordinator.
type Engine struct {
	c          *floworc.Coordinator
	flows      flow.Store
	registry   *flowtype.Registry
	orch       *orchestrator.Orchestrator
	checkpoint *checkpoint.Manager
	audits     *audit.Recorder
	reconciler *reconcile.Service
	monitor    *monitor.Monitor
	cache      cache.Cache

	// collected before wiring
	flowTypes []*flowtype.Config
	bo        backoff.Strategy
	mws       []middleware.Middleware
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the cache shared by the reconciliation service and the
// health monitor. Without it both fall back to uncached reads.
func WithCache(c cache.Cache) Option {
	return func(eng *Engine) {
		eng.cache = c
	}
}

// WithBackoff sets the retry delay strategy for transient phase failures.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithMiddleware replaces the orchestrator's default phase-execution
// middleware chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, mws...)
	}
}

// WithFlowType registers an additional flow type beyond the built-in
// catalog.
func WithFlowType(cfg *flowtype.Config) Option {
	return func(eng *Engine) {
		eng.flowTypes = append(eng.flowTypes, cfg)
	}
}

// Build creates an Engine from a Coordinator. The Coordinator's store
// must implement the flow, checkpoint, and audit store interfaces;
// backends under store/ implement all of them.
func Build(c *floworc.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	cfg := c.Config()
	st := c.Store()

	if st == nil {
		return nil, floworc.ErrNoStore
	}

	fs, ok := st.(flow.Store)
	if !ok {
		return nil, fmt.Errorf("floworc: store does not implement flow.Store")
	}
	cs, ok := st.(checkpoint.Store)
	if !ok {
		return nil, fmt.Errorf("floworc: store does not implement checkpoint.Store")
	}
	as, ok := st.(audit.Store)
	if !ok {
		return nil, fmt.Errorf("floworc: store does not implement audit.Store")
	}

	eng := &Engine{
		c:        c,
		flows:    fs,
		registry: flowtype.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if err := flowtype.RegisterBuiltin(eng.registry); err != nil {
		return nil, fmt.Errorf("floworc: register built-in flow types: %w", err)
	}
	for _, ft := range eng.flowTypes {
		if err := eng.registry.RegisterFlowType(ft); err != nil {
			return nil, fmt.Errorf("floworc: register flow type %q: %w", ft.Type, err)
		}
	}
	if err := eng.registry.VerifyAll(); err != nil {
		return nil, fmt.Errorf("floworc: verify flow types: %w", err)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	retries := retry.NewMetrics()

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithConfig(cfg),
		orchestrator.WithRetryMetrics(retries),
		orchestrator.WithBackoff(eng.bo),
	}
	if len(eng.mws) > 0 {
		orchOpts = append(orchOpts, orchestrator.WithMiddleware(eng.mws...))
	}
	eng.orch = orchestrator.New(fs, eng.registry, orchOpts...)

	eng.checkpoint = checkpoint.NewManager(cs, logger)
	eng.audits = audit.NewRecorder(as, logger)

	recOpts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithConfig(cfg),
	}
	if eng.cache != nil {
		recOpts = append(recOpts, reconcile.WithCache(eng.cache))
	}
	eng.reconciler = reconcile.New(fs, eng.registry, eng.audits, recOpts...)

	monOpts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithConfig(cfg),
	}
	if eng.cache != nil {
		monOpts = append(monOpts, monitor.WithCache(eng.cache))
	}
	eng.monitor = monitor.New(fs, eng.orch, eng.checkpoint, retries, eng.audits, monOpts...)

	return eng, nil
}

// RegisterHandler binds a phase handler implementation to the identifier
// flow-type configs reference.
func (eng *Engine) RegisterHandler(name string, h orchestrator.Handler) {
	eng.orch.RegisterHandler(name, h)
}

// RegisterValidator binds a pre-phase validator to its identifier.
func (eng *Engine) RegisterValidator(name string, v orchestrator.Validator) {
	eng.orch.RegisterValidator(name, v)
}

// Start begins the health monitor's periodic sweeps.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.monitor.Start(ctx)
}

// Stop halts the health monitor and waits for the in-flight sweep.
func (eng *Engine) Stop() error {
	return eng.monitor.Stop()
}

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *floworc.Coordinator { return eng.c }

// Flows returns the flow store the engine was built over.
func (eng *Engine) Flows() flow.Store { return eng.flows }

// Registry returns the flow-type registry.
func (eng *Engine) Registry() *flowtype.Registry { return eng.registry }

// Orchestrator returns the phase state machine.
func (eng *Engine) Orchestrator() *orchestrator.Orchestrator { return eng.orch }

// Checkpoints returns the checkpoint manager.
func (eng *Engine) Checkpoints() *checkpoint.Manager { return eng.checkpoint }

// Audits returns the audit recorder.
func (eng *Engine) Audits() *audit.Recorder { return eng.audits }

// Reconciler returns the master-child synchronization service.
func (eng *Engine) Reconciler() *reconcile.Service { return eng.reconciler }

// Monitor returns the health monitor.
func (eng *Engine) Monitor() *monitor.Monitor { return eng.monitor }

// Cache returns the shared cache, or nil if none was configured.
func (eng *Engine) Cache() cache.Cache { return eng.cache }
