// Package monitor watches in-flight flows and classifies their health
// against a historical phase-duration baseline. It runs as an explicitly
// started background loop and exposes forced recovery actions for
// stalled or failed flows.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/cache"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/orchestrator"
	"github.com/floworc/floworc/retry"
	"github.com/floworc/floworc/scope"
)

// Monitor is the flow health monitor. Construct with New, start with
// Start, and stop with Stop; the sweep loop owns no locks while reading.
type Monitor struct {
	config      floworc.Config
	logger      *slog.Logger
	store       flow.Store
	orch        *orchestrator.Orchestrator
	checkpoints *checkpoint.Manager
	retries     *retry.Metrics
	audits      *audit.Recorder
	cache       cache.Cache
	limiter     *rate.Limiter
	now         func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg floworc.Config) Option {
	return func(m *Monitor) { m.config = cfg }
}

// WithCache enables caching of health overview snapshots.
func WithCache(c cache.Cache) Option {
	return func(m *Monitor) { m.cache = c }
}

// WithClock substitutes the time source. Tests use this to classify
// against a fixed instant.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a health monitor over the given collaborators. The retry
// metrics must be the same instance the orchestrator records into.
func New(store flow.Store, orch *orchestrator.Orchestrator, checkpoints *checkpoint.Manager, retries *retry.Metrics, audits *audit.Recorder, opts ...Option) *Monitor {
	m := &Monitor{
		config:      floworc.DefaultConfig(),
		logger:      slog.Default(),
		store:       store,
		orch:        orch,
		checkpoints: checkpoints,
		retries:     retries,
		audits:      audits,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if n := m.config.RecoveryPerMinute; n > 0 {
		m.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
	return m
}

// Start launches the periodic sweep. Returns ErrMonitorRunning if the
// monitor is already active.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return floworc.ErrMonitorRunning
	}
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, stop)
	m.logger.Info("health monitor started", slog.Duration("interval", m.config.MonitorInterval))
	return nil
}

// Stop halts the sweep loop and waits for it to exit. Returns
// ErrMonitorStopped if the monitor is not running.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return floworc.ErrMonitorStopped
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("health monitor stopped")
	return nil
}

// Running reports whether the sweep loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep refreshes the health overview for every tenant with in-flight
// flows and logs anything unhealthy. It never takes per-flow locks.
func (m *Monitor) sweep(ctx context.Context) {
	tenants, err := m.store.ListActiveTenants(ctx)
	if err != nil {
		m.logger.Error("health sweep: list tenants", "error", err)
		return
	}

	for _, tenant := range tenants {
		if m.cache != nil {
			// Recompute rather than serve a stale snapshot.
			_ = m.cache.Delete(ctx, overviewCacheKey(tenant))
		}
		overview, err := m.Overview(ctx, tenant)
		if err != nil {
			m.logger.Error("health sweep",
				"client_account_id", tenant.ClientAccountID,
				"engagement_id", tenant.EngagementID,
				"error", err,
			)
			continue
		}
		for _, h := range overview.Flows {
			if h.State == StateHealthy {
				continue
			}
			m.logger.Warn("unhealthy flow",
				"flow_id", h.FlowID,
				"state", string(h.State),
				"phase", h.Phase,
				"elapsed_in_phase", h.ElapsedInPhase,
				"retry_count", h.RetryCount,
			)
		}
	}
}

func overviewCacheKey(tenant scope.Tenant) string {
	return fmt.Sprintf("monitor:overview:%s:%s", tenant.ClientAccountID, tenant.EngagementID)
}

func (m *Monitor) cachedOverview(ctx context.Context, tenant scope.Tenant) (*Overview, bool) {
	if m.cache == nil {
		return nil, false
	}
	raw, ok, err := m.cache.Get(ctx, overviewCacheKey(tenant))
	if err != nil || !ok {
		return nil, false
	}
	var overview Overview
	if err := json.Unmarshal(raw, &overview); err != nil {
		return nil, false
	}
	return &overview, true
}

func (m *Monitor) storeOverview(ctx context.Context, tenant scope.Tenant, overview *Overview) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(overview)
	if err != nil {
		return
	}
	_ = m.cache.Set(ctx, overviewCacheKey(tenant), raw, m.config.MonitorInterval)
}
