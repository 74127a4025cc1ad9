// Package reconcile keeps master records consistent with their child
// records. The child is the source of truth for execution detail; the
// master is a denormalized summary that can fall behind when a child is
// mutated out of band or predates full master instrumentation.
//
// Synchronize repairs one flow, SynchronizeAll sweeps a tenant with
// bounded concurrency, and Summary performs the same comparison without
// writing.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/cache"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// DiscrepancyKind categorizes one master/child mismatch.
type DiscrepancyKind string

const (
	// KindStatusDivergence: master status does not match the child's.
	KindStatusDivergence DiscrepancyKind = "status_divergence"
	// KindStaleProgress: child advanced but the master's folded progress
	// fields were not updated.
	KindStaleProgress DiscrepancyKind = "stale_progress"
	// KindMissingTransitions: the child completed phases the master's
	// transition log has no completed entry for.
	KindMissingTransitions DiscrepancyKind = "missing_transitions"
	// KindConsistency: an invariant violation the service cannot safely
	// auto-repair. Surfaced, never dropped.
	KindConsistency DiscrepancyKind = "consistency"
)

// Discrepancy is one detected mismatch, with whether this sync pass
// repaired it.
type Discrepancy struct {
	Kind     DiscrepancyKind `json:"kind"`
	Phase    string          `json:"phase,omitempty"`
	Detail   string          `json:"detail"`
	Repaired bool            `json:"repaired"`
}

// SyncStatus is the outcome of synchronizing one flow. IsSynchronized
// reports whether the records already agreed when checked; a pass that
// found and repaired discrepancies returns false, and the next pass
// returns true.
type SyncStatus struct {
	FlowID         id.FlowID     `json:"flow_id"`
	IsSynchronized bool          `json:"is_synchronized"`
	Discrepancies  []Discrepancy `json:"discrepancies,omitempty"`
	LastCheckedAt  time.Time     `json:"last_checked_at"`
}

// FlowError pairs a flow with the error its sync produced.
type FlowError struct {
	FlowID id.FlowID `json:"flow_id"`
	Err    error     `json:"-"`
}

func (e FlowError) Error() string {
	return fmt.Sprintf("sync flow %s: %v", e.FlowID, e.Err)
}

// SyncResult summarizes a SynchronizeAll batch. FlowsSynchronized counts
// flows that needed and received a repair write. Errors holds per-flow
// failures; a failed flow never aborts the batch.
type SyncResult struct {
	FlowsProcessed    int         `json:"flows_processed"`
	FlowsSynchronized int         `json:"flows_synchronized"`
	Errors            []FlowError `json:"errors,omitempty"`
}

// FlowSummary is one flow's read-only sync state inside a TenantSummary.
type FlowSummary struct {
	FlowID         string `json:"flow_id"`
	IsSynchronized bool   `json:"is_synchronized"`
	Discrepancies  int    `json:"discrepancies"`
}

// TenantSummary is the read-only dashboard view over a tenant's
// in-flight flows.
type TenantSummary struct {
	FlowsChecked int           `json:"flows_checked"`
	Synchronized int           `json:"synchronized"`
	Diverged     int           `json:"diverged"`
	Flows        []FlowSummary `json:"flows"`
	CheckedAt    time.Time     `json:"checked_at"`
}

const summaryCacheTTL = 30 * time.Second

// Service compares and repairs master/child record pairs.
type Service struct {
	config   floworc.Config
	logger   *slog.Logger
	store    flow.Store
	registry *flowtype.Registry
	audits   *audit.Recorder
	cache    cache.Cache
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg floworc.Config) Option {
	return func(s *Service) { s.config = cfg }
}

// WithCache enables caching of tenant summaries.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// New creates a sync service over the given store and registry.
func New(store flow.Store, registry *flowtype.Registry, audits *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		config:   floworc.DefaultConfig(),
		logger:   slog.Default(),
		store:    store,
		registry: registry,
		audits:   audits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synchronize compares one flow's master record against its child and
// repairs any divergence by copying child state onto the master. The
// returned status reflects what was found when checked: a repairing pass
// reports IsSynchronized=false with the repaired discrepancies listed.
func (s *Service) Synchronize(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*SyncStatus, error) {
	master, err := s.store.GetMaster(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}
	child, err := s.store.GetChild(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}

	discrepancies := s.compare(master, child)
	status := &SyncStatus{
		FlowID:         flowID,
		IsSynchronized: len(discrepancies) == 0,
		Discrepancies:  discrepancies,
		LastCheckedAt:  time.Now().UTC(),
	}
	if status.IsSynchronized {
		return status, nil
	}

	if repaired := s.repair(ctx, master, child, discrepancies); repaired {
		if err := s.store.UpdateMaster(ctx, master); err != nil {
			return nil, fmt.Errorf("fold child state onto master %s: %w", flowID, err)
		}
	}

	s.logger.Info("flow synchronized",
		"flow_id", flowID.String(),
		"discrepancies", len(discrepancies),
	)
	return status, nil
}

// Status performs the comparison for one flow without writing anything.
func (s *Service) Status(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*SyncStatus, error) {
	master, err := s.store.GetMaster(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}
	child, err := s.store.GetChild(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}

	discrepancies := s.compare(master, child)
	return &SyncStatus{
		FlowID:         flowID,
		IsSynchronized: len(discrepancies) == 0,
		Discrepancies:  discrepancies,
		LastCheckedAt:  time.Now().UTC(),
	}, nil
}

// SynchronizeAll synchronizes every in-flight flow for a tenant with
// bounded concurrency. Each flow's sync is independent; per-flow errors
// are collected and the batch continues.
func (s *Service) SynchronizeAll(ctx context.Context, tenant scope.Tenant) (*SyncResult, error) {
	masters, err := s.store.ListInFlight(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list in-flight flows: %w", err)
	}

	concurrency := s.config.SyncConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result = &SyncResult{FlowsProcessed: len(masters)}
	)
	for _, m := range masters {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors = append(result.Errors, FlowError{FlowID: m.FlowID, Err: err})
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(flowID id.FlowID) {
			defer wg.Done()
			defer sem.Release(1)

			status, err := s.Synchronize(ctx, tenant, flowID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, FlowError{FlowID: flowID, Err: err})
				return
			}
			if !status.IsSynchronized {
				result.FlowsSynchronized++
			}
		}(m.FlowID)
	}
	wg.Wait()

	s.logger.Info("tenant synchronized",
		"flows_processed", result.FlowsProcessed,
		"flows_synchronized", result.FlowsSynchronized,
		"errors", len(result.Errors),
	)
	return result, nil
}

// Summary performs the comparison for a tenant's in-flight flows without
// writing anything. Results are cached briefly when a cache is
// configured.
func (s *Service) Summary(ctx context.Context, tenant scope.Tenant) (*TenantSummary, error) {
	key := summaryCacheKey(tenant)
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached TenantSummary
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	masters, err := s.store.ListInFlight(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list in-flight flows: %w", err)
	}

	summary := &TenantSummary{
		FlowsChecked: len(masters),
		CheckedAt:    time.Now().UTC(),
	}
	for _, master := range masters {
		child, err := s.store.GetChild(ctx, tenant, master.FlowID)
		if err != nil {
			return nil, err
		}
		discrepancies := s.compare(master, child)
		synced := len(discrepancies) == 0
		if synced {
			summary.Synchronized++
		} else {
			summary.Diverged++
		}
		summary.Flows = append(summary.Flows, FlowSummary{
			FlowID:         master.FlowID.String(),
			IsSynchronized: synced,
			Discrepancies:  len(discrepancies),
		})
	}

	if s.cache != nil {
		if raw, err := json.Marshal(summary); err == nil {
			_ = s.cache.Set(ctx, key, raw, summaryCacheTTL)
		}
	}
	return summary, nil
}

func summaryCacheKey(tenant scope.Tenant) string {
	return fmt.Sprintf("sync:summary:%s:%s", tenant.ClientAccountID, tenant.EngagementID)
}

// compare detects master/child divergence without mutating either
// record.
func (s *Service) compare(master *flow.MasterRecord, child *flow.ChildRecord) []Discrepancy {
	var out []Discrepancy

	hasOverride := false
	for _, t := range master.PhaseTransitions {
		if t.Status == flow.TransitionOverride {
			hasOverride = true
			break
		}
	}

	if want := masterStatusFor(child, master.Status); master.Status != want {
		out = append(out, Discrepancy{
			Kind:   KindStatusDivergence,
			Detail: fmt.Sprintf("master status %q, child implies %q", master.Status, want),
		})
	}

	foldedProgress, _ := master.Metadata["progress_percentage"].(float64)
	foldedPhase, _ := master.Metadata["current_phase"].(string)
	if foldedProgress != child.ProgressPercentage || foldedPhase != child.CurrentPhase {
		out = append(out, Discrepancy{
			Kind: KindStaleProgress,
			Detail: fmt.Sprintf("master folded progress %.1f%%/%q, child at %.1f%%/%q",
				foldedProgress, foldedPhase, child.ProgressPercentage, child.CurrentPhase),
		})
	}

	// Synthesis handles children that predate full master instrumentation.
	// An override entry means the log was rewritten by a recovery action,
	// so gaps there are expected and left alone.
	if !hasOverride {
		for _, phase := range child.PhasesCompleted {
			if _, ok := master.TransitionFor(phase, flow.TransitionCompleted); !ok {
				out = append(out, Discrepancy{
					Kind:   KindMissingTransitions,
					Phase:  phase,
					Detail: fmt.Sprintf("child completed %q with no matching transition entry", phase),
				})
			}
		}
	}

	cfg, err := s.registry.Get(master.FlowType)
	switch {
	case err != nil:
		out = append(out, Discrepancy{
			Kind:   KindConsistency,
			Detail: fmt.Sprintf("flow type %q is not registered", master.FlowType),
		})
	case !hasOverride && !flow.IsPhasePrefix(child.PhasesCompleted, cfg.PhaseNames()):
		out = append(out, Discrepancy{
			Kind:   KindConsistency,
			Detail: fmt.Sprintf("phases completed %v are not a prefix of %v and no override entry exists", child.PhasesCompleted, cfg.PhaseNames()),
		})
	}

	return out
}

// repair folds child state onto the master in place and marks which
// discrepancies were fixed. Consistency violations are never
// auto-repaired. Returns whether the master needs persisting.
func (s *Service) repair(ctx context.Context, master *flow.MasterRecord, child *flow.ChildRecord, discrepancies []Discrepancy) bool {
	dirty := false
	var synthesized []string

	for i := range discrepancies {
		d := &discrepancies[i]
		switch d.Kind {
		case KindStatusDivergence:
			master.Status = masterStatusFor(child, master.Status)
			d.Repaired = true
			dirty = true
		case KindStaleProgress:
			if master.Metadata == nil {
				master.Metadata = make(map[string]any)
			}
			master.Metadata["progress_percentage"] = child.ProgressPercentage
			master.Metadata["current_phase"] = child.CurrentPhase
			master.Metadata["last_synced_at"] = time.Now().UTC().Format(time.RFC3339)
			d.Repaired = true
			dirty = true
		case KindMissingTransitions:
			master.AppendTransition(flow.PhaseTransition{
				Phase:     d.Phase,
				Status:    flow.TransitionCompleted,
				Timestamp: time.Now().UTC(),
				Metadata:  map[string]any{"synthesized": true, "source": "sync"},
			}, s.config.TransitionLogLimit)
			synthesized = append(synthesized, d.Phase)
			d.Repaired = true
			dirty = true
		case KindConsistency:
			s.logger.Error("consistency violation detected",
				"flow_id", master.FlowID.String(),
				"detail", d.Detail,
			)
		}
	}

	if dirty {
		master.Touch()
	}
	if len(synthesized) > 0 && s.audits != nil {
		if err := s.audits.Record(ctx, master.Tenant, master.FlowID, audit.ActionSyncSynthesis, "reconcile",
			"synthesized transition entries from child record",
			map[string]any{"phases": synthesized},
		); err != nil {
			s.logger.Error("record sync audit entry", "flow_id", master.FlowID.String(), "error", err)
		}
	}
	return dirty
}

// masterStatusFor maps the authoritative child status to the master
// status it implies. A freshly created pair stays initialized until the
// child has made any progress.
func masterStatusFor(child *flow.ChildRecord, current flow.MasterStatus) flow.MasterStatus {
	switch child.Status {
	case flow.ChildActive:
		if current == flow.MasterInitialized && len(child.PhasesCompleted) == 0 && child.CurrentPhase == "" {
			return flow.MasterInitialized
		}
		return flow.MasterRunning
	case flow.ChildPaused:
		return flow.MasterPaused
	case flow.ChildCompleted:
		return flow.MasterCompleted
	case flow.ChildFailed:
		return flow.MasterFailed
	default:
		return current
	}
}
