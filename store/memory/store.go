// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ flow.Store       = (*Store)(nil)
	_ checkpoint.Store = (*Store)(nil)
	_ audit.Store      = (*Store)(nil)
)

// Store is an in-memory implementation of the aggregate store.
type Store struct {
	mu sync.RWMutex

	masters     map[string]*flow.MasterRecord
	children    map[string]*flow.ChildRecord
	checkpoints map[string]*checkpoint.Checkpoint // key: checkpoint ID
	audits      map[string][]*audit.Entry         // key: flow ID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		masters:     make(map[string]*flow.MasterRecord),
		children:    make(map[string]*flow.ChildRecord),
		checkpoints: make(map[string]*checkpoint.Checkpoint),
		audits:      make(map[string][]*audit.Entry),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Flow store
// ──────────────────────────────────────────────────

// CreateFlow persists a master and child pair atomically.
func (m *Store) CreateFlow(_ context.Context, master *flow.MasterRecord, child *flow.ChildRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := master.FlowID.String()
	if _, exists := m.masters[key]; exists {
		return floworc.ErrFlowExists
	}
	m.masters[key] = cloneMaster(master)
	m.children[key] = cloneChild(child)
	return nil
}

// GetMaster retrieves a master record scoped to the tenant.
func (m *Store) GetMaster(_ context.Context, tenant scope.Tenant, flowID id.FlowID) (*flow.MasterRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.masters[flowID.String()]
	if !ok || rec.Tenant != tenant {
		return nil, floworc.ErrFlowNotFound
	}
	return cloneMaster(rec), nil
}

// GetChild retrieves a child record scoped to the tenant.
func (m *Store) GetChild(_ context.Context, tenant scope.Tenant, flowID id.FlowID) (*flow.ChildRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.children[flowID.String()]
	if !ok || rec.Tenant != tenant {
		return nil, floworc.ErrFlowNotFound
	}
	return cloneChild(rec), nil
}

// UpdateMaster persists changes to an existing master record.
func (m *Store) UpdateMaster(_ context.Context, master *flow.MasterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateMasterLocked(master)
}

// UpdateChild persists changes to an existing child record.
func (m *Store) UpdateChild(_ context.Context, child *flow.ChildRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateChildLocked(child)
}

// CompletePhase applies a phase commit atomically: master update, child
// update, and checkpoint all land under one lock.
func (m *Store) CompletePhase(_ context.Context, pc *flow.PhaseCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.updateMasterLocked(pc.Master); err != nil {
		return err
	}
	if err := m.updateChildLocked(pc.Child); err != nil {
		return err
	}
	if pc.Checkpoint != nil {
		m.checkpoints[pc.Checkpoint.CheckpointID.String()] = cloneCheckpoint(pc.Checkpoint)
	}
	return nil
}

// ListInFlight returns non-terminal master records for a tenant.
func (m *Store) ListInFlight(_ context.Context, tenant scope.Tenant) ([]*flow.MasterRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*flow.MasterRecord
	for _, rec := range m.masters {
		if rec.Tenant != tenant || rec.Status.Terminal() {
			continue
		}
		out = append(out, cloneMaster(rec))
	}
	sortMasters(out)
	return out, nil
}

// ListMasters returns all master records for a tenant.
func (m *Store) ListMasters(_ context.Context, tenant scope.Tenant) ([]*flow.MasterRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*flow.MasterRecord
	for _, rec := range m.masters {
		if rec.Tenant != tenant {
			continue
		}
		out = append(out, cloneMaster(rec))
	}
	sortMasters(out)
	return out, nil
}

// ListActiveTenants returns tenants with at least one in-flight flow,
// ordered for deterministic sweeps.
func (m *Store) ListActiveTenants(_ context.Context) ([]scope.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[scope.Tenant]struct{})
	for _, rec := range m.masters {
		if rec.Status.Terminal() {
			continue
		}
		seen[rec.Tenant] = struct{}{}
	}

	out := make([]scope.Tenant, 0, len(seen))
	for tenant := range seen {
		out = append(out, tenant)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientAccountID != out[j].ClientAccountID {
			return out[i].ClientAccountID < out[j].ClientAccountID
		}
		return out[i].EngagementID < out[j].EngagementID
	})
	return out, nil
}

// PhaseDurations averages recorded execution times per phase across all
// flows of the given type, regardless of tenant. The baseline is a
// cross-tenant aggregate; it carries no tenant data beyond durations.
func (m *Store) PhaseDurations(_ context.Context, t flowtype.Type) (map[string]time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := make(map[string]int64)
	counts := make(map[string]int64)
	for _, rec := range m.masters {
		if rec.FlowType != t {
			continue
		}
		for phase, timing := range rec.PhaseExecutionTimes {
			sums[phase] += timing.ExecutionTimeMS
			counts[phase]++
		}
	}

	out := make(map[string]time.Duration, len(sums))
	for phase, sum := range sums {
		out[phase] = time.Duration(sum/counts[phase]) * time.Millisecond
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Checkpoint store
// ──────────────────────────────────────────────────

// SaveCheckpoint persists a checkpoint.
func (m *Store) SaveCheckpoint(_ context.Context, cp *checkpoint.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.CheckpointID.String()] = cloneCheckpoint(cp)
	return nil
}

// GetCheckpoint retrieves a checkpoint by ID, scoped to the tenant.
func (m *Store) GetCheckpoint(_ context.Context, tenant scope.Tenant, checkpointID id.CheckpointID) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointID.String()]
	if !ok || cp.Tenant != tenant {
		return nil, floworc.ErrCheckpointNotFound
	}
	return cloneCheckpoint(cp), nil
}

// GetLatestCheckpoint returns the newest checkpoint for a flow.
func (m *Store) GetLatestCheckpoint(_ context.Context, tenant scope.Tenant, flowID id.FlowID) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.checkpointsForLocked(tenant, flowID)
	if len(cps) == 0 {
		return nil, floworc.ErrCheckpointNotFound
	}
	return cloneCheckpoint(cps[0]), nil
}

// ListCheckpoints returns all checkpoints for a flow, newest-first.
func (m *Store) ListCheckpoints(_ context.Context, tenant scope.Tenant, flowID id.FlowID) ([]*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.checkpointsForLocked(tenant, flowID)
	out := make([]*checkpoint.Checkpoint, len(cps))
	for i, cp := range cps {
		out[i] = cloneCheckpoint(cp)
	}
	return out, nil
}

// PruneCheckpoints removes all but the newest `keep` checkpoints for a
// flow. Returns the number removed.
func (m *Store) PruneCheckpoints(_ context.Context, tenant scope.Tenant, flowID id.FlowID, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cps := m.checkpointsForLocked(tenant, flowID)
	if len(cps) <= keep {
		return 0, nil
	}
	removed := 0
	for _, cp := range cps[keep:] {
		delete(m.checkpoints, cp.CheckpointID.String())
		removed++
	}
	return removed, nil
}

// checkpointsForLocked returns the flow's checkpoints newest-first.
// Caller holds the lock.
func (m *Store) checkpointsForLocked(tenant scope.Tenant, flowID id.FlowID) []*checkpoint.Checkpoint {
	fid := flowID.String()
	var cps []*checkpoint.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.FlowID.String() != fid || cp.Tenant != tenant {
			continue
		}
		cps = append(cps, cp)
	}
	sort.Slice(cps, func(i, j int) bool {
		if !cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return cps[i].CreatedAt.After(cps[j].CreatedAt)
		}
		// TypeIDs are K-sortable; newer IDs sort later.
		return cps[i].CheckpointID.String() > cps[j].CheckpointID.String()
	})
	return cps
}

// ──────────────────────────────────────────────────
// Audit store
// ──────────────────────────────────────────────────

// AppendAudit appends an audit entry for a flow.
func (m *Store) AppendAudit(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.FlowID.String()
	cp := *e
	m.audits[key] = append(m.audits[key], &cp)
	return nil
}

// ListAudit returns a flow's audit trail, oldest-first.
func (m *Store) ListAudit(_ context.Context, tenant scope.Tenant, flowID id.FlowID) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*audit.Entry
	for _, e := range m.audits[flowID.String()] {
		if e.Tenant != tenant {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (m *Store) updateMasterLocked(master *flow.MasterRecord) error {
	key := master.FlowID.String()
	existing, ok := m.masters[key]
	if !ok || existing.Tenant != master.Tenant {
		return floworc.ErrFlowNotFound
	}
	cp := cloneMaster(master)
	cp.UpdatedAt = time.Now().UTC()
	m.masters[key] = cp
	return nil
}

func (m *Store) updateChildLocked(child *flow.ChildRecord) error {
	key := child.FlowID.String()
	existing, ok := m.children[key]
	if !ok || existing.Tenant != child.Tenant {
		return floworc.ErrFlowNotFound
	}
	cp := cloneChild(child)
	cp.UpdatedAt = time.Now().UTC()
	m.children[key] = cp
	return nil
}

// cloneMaster deep-copies a master record so callers can mutate without
// racing with the store.
func cloneMaster(rec *flow.MasterRecord) *flow.MasterRecord {
	cp := *rec
	cp.PhaseTransitions = make([]flow.PhaseTransition, len(rec.PhaseTransitions))
	copy(cp.PhaseTransitions, rec.PhaseTransitions)
	if rec.PhaseExecutionTimes != nil {
		cp.PhaseExecutionTimes = make(map[string]flow.PhaseTiming, len(rec.PhaseExecutionTimes))
		for k, v := range rec.PhaseExecutionTimes {
			cp.PhaseExecutionTimes[k] = v
		}
	}
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneChild(rec *flow.ChildRecord) *flow.ChildRecord {
	cp := *rec
	cp.PhasesCompleted = append([]string(nil), rec.PhasesCompleted...)
	return &cp
}

func cloneCheckpoint(cp *checkpoint.Checkpoint) *checkpoint.Checkpoint {
	out := *cp
	out.Snapshot = append([]byte(nil), cp.Snapshot...)
	return &out
}

func sortMasters(recs []*flow.MasterRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].FlowID.String() < recs[j].FlowID.String()
	})
}
