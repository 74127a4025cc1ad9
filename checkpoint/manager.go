package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// Manager is the checkpointing service used by the orchestrator and by
// recovery actions.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a checkpoint manager.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Save writes a new checkpoint and returns its ID.
//
// Phase-boundary checkpoints are not written through here; the
// orchestrator persists them atomically with the phase completion via the
// flow store. Save covers explicit, on-demand snapshots.
func (m *Manager) Save(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, phase string, snapshot []byte) (id.CheckpointID, error) {
	cp := New(tenant, flowID, phase, snapshot)
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return id.Nil, fmt.Errorf("save checkpoint for flow %s: %w", flowID, err)
	}
	m.logger.Debug("checkpoint saved",
		"flow_id", flowID.String(),
		"checkpoint_id", cp.CheckpointID.String(),
		"phase", phase,
	)
	return cp.CheckpointID, nil
}

// List returns summaries of all checkpoints for a flow, newest-first.
func (m *Manager) List(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) ([]Summary, error) {
	cps, err := m.store.ListCheckpoints(ctx, tenant, flowID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for flow %s: %w", flowID, err)
	}
	summaries := make([]Summary, len(cps))
	for i, cp := range cps {
		summaries[i] = Summary{
			CheckpointID: cp.CheckpointID,
			Phase:        cp.Phase,
			CreatedAt:    cp.CreatedAt,
			Size:         len(cp.Snapshot),
		}
	}
	return summaries, nil
}

// Latest returns the most recent checkpoint for a flow, or
// ErrCheckpointNotFound if none exists.
func (m *Manager) Latest(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*Checkpoint, error) {
	return m.store.GetLatestCheckpoint(ctx, tenant, flowID)
}

// Restore fetches a specific checkpoint. It never mutates flow records;
// the caller feeds the returned snapshot back into phase advancement.
func (m *Manager) Restore(ctx context.Context, tenant scope.Tenant, checkpointID id.CheckpointID) (*Checkpoint, error) {
	cp, err := m.store.GetCheckpoint(ctx, tenant, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", checkpointID, err)
	}
	m.logger.Info("checkpoint restored",
		"flow_id", cp.FlowID.String(),
		"checkpoint_id", checkpointID.String(),
		"phase", cp.Phase,
	)
	return cp, nil
}

// Prune removes older checkpoints for a flow, keeping the newest `keep`.
// The latest checkpoint is always retained.
func (m *Manager) Prune(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	removed, err := m.store.PruneCheckpoints(ctx, tenant, flowID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints for flow %s: %w", flowID, err)
	}
	if removed > 0 {
		m.logger.Debug("checkpoints pruned", "flow_id", flowID.String(), "removed", removed)
	}
	return removed, nil
}
