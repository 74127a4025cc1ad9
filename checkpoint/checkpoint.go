// Package checkpoint persists and restores point-in-time snapshots of a
// flow's accumulated state.
//
// Checkpoints are immutable once written; newer checkpoints supersede
// older ones. Restoration never mutates flow records, it only returns the
// stored snapshot for the caller to feed back into phase advancement.
package checkpoint

import (
	"context"
	"time"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// Checkpoint is one immutable snapshot of a flow's state at a phase
// boundary.
type Checkpoint struct {
	floworc.Entity

	CheckpointID id.CheckpointID `json:"checkpoint_id"`
	FlowID       id.FlowID       `json:"flow_id"`
	Tenant       scope.Tenant    `json:"tenant"`

	// Phase is the phase at which the snapshot was taken.
	Phase string `json:"phase"`

	// Snapshot is the opaque, phase-handler-specific state blob.
	Snapshot []byte `json:"snapshot"`
}

// Summary is the listing view of a checkpoint, without the snapshot blob.
type Summary struct {
	CheckpointID id.CheckpointID `json:"checkpoint_id"`
	Phase        string          `json:"phase"`
	CreatedAt    time.Time       `json:"created_at"`
	Size         int             `json:"size_bytes"`
}

// Store is the persistence interface for checkpoints.
//
// All reads are tenant-scoped. List returns checkpoints newest-first.
// Prune removes older checkpoints but must never remove the latest one
// for a flow.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetCheckpoint(ctx context.Context, tenant scope.Tenant, checkpointID id.CheckpointID) (*Checkpoint, error)
	GetLatestCheckpoint(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) ([]*Checkpoint, error)
	PruneCheckpoints(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, keep int) (int, error)
}

// New builds a checkpoint with a fresh ID and timestamps.
func New(tenant scope.Tenant, flowID id.FlowID, phase string, snapshot []byte) *Checkpoint {
	return &Checkpoint{
		Entity:       floworc.NewEntity(),
		CheckpointID: id.NewCheckpointID(),
		FlowID:       flowID,
		Tenant:       tenant,
		Phase:        phase,
		Snapshot:     snapshot,
	}
}
