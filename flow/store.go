package flow

import (
	"context"
	"time"

	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// PhaseCompletion bundles the writes a phase commit produces. Stores
// apply it atomically: either the master update, child update, and
// checkpoint all persist, or none do. Without that guarantee a crash
// could leave progress advanced with no checkpoint to resume from.
type PhaseCompletion struct {
	Master *MasterRecord
	Child  *ChildRecord

	// Checkpoint is optional; nil when the flow type has checkpointing
	// disabled.
	Checkpoint *checkpoint.Checkpoint
}

// Store is the persistence interface for master and child flow records.
//
// Every read and write is tenant-scoped; an ID that exists under a
// different tenant behaves exactly like a missing one. CreateFlow and
// CompletePhase are the two transactional operations.
type Store interface {
	// CreateFlow persists a master and child pair atomically. There is no
	// valid state with only one of the two records. Returns ErrFlowExists
	// if the flow ID is already present.
	CreateFlow(ctx context.Context, master *MasterRecord, child *ChildRecord) error

	GetMaster(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*MasterRecord, error)
	GetChild(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*ChildRecord, error)

	UpdateMaster(ctx context.Context, master *MasterRecord) error
	UpdateChild(ctx context.Context, child *ChildRecord) error

	// CompletePhase applies a phase commit atomically.
	CompletePhase(ctx context.Context, pc *PhaseCompletion) error

	// ListInFlight returns the master records for a tenant whose status is
	// not terminal (initialized, running, or paused).
	ListInFlight(ctx context.Context, tenant scope.Tenant) ([]*MasterRecord, error)

	// ListMasters returns all master records for a tenant.
	ListMasters(ctx context.Context, tenant scope.Tenant) ([]*MasterRecord, error)

	// ListActiveTenants returns the tenants that currently have at least
	// one in-flight flow. The health monitor sweeps these.
	ListActiveTenants(ctx context.Context) ([]scope.Tenant, error)

	// PhaseDurations returns the average recorded execution time per phase
	// across all flows of the given type, the moving baseline the health
	// monitor compares against. Phases with no recorded timings are absent
	// from the map.
	PhaseDurations(ctx context.Context, t flowtype.Type) (map[string]time.Duration, error)
}
