package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
	"github.com/floworc/floworc/store/memory"
)

var (
	tenantA = scope.Tenant{ClientAccountID: "acct-a", EngagementID: "eng-a"}
	tenantB = scope.Tenant{ClientAccountID: "acct-b", EngagementID: "eng-b"}
)

func newStoredFlow(t *testing.T, s *memory.Store, tenant scope.Tenant) (*flow.MasterRecord, *flow.ChildRecord) {
	t.Helper()
	master, child := flow.NewFlow(tenant, flowtype.Discovery)
	require.NoError(t, s.CreateFlow(context.Background(), master, child))
	return master, child
}

func TestCreateFlowAndGet(t *testing.T) {
	s := memory.New()
	master, _ := newStoredFlow(t, s, tenantA)

	gotMaster, err := s.GetMaster(context.Background(), tenantA, master.FlowID)
	require.NoError(t, err)
	assert.Equal(t, master.FlowID, gotMaster.FlowID)

	gotChild, err := s.GetChild(context.Background(), tenantA, master.FlowID)
	require.NoError(t, err)
	assert.Equal(t, master.FlowID, gotChild.FlowID)
}

func TestCreateFlowDuplicate(t *testing.T) {
	s := memory.New()
	master, child := flow.NewFlow(tenantA, flowtype.Discovery)
	require.NoError(t, s.CreateFlow(context.Background(), master, child))

	err := s.CreateFlow(context.Background(), master, child)
	assert.ErrorIs(t, err, floworc.ErrFlowExists)
}

func TestTenantIsolation(t *testing.T) {
	s := memory.New()
	master, _ := newStoredFlow(t, s, tenantA)

	_, err := s.GetMaster(context.Background(), tenantB, master.FlowID)
	assert.ErrorIs(t, err, floworc.ErrFlowNotFound)

	_, err = s.GetChild(context.Background(), tenantB, master.FlowID)
	assert.ErrorIs(t, err, floworc.ErrFlowNotFound)

	// Cross-tenant updates are rejected too.
	stolen := *master
	stolen.Tenant = tenantB
	assert.ErrorIs(t, s.UpdateMaster(context.Background(), &stolen), floworc.ErrFlowNotFound)
}

func TestUpdateMasterPersistsChanges(t *testing.T) {
	s := memory.New()
	master, _ := newStoredFlow(t, s, tenantA)

	master.Status = flow.MasterRunning
	require.NoError(t, s.UpdateMaster(context.Background(), master))

	got, err := s.GetMaster(context.Background(), tenantA, master.FlowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterRunning, got.Status)
}

func TestGetReturnsCopies(t *testing.T) {
	s := memory.New()
	master, _ := newStoredFlow(t, s, tenantA)

	got, err := s.GetMaster(context.Background(), tenantA, master.FlowID)
	require.NoError(t, err)
	got.Status = flow.MasterFailed
	got.Metadata["injected"] = true

	again, err := s.GetMaster(context.Background(), tenantA, master.FlowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterInitialized, again.Status)
	assert.NotContains(t, again.Metadata, "injected")
}

func TestCompletePhaseAtomicWrite(t *testing.T) {
	s := memory.New()
	master, child := newStoredFlow(t, s, tenantA)

	master.Status = flow.MasterRunning
	master.AppendTransition(flow.PhaseTransition{Phase: "data_import", Status: flow.TransitionCompleted, Timestamp: time.Now()}, 50)
	child.CompletePhase("data_import", 6)
	cp := checkpoint.New(tenantA, master.FlowID, "data_import", []byte(`{"rows":10}`))

	require.NoError(t, s.CompletePhase(context.Background(), &flow.PhaseCompletion{
		Master:     master,
		Child:      child,
		Checkpoint: cp,
	}))

	gotChild, err := s.GetChild(context.Background(), tenantA, master.FlowID)
	require.NoError(t, err)
	assert.Equal(t, []string{"data_import"}, gotChild.PhasesCompleted)

	gotCP, err := s.GetLatestCheckpoint(context.Background(), tenantA, master.FlowID)
	require.NoError(t, err)
	assert.Equal(t, "data_import", gotCP.Phase)
}

func TestCompletePhaseUnknownFlowLeavesNoCheckpoint(t *testing.T) {
	s := memory.New()
	master, child := flow.NewFlow(tenantA, flowtype.Discovery)
	cp := checkpoint.New(tenantA, master.FlowID, "p", nil)

	err := s.CompletePhase(context.Background(), &flow.PhaseCompletion{
		Master:     master,
		Child:      child,
		Checkpoint: cp,
	})
	require.ErrorIs(t, err, floworc.ErrFlowNotFound)

	_, err = s.GetLatestCheckpoint(context.Background(), tenantA, master.FlowID)
	assert.ErrorIs(t, err, floworc.ErrCheckpointNotFound)
}

func TestListInFlight(t *testing.T) {
	s := memory.New()
	m1, _ := newStoredFlow(t, s, tenantA)
	m2, _ := newStoredFlow(t, s, tenantA)
	newStoredFlow(t, s, tenantB)

	m2.Status = flow.MasterCompleted
	require.NoError(t, s.UpdateMaster(context.Background(), m2))

	inflight, err := s.ListInFlight(context.Background(), tenantA)
	require.NoError(t, err)
	require.Len(t, inflight, 1)
	assert.Equal(t, m1.FlowID, inflight[0].FlowID)
}

func TestCheckpointListNewestFirst(t *testing.T) {
	s := memory.New()
	master, _ := newStoredFlow(t, s, tenantA)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, phase := range []string{"a", "b", "c"} {
		cp := checkpoint.New(tenantA, master.FlowID, phase, nil)
		cp.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveCheckpoint(ctx, cp))
	}

	cps, err := s.ListCheckpoints(ctx, tenantA, master.FlowID)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, "c", cps[0].Phase)
	assert.Equal(t, "a", cps[2].Phase)

	latest, err := s.GetLatestCheckpoint(ctx, tenantA, master.FlowID)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.Phase)
}

func TestCheckpointTenantIsolation(t *testing.T) {
	s := memory.New()
	master, _ := newStoredFlow(t, s, tenantA)
	cp := checkpoint.New(tenantA, master.FlowID, "a", nil)
	require.NoError(t, s.SaveCheckpoint(context.Background(), cp))

	_, err := s.GetCheckpoint(context.Background(), tenantB, cp.CheckpointID)
	assert.ErrorIs(t, err, floworc.ErrCheckpointNotFound)
}

func TestPruneCheckpointsKeepsLatest(t *testing.T) {
	s := memory.New()
	master, _ := newStoredFlow(t, s, tenantA)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		cp := checkpoint.New(tenantA, master.FlowID, "p", nil)
		cp.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveCheckpoint(ctx, cp))
	}

	removed, err := s.PruneCheckpoints(ctx, tenantA, master.FlowID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	cps, err := s.ListCheckpoints(ctx, tenantA, master.FlowID)
	require.NoError(t, err)
	assert.Len(t, cps, 2)

	// keep below 1 is clamped so the latest always survives.
	removed, err = s.PruneCheckpoints(ctx, tenantA, master.FlowID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	latest, err := s.GetLatestCheckpoint(ctx, tenantA, master.FlowID)
	require.NoError(t, err)
	assert.NotNil(t, latest)
}

func TestPhaseDurations(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m1, _ := newStoredFlow(t, s, tenantA)
	m1.RecordPhaseTiming("data_import", 2*time.Second, time.Now())
	require.NoError(t, s.UpdateMaster(ctx, m1))

	m2, _ := newStoredFlow(t, s, tenantB)
	m2.RecordPhaseTiming("data_import", 4*time.Second, time.Now())
	require.NoError(t, s.UpdateMaster(ctx, m2))

	durations, err := s.PhaseDurations(ctx, flowtype.Discovery)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, durations["data_import"])

	other, err := s.PhaseDurations(ctx, flowtype.Planning)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAuditAppendAndList(t *testing.T) {
	s := memory.New()
	master, _ := newStoredFlow(t, s, tenantA)
	ctx := context.Background()

	e := &audit.Entry{
		Entity:  floworc.NewEntity(),
		AuditID: id.NewAuditID(),
		FlowID:  master.FlowID,
		Tenant:  tenantA,
		Action:  audit.ActionManualFail,
		Actor:   "operator-1",
		Reason:  "stuck on upstream outage",
	}
	require.NoError(t, s.AppendAudit(ctx, e))

	entries, err := s.ListAudit(ctx, tenantA, master.FlowID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionManualFail, entries[0].Action)

	crossTenant, err := s.ListAudit(ctx, tenantB, master.FlowID)
	require.NoError(t, err)
	assert.Empty(t, crossTenant)
}
