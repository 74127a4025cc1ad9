package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/backoff"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/orchestrator"
	"github.com/floworc/floworc/scope"
	"github.com/floworc/floworc/store/memory"
)

var testTenant = scope.Tenant{ClientAccountID: "acct-1", EngagementID: "eng-1"}

// okHandler returns a handler that echoes the phase name into the state.
func okHandler() orchestrator.Handler {
	return orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, phase string, _ scope.Tenant, _ []byte) ([]byte, error) {
		return []byte(`{"last":"` + phase + `"}`), nil
	})
}

type fixture struct {
	orch  *orchestrator.Orchestrator
	store *memory.Store
}

// newFixture wires an orchestrator over a memory store with a
// three-phase flow type ("ingest", "transform", "publish").
func newFixture(t *testing.T, opts ...orchestrator.Option) *fixture {
	t.Helper()

	registry := flowtype.NewRegistry()
	require.NoError(t, registry.RegisterFlowType(&flowtype.Config{
		Type: "pipeline",
		Phases: []flowtype.Phase{
			{Name: "ingest", Validators: []string{"input_present"}, Handler: "pipeline.ingest"},
			{Name: "transform", Handler: "pipeline.transform"},
			{Name: "publish", Handler: "pipeline.publish"},
		},
		Capabilities: flowtype.Capabilities{PauseResume: true, Checkpointing: true},
		ErrorHandler: "pipeline.on_error",
	}))

	st := memory.New()
	cfg := floworc.DefaultConfig()
	cfg.RetryCeiling = 3
	base := []orchestrator.Option{
		orchestrator.WithConfig(cfg),
		orchestrator.WithBackoff(backoff.NewConstant(0)),
	}
	orch := orchestrator.New(st, registry, append(base, opts...)...)

	orch.RegisterValidator("input_present", orchestrator.ValidatorFunc(func(_ context.Context, state []byte) orchestrator.ValidationResult {
		if len(state) == 0 {
			return orchestrator.ValidationResult{Valid: false, Errors: []string{"empty input state"}}
		}
		return orchestrator.ValidationResult{Valid: true}
	}))
	for _, h := range []string{"pipeline.ingest", "pipeline.transform", "pipeline.publish"} {
		orch.RegisterHandler(h, okHandler())
	}

	return &fixture{orch: orch, store: st}
}

func (f *fixture) start(t *testing.T) id.FlowID {
	t.Helper()
	flowID, err := f.orch.StartFlow(context.Background(), testTenant, "pipeline")
	require.NoError(t, err)
	return flowID
}

func (f *fixture) advanceAll(t *testing.T, flowID id.FlowID) *orchestrator.PhaseResult {
	t.Helper()
	state := []byte(`{}`)
	var last *orchestrator.PhaseResult
	for {
		res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, state)
		require.NoError(t, err)
		last = res
		state = res.Output
		if res.FlowCompleted {
			return last
		}
	}
}

func TestStartFlowCreatesBothRecords(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	child, err := f.store.GetChild(context.Background(), testTenant, flowID)
	require.NoError(t, err)

	assert.Equal(t, flow.MasterInitialized, master.Status)
	assert.Equal(t, flow.ChildActive, child.Status)
	assert.Equal(t, master.FlowID, child.FlowID)
}

func TestStartFlowUnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.StartFlow(context.Background(), testTenant, "nope")
	assert.ErrorIs(t, err, floworc.ErrFlowTypeNotFound)
}

func TestAdvanceSinglePhase(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ingest", res.Phase)
	assert.False(t, res.FlowCompleted)
	assert.InDelta(t, 100.0/3.0, res.Progress, 0.01)

	child, err := f.store.GetChild(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest"}, child.PhasesCompleted)
	assert.Equal(t, "ingest", child.CurrentPhase)

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterRunning, master.Status)
	// One processing and one completed entry.
	require.Len(t, master.PhaseTransitions, 2)
	assert.Equal(t, flow.TransitionProcessing, master.PhaseTransitions[0].Status)
	assert.Equal(t, flow.TransitionCompleted, master.PhaseTransitions[1].Status)
}

// Full run through every phase leaves both records completed at 100%.
func TestAdvanceThroughAllPhases(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	last := f.advanceAll(t, flowID)
	assert.True(t, last.FlowCompleted)

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	child, err := f.store.GetChild(context.Background(), testTenant, flowID)
	require.NoError(t, err)

	assert.Equal(t, flow.MasterCompleted, master.Status)
	assert.Equal(t, flow.ChildCompleted, child.Status)
	assert.Equal(t, 100.0, child.ProgressPercentage)
	assert.Len(t, child.PhasesCompleted, 3)
	assert.True(t, flow.IsPhasePrefix(child.PhasesCompleted, []string{"ingest", "transform", "publish"}))
}

// Six-phase discovery flow from the built-in catalog.
func TestDiscoveryFlowCompletes(t *testing.T) {
	registry := flowtype.NewRegistry()
	require.NoError(t, flowtype.RegisterBuiltin(registry))
	st := memory.New()
	orch := orchestrator.New(st, registry, orchestrator.WithBackoff(backoff.NewConstant(0)))

	discovery, err := registry.Get(flowtype.Discovery)
	require.NoError(t, err)
	pass := orchestrator.ValidatorFunc(func(_ context.Context, _ []byte) orchestrator.ValidationResult {
		return orchestrator.ValidationResult{Valid: true}
	})
	for _, p := range discovery.Phases {
		orch.RegisterHandler(p.Handler, okHandler())
		for _, v := range p.Validators {
			orch.RegisterValidator(v, pass)
		}
	}

	flowID, err := orch.StartFlow(context.Background(), testTenant, flowtype.Discovery)
	require.NoError(t, err)

	state := []byte(`{}`)
	for range discovery.Phases {
		res, err := orch.AdvancePhase(context.Background(), testTenant, flowID, state)
		require.NoError(t, err)
		state = res.Output
	}

	master, err := st.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	child, err := st.GetChild(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterCompleted, master.Status)
	assert.Equal(t, 100.0, child.ProgressPercentage)
	assert.Len(t, child.PhasesCompleted, 6)
}

func TestValidationFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	_, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, nil)
	require.Error(t, err)
	assert.Equal(t, floworc.KindValidation, floworc.KindOf(err))

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	child, err := f.store.GetChild(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterInitialized, master.Status)
	assert.Empty(t, master.PhaseTransitions)
	assert.Empty(t, child.PhasesCompleted)

	// The flow is still advanceable once the precondition is met.
	res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ingest", res.Phase)
}

// Transient failures below the ceiling are retried and the count is
// reported on the result; the completed transition is not duplicated.
func TestTransientRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	f.orch.RegisterHandler("pipeline.ingest", orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, _ string, _ scope.Tenant, _ []byte) ([]byte, error) {
		if calls.Add(1) <= 2 {
			return nil, context.DeadlineExceeded
		}
		return []byte(`{}`), nil
	}))

	flowID := f.start(t)
	res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, int32(3), calls.Load())

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	completed := 0
	for _, tr := range master.PhaseTransitions {
		if tr.Phase == "ingest" && tr.Status == flow.TransitionCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestRetryCeilingFailsFlow(t *testing.T) {
	f := newFixture(t)

	f.orch.RegisterHandler("pipeline.ingest", orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, _ string, _ scope.Tenant, _ []byte) ([]byte, error) {
		return nil, context.DeadlineExceeded
	}))

	flowID := f.start(t)
	_, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, floworc.ErrRetryCeiling)

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterFailed, master.Status)
}

// Permanent failure: flow fails, error detail names the phase, and
// subsequent advances return a terminal error without re-invoking the
// handler.
func TestFatalFailureIsTerminal(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	f.orch.RegisterHandler("pipeline.ingest", orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, _ string, _ scope.Tenant, _ []byte) ([]byte, error) {
		calls.Add(1)
		return nil, floworc.NewFatalError("", errors.New("schema corrupt"))
	}))

	flowID := f.start(t)
	_, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, floworc.KindFatal, floworc.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterFailed, master.Status)
	details, ok := master.Metadata["error_details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ingest", details["phase"])

	_, err = f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	assert.ErrorIs(t, err, floworc.ErrFlowTerminal)
	assert.Equal(t, int32(1), calls.Load())
}

// A completed flow treats further advances as idempotent no-ops.
func TestAdvanceAfterCompletionIsNoop(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)
	f.advanceAll(t, flowID)

	var calls atomic.Int32
	for _, h := range []string{"pipeline.ingest", "pipeline.transform", "pipeline.publish"} {
		f.orch.RegisterHandler(h, orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, _ string, _ scope.Tenant, _ []byte) ([]byte, error) {
			calls.Add(1)
			return nil, nil
		}))
	}

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	before := len(master.PhaseTransitions)

	res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, res.AlreadyDone)
	assert.True(t, res.FlowCompleted)
	assert.Equal(t, "publish", res.Phase)
	assert.Equal(t, int32(0), calls.Load())

	master, err = f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Len(t, master.PhaseTransitions, before)
}

// Two concurrent advances on the same flow: exactly one runs the
// handler, the other observes the completed result.
func TestConcurrentAdvanceRunsHandlerOnce(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	f.orch.RegisterHandler("pipeline.ingest", orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, _ string, _ scope.Tenant, _ []byte) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte(`{}`), nil
	}))

	flowID := f.start(t)

	results := make([]*orchestrator.PhaseResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), calls.Load())

	noops := 0
	for _, res := range results {
		assert.Equal(t, "ingest", res.Phase)
		if res.AlreadyDone {
			noops++
		}
	}
	assert.Equal(t, 1, noops)

	child, err := f.store.GetChild(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest"}, child.PhasesCompleted)
}

func TestPauseBlocksAdvance(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	require.NoError(t, f.orch.Pause(context.Background(), testTenant, flowID))
	_, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	assert.ErrorIs(t, err, floworc.ErrFlowPaused)

	require.NoError(t, f.orch.Resume(context.Background(), testTenant, flowID))
	res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ingest", res.Phase)
}

func TestResumeRequiresPaused(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	err := f.orch.Resume(context.Background(), testTenant, flowID)
	assert.ErrorIs(t, err, floworc.ErrInvalidTransition)
}

// Checkpoints are written atomically with each phase commit and the
// restored snapshot resumes execution at the recorded boundary.
func TestCheckpointRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, "ingest", res.Phase)

	// Second phase fails permanently.
	f.orch.RegisterHandler("pipeline.transform", orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, _ string, _ scope.Tenant, _ []byte) ([]byte, error) {
		return nil, floworc.NewFatalError("", errors.New("boom"))
	}))
	_, err = f.orch.AdvancePhase(context.Background(), testTenant, flowID, res.Output)
	require.Error(t, err)

	cp, err := f.store.GetLatestCheckpoint(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, "ingest", cp.Phase)
	assert.Equal(t, res.Output, cp.Snapshot)

	require.NoError(t, f.orch.ApplyCheckpointRestore(context.Background(), testTenant, flowID, cp, "retry after fix"))

	child, err := f.store.GetChild(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest"}, child.PhasesCompleted)
	assert.Equal(t, "ingest", child.CurrentPhase)
	assert.Equal(t, flow.ChildActive, child.Status)

	// Fix the handler and resume from the checkpoint snapshot.
	f.orch.RegisterHandler("pipeline.transform", okHandler())
	res2, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, cp.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, "transform", res2.Phase)
}

func TestApplyCheckpointRestoreRecordsOverride(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.NoError(t, err)
	cp, err := f.store.GetLatestCheckpoint(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	_ = res

	require.NoError(t, f.orch.ApplyCheckpointRestore(context.Background(), testTenant, flowID, cp, "rewind"))

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	last, ok := master.LastTransition()
	require.True(t, ok)
	assert.Equal(t, flow.TransitionOverride, last.Status)
	assert.Equal(t, "checkpoint_restore", last.Metadata["action"])
	assert.Equal(t, cp.CheckpointID.String(), last.Metadata["checkpoint_id"])
}

func TestForceCompleteOverride(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	require.NoError(t, f.orch.ForceComplete(context.Background(), testTenant, flowID, "downstream verified manually"))

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	child, err := f.store.GetChild(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterCompleted, master.Status)
	assert.Equal(t, 100.0, child.ProgressPercentage)

	last, ok := master.LastTransition()
	require.True(t, ok)
	assert.Equal(t, flow.TransitionOverride, last.Status)
	assert.Equal(t, "complete", last.Metadata["action"])
}

func TestForceFailOverride(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	require.NoError(t, f.orch.ForceFail(context.Background(), testTenant, flowID, "abandoned engagement"))

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterFailed, master.Status)
	details, ok := master.Metadata["error_details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, details["manual"])
}

func TestRestartPhaseReopensFailedFlow(t *testing.T) {
	f := newFixture(t)

	f.orch.RegisterHandler("pipeline.ingest", orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, _ string, _ scope.Tenant, _ []byte) ([]byte, error) {
		return nil, floworc.NewFatalError("", errors.New("boom"))
	}))
	flowID := f.start(t)
	_, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.Error(t, err)

	require.NoError(t, f.orch.RestartPhase(context.Background(), testTenant, flowID, "dependency restored"))

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	assert.Equal(t, flow.MasterRunning, master.Status)
	assert.NotContains(t, master.Metadata, "error_details")

	f.orch.RegisterHandler("pipeline.ingest", okHandler())
	res, err := f.orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ingest", res.Phase)
	assert.False(t, res.AlreadyDone)
}

func TestRestartPhaseRejectsCompletedFlow(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)
	f.advanceAll(t, flowID)

	err := f.orch.RestartPhase(context.Background(), testTenant, flowID, "nope")
	assert.ErrorIs(t, err, floworc.ErrFlowTerminal)
}

func TestTenantScopingOnAdvance(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)

	other := scope.Tenant{ClientAccountID: "other", EngagementID: "other"}
	_, err := f.orch.AdvancePhase(context.Background(), other, flowID, []byte(`{}`))
	assert.ErrorIs(t, err, floworc.ErrFlowNotFound)
}

func TestPhaseTimingRecorded(t *testing.T) {
	f := newFixture(t)
	flowID := f.start(t)
	f.advanceAll(t, flowID)

	master, err := f.store.GetMaster(context.Background(), testTenant, flowID)
	require.NoError(t, err)
	for _, phase := range []string{"ingest", "transform", "publish"} {
		_, ok := master.PhaseExecutionTimes[phase]
		assert.True(t, ok, "missing timing for %s", phase)
	}
}

func TestMissingHandlerIsFatal(t *testing.T) {
	registry := flowtype.NewRegistry()
	require.NoError(t, registry.RegisterFlowType(&flowtype.Config{
		Type:         "bare",
		Phases:       []flowtype.Phase{{Name: "only", Handler: "bare.only"}},
		ErrorHandler: "bare.on_error",
	}))
	st := memory.New()
	orch := orchestrator.New(st, registry)

	flowID, err := orch.StartFlow(context.Background(), testTenant, "bare")
	require.NoError(t, err)

	_, err = orch.AdvancePhase(context.Background(), testTenant, flowID, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, floworc.KindFatal, floworc.KindOf(err))
	assert.Contains(t, err.Error(), fmt.Sprintf("no handler registered for %q", "bare.only"))
}
