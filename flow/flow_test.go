package flow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/scope"
)

var testTenant = scope.Tenant{ClientAccountID: "acct-1", EngagementID: "eng-1"}

func TestNewFlowSharedIdentity(t *testing.T) {
	master, child := flow.NewFlow(testTenant, flowtype.Discovery)

	require.False(t, master.FlowID.IsNil())
	assert.Equal(t, master.FlowID, child.FlowID)
	assert.Equal(t, flow.MasterInitialized, master.Status)
	assert.Equal(t, flow.ChildActive, child.Status)
	assert.Empty(t, child.CurrentPhase)
	assert.Equal(t, testTenant, master.Tenant)
	assert.Equal(t, testTenant, child.Tenant)
}

func TestAppendTransitionClampsTimestamps(t *testing.T) {
	master, _ := flow.NewFlow(testTenant, flowtype.Discovery)
	now := time.Now()

	master.AppendTransition(flow.PhaseTransition{
		Phase: "a", Status: flow.TransitionProcessing, Timestamp: now,
	}, 0)
	master.AppendTransition(flow.PhaseTransition{
		Phase: "a", Status: flow.TransitionCompleted, Timestamp: now.Add(-time.Minute),
	}, 0)

	require.Len(t, master.PhaseTransitions, 2)
	assert.False(t, master.PhaseTransitions[1].Timestamp.Before(master.PhaseTransitions[0].Timestamp))
}

func TestAppendTransitionTrimsOldest(t *testing.T) {
	master, _ := flow.NewFlow(testTenant, flowtype.Discovery)
	for i := 0; i < 60; i++ {
		master.AppendTransition(flow.PhaseTransition{
			Phase:     "p",
			Status:    flow.TransitionCompleted,
			Timestamp: time.Now(),
			Metadata:  map[string]any{"seq": i},
		}, 50)
	}

	require.Len(t, master.PhaseTransitions, 50)
	assert.Equal(t, 10, master.PhaseTransitions[0].Metadata["seq"])
	assert.Equal(t, 59, master.PhaseTransitions[49].Metadata["seq"])
}

func TestCompletePhaseProgress(t *testing.T) {
	_, child := flow.NewFlow(testTenant, flowtype.Discovery)

	child.CompletePhase("first", 4)
	assert.InDelta(t, 25.0, child.ProgressPercentage, 0.001)

	child.CompletePhase("second", 4)
	assert.InDelta(t, 50.0, child.ProgressPercentage, 0.001)

	// Re-completing a phase is a no-op on the completed set.
	child.CompletePhase("second", 4)
	assert.Len(t, child.PhasesCompleted, 2)
	assert.InDelta(t, 50.0, child.ProgressPercentage, 0.001)
}

func TestHasCompleted(t *testing.T) {
	_, child := flow.NewFlow(testTenant, flowtype.Discovery)
	child.CompletePhase("a", 2)

	assert.True(t, child.HasCompleted("a"))
	assert.False(t, child.HasCompleted("b"))
}

func TestIsPhasePrefix(t *testing.T) {
	phases := []string{"a", "b", "c"}

	tests := []struct {
		name      string
		completed []string
		want      bool
	}{
		{"empty", nil, true},
		{"one", []string{"a"}, true},
		{"all", []string{"a", "b", "c"}, true},
		{"gap", []string{"a", "c"}, false},
		{"out of order", []string{"b", "a"}, false},
		{"too long", []string{"a", "b", "c", "d"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flow.IsPhasePrefix(tt.completed, phases))
		})
	}
}

func TestTransitionFor(t *testing.T) {
	master, _ := flow.NewFlow(testTenant, flowtype.Discovery)
	master.AppendTransition(flow.PhaseTransition{Phase: "a", Status: flow.TransitionProcessing, Timestamp: time.Now()}, 0)
	master.AppendTransition(flow.PhaseTransition{Phase: "a", Status: flow.TransitionCompleted, Timestamp: time.Now()}, 0)

	got, ok := master.TransitionFor("a", flow.TransitionCompleted)
	require.True(t, ok)
	assert.Equal(t, flow.TransitionCompleted, got.Status)

	_, ok = master.TransitionFor("b", flow.TransitionCompleted)
	assert.False(t, ok)
}

func TestRecordPhaseTiming(t *testing.T) {
	master, _ := flow.NewFlow(testTenant, flowtype.Discovery)
	at := time.Now()
	master.RecordPhaseTiming("a", 1500*time.Millisecond, at)

	timing, ok := master.PhaseExecutionTimes["a"]
	require.True(t, ok)
	assert.Equal(t, int64(1500), timing.ExecutionTimeMS)
	assert.Equal(t, at, timing.RecordedAt)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, flow.MasterCompleted.Terminal())
	assert.True(t, flow.MasterFailed.Terminal())
	assert.False(t, flow.MasterRunning.Terminal())
	assert.False(t, flow.MasterPaused.Terminal())

	assert.True(t, flow.ChildCompleted.Terminal())
	assert.False(t, flow.ChildActive.Terminal())
}
