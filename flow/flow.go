// Package flow defines the two-tier record model: a master record
// summarizing a workflow instance and a child record tracking its
// phase-by-phase execution detail.
//
// Master and child share one FlowID. The child is the source of truth for
// execution detail; the master is a denormalized, tenant-facing summary.
package flow

import (
	"time"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// MasterStatus is the lifecycle state of a master record.
type MasterStatus string

const (
	MasterInitialized MasterStatus = "initialized"
	MasterRunning     MasterStatus = "running"
	MasterPaused      MasterStatus = "paused"
	MasterCompleted   MasterStatus = "completed"
	MasterFailed      MasterStatus = "failed"
)

// Terminal reports whether the status admits no further transitions
// short of an explicit recovery override.
func (s MasterStatus) Terminal() bool {
	return s == MasterCompleted || s == MasterFailed
}

// ChildStatus is the lifecycle state of a child record.
type ChildStatus string

const (
	ChildActive    ChildStatus = "active"
	ChildPaused    ChildStatus = "paused"
	ChildCompleted ChildStatus = "completed"
	ChildFailed    ChildStatus = "failed"
)

// Terminal reports whether the child status is final.
func (s ChildStatus) Terminal() bool {
	return s == ChildCompleted || s == ChildFailed
}

// TransitionStatus tags a phase-transition log entry.
type TransitionStatus string

const (
	// TransitionProcessing is written when a phase handler starts.
	TransitionProcessing TransitionStatus = "processing"
	// TransitionCompleted is written when a phase commits.
	TransitionCompleted TransitionStatus = "completed"
	// TransitionOverride records a recovery action that bypassed normal
	// ordering (manual terminal override, checkpoint restore).
	TransitionOverride TransitionStatus = "override"
)

// PhaseTransition is one entry in the master record's append-only
// transition log.
type PhaseTransition struct {
	Phase     string           `json:"phase"`
	Status    TransitionStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// PhaseTiming records how long one phase took, derived from consecutive
// processing/completed transition pairs.
type PhaseTiming struct {
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// MasterRecord is the tenant-facing summary record for one workflow
// instance. Mutated by the orchestrator (phase transitions) and the
// reconciliation service (status and progress folding); never physically
// deleted.
type MasterRecord struct {
	floworc.Entity

	FlowID   id.FlowID     `json:"flow_id"`
	FlowType flowtype.Type `json:"flow_type"`
	Tenant   scope.Tenant  `json:"tenant"`

	Status              MasterStatus           `json:"status"`
	PhaseTransitions    []PhaseTransition      `json:"phase_transitions"`
	PhaseExecutionTimes map[string]PhaseTiming `json:"phase_execution_times,omitempty"`
	Metadata            map[string]any         `json:"metadata,omitempty"`
}

// ChildRecord is the phase-detail execution record, sharing the master's
// identity. Source of truth for current phase and progress.
type ChildRecord struct {
	floworc.Entity

	FlowID   id.FlowID     `json:"flow_id"`
	FlowType flowtype.Type `json:"flow_type"`
	Tenant   scope.Tenant  `json:"tenant"`

	Status ChildStatus `json:"status"`

	// CurrentPhase is empty before the first phase starts; otherwise it is
	// one of the registry's phase names for this flow type.
	CurrentPhase string `json:"current_phase,omitempty"`

	// ProgressPercentage is 0-100, monotonically non-decreasing while the
	// child is active.
	ProgressPercentage float64 `json:"progress_percentage"`

	// PhasesCompleted is ordered; absent recovery overrides it is always a
	// prefix of the registry's phase list for this flow type.
	PhasesCompleted []string `json:"phases_completed"`
}

// NewFlow builds a matching master and child pair sharing a fresh FlowID.
func NewFlow(tenant scope.Tenant, t flowtype.Type) (*MasterRecord, *ChildRecord) {
	flowID := id.NewFlowID()
	master := &MasterRecord{
		Entity:              floworc.NewEntity(),
		FlowID:              flowID,
		FlowType:            t,
		Tenant:              tenant,
		Status:              MasterInitialized,
		PhaseExecutionTimes: make(map[string]PhaseTiming),
		Metadata:            make(map[string]any),
	}
	child := &ChildRecord{
		Entity:   floworc.NewEntity(),
		FlowID:   flowID,
		FlowType: t,
		Tenant:   tenant,
		Status:   ChildActive,
	}
	return master, child
}

// AppendTransition appends an entry to the transition log, clamping the
// timestamp so entries stay non-decreasing, and trims the log to the most
// recent `limit` entries. A limit of zero means unbounded.
func (m *MasterRecord) AppendTransition(t PhaseTransition, limit int) {
	if n := len(m.PhaseTransitions); n > 0 {
		if last := m.PhaseTransitions[n-1].Timestamp; t.Timestamp.Before(last) {
			t.Timestamp = last
		}
	}
	m.PhaseTransitions = append(m.PhaseTransitions, t)
	if limit > 0 && len(m.PhaseTransitions) > limit {
		trimmed := make([]PhaseTransition, limit)
		copy(trimmed, m.PhaseTransitions[len(m.PhaseTransitions)-limit:])
		m.PhaseTransitions = trimmed
	}
	m.Touch()
}

// RecordPhaseTiming stores the measured execution time for a phase.
func (m *MasterRecord) RecordPhaseTiming(phase string, d time.Duration, at time.Time) {
	if m.PhaseExecutionTimes == nil {
		m.PhaseExecutionTimes = make(map[string]PhaseTiming)
	}
	m.PhaseExecutionTimes[phase] = PhaseTiming{
		ExecutionTimeMS: d.Milliseconds(),
		RecordedAt:      at,
	}
}

// LastTransition returns the most recent transition log entry.
func (m *MasterRecord) LastTransition() (PhaseTransition, bool) {
	if len(m.PhaseTransitions) == 0 {
		return PhaseTransition{}, false
	}
	return m.PhaseTransitions[len(m.PhaseTransitions)-1], true
}

// TransitionFor returns the most recent transition for the named phase
// with the given status.
func (m *MasterRecord) TransitionFor(phase string, status TransitionStatus) (PhaseTransition, bool) {
	for i := len(m.PhaseTransitions) - 1; i >= 0; i-- {
		t := m.PhaseTransitions[i]
		if t.Phase == phase && t.Status == status {
			return t, true
		}
	}
	return PhaseTransition{}, false
}

// HasCompleted reports whether the named phase is in PhasesCompleted.
func (c *ChildRecord) HasCompleted(phase string) bool {
	for _, p := range c.PhasesCompleted {
		if p == phase {
			return true
		}
	}
	return false
}

// CompletePhase marks a phase done and recomputes progress against the
// total phase count.
func (c *ChildRecord) CompletePhase(phase string, totalPhases int) {
	if !c.HasCompleted(phase) {
		c.PhasesCompleted = append(c.PhasesCompleted, phase)
	}
	if totalPhases > 0 {
		c.ProgressPercentage = float64(len(c.PhasesCompleted)) / float64(totalPhases) * 100
	}
	c.Touch()
}

// IsPhasePrefix reports whether completed is a strict in-order prefix of
// phases. The empty list is a valid prefix.
func IsPhasePrefix(completed, phases []string) bool {
	if len(completed) > len(phases) {
		return false
	}
	for i, p := range completed {
		if phases[i] != p {
			return false
		}
	}
	return true
}
