package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/orchestrator"
	"github.com/floworc/floworc/scope"
)

// RecoveryAction names a forced recovery operation.
type RecoveryAction string

const (
	// RecoverRestartPhase clears retry counters for the current phase and
	// re-invokes it.
	RecoverRestartPhase RecoveryAction = "restart_phase"
	// RecoverComplete is a manual terminal override to completed.
	RecoverComplete RecoveryAction = "complete"
	// RecoverFail is a manual terminal override to failed.
	RecoverFail RecoveryAction = "fail"
	// RecoverCheckpointRestore rewinds the flow to a checkpoint's phase.
	RecoverCheckpointRestore RecoveryAction = "checkpoint_restore"
)

// ParseRecoveryAction validates an action string from the API.
func ParseRecoveryAction(s string) (RecoveryAction, error) {
	switch a := RecoveryAction(s); a {
	case RecoverRestartPhase, RecoverComplete, RecoverFail, RecoverCheckpointRestore:
		return a, nil
	default:
		return "", floworc.NewValidationError("", fmt.Errorf("unknown recovery action %q", s))
	}
}

// RecoveryResult reports what a forced recovery did. Advance carries the
// phase result when the action re-entered the orchestrator; Detail
// carries the re-invocation error if that step failed after the recovery
// itself was applied.
type RecoveryResult struct {
	FlowID    id.FlowID                 `json:"flow_id"`
	Action    RecoveryAction            `json:"action"`
	AppliedAt time.Time                 `json:"applied_at"`
	Advance   *orchestrator.PhaseResult `json:"advance,omitempty"`
	Detail    string                    `json:"detail,omitempty"`
}

// ForceRecover applies one recovery action to a flow. Manual terminal
// overrides require a reason. Actions are rate limited to prevent
// recovery storms; a limited call fails with a recovery-kind error and
// changes nothing.
func (m *Monitor) ForceRecover(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, action RecoveryAction, reason string, checkpointID id.CheckpointID) (*RecoveryResult, error) {
	if _, err := ParseRecoveryAction(string(action)); err != nil {
		return nil, err
	}
	if (action == RecoverComplete || action == RecoverFail) && reason == "" {
		return nil, floworc.NewValidationError("", fmt.Errorf("recovery action %q requires a reason", action))
	}
	if m.limiter != nil && !m.limiter.Allow() {
		return nil, floworc.NewRecoveryError("", errors.New("recovery rate limit exceeded"))
	}

	result := &RecoveryResult{FlowID: flowID, Action: action, AppliedAt: m.now()}

	switch action {
	case RecoverRestartPhase:
		if err := m.orch.RestartPhase(ctx, tenant, flowID, reason); err != nil {
			return nil, err
		}
		m.recordAudit(ctx, tenant, flowID, audit.ActionRestartPhase, reason, nil)
		m.reinvoke(ctx, tenant, flowID, result)

	case RecoverComplete:
		if err := m.orch.ForceComplete(ctx, tenant, flowID, reason); err != nil {
			return nil, err
		}
		m.recordAudit(ctx, tenant, flowID, audit.ActionManualComplete, reason, nil)

	case RecoverFail:
		if err := m.orch.ForceFail(ctx, tenant, flowID, reason); err != nil {
			return nil, err
		}
		m.recordAudit(ctx, tenant, flowID, audit.ActionManualFail, reason, nil)

	case RecoverCheckpointRestore:
		cp, err := m.resolveCheckpoint(ctx, tenant, flowID, checkpointID)
		if err != nil {
			return nil, err
		}
		if err := m.orch.ApplyCheckpointRestore(ctx, tenant, flowID, cp, reason); err != nil {
			return nil, err
		}
		m.recordAudit(ctx, tenant, flowID, audit.ActionCheckpointRestore, reason, map[string]any{
			"checkpoint_id": cp.CheckpointID.String(),
			"phase":         cp.Phase,
		})
	}

	m.logger.Info("recovery action applied",
		"flow_id", flowID.String(),
		"action", string(action),
		"reason", reason,
	)
	return result, nil
}

// reinvoke re-enters the orchestrator at the current phase after a
// restart. The restart already succeeded, so a failing advance is
// reported in the result rather than as a recovery failure.
func (m *Monitor) reinvoke(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, result *RecoveryResult) {
	state := m.restoredState(ctx, tenant, flowID)
	res, err := m.orch.AdvancePhase(ctx, tenant, flowID, state)
	if err != nil {
		result.Detail = fmt.Sprintf("phase re-invocation failed: %v", err)
		m.logger.Warn("restart re-invocation failed", "flow_id", flowID.String(), "error", err)
		return
	}
	result.Advance = res
}

// restoredState loads the latest checkpoint snapshot so a restarted
// phase resumes with its accumulated state. Flows without checkpoints
// restart with nil state.
func (m *Monitor) restoredState(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) []byte {
	cp, err := m.checkpoints.Latest(ctx, tenant, flowID)
	if err != nil {
		return nil
	}
	return cp.Snapshot
}

func (m *Monitor) resolveCheckpoint(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, checkpointID id.CheckpointID) (*checkpoint.Checkpoint, error) {
	if checkpointID.IsNil() {
		return m.checkpoints.Latest(ctx, tenant, flowID)
	}
	cp, err := m.checkpoints.Restore(ctx, tenant, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.FlowID.String() != flowID.String() {
		return nil, floworc.NewRecoveryError("",
			fmt.Errorf("checkpoint %s belongs to flow %s, not %s", checkpointID, cp.FlowID, flowID))
	}
	return cp, nil
}

func (m *Monitor) recordAudit(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, action audit.Action, reason string, metadata map[string]any) {
	if m.audits == nil {
		return
	}
	if err := m.audits.Record(ctx, tenant, flowID, action, "monitor", reason, metadata); err != nil {
		m.logger.Error("record recovery audit entry", "flow_id", flowID.String(), "error", err)
	}
}
