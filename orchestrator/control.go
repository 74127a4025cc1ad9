package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// Pause transitions a running flow to paused. The completed set and
// current phase are left untouched.
func (o *Orchestrator) Pause(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) error {
	release := o.locks.acquire(flowID.String())
	defer release()

	master, child, err := o.load(ctx, tenant, flowID)
	if err != nil {
		return err
	}
	if master.Status.Terminal() {
		return fmt.Errorf("%w: cannot pause flow %s", floworc.ErrFlowTerminal, flowID)
	}
	if master.Status == flow.MasterPaused {
		return nil
	}

	master.Status = flow.MasterPaused
	master.Touch()
	child.Status = flow.ChildPaused
	child.Touch()
	if err := o.persist(ctx, master, child); err != nil {
		return err
	}
	o.logger.Info("flow paused", slog.String("flow_id", flowID.String()))
	return nil
}

// Resume transitions a paused flow back to running. It does not advance
// the flow; the caller re-invokes AdvancePhase at the current phase.
func (o *Orchestrator) Resume(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) error {
	release := o.locks.acquire(flowID.String())
	defer release()

	master, child, err := o.load(ctx, tenant, flowID)
	if err != nil {
		return err
	}
	if master.Status.Terminal() {
		return fmt.Errorf("%w: cannot resume flow %s", floworc.ErrFlowTerminal, flowID)
	}
	if master.Status != flow.MasterPaused {
		return fmt.Errorf("%w: flow %s is %s, not paused", floworc.ErrInvalidTransition, flowID, master.Status)
	}

	master.Status = flow.MasterRunning
	master.Touch()
	child.Status = flow.ChildActive
	child.Touch()
	if err := o.persist(ctx, master, child); err != nil {
		return err
	}
	o.logger.Info("flow resumed", slog.String("flow_id", flowID.String()))
	return nil
}

// ForceComplete is a manual terminal override: both records become
// completed and an override transition records the reason. The caller is
// responsible for the accompanying audit entry.
func (o *Orchestrator) ForceComplete(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, reason string) error {
	release := o.locks.acquire(flowID.String())
	defer release()

	master, child, err := o.load(ctx, tenant, flowID)
	if err != nil {
		return err
	}

	master.AppendTransition(flow.PhaseTransition{
		Phase:     child.CurrentPhase,
		Status:    flow.TransitionOverride,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"action": "complete", "reason": reason},
	}, o.config.TransitionLogLimit)
	master.Status = flow.MasterCompleted
	child.Status = flow.ChildCompleted
	child.ProgressPercentage = 100
	child.Touch()
	return o.persist(ctx, master, child)
}

// ForceFail is a manual terminal override mirroring ForceComplete.
func (o *Orchestrator) ForceFail(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, reason string) error {
	release := o.locks.acquire(flowID.String())
	defer release()

	master, child, err := o.load(ctx, tenant, flowID)
	if err != nil {
		return err
	}

	master.AppendTransition(flow.PhaseTransition{
		Phase:     child.CurrentPhase,
		Status:    flow.TransitionOverride,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"action": "fail", "reason": reason},
	}, o.config.TransitionLogLimit)
	master.Status = flow.MasterFailed
	child.Status = flow.ChildFailed
	child.Touch()
	if master.Metadata == nil {
		master.Metadata = make(map[string]any)
	}
	master.Metadata["error_details"] = map[string]any{
		"phase":  child.CurrentPhase,
		"kind":   "manual_override",
		"error":  reason,
		"manual": true,
	}
	return o.persist(ctx, master, child)
}

// RestartPhase clears the retry counters for the flow's current phase
// and moves a stalled or terminal flow back to running so AdvancePhase
// can be re-invoked. An override transition records the re-opening.
func (o *Orchestrator) RestartPhase(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, reason string) error {
	release := o.locks.acquire(flowID.String())
	defer release()

	master, child, err := o.load(ctx, tenant, flowID)
	if err != nil {
		return err
	}
	if master.Status == flow.MasterCompleted {
		return fmt.Errorf("%w: flow %s already completed", floworc.ErrFlowTerminal, flowID)
	}

	o.retries.Reset(flowID, child.CurrentPhase)
	master.AppendTransition(flow.PhaseTransition{
		Phase:     child.CurrentPhase,
		Status:    flow.TransitionOverride,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"action": "restart_phase", "reason": reason},
	}, o.config.TransitionLogLimit)
	master.Status = flow.MasterRunning
	if master.Metadata != nil {
		delete(master.Metadata, "error_details")
	}
	child.Status = flow.ChildActive
	child.Touch()
	return o.persist(ctx, master, child)
}

// ApplyCheckpointRestore rewinds the child record to the checkpoint's
// phase so AdvancePhase re-enters there with the restored snapshot. The
// completed set is truncated to the phases preceding the checkpoint's
// phase; the override transition makes the rewind auditable.
func (o *Orchestrator) ApplyCheckpointRestore(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, cp *checkpoint.Checkpoint, reason string) error {
	release := o.locks.acquire(flowID.String())
	defer release()

	master, child, err := o.load(ctx, tenant, flowID)
	if err != nil {
		return err
	}
	cfg, err := o.registry.Get(child.FlowType)
	if err != nil {
		return err
	}
	idx := cfg.PhaseIndex(cp.Phase)
	if idx < 0 {
		return floworc.NewRecoveryError(cp.Phase,
			fmt.Errorf("checkpoint phase %q does not belong to flow type %q", cp.Phase, child.FlowType))
	}

	o.retries.ResetFlow(flowID)
	master.AppendTransition(flow.PhaseTransition{
		Phase:     cp.Phase,
		Status:    flow.TransitionOverride,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]any{
			"action":        "checkpoint_restore",
			"checkpoint_id": cp.CheckpointID.String(),
			"reason":        reason,
		},
	}, o.config.TransitionLogLimit)
	master.Status = flow.MasterRunning
	if master.Metadata != nil {
		delete(master.Metadata, "error_details")
	}

	// The checkpoint was taken when cp.Phase committed, so the restored
	// boundary has cp.Phase completed and the next phase pending.
	child.PhasesCompleted = append([]string(nil), cfg.PhaseNames()[:idx+1]...)
	child.CurrentPhase = cp.Phase
	child.Status = flow.ChildActive
	if total := len(cfg.Phases); total > 0 {
		child.ProgressPercentage = float64(len(child.PhasesCompleted)) / float64(total) * 100
	}
	child.Touch()
	return o.persist(ctx, master, child)
}

func (o *Orchestrator) load(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*flow.MasterRecord, *flow.ChildRecord, error) {
	master, err := o.store.GetMaster(ctx, tenant, flowID)
	if err != nil {
		return nil, nil, err
	}
	child, err := o.store.GetChild(ctx, tenant, flowID)
	if err != nil {
		return nil, nil, err
	}
	return master, child, nil
}

func (o *Orchestrator) persist(ctx context.Context, master *flow.MasterRecord, child *flow.ChildRecord) error {
	if err := o.store.UpdateMaster(ctx, master); err != nil {
		return err
	}
	return o.store.UpdateChild(ctx, child)
}
