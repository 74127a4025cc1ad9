package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/middleware"
	"github.com/floworc/floworc/scope"
)

// PhaseResult is the structured outcome of one AdvancePhase call.
type PhaseResult struct {
	FlowID id.FlowID `json:"flow_id"`
	Phase  string    `json:"phase"`

	// AlreadyDone is true when the call was an idempotent no-op: the
	// phase boundary observed at entry had already been advanced, so the
	// recorded result is returned instead of re-running the handler.
	AlreadyDone bool `json:"already_done,omitempty"`

	// FlowCompleted is true when this advancement finished the last phase.
	FlowCompleted bool `json:"flow_completed,omitempty"`

	// Retries is the number of retry attempts the phase consumed.
	Retries int `json:"retries"`

	Progress float64 `json:"progress_percentage"`

	// Output is the accumulated state returned by the phase handler.
	Output []byte `json:"-"`

	CompletedAt time.Time `json:"completed_at"`
}

// AdvancePhase runs the next pending phase for the flow. The next phase
// is derived from the child's completed set against the registry order.
// Calls for the same flow are serialized; a call that loses the race
// observes the winner's recorded result instead of re-running the
// handler.
//
// state is the accumulated flow state fed to validators and the handler.
// Recovery paths pass a restored checkpoint snapshot here.
func (o *Orchestrator) AdvancePhase(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, state []byte) (*PhaseResult, error) {
	// Observe the phase boundary before taking the lock. If it moved by
	// the time the lock is held, another caller advanced this flow and
	// this call becomes a no-op.
	pre, err := o.store.GetChild(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}
	observed := len(pre.PhasesCompleted)

	release := o.locks.acquire(flowID.String())
	defer release()

	child, err := o.store.GetChild(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}
	master, err := o.store.GetMaster(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}
	cfg, err := o.registry.Get(child.FlowType)
	if err != nil {
		return nil, err
	}

	switch master.Status {
	case flow.MasterFailed:
		return nil, fmt.Errorf("%w: flow %s failed at phase %q", floworc.ErrFlowTerminal, flowID, child.CurrentPhase)
	case flow.MasterPaused:
		return nil, fmt.Errorf("%w: flow %s", floworc.ErrFlowPaused, flowID)
	case flow.MasterCompleted:
		return recordedResult(master, child), nil
	}

	if len(child.PhasesCompleted) >= len(cfg.Phases) {
		return recordedResult(master, child), nil
	}
	if len(child.PhasesCompleted) != observed {
		return recordedResult(master, child), nil
	}

	phase, ok := cfg.PhaseAt(len(child.PhasesCompleted))
	if !ok {
		return nil, floworc.NewConsistencyError(child.CurrentPhase,
			fmt.Errorf("flow %s: completed set exceeds phase list", flowID))
	}

	if err := o.runValidators(ctx, phase, state); err != nil {
		return nil, err
	}

	// Mark the phase as processing before the handler runs so a crash
	// mid-handler is attributable to this phase.
	master.Status = flow.MasterRunning
	master.AppendTransition(flow.PhaseTransition{
		Phase:     phase.Name,
		Status:    flow.TransitionProcessing,
		Timestamp: time.Now().UTC(),
	}, o.config.TransitionLogLimit)
	child.CurrentPhase = phase.Name
	child.Status = flow.ChildActive
	child.Touch()
	if err := o.store.UpdateMaster(ctx, master); err != nil {
		return nil, err
	}
	if err := o.store.UpdateChild(ctx, child); err != nil {
		return nil, err
	}

	output, elapsed, retries, execErr := o.executeWithRetries(ctx, tenant, child, phase, state)
	if execErr != nil {
		if ctx.Err() != nil {
			// The advance call itself was cancelled. Leave the flow at its
			// current phase; the health monitor will surface the stall.
			return nil, floworc.Classify(phase.Name, execErr)
		}
		return nil, o.failFlow(ctx, master, child, retries, execErr)
	}

	return o.commitPhase(ctx, tenant, cfg, master, child, phase, output, elapsed, retries)
}

// runValidators checks the phase's preconditions. A failure yields a
// recoverable validation error and leaves state unchanged.
func (o *Orchestrator) runValidators(ctx context.Context, phase flowtype.Phase, state []byte) error {
	for _, name := range phase.Validators {
		v, err := o.collab.validator(name)
		if err != nil {
			return floworc.NewValidationError(phase.Name, err)
		}
		res := v.Validate(ctx, state)
		if !res.Valid {
			return floworc.NewValidationError(phase.Name,
				fmt.Errorf("validator %q: %s", name, strings.Join(res.Errors, "; ")))
		}
	}
	return nil
}

// executeWithRetries invokes the phase handler through the middleware
// chain, retrying transient failures with backoff up to the configured
// ceiling. It returns the handler output, the duration of the successful
// attempt, and the retry count consumed.
func (o *Orchestrator) executeWithRetries(ctx context.Context, tenant scope.Tenant, child *flow.ChildRecord, phase flowtype.Phase, state []byte) ([]byte, time.Duration, int, error) {
	h, err := o.collab.handler(phase.Handler)
	if err != nil {
		return nil, 0, 0, floworc.NewFatalError(phase.Name, err)
	}

	for {
		attempt := o.retries.Attempts(child.FlowID, phase.Name)
		ex := &middleware.Execution{
			FlowID:   child.FlowID,
			FlowType: child.FlowType,
			Phase:    phase.Name,
			Tenant:   tenant,
			Attempt:  attempt,
			Timeout:  o.config.HandlerTimeout,
		}

		var output []byte
		start := time.Now()
		execErr := o.chain(ctx, ex, func(ctx context.Context) error {
			out, herr := h.Execute(ctx, child.FlowID, phase.Name, tenant, state)
			output = out
			return herr
		})
		elapsed := time.Since(start)

		if execErr == nil {
			return output, elapsed, attempt, nil
		}

		// Classification happens exactly once, here at the orchestrator
		// boundary. Downstream consumers only read the resulting kind.
		classified := floworc.Classify(phase.Name, execErr)
		if !floworc.Retryable(classified) {
			return nil, elapsed, attempt, classified
		}
		if attempt >= o.config.RetryCeiling {
			return nil, elapsed, attempt, fmt.Errorf("%w: phase %q after %d retries: %w",
				floworc.ErrRetryCeiling, phase.Name, attempt, classified)
		}

		n := o.retries.Record(child.FlowID, phase.Name)
		delay := o.backoff.Delay(n)
		o.logger.Warn("phase attempt failed, retrying",
			slog.String("flow_id", child.FlowID.String()),
			slog.String("phase", phase.Name),
			slog.Int("retry", n),
			slog.Duration("backoff", delay),
			slog.String("error", classified.Error()),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return nil, elapsed, n, floworc.Classify(phase.Name, err)
		}
	}
}

// commitPhase applies a successful phase: completed transition, timing,
// progress, checkpoint, and terminal completion when this was the last
// phase. All writes land in one store transaction.
func (o *Orchestrator) commitPhase(ctx context.Context, tenant scope.Tenant, cfg *flowtype.Config, master *flow.MasterRecord, child *flow.ChildRecord, phase flowtype.Phase, output []byte, elapsed time.Duration, retries int) (*PhaseResult, error) {
	completedAt := time.Now().UTC()

	meta := map[string]any{}
	if retries > 0 {
		meta["retries"] = retries
	}
	master.AppendTransition(flow.PhaseTransition{
		Phase:     phase.Name,
		Status:    flow.TransitionCompleted,
		Timestamp: completedAt,
		Metadata:  meta,
	}, o.config.TransitionLogLimit)
	master.RecordPhaseTiming(phase.Name, elapsed, completedAt)

	child.CompletePhase(phase.Name, len(cfg.Phases))

	flowDone := len(child.PhasesCompleted) == len(cfg.Phases)
	if flowDone {
		master.Status = flow.MasterCompleted
		child.Status = flow.ChildCompleted
		child.ProgressPercentage = 100
	}

	var cp *checkpoint.Checkpoint
	if cfg.Capabilities.Checkpointing {
		snapshot := output
		cp = checkpoint.New(tenant, child.FlowID, phase.Name, snapshot)
	}

	if err := o.store.CompletePhase(ctx, &flow.PhaseCompletion{
		Master:     master,
		Child:      child,
		Checkpoint: cp,
	}); err != nil {
		return nil, fmt.Errorf("commit phase %q for flow %s: %w", phase.Name, child.FlowID, err)
	}
	o.retries.Reset(child.FlowID, phase.Name)

	o.logger.Info("phase advanced",
		slog.String("flow_id", child.FlowID.String()),
		slog.String("phase", phase.Name),
		slog.Float64("progress", child.ProgressPercentage),
		slog.Bool("flow_completed", flowDone),
	)

	return &PhaseResult{
		FlowID:        child.FlowID,
		Phase:         phase.Name,
		FlowCompleted: flowDone,
		Retries:       retries,
		Progress:      child.ProgressPercentage,
		Output:        output,
		CompletedAt:   completedAt,
	}, nil
}

// failFlow marks both records failed and records the triggering phase
// and error in the master's metadata, so operators never infer failure
// cause from logs alone.
func (o *Orchestrator) failFlow(ctx context.Context, master *flow.MasterRecord, child *flow.ChildRecord, retries int, cause error) error {
	var classified *floworc.Error
	if !errors.As(cause, &classified) {
		classified = floworc.Classify(child.CurrentPhase, cause)
	}
	if classified.Kind == floworc.KindValidation {
		// Validation failures halt advancement but never fail the flow.
		return classified
	}

	master.Status = flow.MasterFailed
	child.Status = flow.ChildFailed
	child.Touch()
	if master.Metadata == nil {
		master.Metadata = make(map[string]any)
	}
	master.Metadata["error_details"] = map[string]any{
		"phase":     classified.Phase,
		"kind":      string(classified.Kind),
		"error":     classified.Error(),
		"retries":   retries,
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	}
	master.Touch()

	if err := o.store.UpdateMaster(ctx, master); err != nil {
		o.logger.Error("failed to persist master failure state",
			slog.String("flow_id", master.FlowID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	if err := o.store.UpdateChild(ctx, child); err != nil {
		return err
	}

	o.logger.Error("flow failed",
		slog.String("flow_id", master.FlowID.String()),
		slog.String("phase", classified.Phase),
		slog.String("kind", string(classified.Kind)),
		slog.Int("retries", retries),
	)
	return cause
}

// recordedResult rebuilds the result of the most recently completed
// phase for idempotent no-op returns.
func recordedResult(master *flow.MasterRecord, child *flow.ChildRecord) *PhaseResult {
	res := &PhaseResult{
		FlowID:        child.FlowID,
		AlreadyDone:   true,
		FlowCompleted: master.Status == flow.MasterCompleted,
		Progress:      child.ProgressPercentage,
	}
	if n := len(child.PhasesCompleted); n > 0 {
		res.Phase = child.PhasesCompleted[n-1]
		if tr, ok := master.TransitionFor(res.Phase, flow.TransitionCompleted); ok {
			res.CompletedAt = tr.Timestamp
			switch r := tr.Metadata["retries"].(type) {
			case int:
				res.Retries = r
			case float64: // JSON-decoded transition logs carry numbers as float64
				res.Retries = int(r)
			}
		}
	}
	return res
}
