// Package audit records operator-visible override events: manual
// terminal overrides, checkpoint restores, phase restarts, and
// transition synthesis performed by the reconciliation service.
//
// The log is append-only. Every entry carries the acting identity and a
// reason string so failure cause and operator intent never have to be
// inferred from logs alone.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// Action names an auditable event.
type Action string

const (
	ActionRestartPhase      Action = "restart_phase"
	ActionManualComplete    Action = "manual_complete"
	ActionManualFail        Action = "manual_fail"
	ActionCheckpointRestore Action = "checkpoint_restore"
	ActionSyncSynthesis     Action = "sync_synthesis"
	ActionFlowReopened      Action = "flow_reopened"
)

// Entry is one append-only audit record.
type Entry struct {
	floworc.Entity

	AuditID id.AuditID   `json:"audit_id"`
	FlowID  id.FlowID    `json:"flow_id"`
	Tenant  scope.Tenant `json:"tenant"`

	Action Action `json:"action"`

	// Actor identifies who or what triggered the action (operator id,
	// "monitor", "reconcile").
	Actor string `json:"actor"`

	// Reason is required for manual terminal overrides.
	Reason string `json:"reason,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Store is the persistence interface for audit entries.
type Store interface {
	AppendAudit(ctx context.Context, e *Entry) error
	ListAudit(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) ([]*Entry, error)
}

// Recorder writes audit entries and mirrors them to the structured log.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates an audit recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record persists one audit entry.
func (r *Recorder) Record(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, action Action, actor, reason string, metadata map[string]any) error {
	e := &Entry{
		Entity:   floworc.NewEntity(),
		AuditID:  id.NewAuditID(),
		FlowID:   flowID,
		Tenant:   tenant,
		Action:   action,
		Actor:    actor,
		Reason:   reason,
		Metadata: metadata,
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		return fmt.Errorf("append audit entry for flow %s: %w", flowID, err)
	}
	r.logger.Info("audit entry recorded",
		"flow_id", flowID.String(),
		"action", string(action),
		"actor", actor,
		"reason", reason,
	)
	return nil
}

// List returns the audit trail for a flow, oldest-first.
func (r *Recorder) List(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) ([]*Entry, error) {
	return r.store.ListAudit(ctx, tenant, flowID)
}
