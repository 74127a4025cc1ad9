package floworc

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("floworc: no store configured")
	ErrStoreClosed     = errors.New("floworc: store closed")
	ErrMigrationFailed = errors.New("floworc: migration failed")

	// Not found errors.
	ErrFlowNotFound       = errors.New("floworc: flow not found")
	ErrFlowTypeNotFound   = errors.New("floworc: flow type not found")
	ErrCheckpointNotFound = errors.New("floworc: checkpoint not found")

	// Conflict errors.
	ErrFlowExists         = errors.New("floworc: flow already exists")
	ErrFlowTypeRegistered = errors.New("floworc: flow type already registered")

	// State errors.
	ErrInvalidTransition = errors.New("floworc: invalid state transition")
	ErrFlowTerminal      = errors.New("floworc: flow is in a terminal state")
	ErrFlowPaused        = errors.New("floworc: flow is paused")
	ErrRetryCeiling      = errors.New("floworc: retry ceiling reached")

	// Monitor errors.
	ErrMonitorRunning = errors.New("floworc: health monitor already running")
	ErrMonitorStopped = errors.New("floworc: health monitor not running")
)

// Kind is the closed classification set for flow execution failures.
// An error is classified exactly once, at the orchestrator boundary;
// downstream consumers (health monitor, sync service, API) only read the
// resulting kind and never re-classify.
type Kind string

const (
	// KindValidation means phase preconditions were unmet. Not retried;
	// the flow stays at its current phase.
	KindValidation Kind = "validation"
	// KindTransient means the failure is expected to clear on retry
	// (handler timeout, dependency unavailable). Retried with backoff
	// up to the configured ceiling.
	KindTransient Kind = "transient"
	// KindFatal means the handler reported an unrecoverable domain error.
	// The flow fails immediately with no retry.
	KindFatal Kind = "fatal"
	// KindConsistency means the sync service found an invariant violation
	// it cannot safely auto-repair. Surfaced in sync discrepancies.
	KindConsistency Kind = "consistency"
	// KindRecovery means a recovery action itself failed. Flow state is
	// left unchanged so the action can be safely re-attempted.
	KindRecovery Kind = "recovery"
)

// Error is a classified flow execution error. Phase names the phase at
// which the failure occurred, when known.
type Error struct {
	Kind  Kind
	Phase string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("floworc: %s error at phase %q: %v", e.Kind, e.Phase, e.Err)
	}
	return fmt.Sprintf("floworc: %s error: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewValidationError wraps err as a validation failure at the given phase.
func NewValidationError(phase string, err error) *Error {
	return &Error{Kind: KindValidation, Phase: phase, Err: err}
}

// NewTransientError wraps err as a retryable failure at the given phase.
func NewTransientError(phase string, err error) *Error {
	return &Error{Kind: KindTransient, Phase: phase, Err: err}
}

// NewFatalError wraps err as an unrecoverable failure at the given phase.
func NewFatalError(phase string, err error) *Error {
	return &Error{Kind: KindFatal, Phase: phase, Err: err}
}

// NewConsistencyError wraps err as an unrepairable invariant violation.
func NewConsistencyError(phase string, err error) *Error {
	return &Error{Kind: KindConsistency, Phase: phase, Err: err}
}

// NewRecoveryError wraps err as a failed recovery action.
func NewRecoveryError(phase string, err error) *Error {
	return &Error{Kind: KindRecovery, Phase: phase, Err: err}
}

// Classify assigns a Kind to a raw phase-handler error. Already-classified
// errors pass through (stamped with the phase if they lack one). Context
// deadline and cancellation map to transient: the attempt timed out and
// handlers are idempotent, so re-running is safe. Any other unclassified
// error also defaults to transient; a handler signals an unrecoverable
// condition by returning NewFatalError explicitly.
func Classify(phase string, err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		if fe.Phase == "" {
			fe.Phase = phase
		}
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransient, Phase: phase, Err: err}
	}

	return &Error{Kind: KindTransient, Phase: phase, Err: err}
}

// KindOf extracts the classification of err. Unclassified errors report
// an empty Kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retryable reports whether err should be retried by the orchestrator.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
