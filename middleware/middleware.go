package middleware

import (
	"context"
	"time"

	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// Execution describes one phase-handler invocation flowing through the
// chain.
type Execution struct {
	FlowID   id.FlowID
	FlowType flowtype.Type
	Phase    string
	Tenant   scope.Tenant

	// Attempt is 0 for the first invocation, then the retry number.
	Attempt int

	// Timeout is the ceiling for this invocation; zero means none.
	Timeout time.Duration
}

// Handler is the terminal function that runs the phase logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the execution being performed, and the next handler
// to call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, ex *Execution, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging wraps recover wraps timeout wraps the handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, ex *Execution, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, ex, prev)
			}
		}
		return h(ctx)
	}
}
