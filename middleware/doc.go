// Package middleware provides composable middleware for phase-handler
// execution.
//
// A [Middleware] is a function that wraps a phase handler. Middleware are
// composed into a chain using [Chain] and applied around every handler
// invocation the orchestrator makes. They are applied right-to-left: the
// first middleware in the slice is the outermost wrapper.
//
//	// recover, then logging, then the handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover]: catches panics and converts them to errors
//   - [Logging]: logs flow, phase, attempt, duration, and outcome
//   - [Metrics]: records per-phase duration and outcome counters
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Scope]: injects the execution's tenant into the context
//   - [Timeout]: cancels the handler context after the execution's ceiling
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, ex *middleware.Execution, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
