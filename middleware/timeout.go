package middleware

import (
	"context"
	"log/slog"
)

// Timeout returns middleware that enforces the execution's handler
// deadline. When the ceiling is exceeded the context is cancelled and
// the handler should return context.DeadlineExceeded, which the
// orchestrator classifies as a transient, retryable failure.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, ex *Execution, next Handler) error {
		if ex.Timeout > 0 {
			logger.Debug("phase timeout set",
				slog.String("flow_id", ex.FlowID.String()),
				slog.String("phase", ex.Phase),
				slog.Duration("timeout", ex.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, ex.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
