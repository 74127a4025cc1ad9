package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs phase start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, ex *Execution, next Handler) error {
		logger.Info("phase started",
			slog.String("flow_id", ex.FlowID.String()),
			slog.String("flow_type", string(ex.FlowType)),
			slog.String("phase", ex.Phase),
			slog.Int("attempt", ex.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("phase failed",
				slog.String("flow_id", ex.FlowID.String()),
				slog.String("phase", ex.Phase),
				slog.Int("attempt", ex.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("phase completed",
				slog.String("flow_id", ex.FlowID.String()),
				slog.String("phase", ex.Phase),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
