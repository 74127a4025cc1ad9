package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for floworc metrics.
const meterName = "github.com/floworc/floworc"

// Metrics returns middleware that records per-phase execution metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - floworc.phase.duration (Float64Histogram): execution time in
//     seconds, with attributes: flow_type, phase, status ("ok" or "error")
//   - floworc.phase.executions (Int64Counter): total executions, with
//     attributes: flow_type, phase, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time. On error,
	// the OTel API returns noop instruments so the middleware degrades
	// gracefully.
	duration, dErr := meter.Float64Histogram(
		"floworc.phase.duration",
		metric.WithDescription("Duration of phase execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	executions, eErr := meter.Int64Counter(
		"floworc.phase.executions",
		metric.WithDescription("Total number of phase executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr

	return func(ctx context.Context, ex *Execution, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("flow_type", string(ex.FlowType)),
			attribute.String("phase", ex.Phase),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
