package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for floworc tracing.
const tracerName = "github.com/floworc/floworc"

// Tracing returns middleware that wraps phase execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes: floworc.flow.id, floworc.flow.type, floworc.phase,
// floworc.attempt, floworc.tenant.client_account_id,
// floworc.tenant.engagement_id. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, ex *Execution, next Handler) error {
		ctx, span := tracer.Start(ctx, "floworc.phase.execute",
			trace.WithAttributes(
				attribute.String("floworc.flow.id", ex.FlowID.String()),
				attribute.String("floworc.flow.type", string(ex.FlowType)),
				attribute.String("floworc.phase", ex.Phase),
				attribute.Int("floworc.attempt", ex.Attempt),
				attribute.String("floworc.tenant.client_account_id", ex.Tenant.ClientAccountID),
				attribute.String("floworc.tenant.engagement_id", ex.Tenant.EngagementID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
