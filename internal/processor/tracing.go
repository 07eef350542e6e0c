package processor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrej220/autopilot/pkg/tasks"
)

const (
	traceScope = "autopilot.processor"

	spanPhase = "autopilot.phase"
	spanTask  = "autopilot.task"

	attrPhase     = "autopilot.phase"
	attrTaskIndex = "autopilot.task.index"
	attrTaskType  = "autopilot.task.type"
	attrStatus    = "autopilot.status"
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(traceScope).Start(ctx, name, trace.WithAttributes(attrs...))
}

func markSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func markSpanOutcome(span trace.Span, o tasks.Outcome) {
	span.SetAttributes(attribute.String(attrStatus, string(o.Status)))
	if o.Status == tasks.StatusFailed {
		span.SetStatus(codes.Error, o.Message)
		return
	}
	span.SetStatus(codes.Ok, "")
}
