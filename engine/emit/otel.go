package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter converts events to OpenTelemetry spans.
//
// Each event becomes a short-lived span named after event.Msg, carrying the
// thread, stage, and node as attributes along with every Meta entry. Spans
// for events whose Meta contains an "error" string are marked with error
// status.
//
// Setup:
//
//	tracer := otel.Tracer("news-agent-maya")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter producing spans through tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as an immediately-ended span. Events represent
// points in time, not durations, so the span is closed right away; the
// "duration_ms" Meta entry preserves the measured node time as an attribute.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("workflow.thread_id", event.ThreadID),
		attribute.Int("workflow.stage", event.Stage),
	)
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("workflow.node_id", event.NodeID))
	}

	for key, value := range event.Meta {
		setMetaAttribute(span, "workflow.meta."+key, value)
	}

	if errMsg, ok := event.Meta["error"].(string); ok && errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

func setMetaAttribute(span trace.Span, key string, value interface{}) {
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	default:
		span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}
