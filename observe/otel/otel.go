// Package otel turns finished run, generation and tool events into
// OpenTelemetry spans.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/PipeOpsHQ/rube/observe"
)

const instrumentationName = "github.com/PipeOpsHQ/rube/observe/otel"

type Sink struct {
	tracer trace.Tracer
}

var _ observe.Sink = (*Sink)(nil)

// NewSink uses a noop tracer provider when tp is nil.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{tracer: tp.Tracer(instrumentationName)}
}

// Emit records one span per finished unit of work. Start events are skipped;
// the span is back-dated by the event's duration instead.
func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()
	if event.Status == observe.StatusStarted {
		return nil
	}

	end := event.Timestamp
	start := end.Add(-time.Duration(event.DurationMs) * time.Millisecond)
	_, span := s.tracer.Start(context.Background(), spanName(event), trace.WithTimestamp(start))

	attrs := []attribute.KeyValue{
		attribute.String("rube.event.kind", string(event.Kind)),
	}
	if event.RunID != "" {
		attrs = append(attrs, attribute.String("rube.run.id", event.RunID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, attribute.String("rube.conversation.id", event.SessionID))
	}
	if event.SpanID != "" {
		attrs = append(attrs, attribute.String("rube.span.id", event.SpanID))
	}
	if event.ParentSpanID != "" {
		attrs = append(attrs, attribute.String("rube.parent_span.id", event.ParentSpanID))
	}
	if event.Provider != "" {
		attrs = append(attrs, attribute.String("rube.provider", event.Provider))
	}
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("rube.tool.name", event.ToolName))
	}
	if event.Step > 0 {
		attrs = append(attrs, attribute.Int("rube.step", event.Step))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("rube.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("rube.attr."+k, fmt.Sprint(v)))
	}
	span.SetAttributes(attrs...)

	if event.Status == observe.StatusFailed {
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(errors.New(event.Error))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
	return nil
}

func spanName(event observe.Event) string {
	switch event.Kind {
	case observe.KindRun:
		return "chat.run"
	case observe.KindProvider:
		if event.Provider != "" {
			return "chat.llm." + event.Provider
		}
		return "chat.llm.generate"
	case observe.KindTool:
		if event.ToolName != "" {
			return "chat.tool." + event.ToolName
		}
		return "chat.tool.call"
	default:
		if event.Name != "" {
			return "chat." + event.Name
		}
		return "chat.event"
	}
}
