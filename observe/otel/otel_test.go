package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/PipeOpsHQ/rube/observe"
	"github.com/PipeOpsHQ/rube/types"
)

func newTestSink(t *testing.T) (*Sink, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewSink(tp), exporter
}

func TestSinkBackdatesFinishedSpans(t *testing.T) {
	sink, exporter := newTestSink(t)

	end := time.Now()
	require.NoError(t, sink.Emit(context.Background(), observe.FromRuntimeEvent(types.Event{
		Type:       types.EventAfterTool,
		Timestamp:  end,
		RunID:      "run-1",
		SessionID:  "conv-1",
		Step:       2,
		ToolName:   "GMAIL_SEND_EMAIL",
		ToolCallID: "call_1",
		DurationMs: 150,
	})))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "chat.tool.GMAIL_SEND_EMAIL", span.Name)
	assert.Equal(t, 150*time.Millisecond, span.EndTime.Sub(span.StartTime))
	assert.Equal(t, codes.Ok, span.Status.Code)

	attrs := attrToMap(span.Attributes)
	assert.Equal(t, "run-1", attrs["rube.run.id"])
	assert.Equal(t, "conv-1", attrs["rube.conversation.id"])
	assert.Equal(t, "run-1:gen:2", attrs["rube.parent_span.id"])
	assert.Equal(t, "call_1", attrs["rube.attr.toolCallId"])
}

func TestSinkSkipsStartEvents(t *testing.T) {
	sink, exporter := newTestSink(t)
	for _, typ := range []types.EventType{types.EventRunStarted, types.EventBeforeGenerate, types.EventBeforeTool} {
		require.NoError(t, sink.Emit(context.Background(), observe.FromRuntimeEvent(types.Event{Type: typ, RunID: "r"})))
	}
	assert.Empty(t, exporter.GetSpans())
}

func TestSpanNaming(t *testing.T) {
	sink, exporter := newTestSink(t)
	now := time.Now()

	tests := []struct {
		event    observe.Event
		wantName string
	}{
		{observe.Event{Kind: observe.KindRun, Timestamp: now}, "chat.run"},
		{observe.Event{Kind: observe.KindProvider, Provider: "openai", Timestamp: now}, "chat.llm.openai"},
		{observe.Event{Kind: observe.KindProvider, Timestamp: now}, "chat.llm.generate"},
		{observe.Event{Kind: observe.KindTool, Timestamp: now}, "chat.tool.call"},
		{observe.Event{Kind: observe.KindCustom, Name: "webhook", Timestamp: now}, "chat.webhook"},
	}
	for _, tt := range tests {
		exporter.Reset()
		require.NoError(t, sink.Emit(context.Background(), tt.event))
		spans := exporter.GetSpans()
		require.Len(t, spans, 1, tt.wantName)
		assert.Equal(t, tt.wantName, spans[0].Name)
	}
}

func TestSinkRecordsFailures(t *testing.T) {
	sink, exporter := newTestSink(t)
	require.NoError(t, sink.Emit(context.Background(), observe.FromRuntimeEvent(types.Event{
		Type:  types.EventRunFailed,
		RunID: "run-1",
		Error: "generation failed: boom",
	})))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "generation failed: boom", spans[0].Status.Description)
	assert.NotEmpty(t, spans[0].Events)
}

func TestNilTracerProvider(t *testing.T) {
	sink := NewSink(nil)
	assert.NoError(t, sink.Emit(context.Background(), observe.Event{Kind: observe.KindRun}))
}

func attrToMap(attrs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}
