package observe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/PipeOpsHQ/rube/types"
)

func TestFromRuntimeEvent(t *testing.T) {
	tests := []struct {
		in         types.Event
		kind       Kind
		status     Status
		span       string
		parentSpan string
	}{
		{types.Event{Type: types.EventRunStarted, RunID: "r"}, KindRun, StatusStarted, "r", ""},
		{types.Event{Type: types.EventAfterGenerate, RunID: "r", Step: 2}, KindProvider, StatusCompleted, "r:gen:2", "r"},
		{types.Event{Type: types.EventBeforeTool, RunID: "r", Step: 2, ToolCallID: "c1"}, KindTool, StatusStarted, "r:tool:2:c1", "r:gen:2"},
		{types.Event{Type: types.EventAfterTool, RunID: "r", Step: 2, ToolCallID: "c1", Error: "x"}, KindTool, StatusFailed, "r:tool:2:c1", "r:gen:2"},
		{types.Event{Type: types.EventRunFailed, RunID: "r"}, KindRun, StatusFailed, "r", ""},
		{types.Event{Type: "custom.thing"}, KindCustom, StatusCompleted, "", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.in.Type), func(t *testing.T) {
			got := FromRuntimeEvent(tt.in)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.span, got.SpanID)
			assert.Equal(t, tt.parentSpan, got.ParentSpanID)
			assert.False(t, got.Timestamp.IsZero())
		})
	}
}

func TestTraced(t *testing.T) {
	assert.False(t, Traced(types.EventTextDelta))
	assert.False(t, Traced(types.EventToolInputStart))
	assert.True(t, Traced(types.EventAfterTool))
}

func TestMultiSinkKeepsGoingAfterFailure(t *testing.T) {
	var calls int
	boom := errors.New("boom")
	sink := NewMultiSink(
		SinkFunc(func(context.Context, Event) error { calls++; return boom }),
		nil,
		SinkFunc(func(context.Context, Event) error { calls++; return nil }),
	)
	err := sink.Emit(context.Background(), Event{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)

	_, isNoop := NewMultiSink(nil).(NoopSink)
	assert.True(t, isNoop)
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	sink := NewAsyncSink(SinkFunc(func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.RunID)
		return nil
	}), 8)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Emit(context.Background(), Event{RunID: id}))
	}
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestLogSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Emit(context.Background(), FromRuntimeEvent(types.Event{Type: types.EventAfterTool, RunID: "r", ToolName: "echo"})))
	require.NoError(t, sink.Emit(context.Background(), FromRuntimeEvent(types.Event{Type: types.EventRunFailed, RunID: "r", Error: "boom"})))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "echo", entries[0].ContextMap()["tool"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}
