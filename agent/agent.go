// Package agent runs the streaming model/tool loop behind one chat turn.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/llm"
	"github.com/PipeOpsHQ/rube/observe"
	"github.com/PipeOpsHQ/rube/tools"
	"github.com/PipeOpsHQ/rube/types"
)

const (
	DefaultMaxSteps    = 50
	DefaultToolTimeout = 2 * time.Minute
)

// EventHandler receives run events in order. Returning an error aborts the
// run; it is how a disconnected client stops generation.
type EventHandler func(types.Event) error

type Agent struct {
	provider        llm.Provider
	systemPrompt    string
	maxSteps        int
	maxOutputTokens int
	retryPolicy     RetryPolicy
	toolTimeout     time.Duration
	parallelTools   bool
	history         *ContextManager
	observer        observe.Sink
	logger          *zap.Logger
}

type Option func(*Agent)

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithMaxSteps bounds the number of model generations per run. Tools are
// withheld on the last step so the model has to answer in text.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

func WithMaxOutputTokens(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxOutputTokens = n
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(a *Agent) { a.retryPolicy = policy.normalized() }
}

func WithToolTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout >= 0 {
			a.toolTimeout = timeout
		}
	}
}

// WithParallelToolCalls runs the tool calls of one step concurrently. Events
// are still delivered to the handler one at a time.
func WithParallelToolCalls(enabled bool) Option {
	return func(a *Agent) { a.parallelTools = enabled }
}

// WithContextManager trims the incoming history to the manager's token
// budget before every generation.
func WithContextManager(cm *ContextManager) Option {
	return func(a *Agent) { a.history = cm }
}

func WithObserver(observer observe.Sink) Option {
	return func(a *Agent) { a.observer = observer }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func New(provider llm.Provider, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	a := &Agent{
		provider:    provider,
		maxSteps:    DefaultMaxSteps,
		retryPolicy: RetryPolicy{}.normalized(),
		toolTimeout: DefaultToolTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.retryPolicy = a.retryPolicy.normalized()
	return a, nil
}

func (a *Agent) Provider() string { return a.provider.Name() }

// run carries the per-run identifiers and the event sink. emitMu serializes
// delivery when tool calls run in parallel.
type run struct {
	id        string
	sessionID string
	provider  string
	onEvent   EventHandler
	emitMu    sync.Mutex
}

// Run drives one streaming conversation over messages with the given tool
// set and returns once the model answers without calling tools, the step
// budget is spent, or an error occurs. Text is relayed through onEvent as it
// is generated.
func (a *Agent) Run(ctx context.Context, sessionID string, messages []types.Message, toolset *tools.Set, onEvent EventHandler) (types.RunResult, error) {
	if len(messages) == 0 {
		return types.RunResult{}, errors.New("messages are required")
	}
	if onEvent == nil {
		onEvent = func(types.Event) error { return nil }
	}
	r := &run{id: uuid.NewString(), sessionID: sessionID, provider: a.provider.Name(), onEvent: onEvent}
	startedAt := time.Now().UTC()
	logger := a.logger.With(zap.String("runId", r.id), zap.String("sessionId", sessionID))

	if err := a.emit(ctx, r, types.Event{Type: types.EventRunStarted, Message: "run started"}); err != nil {
		return types.RunResult{}, err
	}

	history := append([]types.Message(nil), messages...)
	usage := &types.Usage{}
	hasUsage := false
	var output strings.Builder

	fail := func(step int, err error) (types.RunResult, error) {
		logger.Warn("run failed", zap.Int("step", step), zap.Error(err))
		_ = a.emit(ctx, r, types.Event{Type: types.EventRunFailed, Step: step, Error: err.Error(), Message: "run failed"})
		return types.RunResult{}, err
	}

	for step := 1; step <= a.maxSteps; step++ {
		var defs []types.ToolDefinition
		if step < a.maxSteps {
			defs = definitions(toolset)
		}
		req := types.Request{
			SystemPrompt:    a.systemPrompt,
			Messages:        history,
			Tools:           defs,
			MaxOutputTokens: a.maxOutputTokens,
		}
		if a.history != nil {
			req.Messages = a.history.TrimMessages(history, a.systemPrompt, defs, a.maxOutputTokens)
		}

		genStarted := time.Now()
		if err := a.emit(ctx, r, types.Event{Type: types.EventBeforeGenerate, Step: step}); err != nil {
			return fail(step, err)
		}
		resp, err := a.streamWithRetry(ctx, r, step, req)
		if err != nil {
			return fail(step, fmt.Errorf("generation failed: %w", err))
		}
		if err := a.emit(ctx, r, types.Event{
			Type:       types.EventAfterGenerate,
			Step:       step,
			DurationMs: time.Since(genStarted).Milliseconds(),
		}); err != nil {
			return fail(step, err)
		}

		if resp.Usage != nil {
			usage.InputTokens += resp.Usage.InputTokens
			usage.OutputTokens += resp.Usage.OutputTokens
			usage.TotalTokens += resp.Usage.TotalTokens
			hasUsage = true
		}

		msg := resp.Message
		msg.Role = types.RoleAssistant
		history = append(history, msg)
		output.WriteString(msg.Content)

		if len(msg.ToolCalls) == 0 || len(defs) == 0 {
			completedAt := time.Now().UTC()
			if err := a.emit(ctx, r, types.Event{Type: types.EventRunCompleted, Step: step, Message: "run completed"}); err != nil {
				return types.RunResult{}, err
			}
			logger.Debug("run completed", zap.Int("steps", step))
			return types.RunResult{
				Output:      output.String(),
				Messages:    history[len(messages):],
				Usage:       usageOrNil(usage, hasUsage),
				Steps:       step,
				Provider:    r.provider,
				RunID:       r.id,
				SessionID:   sessionID,
				StartedAt:   &startedAt,
				CompletedAt: &completedAt,
			}, nil
		}

		results, err := a.executeToolCalls(ctx, r, step, toolset, msg.ToolCalls)
		if err != nil {
			return fail(step, err)
		}
		history = append(history, results...)
	}

	return fail(a.maxSteps, fmt.Errorf("max steps reached (%d)", a.maxSteps))
}

// streamWithRetry retries a failed generation only while nothing has been
// relayed to the client yet.
func (a *Agent) streamWithRetry(ctx context.Context, r *run, step int, req types.Request) (types.Response, error) {
	policy := a.retryPolicy

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		relayed := false
		resp, err := llm.Stream(ctx, a.provider, req, func(chunk types.StreamChunk) error {
			switch {
			case chunk.Text != "":
				relayed = true
				return a.emit(ctx, r, types.Event{Type: types.EventTextDelta, Step: step, Delta: chunk.Text})
			case chunk.ToolCallStart != nil:
				relayed = true
				return a.emit(ctx, r, types.Event{
					Type:       types.EventToolInputStart,
					Step:       step,
					ToolName:   chunk.ToolCallStart.Name,
					ToolCallID: chunk.ToolCallStart.ID,
				})
			}
			return nil
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if relayed || ctx.Err() != nil || attempt == policy.MaxAttempts {
			break
		}

		if err := policy.pause(ctx, a.logger, attempt, err); err != nil {
			return types.Response{}, err
		}
	}
	return types.Response{}, lastErr
}

func definitions(set *tools.Set) []types.ToolDefinition {
	list := set.List()
	if len(list) == 0 {
		return nil
	}
	defs := make([]types.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, t.Definition())
	}
	return defs
}

func (a *Agent) executeToolCalls(ctx context.Context, r *run, step int, toolset *tools.Set, calls []types.ToolCall) ([]types.Message, error) {
	results := make([]types.Message, len(calls))

	if a.parallelTools && len(calls) > 1 {
		var (
			wg       sync.WaitGroup
			errMu    sync.Mutex
			firstErr error
		)
		wg.Add(len(calls))
		for i, call := range calls {
			go func() {
				defer wg.Done()
				msg, err := a.executeOneToolCall(ctx, r, step, toolset, call)
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					return
				}
				results[i] = msg
			}()
		}
		wg.Wait()
		if firstErr != nil {
			return nil, firstErr
		}
		return results, nil
	}

	for i, call := range calls {
		msg, err := a.executeOneToolCall(ctx, r, step, toolset, call)
		if err != nil {
			return nil, err
		}
		results[i] = msg
	}
	return results, nil
}

// executeOneToolCall runs a tool. Tool failures become an {"error": ...}
// result for the model; only event delivery errors abort the run.
func (a *Agent) executeOneToolCall(ctx context.Context, r *run, step int, toolset *tools.Set, call types.ToolCall) (types.Message, error) {
	args := call.Arguments
	if len(args) == 0 || !json.Valid(args) {
		args = json.RawMessage(`{}`)
	}
	if err := a.emit(ctx, r, types.Event{
		Type:       types.EventBeforeTool,
		Step:       step,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Input:      args,
	}); err != nil {
		return types.Message{}, err
	}

	started := time.Now()
	var (
		payload any
		toolErr error
	)
	if tool, ok := toolset.Get(call.Name); !ok {
		toolErr = fmt.Errorf("tool %q not found", call.Name)
	} else {
		toolCtx := ctx
		cancel := func() {}
		if a.toolTimeout > 0 {
			toolCtx, cancel = context.WithTimeout(ctx, a.toolTimeout)
		}
		payload, toolErr = tool.Execute(toolCtx, args)
		cancel()
	}
	if toolErr != nil {
		payload = map[string]any{"error": toolErr.Error()}
		a.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.String("toolCallId", call.ID), zap.Error(toolErr))
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded, _ = json.Marshal(map[string]any{"error": "failed to encode tool output", "detail": err.Error()})
	}

	after := types.Event{
		Type:       types.EventAfterTool,
		Step:       step,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Output:     encoded,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if toolErr != nil {
		after.Error = toolErr.Error()
	}
	if err := a.emit(ctx, r, after); err != nil {
		return types.Message{}, err
	}

	return types.Message{
		Role:       types.RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    string(encoded),
	}, nil
}

// emit stamps the event, forwards it to the observer and then to the run's
// handler.
func (a *Agent) emit(ctx context.Context, r *run, event types.Event) error {
	event.Timestamp = time.Now().UTC()
	event.RunID = r.id
	event.SessionID = r.sessionID
	event.Provider = r.provider

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if a.observer != nil && observe.Traced(event.Type) {
		if err := a.observer.Emit(ctx, observe.FromRuntimeEvent(event)); err != nil {
			a.logger.Debug("observer emit failed", zap.Error(err))
		}
	}
	return r.onEvent(event)
}

func usageOrNil(usage *types.Usage, hasUsage bool) *types.Usage {
	if !hasUsage || usage == nil {
		return nil
	}
	out := *usage
	return &out
}
