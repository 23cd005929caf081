// Package chat runs one assistant turn: it records the user's message,
// provisions the conversation's tool session and streams the agent run as UI
// message parts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/agent"
	"github.com/PipeOpsHQ/rube/auth"
	"github.com/PipeOpsHQ/rube/state"
	"github.com/PipeOpsHQ/rube/tools"
	"github.com/PipeOpsHQ/rube/toolsession"
	"github.com/PipeOpsHQ/rube/types"
)

// Runner executes the model/tool loop.
type Runner interface {
	Run(ctx context.Context, sessionID string, messages []types.Message, toolset *tools.Set, onEvent agent.EventHandler) (types.RunResult, error)
}

// Sessions hands out the per-conversation tool session.
type Sessions interface {
	GetOrCreate(ctx context.Context, identity, conversation string) (*toolsession.Session, error)
}

var (
	_ Runner   = (*agent.Agent)(nil)
	_ Sessions = (*toolsession.Manager)(nil)
)

type Orchestrator struct {
	store    state.ChatStore
	sessions Sessions
	runner   Runner
	logger   *zap.Logger
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func New(store state.ChatStore, sessions Sessions, runner Runner, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("chat store is required")
	}
	if sessions == nil {
		return nil, errors.New("tool sessions are required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	o := &Orchestrator{store: store, sessions: sessions, runner: runner, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Turn is a chat turn whose preconditions have been met and whose user
// message is already persisted.
type Turn struct {
	ConversationID string
	Created        bool

	user    auth.User
	history []types.Message
	tools   *tools.Set
	session *toolsession.Session
	release sync.Once
}

// Close releases the turn's tool session. Stream calls it when the run ends;
// callers that never stream must call it themselves. It is safe to call
// more than once.
func (t *Turn) Close() {
	t.release.Do(func() {
		if t.session != nil {
			t.session.Release()
		}
	})
}

// Begin does everything that must succeed before the first streamed byte:
// resolving or creating the conversation, saving the latest user message and
// provisioning the tool session.
func (o *Orchestrator) Begin(ctx context.Context, user auth.User, req Request) (*Turn, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(user.Email) == "" {
		return nil, &requestError{msg: "User email not found"}
	}
	latest := req.Messages[len(req.Messages)-1].Text()

	turn := &Turn{user: user, history: req.history()}
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		conv, err := o.store.CreateConversation(ctx, state.Conversation{
			UserID: user.ID,
			Title:  state.TitleFromMessage(latest),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		convID = conv.ID
		turn.Created = true
	} else {
		conv, err := o.store.GetConversation(ctx, convID)
		if err != nil {
			return nil, err
		}
		if conv.UserID != user.ID {
			return nil, state.ErrNotFound
		}
	}
	turn.ConversationID = convID

	if _, err := o.store.AddMessage(ctx, state.Message{
		ConversationID: convID,
		UserID:         user.ID,
		Role:           state.RoleUser,
		Content:        latest,
	}); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	session, err := o.sessions.GetOrCreate(ctx, user.Email, convID)
	if err != nil {
		return nil, err
	}
	turn.session = session
	turn.tools = session.Tools
	return turn, nil
}

// Stream runs the turn and writes its parts to w. A failed run is reported
// in-band as an error part. The assistant's answer is persisted after a
// successful run; persistence failures are only logged.
func (o *Orchestrator) Stream(ctx context.Context, turn *Turn, w PartWriter) error {
	defer turn.Close()
	logger := o.logger.With(zap.String("conversationId", turn.ConversationID), zap.String("userId", turn.user.ID))
	mapper := newPartMapper()
	finished := false

	result, runErr := o.runner.Run(ctx, turn.ConversationID, turn.history, turn.tools, func(ev types.Event) error {
		for _, p := range mapper.parts(ev) {
			if p.Type == PartFinish {
				finished = true
			}
			if err := w.WritePart(p); err != nil {
				return fmt.Errorf("write %s part: %w", p.Type, err)
			}
		}
		return nil
	})
	if runErr != nil {
		logger.Warn("chat turn failed", zap.Error(runErr))
		if !finished && ctx.Err() == nil {
			_ = w.WritePart(Part{Type: PartError, ErrorText: runErr.Error()})
			_ = w.WritePart(Part{Type: PartFinish})
		}
		return runErr
	}

	if strings.TrimSpace(result.Output) == "" {
		logger.Debug("assistant produced no text; nothing persisted", zap.Int("steps", result.Steps))
		return nil
	}
	_, err := o.store.AddMessage(context.WithoutCancel(ctx), state.Message{
		ConversationID: turn.ConversationID,
		UserID:         turn.user.ID,
		Role:           state.RoleAssistant,
		Content:        result.Output,
	})
	if err != nil {
		logger.Error("failed to save assistant message", zap.Error(err))
		return nil
	}
	logger.Debug("assistant message saved", zap.Int("steps", result.Steps))
	return nil
}
