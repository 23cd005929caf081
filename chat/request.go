package chat

import (
	"errors"
	"strings"

	"github.com/PipeOpsHQ/rube/types"
)

var ErrInvalidRequest = errors.New("invalid chat request")

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Is(target error) bool { return target == ErrInvalidRequest }

// Request is the body of one chat turn: the full visible history and, after
// the first turn, the conversation it belongs to.
type Request struct {
	Messages       []UIMessage `json:"messages"`
	ConversationID string      `json:"conversationId,omitempty"`
}

// UIMessage accepts both the plain {role, content} shape and the parts shape
// sent by the browser chat client.
type UIMessage struct {
	ID      string   `json:"id,omitempty"`
	Role    string   `json:"role"`
	Content string   `json:"content,omitempty"`
	Parts   []UIPart `json:"parts,omitempty"`
}

type UIPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text returns the message content, joining text parts when content is empty.
func (m UIMessage) Text() string {
	if strings.TrimSpace(m.Content) != "" {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func (r Request) validate() error {
	if len(r.Messages) == 0 {
		return &requestError{msg: "messages is required"}
	}
	if strings.TrimSpace(r.Messages[len(r.Messages)-1].Text()) == "" {
		return &requestError{msg: "latest message has no text"}
	}
	return nil
}

// history converts the client transcript to model messages. Only user and
// assistant text survives; tool traffic from earlier turns is not replayed.
func (r Request) history() []types.Message {
	out := make([]types.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "user":
			out = append(out, types.Message{Role: types.RoleUser, Content: text})
		case "assistant":
			out = append(out, types.Message{Role: types.RoleAssistant, Content: text})
		}
	}
	return out
}
