package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/auth"
	"github.com/PipeOpsHQ/rube/chat"
	"github.com/PipeOpsHQ/rube/state"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 200
)

// handleChat validates and persists the turn before streaming, so any
// failure up to that point is a plain JSON error. Once streaming starts the
// status is 200 and failures travel as error parts.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user auth.User) {
	if s.cfg.Chat == nil {
		writeMessage(w, http.StatusInternalServerError, "Chat is not configured: set OPENAI_API_KEY (or GEMINI_API_KEY) and COMPOSIO_API_KEY")
		return
	}
	var req chat.Request
	if err := decodeJSON(r, w, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	turn, err := s.cfg.Chat.Begin(r.Context(), user, req)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Conversation not found")
			return
		}
		s.writeFailure(w, "Failed to process chat request", err)
		return
	}
	defer turn.Close()

	sse, err := chat.NewSSEWriter(w)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("X-Conversation-Id", turn.ConversationID)
	w.WriteHeader(http.StatusOK)

	if err := s.cfg.Chat.Stream(r.Context(), turn, sse); err != nil {
		s.logger.Debug("chat stream ended with error", zap.String("conversationId", turn.ConversationID), zap.Error(err))
	}
	_ = sse.Done()
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user auth.User) {
	limit := defaultConversationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxConversationLimit)
	}
	convs, err := s.cfg.Store.ListConversations(r.Context(), user.ID, limit)
	if err != nil {
		s.writeFailure(w, "Failed to fetch conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// handleConversationMessages answers 404 for conversations owned by someone
// else, so their existence is not revealed.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, user auth.User) {
	id := r.PathValue("id")
	conv, err := s.cfg.Store.GetConversation(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) || (err == nil && conv.UserID != user.ID) {
		writeMessage(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.writeFailure(w, "Failed to fetch messages", err)
		return
	}
	msgs, err := s.cfg.Store.ListMessages(r.Context(), id)
	if err != nil {
		s.writeFailure(w, "Failed to fetch messages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
