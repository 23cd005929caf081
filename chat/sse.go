package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// PartWriter receives the parts of one streamed turn.
type PartWriter interface {
	WritePart(Part) error
}

// SSEWriter frames parts as server-sent events, one JSON part per data line.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ PartWriter = (*SSEWriter)(nil)

// NewSSEWriter sets the event-stream headers. Callers add their own headers
// before the first part is written.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) WritePart(p Part) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s part: %w", p.Type, err)
	}
	return s.write(payload)
}

// Done writes the terminating [DONE] sentinel.
func (s *SSEWriter) Done() error {
	return s.write([]byte("[DONE]"))
}

func (s *SSEWriter) write(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
