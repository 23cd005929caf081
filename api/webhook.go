package api

import (
	"html/template"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/webhook"
)

const maxWebhookBytes = 1 << 20

func (s *Server) handleWebhookPing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook verifies a platform delivery and wakes any connection wait
// for the account it describes.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid body")
		return
	}
	if s.cfg.WebhookSecret == "" {
		s.logger.Warn("webhook rejected: COMPOSIO_WEBHOOK_SECRET is not set")
	}
	if !webhook.Verify(body, r.Header, s.cfg.WebhookSecret) {
		s.observeWebhook("rejected")
		writeMessage(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	event, ok := webhook.ParseEvent(body)
	if !ok || s.cfg.Signals == nil {
		s.observeWebhook("ignored")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	woken := s.cfg.Signals.Publish(event.AccountID, event.Status)
	s.logger.Info("connection webhook",
		zap.String("type", event.Type),
		zap.String("accountId", event.AccountID),
		zap.String("status", string(event.Status)),
		zap.Int("waiters", woken),
	)
	s.observeWebhook("signalled")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) observeWebhook(outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveWebhook(outcome)
	}
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>Authentication {{if .Success}}Successful{{else}}Failed{{end}}</title>
</head>
<body>
  <script>
    if (window.opener) {
      window.opener.postMessage({
        type: 'OAUTH_CALLBACK',
        status: {{.Status}},
        error: {{.Error}}
      }, '*');
    }
    window.close();
    setTimeout(function () {
      document.body.innerHTML = '<h1>Authentication complete!</h1><p>You can close this window now.</p>';
    }, 1000);
  </script>
  <h1>Processing...</h1>
</body>
</html>
`))

// handleAuthCallback closes the OAuth popup and reports the outcome to the
// window that opened it.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status == "" {
		status = "unknown"
	}
	data := struct {
		Success bool
		Status  string
		Error   string
	}{
		Success: status == "success",
		Status:  status,
		Error:   q.Get("error"),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := callbackPage.Execute(w, data); err != nil {
		s.logger.Warn("render auth callback", zap.Error(err))
	}
}
