// Package webhook verifies and decodes integration platform webhooks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/PipeOpsHQ/rube/platform"
)

// SignatureHeaders are checked in order; the first non-empty one wins.
var SignatureHeaders = []string{
	"X-Composio-Signature",
	"X-Signature",
	"X-Hub-Signature-256",
	"X-Signature-Sha256",
}

var signatureParam = regexp.MustCompile(`(?i)signature=([^,]+)`)

// ExtractSignature returns the digest carried by the request headers with
// any signature= parameter unwrapped and a sha256= prefix removed.
func ExtractSignature(h http.Header) string {
	var raw string
	for _, name := range SignatureHeaders {
		if raw = h.Get(name); raw != "" {
			break
		}
	}
	value := raw
	if m := signatureParam.FindStringSubmatch(raw); m != nil {
		value = m[1]
	}
	return strings.TrimPrefix(value, "sha256=")
}

// Verify checks the HMAC-SHA256 of body under secret against the request
// signature, accepting hex or base64 digests. An empty secret never
// verifies.
func Verify(body []byte, h http.Header, secret string) bool {
	sig := ExtractSignature(h)
	if sig == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	if hmac.Equal([]byte(sig), []byte(hex.EncodeToString(sum))) {
		return true
	}
	return hmac.Equal([]byte(sig), []byte(base64.StdEncoding.EncodeToString(sum)))
}

// Event is the part of a webhook payload that concerns connected accounts.
type Event struct {
	Type      string                    `json:"type"`
	AccountID string                    `json:"accountId"`
	Status    platform.ConnectionStatus `json:"status"`
}

type payload struct {
	Type     string         `json:"type"`
	Event    string         `json:"event"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// ParseEvent pulls a connected account status change out of body. ok is
// false for anything else, including malformed JSON.
func ParseEvent(body []byte) (Event, bool) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, false
	}
	ev := Event{Type: firstNonEmpty(p.Type, p.Event)}

	ev.AccountID = firstString(p.Data, "connected_account_id", "connectedAccountId", "connection_id", "connectionId")
	if ev.AccountID == "" {
		ev.AccountID = firstString(p.Metadata, "connected_account_id", "connectedAccountId")
	}
	if ev.AccountID == "" && strings.Contains(strings.ToLower(ev.Type), "connected_account") {
		ev.AccountID = firstString(p.Data, "id", "nanoid")
	}
	if ev.AccountID == "" {
		return Event{}, false
	}

	status := platform.ConnectionStatus(strings.ToUpper(firstString(p.Data, "status", "connection_status", "connectionStatus")))
	if status == "" && strings.HasSuffix(strings.ToLower(ev.Type), ".expired") {
		status = platform.StatusExpired
	}
	switch status {
	case platform.StatusInitiated, platform.StatusPending, platform.StatusActive, platform.StatusFailed, platform.StatusExpired:
		ev.Status = status
		return ev, true
	}
	return Event{}, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
