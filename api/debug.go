package api

import (
	"net/http"
	"time"
)

const notSet = "NOT SET"

// DebugInfo is the configuration summary served by /api/debug/config. It
// never carries full secrets.
type DebugInfo struct {
	ComposioKeySet    bool   `json:"composioKeySet"`
	ComposioKeyPrefix string `json:"composioKeyPrefix"`
	OpenAIKeySet      bool   `json:"openaiKeySet"`
	OpenAIKeyPrefix   string `json:"openaiKeyPrefix"`
	OpenAIBaseURL     string `json:"openaiBaseUrl"`
	GeminiKeySet      bool   `json:"geminiKeySet"`
	WebhookSecretSet  bool   `json:"webhookSecretSet"`
	Provider          string `json:"provider"`
	Model             string `json:"model"`
	StoreBackend      string `json:"storeBackend"`
	AppURL            string `json:"appUrl"`
}

// NewDebugInfo summarises credentials as set/unset flags and short prefixes.
func NewDebugInfo(composioKey, openAIKey, openAIBaseURL, geminiKey, webhookSecret, provider, model, storeBackend, appURL string) DebugInfo {
	if openAIBaseURL == "" {
		openAIBaseURL = "default"
	}
	return DebugInfo{
		ComposioKeySet:    composioKey != "",
		ComposioKeyPrefix: KeyPrefix(composioKey),
		OpenAIKeySet:      openAIKey != "",
		OpenAIKeyPrefix:   KeyPrefix(openAIKey),
		OpenAIBaseURL:     openAIBaseURL,
		GeminiKeySet:      geminiKey != "",
		WebhookSecretSet:  webhookSecret != "",
		Provider:          provider,
		Model:             model,
		StoreBackend:      storeBackend,
		AppURL:            appURL,
	}
}

// KeyPrefix returns the first four characters of key followed by "...".
func KeyPrefix(key string) string {
	if key == "" {
		return notSet
	}
	runes := []rune(key)
	if len(runes) <= 4 {
		return "..."
	}
	return string(runes[:4]) + "..."
}

func (s *Server) handleDebugConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Debug bool `json:"debug"`
		DebugInfo
		Timestamp string `json:"timestamp"`
	}{
		Debug:     true,
		DebugInfo: s.cfg.Debug,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
