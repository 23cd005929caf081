package factory

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PipeOpsHQ/rube/llm"
	geminiprov "github.com/PipeOpsHQ/rube/providers/gemini"
	openaiprov "github.com/PipeOpsHQ/rube/providers/openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and configures the model provider.
type Config struct {
	Provider      string
	Model         string
	OpenAIKey     string
	OpenAIBaseURL string
	GeminiKey     string
	HTTPClient    *http.Client
}

func New(ctx context.Context, cfg Config) (llm.Provider, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	switch provider {
	case ProviderOpenAI:
		key := strings.TrimSpace(cfg.OpenAIKey)
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when llm.provider=openai")
		}
		opts := []openaiprov.Option{
			openaiprov.WithModel(cfg.Model),
			openaiprov.WithBaseURL(cfg.OpenAIBaseURL),
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, openaiprov.WithHTTPClient(cfg.HTTPClient))
		}
		return openaiprov.New(key, opts...)

	case ProviderGemini:
		key := strings.TrimSpace(cfg.GeminiKey)
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when llm.provider=gemini")
		}
		model := cfg.Model
		if model == "" || strings.HasPrefix(model, "gpt-") {
			model = geminiprov.DefaultModel
		}
		return geminiprov.New(ctx, key, geminiprov.WithModel(model))
	}

	return nil, fmt.Errorf("unsupported llm.provider %q (use openai or gemini)", provider)
}
