package cli

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/internal/config"
	"github.com/PipeOpsHQ/rube/prompt"
)

// systemPrompt resolves the assistant prompt, letting specs in cfg.Dir
// override the built-in one, and renders it.
func systemPrompt(cfg config.PromptsConfig, logger *zap.Logger) (string, error) {
	registry, err := prompt.NewRegistry(prompt.Builtins()...)
	if err != nil {
		return "", err
	}
	if n, err := registry.LoadDir(cfg.Dir); err != nil {
		logger.Warn("prompt specs unavailable", zap.String("dir", cfg.Dir), zap.Error(err))
	} else if n > 0 {
		logger.Info("loaded prompt specs", zap.String("dir", cfg.Dir), zap.Int("count", n))
	}

	spec, ok := registry.Resolve(prompt.AssistantPrompt)
	if !ok {
		return "", fmt.Errorf("prompt %q is not registered", prompt.AssistantPrompt)
	}
	name := strings.TrimSpace(cfg.AssistantName)
	if name == "" {
		name = config.DefaultAssistant
	}
	rendered, err := prompt.Render(spec.System, map[string]string{"assistantName": name})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", spec.Ref(), err)
	}
	for _, warning := range validatePrompt(rendered) {
		logger.Warn("prompt warning", zap.String("prompt", spec.Ref()), zap.String("warning", warning))
	}
	return rendered, nil
}

func validatePrompt(text string) []string {
	var warnings []string
	text = strings.TrimSpace(text)
	if len(text) < 10 {
		warnings = append(warnings, "prompt is very short and may not provide enough guidance")
	}
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "you") && !strings.Contains(lower, "tool") {
		warnings = append(warnings, "prompt does not address the assistant role or tool usage")
	}
	return warnings
}
