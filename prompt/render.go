package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Render substitutes {{var}} tokens. Every referenced variable must be
// present in vars.
func Render(template string, vars map[string]string) (string, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return "", fmt.Errorf("template is required")
	}
	var missing []string
	seen := map[string]struct{}{}
	out := tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := strings.TrimSpace(tokenPattern.FindStringSubmatch(match)[1])
		if value, ok := vars[key]; ok {
			return value
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			missing = append(missing, key)
		}
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing prompt variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
