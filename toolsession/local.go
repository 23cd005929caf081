package toolsession

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/platform"
	"github.com/PipeOpsHQ/rube/tools"
)

const (
	ManageConnectionsTool = "RUBE_MANAGE_CONNECTIONS"
	RequestUserInputTool  = "REQUEST_USER_INPUT"
)

// ActiveLister reports an identity's ACTIVE connected accounts.
type ActiveLister interface {
	ListActive(ctx context.Context, identity string) ([]platform.ConnectedAccount, error)
}

type manageConnectionsArgs struct{}

func newManageConnectionsTool(registry ActiveLister, identity string, logger *zap.Logger) tools.Tool {
	return tools.NewFuncTool(
		ManageConnectionsTool,
		"Check which applications are currently connected and active for the user. ALWAYS use this instead of generic connection tools.",
		tools.SchemaFor(&manageConnectionsArgs{}),
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			accounts, err := registry.ListActive(ctx, identity)
			if err != nil {
				logger.Warn("live connection check failed", zap.String("identity", identity), zap.Error(err))
				return "Error checking connections. Assume no apps are connected.", nil
			}
			return describeConnections(accounts), nil
		},
	)
}

func describeConnections(accounts []platform.ConnectedAccount) string {
	if len(accounts) == 0 {
		return "No active applications connected. Please ask the user to connect their apps (Gmail, Outlook, etc)."
	}
	var b strings.Builder
	b.WriteString("Active Connections Found:\n")
	for i, acc := range accounts {
		slug := acc.ToolkitSlug()
		if slug == "" {
			slug = "unknown"
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s (Status: %s)", slug, acc.Status)
	}
	b.WriteString("\n\nYou can proceed to use tools for these apps immediately.")
	return b.String()
}

// InputField is one value the user is asked for before authorization.
type InputField struct {
	Name        string `json:"name" jsonschema:"description=Field name (e.g. subdomain)"`
	Label       string `json:"label" jsonschema:"description=User-friendly label (e.g. Company Subdomain)"`
	Type        string `json:"type,omitempty" jsonschema:"description=Input type such as text or email or password"`
	Required    *bool  `json:"required,omitempty" jsonschema:"description=Whether this field is required"`
	Placeholder string `json:"placeholder,omitempty" jsonschema:"description=Placeholder text for the input"`
}

type requestUserInputArgs struct {
	Provider     string       `json:"provider" jsonschema:"description=The name of the service/provider (e.g. pipedrive or salesforce)"`
	Fields       []InputField `json:"fields" jsonschema:"description=List of input fields to request from the user"`
	AuthConfigID string       `json:"authConfigId,omitempty" jsonschema:"description=The auth config ID to use after collecting inputs"`
	LogoURL      string       `json:"logoUrl,omitempty" jsonschema:"description=URL to the provider logo/icon"`
}

// UserInputRequest is the marker the chat client renders as a form.
type UserInputRequest struct {
	Type         string       `json:"type"`
	Provider     string       `json:"provider"`
	Fields       []InputField `json:"fields"`
	AuthConfigID string       `json:"authConfigId,omitempty"`
	LogoURL      string       `json:"logoUrl,omitempty"`
	Message      string       `json:"message"`
}

func newRequestUserInputTool() tools.Tool {
	return tools.NewFuncTool(
		RequestUserInputTool,
		"Request custom input fields from the user BEFORE starting OAuth flow. Use ONLY when a service requires additional parameters beyond standard OAuth (e.g., Pipedrive subdomain, Salesforce instance URL, custom API endpoint). DO NOT use for services that only need standard OAuth authorization.",
		tools.SchemaFor(&requestUserInputArgs{}),
		func(_ context.Context, raw json.RawMessage) (any, error) {
			var args requestUserInputArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decode %s arguments: %w", RequestUserInputTool, err)
			}
			if args.Fields == nil {
				args.Fields = []InputField{}
			}
			return UserInputRequest{
				Type:         "user_input_request",
				Provider:     args.Provider,
				Fields:       args.Fields,
				AuthConfigID: args.AuthConfigID,
				LogoURL:      args.LogoURL,
				Message:      fmt.Sprintf("Requesting user input for %s", args.Provider),
			}, nil
		},
		tools.WithArgumentValidation(),
	)
}

// LocalTools returns the tools every session carries in addition to the
// remote ones.
func LocalTools(registry ActiveLister, identity string, logger *zap.Logger) []tools.Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return []tools.Tool{
		newManageConnectionsTool(registry, identity, logger),
		newRequestUserInputTool(),
	}
}
