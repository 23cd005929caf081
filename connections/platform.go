package connections

import (
	"context"

	"github.com/PipeOpsHQ/rube/platform"
)

// Platform is the subset of the platform client the connection layer uses.
type Platform interface {
	ListAuthConfigs(ctx context.Context) ([]platform.AuthConfig, error)
	CreateAuthConfig(ctx context.Context, req platform.CreateAuthConfigRequest) (platform.AuthConfig, error)
	CreateConnectedAccount(ctx context.Context, authConfigID, entityID string) (platform.ConnectionRequest, error)
	LinkConnectedAccount(ctx context.Context, req platform.LinkRequest) (platform.ConnectionRequest, error)
	ListConnectedAccounts(ctx context.Context, userID string) ([]platform.ConnectedAccount, error)
	GetConnectedAccount(ctx context.Context, id string) (platform.ConnectedAccount, error)
	DeleteConnectedAccount(ctx context.Context, id string) error
}

var _ Platform = (*platform.Client)(nil)
