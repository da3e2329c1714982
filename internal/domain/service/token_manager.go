package service

import (
	"context"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
)

// TokenManager is the port the HTTP surface and streaming proxy depend on
// for project selection, OAuth token minting, and failure handling. The
// concrete implementation lives in infrastructure/tokenmanager.
type TokenManager interface {
	// PickNext returns the project currently under the rotation cursor,
	// advancing the cursor when the per-project usage quota is exhausted.
	PickNext(ctx context.Context) (*entity.Project, error)

	// GetAccessToken returns a valid access token for p, refreshing it
	// first if it is missing or near expiry.
	GetAccessToken(ctx context.Context, p *entity.Project) (string, error)

	// HandleAuthError forces a refresh of p's access token, bypassing the
	// expiry short-circuit. Called after an upstream 401/403.
	HandleAuthError(ctx context.Context, p *entity.Project) (string, error)

	// Disable permanently marks p unusable for the remainder of the
	// process lifetime.
	Disable(ctx context.Context, p *entity.Project, reason string)
}
