// Package tokenmanager implements round-robin project selection and OAuth
// token refresh over a pool of upstream identities (spec §4.1).
package tokenmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
	"github.com/antigravity-gateway/gateway/internal/domain/service"
	apperrors "github.com/antigravity-gateway/gateway/pkg/errors"
)

// Store is the persistence collaborator the Manager saves through on every
// mutation (refresh, disable). Implemented by infrastructure/tokenstore.Store.
type Store interface {
	Save(pool *entity.ProjectPool, oauth *entity.OAuthConfig) error
}

const defaultRotationCount = 1

// Manager implements service.TokenManager. The pool cursor and per-project
// fields are guarded by poolMu; the OAuth refresh path is additionally
// guarded by refreshMu so concurrent refreshes for the same project
// coalesce under a double-checked lock.
type Manager struct {
	pool          *entity.ProjectPool
	oauth         *entity.OAuthConfig
	rotationCount int

	poolMu    sync.Mutex
	refreshMu sync.Mutex

	store      Store
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// Compile-time interface check.
var _ service.TokenManager = (*Manager)(nil)

// New constructs a Manager over an already-loaded pool and OAuth config.
// rotationCount <= 0 defaults to 1 (advance the cursor on every pick).
func New(pool *entity.ProjectPool, oauth *entity.OAuthConfig, rotationCount int, store Store, httpClient *http.Client, logger *zap.Logger) *Manager {
	if rotationCount <= 0 {
		rotationCount = defaultRotationCount
	}
	return &Manager{
		pool:          pool,
		oauth:         oauth,
		rotationCount: rotationCount,
		store:         store,
		httpClient:    httpClient,
		logger:        logger.With(zap.String("component", "tokenmanager")),
		now:           time.Now,
	}
}

// PickNext returns the project under the rotation cursor, advancing past
// disabled projects and wrapping around the sequence. currentUsageCount is
// reset whenever the cursor advances.
func (m *Manager) PickNext(ctx context.Context) (*entity.Project, error) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()

	if len(m.pool.Projects) == 0 {
		return nil, apperrors.New(apperrors.CodeNoProjects, "no projects configured")
	}
	if !m.anyEnabledLocked() {
		return nil, apperrors.New(apperrors.CodeAllDisabled, "all projects disabled")
	}

	if m.pool.CurrentUsage >= m.rotationCount {
		m.advanceLocked()
	}
	// CurrentIndex might point at a disabled project if it was disabled
	// in place since the last advance; skip forward until enabled.
	if !m.pool.Projects[m.pool.CurrentIndex].Enabled {
		m.advanceLocked()
	}

	m.pool.CurrentUsage++
	return m.pool.Projects[m.pool.CurrentIndex], nil
}

func (m *Manager) anyEnabledLocked() bool {
	for _, p := range m.pool.Projects {
		if p.Enabled {
			return true
		}
	}
	return false
}

// advanceLocked moves the cursor to the next enabled project, wrapping
// around the sequence, and resets the usage counter. Caller holds poolMu.
func (m *Manager) advanceLocked() {
	n := len(m.pool.Projects)
	for i := 1; i <= n; i++ {
		idx := (m.pool.CurrentIndex + i) % n
		if m.pool.Projects[idx].Enabled {
			m.pool.CurrentIndex = idx
			m.pool.CurrentUsage = 0
			return
		}
	}
}

// GetAccessToken returns p's cached access token, refreshing first if it is
// missing or within 5 minutes of expiry.
func (m *Manager) GetAccessToken(ctx context.Context, p *entity.Project) (string, error) {
	if !p.NeedsRefresh(m.now()) {
		return p.AccessToken, nil
	}
	return m.refresh(ctx, p, false)
}

// HandleAuthError forces a refresh, skipping the not-expired short-circuit.
// Called after the streaming proxy observes an upstream 401/403.
func (m *Manager) HandleAuthError(ctx context.Context, p *entity.Project) (string, error) {
	return m.refresh(ctx, p, true)
}

// refresh coalesces concurrent refreshes for the same project under
// refreshMu with a double-check after acquiring the lock. force skips the
// double-check so a token the upstream rejected is always replaced.
func (m *Manager) refresh(ctx context.Context, p *entity.Project, force bool) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if !force && !p.NeedsRefresh(m.now()) {
		return p.AccessToken, nil
	}

	form := url.Values{
		"client_id":     {m.oauth.ClientID},
		"client_secret": {m.oauth.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {p.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.oauth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperrors.New(apperrors.CodeRefreshFailed, fmt.Sprintf("building refresh request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", apperrors.New(apperrors.CodeRefreshFailed, fmt.Sprintf("refresh request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.New(apperrors.CodeRefreshFailed, fmt.Sprintf("reading refresh response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewUpstreamStatusError(resp.StatusCode, string(respBody))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &body); err != nil {
		return "", apperrors.New(apperrors.CodeRefreshFailed, fmt.Sprintf("decoding refresh response: %v", err))
	}

	expiresIn := body.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3599
	}

	m.poolMu.Lock()
	p.AccessToken = body.AccessToken
	p.ExpiresAt = m.now().Add(time.Duration(expiresIn) * time.Second).Unix()
	pool := m.pool
	oauth := m.oauth
	m.poolMu.Unlock()

	if err := m.store.Save(pool, oauth); err != nil {
		m.logger.Warn("failed to persist refreshed token", zap.String("project_id", p.ProjectID), zap.Error(err))
	}

	return p.AccessToken, nil
}

// ReloadPool swaps in a freshly loaded pool and OAuth config, preserving
// the rotation cursor's position by project ID where possible. Used when
// the persistence file is edited out-of-process (e.g. by the admin CLI)
// and the running gateway is notified via a file watcher.
func (m *Manager) ReloadPool(pool *entity.ProjectPool, oauth *entity.OAuthConfig) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()

	currentID := ""
	if len(m.pool.Projects) > 0 && m.pool.CurrentIndex < len(m.pool.Projects) {
		currentID = m.pool.Projects[m.pool.CurrentIndex].ProjectID
	}
	usage := m.pool.CurrentUsage

	m.pool = pool
	m.oauth = oauth
	m.pool.CurrentUsage = 0
	m.pool.CurrentIndex = 0

	if currentID == "" {
		return
	}
	for i, p := range m.pool.Projects {
		if p.ProjectID == currentID {
			m.pool.CurrentIndex = i
			m.pool.CurrentUsage = usage
			break
		}
	}
}

// Disable permanently marks p unusable and persists the change.
func (m *Manager) Disable(ctx context.Context, p *entity.Project, reason string) {
	m.poolMu.Lock()
	p.Disable(reason)
	pool := m.pool
	oauth := m.oauth
	m.poolMu.Unlock()

	m.logger.Warn("project disabled", zap.String("project_id", p.ProjectID), zap.String("reason", reason))

	if err := m.store.Save(pool, oauth); err != nil {
		m.logger.Warn("failed to persist disabled project", zap.String("project_id", p.ProjectID), zap.Error(err))
	}
}
