package entity

import "time"

// Project is one upstream OAuth identity used to authenticate against the
// internal Gemini/Antigravity endpoint. ProjectID is sent back to upstream
// in every request body; RefreshToken is the only long-lived credential.
type Project struct {
	ProjectID      string `json:"project_id"`
	RefreshToken   string `json:"refresh_token"`
	AccessToken    string `json:"access_token,omitempty"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
	Enabled        bool   `json:"enabled"`
	DisabledReason string `json:"disabled_reason,omitempty"`

	// SessionID scopes the signature/tool-name caches to this project. It is
	// minted fresh on every load and must never be persisted: persisting it
	// would let a restarted process replay another run's thought signatures
	// against a different upstream session.
	SessionID string `json:"-"`
}

// NeedsRefresh reports whether the access token is missing or expires within
// the next 5 minutes.
func (p *Project) NeedsRefresh(now time.Time) bool {
	if p.AccessToken == "" || p.ExpiresAt == 0 {
		return true
	}
	return p.ExpiresAt < now.Add(5*time.Minute).Unix()
}

// Disable permanently marks the project unusable for the remainder of the
// process lifetime. There is no re-enable path while the process is running.
func (p *Project) Disable(reason string) {
	p.Enabled = false
	p.DisabledReason = reason
}

// ProjectPool is the ordered sequence of Projects a TokenManager rotates
// through, plus the round-robin cursor state.
type ProjectPool struct {
	Projects         []*Project `json:"projects"`
	CurrentIndex     int        `json:"-"`
	CurrentUsage     int        `json:"-"`
}

// OAuthConfig holds the client credentials used to mint access tokens from
// refresh tokens.
type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
}

// ApiKeySet is the set of opaque client-facing API keys this gateway accepts
// on incoming requests. Membership test is the only operation.
type ApiKeySet struct {
	keys map[string]struct{}
}

// NewApiKeySet builds a set from a slice of keys, ignoring empty strings.
func NewApiKeySet(keys []string) *ApiKeySet {
	s := &ApiKeySet{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		if k == "" {
			continue
		}
		s.keys[k] = struct{}{}
	}
	return s
}

// Allowed reports whether key is a member of the set. An empty set allows
// nothing.
func (s *ApiKeySet) Allowed(key string) bool {
	if s == nil || key == "" {
		return false
	}
	_, ok := s.keys[key]
	return ok
}
