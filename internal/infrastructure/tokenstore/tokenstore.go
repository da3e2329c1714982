// Package tokenstore loads and persists the project pool that backs the
// TokenManager: a JSON file by default (spec §6), falling back to
// environment variables on first boot and migrating the result back to
// disk so subsequent restarts read the file.
package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
)

// fileDoc mirrors the on-disk JSON shape exactly; entity.Project's
// SessionID is tagged json:"-" so it never round-trips.
type fileDoc struct {
	OAuthConfig entity.OAuthConfig `json:"oauth_config"`
	Projects    []*entity.Project  `json:"projects"`
}

// Store owns the persistence file path and serializes writes. It does not
// own the ProjectPool itself — TokenManager does — so that TokenManager can
// mutate in-memory state and call Save without lock-ordering concerns.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// New constructs a Store for the given file path.
func New(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger.With(zap.String("component", "tokenstore"))}
}

// Load reads the persistence file. If it is absent, it falls back to the
// environment variables described in spec §6 (PROJECTS, OAUTH_CLIENT_ID,
// OAUTH_CLIENT_SECRET, OAUTH_TOKEN_URL, API_KEYS) and, on a successful
// env-based load, migrates the result to the persistence file.
func (s *Store) Load() (*entity.ProjectPool, *entity.OAuthConfig, *entity.ApiKeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readFile()
	if err == nil {
		pool, oauth := docToPool(doc)
		s.logger.Info("loaded project pool from file", zap.String("path", s.path), zap.Int("projects", len(pool.Projects)))
		return pool, oauth, entity.NewApiKeySet(envAPIKeys()), nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, nil, fmt.Errorf("tokenstore: reading %s: %w", s.path, err)
	}

	s.logger.Info("persistence file absent, falling back to environment", zap.String("path", s.path))
	pool, oauth, apiKeys, envErr := loadFromEnv()
	if envErr != nil {
		return nil, nil, nil, envErr
	}

	if saveErr := s.saveLocked(pool, oauth); saveErr != nil {
		s.logger.Warn("failed to migrate environment config to persistence file", zap.Error(saveErr))
	} else {
		s.logger.Info("migrated environment config to persistence file", zap.String("path", s.path))
	}

	return pool, oauth, apiKeys, nil
}

// Save persists the current pool and OAuth config, whole-file
// read-modify-write (spec §6 invariant).
func (s *Store) Save(pool *entity.ProjectPool, oauth *entity.OAuthConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(pool, oauth)
}

func (s *Store) saveLocked(pool *entity.ProjectPool, oauth *entity.OAuthConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("tokenstore: creating directory: %w", err)
	}

	doc := fileDoc{
		OAuthConfig: *oauth,
		Projects:    pool.Projects,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: marshaling: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("tokenstore: writing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) readFile() (*fileDoc, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tokenstore: parsing %s: %w", s.path, err)
	}
	return &doc, nil
}

func docToPool(doc *fileDoc) (*entity.ProjectPool, *entity.OAuthConfig) {
	for _, p := range doc.Projects {
		p.SessionID = uuid.NewString()
	}
	return &entity.ProjectPool{Projects: doc.Projects}, &doc.OAuthConfig
}

func loadFromEnv() (*entity.ProjectPool, *entity.OAuthConfig, *entity.ApiKeySet, error) {
	raw := os.Getenv("PROJECTS")
	var projects []*entity.Project
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &projects); err != nil {
			return nil, nil, nil, fmt.Errorf("tokenstore: parsing PROJECTS env var: %w", err)
		}
	}
	for _, p := range projects {
		p.SessionID = uuid.NewString()
	}

	oauth := &entity.OAuthConfig{
		ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		TokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
	}

	return &entity.ProjectPool{Projects: projects}, oauth, entity.NewApiKeySet(envAPIKeys()), nil
}

// LoadAPIKeys reads the client-facing API key set directly from the API_KEYS
// environment variable. Client-facing keys are always env-sourced regardless
// of which backend (json/sqlite) is persisting the project pool, so callers
// using the sqlite backend call this instead of Load.
func LoadAPIKeys() *entity.ApiKeySet {
	return entity.NewApiKeySet(envAPIKeys())
}

func envAPIKeys() []string {
	raw := os.Getenv("API_KEYS")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil
	}
	return keys
}
