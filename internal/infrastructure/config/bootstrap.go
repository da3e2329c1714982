package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name.
const AppName = "antigravity-gateway"

// HomeDir returns the gateway's configuration home: ~/.antigravity-gateway
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the config home exists with a default config.yaml.
// Safe to call multiple times — never overwrites an existing file.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	for _, dir := range []string{root, filepath.Join(root, "images")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	path := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		logger.Debug("config home OK", zap.String("home", root))
		return nil
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		logger.Warn("failed to write default config", zap.String("path", path), zap.Error(err))
		return nil
	}

	logger.Info("wrote default config", zap.String("path", path))
	return nil
}

const defaultConfig = `# Antigravity gateway configuration.
# Auto-generated on first launch — feel free to edit.

gateway:
  host: 0.0.0.0
  port: 18789
  mode: local                  # local | production

antigravity:
  base_url: https://daas.antigravity.google
  rotation_count: 1            # requests served per project before rotating
  heartbeat_interval: 15s      # SSE heartbeat cadence during image_gen
  image_max_count: 500
  # image_dir defaults to ~/.antigravity-gateway/images; uncomment to override
  # image_dir: /var/lib/antigravity-gateway/images

log:
  level: info                  # debug | info | warn | error
  format: json                 # json | console

# token_store.path defaults to ~/.antigravity-gateway/tokens.json; uncomment
# to override. backend is "json" (default) or "sqlite" — sqlite opens
# token_store.path as a database file instead of a JSON document.
# token_store:
#   path: /var/lib/antigravity-gateway/tokens.json
#   backend: json

# The project pool and OAuth client credentials are normally loaded from
# token_store.path. With the json backend and no file present, they fall
# back to the PROJECTS / OAUTH_CLIENT_ID / OAUTH_CLIENT_SECRET /
# OAUTH_TOKEN_URL environment variables and are migrated to the file
# automatically. Client-facing API keys are always read from the API_KEYS
# environment variable and are never written to the file.
`
