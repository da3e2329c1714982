package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree for the gateway process.
type Config struct {
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Antigravity AntigravityConfig `mapstructure:"antigravity"`
	Log         LogConfig         `mapstructure:"log"`
	TokenStore  TokenStoreConfig  `mapstructure:"token_store"`
}

// GatewayConfig controls the HTTP listener.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// AntigravityConfig configures the upstream Gemini/Antigravity connection
// and the image-generation heartbeat/storage behavior.
type AntigravityConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RotationCount     int           `mapstructure:"rotation_count"`     // requests served per project before rotating
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // SSE heartbeat cadence during image_gen
	ImageDir          string        `mapstructure:"image_dir"`          // local directory inline images are persisted to
	ImageMaxCount     int           `mapstructure:"image_max_count"`    // LRU-by-mtime retention cap, 0 = unbounded
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// TokenStoreConfig points at the project-pool persistence file (spec §6)
// and selects which backing implementation reads/writes it.
type TokenStoreConfig struct {
	Path    string `mapstructure:"path"`
	Backend string `mapstructure:"backend"` // "json" (default) or "sqlite"
}

// Load builds a Config by layering defaults, a global config file under
// ~/.antigravity-gateway/, an optional local ./config.yaml override, and
// ANTIGRAVITY_-prefixed environment variables, in that order of increasing
// precedence — mirroring the teacher's multi-layer viper setup.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("ANTIGRAVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.mode", "local")

	v.SetDefault("antigravity.base_url", "https://daas.antigravity.google")
	v.SetDefault("antigravity.rotation_count", 1)
	v.SetDefault("antigravity.heartbeat_interval", "15s")
	v.SetDefault("antigravity.image_dir", filepath.Join(HomeDir(), "images"))
	v.SetDefault("antigravity.image_max_count", 500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("token_store.path", filepath.Join(HomeDir(), "tokens.json"))
	v.SetDefault("token_store.backend", "json")
}
