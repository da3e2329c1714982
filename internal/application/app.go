// Package application wires the gateway's collaborators together: the
// project token pool, the streaming proxy, the OpenAI/Gemini converters,
// and the HTTP surface.
package application

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/cache"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/config"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/convert"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/imagestore"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/persistence"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/streaming"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/tokenmanager"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/tokenstore"
	gatewayhttp "github.com/antigravity-gateway/gateway/internal/interfaces/http"
	"github.com/antigravity-gateway/gateway/internal/interfaces/http/handlers"
	"github.com/antigravity-gateway/gateway/internal/interfaces/websocket"
)

// poolBacking is whatever persists the project pool and OAuth config —
// either the default JSON file (tokenstore.Store) or, when
// token_store.backend is "sqlite", persistence.SqliteTokenStore.
type poolBacking interface {
	Load() (*entity.ProjectPool, *entity.OAuthConfig, error)
	Save(pool *entity.ProjectPool, oauth *entity.OAuthConfig) error
}

// jsonPoolBacking adapts tokenstore.Store's four-return Load (which also
// yields the env-sourced ApiKeySet) to the three-return poolBacking shape.
type jsonPoolBacking struct{ store *tokenstore.Store }

func (j jsonPoolBacking) Load() (*entity.ProjectPool, *entity.OAuthConfig, error) {
	pool, oauth, _, err := j.store.Load()
	return pool, oauth, err
}

func (j jsonPoolBacking) Save(pool *entity.ProjectPool, oauth *entity.OAuthConfig) error {
	return j.store.Save(pool, oauth)
}

// App is the gateway's dependency-injection container.
type App struct {
	config *config.Config
	logger *zap.Logger

	tokenStore poolBacking
	tokens     *tokenmanager.Manager
	proxy      *streaming.Proxy
	imageStore *imagestore.ImageStore
	wsHub      *websocket.Hub
	httpServer *gatewayhttp.Server
	cfgWatcher *config.Watcher

	hubDone chan struct{}
}

// NewApp constructs the full dependency graph and returns an App ready for
// Start.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{config: cfg, logger: logger}

	// Client-facing API keys are always env-sourced (spec §6), independent
	// of which backend persists the project pool.
	apiKeys := tokenstore.LoadAPIKeys()

	if cfg.TokenStore.Backend == "sqlite" {
		sqliteStore, err := persistence.NewSqliteTokenStore(cfg.TokenStore.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite token store: %w", err)
		}
		app.tokenStore = sqliteStore
	} else {
		app.tokenStore = jsonPoolBacking{store: tokenstore.New(cfg.TokenStore.Path, logger)}
	}

	pool, oauth, err := app.tokenStore.Load()
	if err != nil {
		return nil, fmt.Errorf("loading token store: %w", err)
	}

	app.tokens = tokenmanager.New(pool, oauth, cfg.Antigravity.RotationCount, app.tokenStore, &http.Client{}, logger)
	app.proxy = streaming.New(cfg.Antigravity.BaseURL, app.tokens, logger)
	app.imageStore = imagestore.New(cfg.Antigravity.ImageDir, cfg.Antigravity.ImageMaxCount)
	app.wsHub = websocket.NewHub(logger)

	signatures := cache.NewSignatureCache()
	toolNames := cache.NewToolNameCache()

	requestConverter := convert.NewRequestConverter(signatures, toolNames, logger)
	responseConverter := convert.NewResponseConverter(signatures, toolNames, app.imageStore, logger)

	openAIHandler := handlers.NewOpenAIHandler(app.tokens, app.proxy, requestConverter, responseConverter, cfg.Antigravity.HeartbeatInterval, logger)
	geminiHandler := handlers.NewGeminiHandler(app.tokens, app.proxy, logger)
	imageHandler := handlers.NewImageHandler(cfg.Antigravity.ImageDir)

	httpCfg := gatewayhttp.Config{Host: cfg.Gateway.Host, Port: cfg.Gateway.Port, Mode: cfg.Gateway.Mode}
	app.httpServer = gatewayhttp.NewServer(httpCfg, gatewayhttp.Handlers{
		OpenAI: openAIHandler,
		Gemini: geminiHandler,
		Images: imageHandler,
	}, apiKeys, app.wsHub, logger)

	if watcher, err := config.NewWatcher(cfg.TokenStore.Path, logger); err != nil {
		logger.Warn("token store watcher unavailable, edits require a restart to take effect", zap.Error(err))
	} else {
		app.cfgWatcher = watcher
		watcher.Run(func() {
			pool, oauth, err := app.tokenStore.Load()
			if err != nil {
				logger.Warn("failed to reload token store after change", zap.Error(err))
				return
			}
			app.tokens.ReloadPool(pool, oauth)
			logger.Info("reloaded project pool from disk", zap.Int("projects", len(pool.Projects)))
		})
	}

	return app, nil
}

// Start brings the HTTP server and the admin-observer hub online.
func (a *App) Start(ctx context.Context) error {
	a.hubDone = make(chan struct{})
	go a.wsHub.Run(a.hubDone)

	return a.httpServer.Start(ctx)
}

// Stop gracefully shuts everything down.
func (a *App) Stop(ctx context.Context) error {
	if a.hubDone != nil {
		close(a.hubDone)
	}
	if a.cfgWatcher != nil {
		a.cfgWatcher.Close()
	}
	return a.httpServer.Stop(ctx)
}

// Logger returns the application's base logger.
func (a *App) Logger() *zap.Logger { return a.logger }
