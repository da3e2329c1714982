package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
	"github.com/antigravity-gateway/gateway/internal/interfaces/http/handlers"
	"github.com/antigravity-gateway/gateway/internal/interfaces/websocket"
)

// Server is the gateway's HTTP surface.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds the host/port/mode the Server listens on.
type Config struct {
	Host string
	Port int
	Mode string // "production" selects gin release mode; anything else debug
}

// Handlers bundles the route handlers NewServer wires together.
type Handlers struct {
	OpenAI *handlers.OpenAIHandler
	Gemini *handlers.GeminiHandler
	Images *handlers.ImageHandler
}

// NewServer builds the gin router and wraps it in an *http.Server. hub may
// be nil, in which case the admin observer route is omitted.
func NewServer(cfg Config, h Handlers, apiKeys *entity.ApiKeySet, hub *websocket.Hub, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	if hub != nil {
		router.Use(wsObserve(hub))
	}

	setupRoutes(router, h, apiKeys, hub)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{server: server, logger: logger}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, h Handlers, apiKeys *entity.ApiKeySet, hub *websocket.Hub) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/images/:filename", h.Images.ServeImage)

	if hub != nil {
		router.GET("/admin/ws", func(c *gin.Context) {
			hub.ServeWS(c.Writer, c.Request)
		})
	}

	openAI := router.Group("/")
	openAI.Use(authMiddleware(apiKeys))
	{
		openAI.POST("/v1/chat/completions", h.OpenAI.ChatCompletions)
		openAI.GET("/v1/models", h.OpenAI.ListModels)
	}

	passthrough := router.Group("/")
	passthrough.Use(passthroughAuthMiddleware(apiKeys))
	{
		passthrough.POST("/v1/models/:modelOp", geminiDispatch(h.Gemini))
		passthrough.POST("/v1beta/models/:modelOp", geminiDispatch(h.Gemini))
	}
}

// geminiDispatch splits the ":modelOp" path segment (e.g.
// "gemini-2.0-flash:streamGenerateContent") on its last colon and routes to
// the matching handler method; gin has no native support for a literal
// colon inside a path segment, so the whole segment is captured as one
// param and parsed here.
func geminiDispatch(h *handlers.GeminiHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelOp := c.Param("modelOp")
		model, op := splitModelOp(modelOp)
		c.Params = append(c.Params, gin.Param{Key: "model", Value: model})

		if op == "streamGenerateContent" {
			h.StreamGenerateContent(c)
			return
		}
		h.GenerateContent(c)
	}
}

func splitModelOp(modelOp string) (model, op string) {
	idx := strings.LastIndex(modelOp, ":")
	if idx < 0 {
		return modelOp, ""
	}
	return modelOp[:idx], modelOp[idx+1:]
}

// wsObserve broadcasts a request_done event to connected admin observers
// after every request completes.
func wsObserve(hub *websocket.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		hub.Broadcast(websocket.Event{
			Type:   websocket.EventRequestDone,
			Detail: fmt.Sprintf("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status()),
		})
	}
}

// ginLogger logs one structured line per request.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
