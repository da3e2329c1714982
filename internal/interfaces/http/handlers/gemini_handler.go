package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/service"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/convert"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/streaming"
)

// GeminiHandler implements the native Gemini passthrough endpoints (spec
// §4.4): the client body is wrapped into the internal envelope unconverted
// and the upstream response is returned with only the outer {"response":…}
// wrapper stripped.
type GeminiHandler struct {
	tokens service.TokenManager
	proxy  *streaming.Proxy
	logger *zap.Logger
}

// NewGeminiHandler constructs a GeminiHandler.
func NewGeminiHandler(tokens service.TokenManager, proxy *streaming.Proxy, logger *zap.Logger) *GeminiHandler {
	return &GeminiHandler{tokens: tokens, proxy: proxy, logger: logger.With(zap.String("component", "gemini-handler"))}
}

// GenerateContent handles POST /v1[beta]/models/{model}:generateContent.
func (h *GeminiHandler) GenerateContent(c *gin.Context) {
	model := c.Param("model")
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}

	project, err := h.tokens.PickNext(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}

	envelope := convert.NewPassthroughEnvelope(project.ProjectID, model, raw)
	body, status, err := h.proxy.Send(c.Request.Context(), project, envelope, "/v1internal:generateContent", streaming.DefaultTimeout)
	if err != nil {
		if status != 0 {
			c.Data(status, "application/json", body)
			return
		}
		writeAppError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", convert.UnwrapPassthroughJSON(body))
}

// StreamGenerateContent handles POST /v1[beta]/models/{model}:streamGenerateContent.
func (h *GeminiHandler) StreamGenerateContent(c *gin.Context) {
	model := c.Param("model")
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}

	project, err := h.tokens.PickNext(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}

	envelope := convert.NewPassthroughEnvelope(project.ProjectID, model, raw)
	upstream, err := h.proxy.Stream(c.Request.Context(), project, envelope, "/v1internal:streamGenerateContent?alt=sse")
	if err != nil {
		writeAppError(c, err)
		return
	}
	defer upstream.Close()

	setSSEHeaders(c)
	writer := sseWriter(c)

	decoder := newSSELineScanner(upstream)
	for decoder.Scan() {
		line := decoder.Data()
		if line == "" || line == "[DONE]" {
			continue
		}
		unwrapped := convert.UnwrapPassthroughJSON([]byte(line))
		writer("data: " + string(unwrapped) + "\n\n")
	}
	writer("data: [DONE]\n\n")
}

