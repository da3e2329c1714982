package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
	"github.com/antigravity-gateway/gateway/internal/domain/service"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/convert"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/streaming"
	apperrors "github.com/antigravity-gateway/gateway/pkg/errors"
)

// OpenAIHandler implements the OpenAI-compatible /v1 surface, translating
// to/from the internal Gemini/Antigravity protocol (spec §4.6).
type OpenAIHandler struct {
	tokens            service.TokenManager
	proxy             *streaming.Proxy
	requests          *convert.RequestConverter
	responses         *convert.ResponseConverter
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

// NewOpenAIHandler constructs an OpenAIHandler over its collaborators.
func NewOpenAIHandler(tokens service.TokenManager, proxy *streaming.Proxy, requests *convert.RequestConverter, responses *convert.ResponseConverter, heartbeatInterval time.Duration, logger *zap.Logger) *OpenAIHandler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = streaming.DefaultHeartbeatInterval
	}
	return &OpenAIHandler{
		tokens:            tokens,
		proxy:             proxy,
		requests:          requests,
		responses:         responses,
		heartbeatInterval: heartbeatInterval,
		logger:            logger.With(zap.String("component", "openai-handler")),
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req convert.ChatCompletionRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}

	project, err := h.tokens.PickNext(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}

	envelope, urlSuffix, err := h.requests.OpenAIToInternal(&req, project.ProjectID, project.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}

	switch {
	case envelope.RequestType == "image_gen" && req.Stream:
		h.streamImageGen(c, project, envelope, urlSuffix, req.Model)
	case req.Stream:
		h.streamChat(c, project, envelope, urlSuffix, req.Model)
	default:
		h.nonStreamChat(c, project, envelope, urlSuffix, req.Model)
	}
}

func (h *OpenAIHandler) nonStreamChat(c *gin.Context, project *entity.Project, envelope *convert.InternalEnvelope, urlSuffix, model string) {
	timeout := streaming.DefaultTimeout
	if envelope.RequestType == "image_gen" {
		timeout = streaming.ImageGenTimeout
	}

	body, status, err := h.proxy.Send(c.Request.Context(), project, envelope, urlSuffix, timeout)
	if err != nil {
		if status != 0 {
			c.Data(status, "application/json", body)
			return
		}
		writeAppError(c, err)
		return
	}

	resp, err := h.responses.InternalToOpenai(body, model, project.SessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *OpenAIHandler) streamChat(c *gin.Context, project *entity.Project, envelope *convert.InternalEnvelope, urlSuffix, model string) {
	body, err := h.proxy.Stream(c.Request.Context(), project, envelope, urlSuffix)
	if err != nil {
		writeAppError(c, err)
		return
	}
	defer body.Close()

	setSSEHeaders(c)

	writer := sseWriter(c)
	if err := h.responses.SSEInternalToOpenai(body, model, project.SessionID, writer); err != nil {
		h.logger.Warn("sse stream ended with error", zap.Error(err))
	}
}

func (h *OpenAIHandler) streamImageGen(c *gin.Context, project *entity.Project, envelope *convert.InternalEnvelope, urlSuffix, model string) {
	setSSEHeaders(c)
	writer := sseWriter(c)

	body, _, err := h.proxy.DoImageHeartbeat(c.Request.Context(), project, envelope, urlSuffix, h.heartbeatInterval, func() error {
		return writer(": heartbeat\n\n")
	})
	if err != nil {
		writer(fmt.Sprintf("data: %s\n\n", errorChunkJSON(err)))
		writer("data: [DONE]\n\n")
		return
	}

	resp, err := h.responses.InternalToOpenai(body, model, project.SessionID)
	if err != nil {
		writer(fmt.Sprintf("data: %s\n\n", errorChunkJSON(err)))
		writer("data: [DONE]\n\n")
		return
	}

	created := time.Now().Unix()
	id := resp.ID
	for _, choice := range resp.Choices {
		finish := choice.FinishReason
		chunk := convert.ChatStreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []convert.ChatStreamChoice{{
				Index: choice.Index,
				Delta: convert.ChatStreamDelta{
					Content:          choice.Message.Content,
					ReasoningContent: choice.Message.ReasoningContent,
					ToolCalls:        choice.Message.ToolCalls,
					ThoughtSignature: choice.Message.ThoughtSignature,
				},
			}},
		}
		out, _ := json.Marshal(chunk)
		writer(fmt.Sprintf("data: %s\n\n", out))

		finishChunk := convert.ChatStreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []convert.ChatStreamChoice{{Index: choice.Index, FinishReason: &finish}},
			Usage:   &resp.Usage,
		}
		out2, _ := json.Marshal(finishChunk)
		writer(fmt.Sprintf("data: %s\n\n", out2))
	}

	writer("data: [DONE]\n\n")
}

// ListModels handles GET /v1/models.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	project, err := h.tokens.PickNext(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}

	envelope := &convert.InternalEnvelope{
		Project:   project.ProjectID,
		RequestID: "agent-models",
		UserAgent: "antigravity",
	}

	body, _, err := h.proxy.Send(c.Request.Context(), project, envelope, "/v1internal:fetchAvailableModels", streaming.ModelsTimeout)
	if err != nil {
		writeAppError(c, err)
		return
	}

	resp, err := h.responses.ModelsToOpenai(body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}

	c.JSON(http.StatusOK, resp)
}


// writeAppError maps an AppError to its HTTP status and body per spec §7;
// any other error is surfaced as a generic 500.
func writeAppError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		status := appErr.HTTPStatus()
		c.JSON(status, errorBody(appErr.Message, string(appErr.Code)))
		return
	}
	c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
}

func errorBody(message, errType string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": errType}}
}

func errorChunkJSON(err error) []byte {
	out, _ := json.Marshal(gin.H{"error": gin.H{"message": err.Error(), "type": "stream_internal"}})
	return out
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// sseWriter returns a write func that writes a raw SSE-framed string and
// flushes immediately, matching the teacher's writeSSEChunk/Flush pattern.
func sseWriter(c *gin.Context) func(string) error {
	return func(s string) error {
		if _, err := io.WriteString(c.Writer, s); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}
}
