package convert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/infrastructure/cache"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/imagestore"
)

// ResponseConverter turns internal Gemini/Antigravity responses back into
// OpenAI-shaped payloads (spec §4.3).
type ResponseConverter struct {
	signatures *cache.SignatureCache
	toolNames  *cache.ToolNameCache
	images     *imagestore.ImageStore
	logger     *zap.Logger
	now        func() time.Time
}

// NewResponseConverter constructs a ResponseConverter over the given
// collaborators.
func NewResponseConverter(signatures *cache.SignatureCache, toolNames *cache.ToolNameCache, images *imagestore.ImageStore, logger *zap.Logger) *ResponseConverter {
	return &ResponseConverter{
		signatures: signatures,
		toolNames:  toolNames,
		images:     images,
		logger:     logger.With(zap.String("component", "response-converter")),
		now:        time.Now,
	}
}

// walkResult accumulates the pieces extracted from one candidate's parts.
type walkResult struct {
	content         strings.Builder
	reasoning       strings.Builder
	toolCalls       []ToolCall
	latestReasoning string
}

func (c *ResponseConverter) walkParts(parts []Part, model, sessionID string) walkResult {
	var res walkResult

	for _, p := range parts {
		switch {
		case p.Thought && p.Text != "":
			res.reasoning.WriteString(p.Text)
			if p.ThoughtSignature != "" {
				res.latestReasoning = p.ThoughtSignature
			}

		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = "call_" + randomHex(12)
			}
			name := p.FunctionCall.Name
			if sessionID != "" {
				if original := c.toolNames.Get(sessionID, model, p.FunctionCall.Name); original != "" {
					name = original
				}
			}
			argsJSON := p.FunctionCall.Args
			if len(argsJSON) == 0 {
				argsJSON = json.RawMessage("{}")
			}
			tc := ToolCall{
				ID:   id,
				Type: "function",
				Function: FunctionCall{
					Name:      name,
					Arguments: string(argsJSON),
				},
			}
			if p.ThoughtSignature != "" {
				tc.ThoughtSignature = p.ThoughtSignature
				res.latestReasoning = p.ThoughtSignature
				if sessionID != "" {
					c.toolNames.Set(sessionID, model, p.FunctionCall.Name, name)
				}
			}
			res.toolCalls = append(res.toolCalls, tc)

		case p.InlineData != nil:
			filename, err := c.images.SaveBase64(p.InlineData.Data, p.InlineData.MimeType)
			if err != nil {
				c.logger.Warn("failed to persist inline image", zap.Error(err))
			} else {
				res.content.WriteString(fmt.Sprintf("![image](/images/%s)", filename))
			}
			if p.ThoughtSignature != "" {
				res.latestReasoning = p.ThoughtSignature
			}

		case p.Text != "":
			res.content.WriteString(p.Text)
			if p.ThoughtSignature != "" {
				res.latestReasoning = p.ThoughtSignature
			}

		case p.ThoughtSignature != "":
			res.latestReasoning = p.ThoughtSignature
		}
	}

	return res
}

// InternalToOpenai converts a non-stream internal response into the
// OpenAI-shaped chat.completion body.
func (c *ResponseConverter) InternalToOpenai(body []byte, model, sessionID string) (*ChatCompletionResponse, error) {
	var internal InternalResponse
	if err := json.Unmarshal(body, &internal); err != nil {
		return nil, fmt.Errorf("convert: parsing internal response: %w", err)
	}
	candidates, usageMeta := internal.Unwrap()

	choices := make([]ChatChoice, 0, len(candidates))
	for i, cand := range candidates {
		res := c.walkParts(cand.Content.Parts, model, sessionID)

		if res.latestReasoning != "" && sessionID != "" {
			c.signatures.SetReasoningSignature(sessionID, model, res.latestReasoning)
		}

		msg := ResponseChatMessage{
			Role:             "assistant",
			Content:          res.content.String(),
			ReasoningContent: res.reasoning.String(),
			ToolCalls:        res.toolCalls,
			ThoughtSignature: res.latestReasoning,
		}

		choices = append(choices, ChatChoice{
			Index:        i,
			Message:      msg,
			FinishReason: mapFinishReason(cand.FinishReason),
		})
	}

	usage := ChatUsage{}
	if usageMeta != nil {
		usage = ChatUsage{
			PromptTokens:     usageMeta.PromptTokenCount,
			CompletionTokens: usageMeta.CandidatesTokenCount,
			TotalTokens:      usageMeta.TotalTokenCount,
		}
	}

	return &ChatCompletionResponse{
		ID:      "chatcmpl-" + randomHex(12),
		Object:  "chat.completion",
		Created: c.now().Unix(),
		Model:   model,
		Choices: choices,
		Usage:   usage,
	}, nil
}

// SSEInternalToOpenai reads SSE lines from r, converting each into an
// OpenAI-shaped streamed chunk written to w via write. write is called once
// per complete SSE event (including the final "data: [DONE]\n\n").
func (c *ResponseConverter) SSEInternalToOpenai(r io.Reader, model, sessionID string, write func(string) error) error {
	id := "chatcmpl-" + randomHex(12)
	created := c.now().Unix()
	finishKnown := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")
		line = strings.TrimPrefix(line, "data:")
		line = strings.TrimSpace(line)
		if line == "[DONE]" {
			continue
		}

		var internal InternalResponse
		if err := json.Unmarshal([]byte(line), &internal); err != nil {
			c.logger.Warn("skipping invalid SSE json line", zap.Error(err))
			continue
		}
		candidates, usageMeta := internal.Unwrap()
		if len(candidates) == 0 {
			continue
		}
		cand := candidates[0]

		res := c.walkParts(cand.Content.Parts, model, sessionID)
		if res.latestReasoning != "" && sessionID != "" {
			c.signatures.SetReasoningSignature(sessionID, model, res.latestReasoning)
		}

		delta := ChatStreamDelta{
			Content:          res.content.String(),
			ReasoningContent: res.reasoning.String(),
			ToolCalls:        res.toolCalls,
			ThoughtSignature: res.latestReasoning,
		}

		var finishReason *string
		if cand.FinishReason != "" {
			mapped := mapFinishReason(cand.FinishReason)
			finishReason = &mapped
			finishKnown = true
		}

		chunk := ChatStreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChatStreamChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
		}
		if usageMeta != nil && finishKnown {
			chunk.Usage = &ChatUsage{
				PromptTokens:     usageMeta.PromptTokenCount,
				CompletionTokens: usageMeta.CandidatesTokenCount,
				TotalTokens:      usageMeta.TotalTokenCount,
			}
		}

		out, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("convert: marshaling stream chunk: %w", err)
		}
		if err := write(fmt.Sprintf("data: %s\n\n", out)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("convert: reading sse stream: %w", err)
	}

	return write("data: [DONE]\n\n")
}

// ModelsToOpenai converts the upstream fetchAvailableModels listing into the
// OpenAI-shaped /v1/models response.
func (c *ResponseConverter) ModelsToOpenai(body []byte) (*ModelsResponse, error) {
	var listing ModelsListResponse
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("convert: parsing models list: %w", err)
	}

	now := c.now().Unix()
	data := make([]OpenAIModel, 0, len(listing.Models))
	for id := range listing.Models {
		data = append(data, OpenAIModel{
			ID:      id,
			Object:  "model",
			Created: now,
			OwnedBy: ownerFromModelID(id),
		})
	}

	return &ModelsResponse{Object: "list", Data: data}, nil
}
