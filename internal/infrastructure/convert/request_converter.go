package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/infrastructure/cache"
)

// RequestConverter turns an OpenAI chat-completions request into the
// internal Gemini/Antigravity envelope (spec §4.2).
type RequestConverter struct {
	signatures *cache.SignatureCache
	toolNames  *cache.ToolNameCache
	logger     *zap.Logger
}

// NewRequestConverter constructs a RequestConverter over the given caches.
func NewRequestConverter(signatures *cache.SignatureCache, toolNames *cache.ToolNameCache, logger *zap.Logger) *RequestConverter {
	return &RequestConverter{
		signatures: signatures,
		toolNames:  toolNames,
		logger:     logger.With(zap.String("component", "request-converter")),
	}
}

// pendingToolCall links an emitted functionCall to the safe name and
// thought signature it carried, so the matching "tool" message can look it
// up when it arrives.
type pendingToolCall struct {
	safeName  string
	signature string
}

// OpenAIToInternal converts req into the internal envelope, returning the
// upstream URL suffix to POST it to.
func (c *RequestConverter) OpenAIToInternal(req *ChatCompletionRequest, projectID, sessionID string) (*InternalEnvelope, string, error) {
	imageModel := isImageModel(req.Model)
	thinking := thinkingEnabled(req.Model) && !imageModel

	systemText, rest := extractLeadingSystem(req.Messages)

	pending := make(map[string]pendingToolCall)
	contents, err := c.buildContents(rest, req.Model, sessionID, thinking, pending)
	if err != nil {
		return nil, "", err
	}

	genConfig := c.buildGenerationConfig(req, thinking)

	envelope := &InternalEnvelope{
		Project:   projectID,
		RequestID: "agent-" + uuid.NewString(),
		UserAgent: "antigravity",
		Model:     req.Model,
		Request: InternalRequest{
			Contents:         contents,
			SessionID:        sessionID,
			GenerationConfig: genConfig,
		},
	}

	if systemText != "" {
		envelope.Request.SystemInstruction = &Content{Parts: []Part{{Text: systemText}}}
	}

	if len(req.Tools) > 0 {
		tools, toolConfig := c.buildTools(req.Tools, req.Model, sessionID)
		if len(tools) > 0 {
			envelope.Request.Tools = tools
			envelope.Request.ToolConfig = toolConfig
		}
	}

	if imageModel {
		envelope.RequestType = "image_gen"
		one := 1
		envelope.Request.GenerationConfig = GenerationConfig{CandidateCount: &one}
		envelope.Request.SystemInstruction = nil
		envelope.Request.Tools = nil
		envelope.Request.ToolConfig = nil
	}

	return envelope, urlSuffix(req.Stream, imageModel), nil
}

func urlSuffix(stream, imageModel bool) string {
	if !imageModel && stream {
		return "/v1internal:streamGenerateContent?alt=sse"
	}
	return "/v1internal:generateContent"
}

// extractLeadingSystem collects the leading run of "system" messages,
// joined by blank lines, and returns the remaining messages with any later
// "system" message downgraded to "user".
func extractLeadingSystem(messages []ChatMessage) (string, []ChatMessage) {
	var systemParts []string
	i := 0
	for i < len(messages) && messages[i].Role == "system" {
		systemParts = append(systemParts, contentAsText(messages[i].Content))
		i++
	}

	rest := make([]ChatMessage, 0, len(messages)-i)
	for _, m := range messages[i:] {
		if m.Role == "system" {
			m.Role = "user"
		}
		rest = append(rest, m)
	}
	return strings.Join(systemParts, "\n\n"), rest
}

func (c *RequestConverter) buildContents(messages []ChatMessage, model, sessionID string, thinking bool, pending map[string]pendingToolCall) ([]Content, error) {
	contents := make([]Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case "tool":
			part := c.toolMessageToPart(m, pending)
			if len(contents) > 0 && lastPartIsFunctionResponse(contents[len(contents)-1]) {
				last := &contents[len(contents)-1]
				last.Parts = append(last.Parts, part)
				continue
			}
			contents = append(contents, Content{Role: "user", Parts: []Part{part}})

		case "assistant":
			parts, err := c.assistantParts(m, model, sessionID, thinking, pending)
			if err != nil {
				return nil, err
			}
			contents = append(contents, Content{Role: "model", Parts: parts})

		default: // "user" and any downgraded "system"
			contents = append(contents, Content{Role: "user", Parts: normalizeContentParts(m.Content)})
		}
	}

	return contents, nil
}

func lastPartIsFunctionResponse(c Content) bool {
	if len(c.Parts) == 0 {
		return false
	}
	return c.Parts[len(c.Parts)-1].FunctionResponse != nil
}

func (c *RequestConverter) toolMessageToPart(m ChatMessage, pending map[string]pendingToolCall) Part {
	name := "unknown_function"
	if link, ok := pending[m.ToolCallID]; ok && link.safeName != "" {
		name = link.safeName
	} else if m.Name != "" {
		name = sanitizeToolName(m.Name)
	}

	return Part{FunctionResponse: &FunctionResponsePart{
		ID:       m.ToolCallID,
		Name:     name,
		Response: FunctionResponsePartBody{Output: contentAsText(m.Content)},
	}}
}

func (c *RequestConverter) assistantParts(m ChatMessage, model, sessionID string, thinking bool, pending map[string]pendingToolCall) ([]Part, error) {
	var parts []Part

	if thinking {
		text := " "
		if m.ReasoningContent != "" {
			text = m.ReasoningContent
		}
		sig := m.ThoughtSignature
		if sig == "" {
			sig = c.signatures.GetReasoningSignature(sessionID, model)
		}
		if sig == "" {
			sig = reasoningFallbackSignature(model)
		}
		parts = append(parts,
			Part{Text: text, Thought: true},
			Part{Text: " ", ThoughtSignature: sig},
		)
	}

	if text := contentAsText(m.Content); text != "" {
		parts = append(parts, Part{Text: text})
	}

	for _, tc := range m.ToolCalls {
		safe := sanitizeToolName(tc.Function.Name)
		if safe != tc.Function.Name {
			c.toolNames.Set(sessionID, model, safe, tc.Function.Name)
		}

		args := parseToolArguments(tc.Function.Arguments)

		sig := tc.ThoughtSignature
		if thinking {
			if sig == "" {
				sig = c.signatures.GetToolSignature(sessionID, model)
			}
			if sig == "" {
				sig = toolFallbackSignature(model)
			}
		}

		pending[tc.ID] = pendingToolCall{safeName: safe, signature: sig}

		argsJSON, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("convert: marshaling tool call arguments: %w", err)
		}

		part := Part{FunctionCall: &FunctionCallPart{ID: tc.ID, Name: safe, Args: argsJSON}}
		if thinking {
			part.ThoughtSignature = sig
		}
		parts = append(parts, part)
	}

	return parts, nil
}

func parseToolArguments(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	return map[string]any{"query": raw}
}

func contentAsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "text" || (p.Type == "" && p.Text != "") {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

func normalizeContentParts(raw json.RawMessage) []Part {
	if len(raw) == 0 {
		return []Part{{Text: ""}}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []Part{{Text: s}}
	}

	var openaiParts []ContentPart
	if err := json.Unmarshal(raw, &openaiParts); err != nil {
		return []Part{{Text: ""}}
	}

	parts := make([]Part, 0, len(openaiParts))
	for _, p := range openaiParts {
		switch p.Type {
		case "text":
			parts = append(parts, Part{Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				parts = append(parts, Part{Text: ""})
				continue
			}
			if mime, data, ok := splitDataURL(p.ImageURL.URL); ok {
				parts = append(parts, Part{InlineData: &InlineData{MimeType: mime, Data: data}})
			} else {
				parts = append(parts, Part{FileData: &FileData{FileURI: p.ImageURL.URL}})
			}
		default:
			parts = append(parts, Part{Text: ""})
		}
	}
	if len(parts) == 0 {
		return []Part{{Text: ""}}
	}
	return parts
}

func splitDataURL(url string) (mime, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := url[len(prefix):]
	semi := strings.Index(rest, ";")
	comma := strings.Index(rest, ",")
	if semi < 0 || comma < 0 || comma < semi {
		return "", "", false
	}
	mimeType := rest[:semi]
	if !strings.HasPrefix(mimeType, "image/") {
		return "", "", false
	}
	return mimeType, rest[comma+1:], true
}

func (c *RequestConverter) buildGenerationConfig(req *ChatCompletionRequest, thinking bool) GenerationConfig {
	cfg := GenerationConfig{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		MaxOutputTokens:  req.MaxTokens,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	if req.N != nil {
		cfg.CandidateCount = req.N
	}

	if stops := parseStopSequences(req.Stop); len(stops) > 0 {
		cfg.StopSequences = stops
	} else {
		cfg.StopSequences = append([]string(nil), defaultStopSequences...)
	}

	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		cfg.ResponseMimeType = "application/json"
	}

	budget := thinkingBudget(req, thinking)
	cfg.ThinkingConfig = &ThinkingConfig{IncludeThoughts: thinking, ThinkingBudget: budget}

	if isClaudeThinking(req.Model, thinking) {
		cfg.TopP = nil
	}

	return cfg
}

func isClaudeThinking(model string, thinking bool) bool {
	return thinking && family(model) == "claude"
}

func thinkingBudget(req *ChatCompletionRequest, thinking bool) int {
	if !thinking {
		return 0
	}
	if req.ThinkingBudget != nil {
		return *req.ThinkingBudget
	}
	if budget, ok := reasoningBudgetByEffort[req.ReasoningEffort]; ok {
		return budget
	}
	return defaultThinkingBudget
}

func parseStopSequences(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return nil
}

func (c *RequestConverter) buildTools(tools []ToolDef, model, sessionID string) ([]InternalTool, *ToolConfig) {
	decls := make([]FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		if t.Type != "function" {
			continue
		}
		safe := sanitizeToolName(t.Function.Name)
		if safe != t.Function.Name {
			c.toolNames.Set(sessionID, model, safe, t.Function.Name)
		}

		params, err := sanitizeSchema(t.Function.Parameters)
		if err != nil {
			c.logger.Warn("dropping tool with invalid schema",
				zap.String("tool", t.Function.Name), zap.Error(err))
			continue
		}

		decls = append(decls, FunctionDeclaration{
			Name:        safe,
			Description: t.Function.Description,
			Parameters:  params,
		})
	}

	if len(decls) == 0 {
		return nil, nil
	}

	return []InternalTool{{FunctionDeclarations: decls}}, &ToolConfig{
		FunctionCallingConfig: FunctionCallingConfig{Mode: "VALIDATED"},
	}
}
