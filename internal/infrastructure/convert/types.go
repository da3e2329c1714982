// Package convert translates between the OpenAI chat-completions wire
// format and the internal Gemini/Antigravity envelope (spec §4.2-§4.3).
package convert

import "encoding/json"

// ChatCompletionRequest is the OpenAI-shaped inbound request body.
type ChatCompletionRequest struct {
	Model            string          `json:"model"`
	Messages         []ChatMessage   `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	TopK             *int            `json:"top_k,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	N                *int            `json:"n,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	Tools            []ToolDef       `json:"tools,omitempty"`
	ReasoningEffort  string          `json:"reasoning_effort,omitempty"`
	ThinkingBudget   *int            `json:"thinking_budget,omitempty"`
	User             string          `json:"user,omitempty"`
}

// ResponseFormat carries OpenAI's response_format.type selector.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatMessage is one OpenAI chat message. Content may be a plain string or
// a list of ContentPart; it is kept as raw JSON and decoded on use by the
// request converter.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`

	// ReasoningContent lets a client resubmit the reasoning text a prior
	// response emitted, so it can be re-marked as a thought part on the
	// next turn instead of being silently dropped.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ThoughtSignature is a gateway extension clients may echo back
	// verbatim to preserve hidden reasoning state across turns.
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// ContentPart is one element of a multi-part OpenAI message content list.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL holds either a data: URL or a remote file URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolDef is an OpenAI function-tool declaration.
type ToolDef struct {
	Type     string          `json:"type"`
	Function FunctionDef     `json:"function"`
}

// FunctionDef is the function payload of a ToolDef.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is one entry of an assistant message's tool_calls list.
type ToolCall struct {
	ID               string       `json:"id"`
	Type             string       `json:"type"`
	Function         FunctionCall `json:"function"`
	ThoughtSignature string       `json:"thought_signature,omitempty"`
}

// FunctionCall is the function payload of a ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionResponse is the OpenAI-shaped non-stream response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// ChatChoice is one completion choice.
type ChatChoice struct {
	Index        int                 `json:"index"`
	Message      ResponseChatMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

// ResponseChatMessage is the assistant message emitted in a non-stream
// response; unlike ChatMessage, Content and ReasoningContent are plain
// strings since the gateway always produces flattened text/markdown.
type ResponseChatMessage struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ThoughtSignature string     `json:"thought_signature,omitempty"`
}

// ChatUsage mirrors OpenAI's usage block.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk is one OpenAI-shaped SSE data payload.
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
	Usage   *ChatUsage         `json:"usage,omitempty"`
}

// ChatStreamChoice is one streamed choice delta.
type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatStreamDelta is the incremental content of a streamed choice.
type ChatStreamDelta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ThoughtSignature string     `json:"thought_signature,omitempty"`
}

// OpenAIModel is one entry of the /v1/models listing.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the /v1/models response envelope.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}
