package convert

import "encoding/json"

// InternalEnvelope is the outbound body sent to the upstream
// v1internal:* endpoints.
type InternalEnvelope struct {
	Project     string          `json:"project"`
	RequestID   string          `json:"requestId"`
	UserAgent   string          `json:"userAgent"`
	Model       string          `json:"model"`
	RequestType string          `json:"requestType,omitempty"`
	Request     InternalRequest `json:"request"`
}

// InternalRequest is the inner Gemini-shaped request body.
type InternalRequest struct {
	Contents          []Content          `json:"contents"`
	SessionID         string             `json:"sessionId,omitempty"`
	SystemInstruction *Content           `json:"systemInstruction,omitempty"`
	GenerationConfig  GenerationConfig   `json:"generationConfig"`
	Tools             []InternalTool     `json:"tools,omitempty"`
	ToolConfig        *ToolConfig        `json:"toolConfig,omitempty"`
}

// Content is one turn of the internal contents list.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one piece of a Content turn. Only the fields relevant to a given
// part kind are populated; the rest are omitted by the json tags.
type Part struct {
	Text             string          `json:"text,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
	InlineData       *InlineData     `json:"inlineData,omitempty"`
	FileData         *FileData       `json:"fileData,omitempty"`
	FunctionCall     *FunctionCallPart `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponsePart `json:"functionResponse,omitempty"`
}

// InlineData carries base64 bytes embedded directly in a part.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileData references an externally hosted file by URI.
type FileData struct {
	FileURI string `json:"fileUri"`
}

// FunctionCallPart is the upstream shape of a model-issued tool call.
type FunctionCallPart struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// FunctionResponsePart is the upstream shape of a tool result being fed
// back to the model.
type FunctionResponsePart struct {
	ID       string                    `json:"id,omitempty"`
	Name     string                    `json:"name"`
	Response FunctionResponsePartBody `json:"response"`
}

// FunctionResponsePartBody wraps the stringified tool output.
type FunctionResponsePartBody struct {
	Output string `json:"output"`
}

// GenerationConfig mirrors the upstream generationConfig object.
type GenerationConfig struct {
	Temperature       *float64       `json:"temperature,omitempty"`
	TopP              *float64       `json:"topP,omitempty"`
	TopK              *int           `json:"topK,omitempty"`
	MaxOutputTokens   *int           `json:"maxOutputTokens,omitempty"`
	FrequencyPenalty  *float64       `json:"frequencyPenalty,omitempty"`
	PresencePenalty   *float64       `json:"presencePenalty,omitempty"`
	CandidateCount    *int           `json:"candidateCount,omitempty"`
	StopSequences     []string       `json:"stopSequences,omitempty"`
	ResponseMimeType  string         `json:"responseMimeType,omitempty"`
	ThinkingConfig    *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// ThinkingConfig controls whether and how much the model reasons before
// answering.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

// InternalTool is one functionDeclarations group.
type InternalTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionDeclaration is one upstream tool schema.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolConfig selects the upstream function-calling mode.
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

// FunctionCallingConfig carries the mode string, always "VALIDATED" per
// the canonical behavior this gateway implements.
type FunctionCallingConfig struct {
	Mode string `json:"mode"`
}

// InternalResponse is the upstream response shape, optionally wrapped in a
// top-level "response" envelope.
type InternalResponse struct {
	Response   *InternalResponseBody `json:"response,omitempty"`
	Candidates []Candidate           `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata     `json:"usageMetadata,omitempty"`
}

// InternalResponseBody is the unwrapped payload under a "response" key.
type InternalResponseBody struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Candidate is one upstream completion candidate.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// UsageMetadata mirrors the upstream token accounting block.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Unwrap returns the effective candidates/usage, preferring the nested
// "response" wrapper when present.
func (r *InternalResponse) Unwrap() ([]Candidate, *UsageMetadata) {
	if r.Response != nil {
		return r.Response.Candidates, r.Response.UsageMetadata
	}
	return r.Candidates, r.UsageMetadata
}

// ModelsListResponse is the upstream v1internal:fetchAvailableModels shape.
type ModelsListResponse struct {
	Models map[string]json.RawMessage `json:"models"`
}
