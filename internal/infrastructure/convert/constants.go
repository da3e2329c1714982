package convert

import "strings"

// defaultStopSequences are injected when the OpenAI request carries no
// "stop" field, matching the upstream's own turn/context delimiters.
var defaultStopSequences = []string{
	"<|user|>",
	"<|bot|>",
	"<|context_request|>",
	"<|endoftext|>",
	"<|end_of_turn|>",
}

// schemaTypeMapping normalizes a lowercased JSON-Schema type keyword to the
// upstream-supported spelling; unknown types pass through unchanged.
var schemaTypeMapping = map[string]string{
	"string":  "string",
	"number":  "number",
	"integer": "integer",
	"boolean": "boolean",
	"array":   "array",
	"object":  "object",
	"null":    "null",
}

var supportedSchemaTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "array": true, "object": true, "null": true,
}

// excludedSchemaKeys are stripped recursively from tool parameter schemas
// before they are sent upstream; both camelCase and snake_case spellings
// are excluded since OpenAI clients emit either.
var excludedSchemaKeys = map[string]bool{
	"$schema":             true,
	"additionalProperties": true, "additional_properties": true,
	"minLength": true, "min_length": true,
	"maxLength": true, "max_length": true,
	"minItems": true, "min_items": true,
	"maxItems": true, "max_items": true,
	"uniqueItems": true, "unique_items": true,
	"exclusiveMaximum": true, "exclusive_maximum": true,
	"exclusiveMinimum": true, "exclusive_minimum": true,
	"const": true,
	"anyOf": true, "any_of": true,
	"oneOf": true, "one_of": true,
	"allOf": true, "all_of": true,
}

// finishReasonMap translates upstream finishReason values to OpenAI's.
var finishReasonMap = map[string]string{
	"STOP":       "stop",
	"MAX_TOKENS": "length",
	"SAFETY":     "content_filter",
	"RECITATION": "content_filter",
	"OTHER":      "stop",
}

func mapFinishReason(reason string) string {
	if mapped, ok := finishReasonMap[reason]; ok {
		return mapped
	}
	return "stop"
}

// thinkingAllowlist is the fixed set of model names (beyond the "-thinking"
// suffix rule) that have reasoning enabled.
var thinkingAllowlist = map[string]bool{
	"gemini-2.5-pro": true,
}

// thinkingEnabled reports whether model has reasoning turned on: its name
// contains "-thinking", is prefixed "gemini-3-pro-", or is explicitly
// allowlisted.
func thinkingEnabled(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "-thinking") {
		return true
	}
	if strings.HasPrefix(lower, "gemini-3-pro-") {
		return true
	}
	return thinkingAllowlist[lower]
}

// isImageModel reports whether model is served by the non-streaming
// image-generation upstream endpoint.
func isImageModel(model string) bool {
	return strings.HasSuffix(strings.ToLower(model), "-image")
}

// Fallback thought signatures used when a thinking-enabled turn carries no
// signature of its own and the caches hold nothing for the session/model.
// These are opaque sentinel values the upstream accepts as placeholders;
// they are never meant to be decoded.
const (
	geminiReasoningFallbackSignature = "gemini-reasoning-fallback-signature-v1"
	claudeReasoningFallbackSignature = "claude-reasoning-fallback-signature-v1"
	otherReasoningFallbackSignature  = "generic-reasoning-fallback-signature-v1"

	geminiToolFallbackSignature = "gemini-tool-fallback-signature-v1"
	claudeToolFallbackSignature = "claude-tool-fallback-signature-v1"
	otherToolFallbackSignature  = "generic-tool-fallback-signature-v1"
)

func reasoningFallbackSignature(model string) string {
	switch family(model) {
	case "gemini":
		return geminiReasoningFallbackSignature
	case "claude":
		return claudeReasoningFallbackSignature
	default:
		return otherReasoningFallbackSignature
	}
}

func toolFallbackSignature(model string) string {
	switch family(model) {
	case "gemini":
		return geminiToolFallbackSignature
	case "claude":
		return claudeToolFallbackSignature
	default:
		return otherToolFallbackSignature
	}
}

func family(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude"):
		return "claude"
	case strings.Contains(lower, "gemini"):
		return "gemini"
	default:
		return "other"
	}
}

// reasoningBudgetByEffort maps OpenAI's reasoning_effort enum to a thinking
// token budget.
var reasoningBudgetByEffort = map[string]int{
	"low":    1024,
	"medium": 16000,
	"high":   32000,
}

const defaultThinkingBudget = 1024

// ownerFromModelID infers the /v1/models owned_by field from a substring
// heuristic over the model id.
func ownerFromModelID(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "claude"):
		return "anthropic"
	case strings.Contains(lower, "gpt"):
		return "openai"
	default:
		return "google"
	}
}
