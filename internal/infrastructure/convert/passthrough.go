package convert

import (
	"encoding/json"

	"github.com/google/uuid"
)

// PassthroughEnvelope wraps a native Gemini-shaped client body for the
// passthrough endpoints (spec §4.4): the client's body, minus the model
// (already present in the URL), goes under Request untouched.
type PassthroughEnvelope struct {
	Project   string          `json:"project"`
	RequestID string          `json:"requestId"`
	UserAgent string          `json:"userAgent"`
	Model     string          `json:"model"`
	Request   json.RawMessage `json:"request"`
}

// NewPassthroughEnvelope builds the envelope for a raw passthrough call.
func NewPassthroughEnvelope(projectID, model string, body json.RawMessage) *PassthroughEnvelope {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		if _, ok := fields["model"]; ok {
			delete(fields, "model")
			if stripped, err := json.Marshal(fields); err == nil {
				body = stripped
			}
		}
	}
	return &PassthroughEnvelope{
		Project:   projectID,
		RequestID: "agent-" + uuid.NewString(),
		UserAgent: "antigravity",
		Model:     model,
		Request:   body,
	}
}

// UnwrapPassthroughJSON strips the top-level {"response": ...} wrapper the
// upstream sometimes adds, returning the inner JSON untouched. It is a
// no-op (returns raw unchanged) when no such wrapper is present or the body
// does not parse as a JSON object.
func UnwrapPassthroughJSON(raw []byte) []byte {
	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	if len(envelope.Response) == 0 {
		return raw
	}
	return envelope.Response
}
