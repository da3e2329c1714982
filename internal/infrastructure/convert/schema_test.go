package convert

import (
	"encoding/json"
	"testing"
)

func TestSanitizeSchema_StripsExcludedKeysBothCases(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"name": {"type": "STRING", "minLength": 1, "max_length": 10},
			"tags": {"type": "array", "uniqueItems": true, "items": {"type": "string"}}
		}
	}`)

	out, err := sanitizeSchema(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("unmarshaling cleaned schema: %v", err)
	}
	if _, ok := parsed["additionalProperties"]; ok {
		t.Fatalf("expected additionalProperties stripped")
	}
	props := parsed["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	if name["type"] != "string" {
		t.Fatalf("expected type normalized to lowercase string, got %v", name["type"])
	}
	if _, ok := name["minLength"]; ok {
		t.Fatalf("expected minLength stripped")
	}
	if _, ok := name["max_length"]; ok {
		t.Fatalf("expected snake_case max_length stripped")
	}
	tags := props["tags"].(map[string]any)
	if _, ok := tags["uniqueItems"]; ok {
		t.Fatalf("expected uniqueItems stripped")
	}
}

func TestSanitizeSchema_RejectsUnsupportedType(t *testing.T) {
	raw := json.RawMessage(`{"type": "object", "properties": {"x": {"type": "tuple"}}}`)
	if _, err := sanitizeSchema(raw); err == nil {
		t.Fatal("expected an error for an unsupported nested type")
	}
}

func TestSanitizeSchema_EmptyRawDefaultsToEmptyObject(t *testing.T) {
	out, err := sanitizeSchema(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	if parsed["type"] != "object" {
		t.Fatalf("expected default type object, got %v", parsed["type"])
	}
	props, ok := parsed["properties"].(map[string]any)
	if !ok || len(props) != 0 {
		t.Fatalf("expected empty properties map, got %v", parsed["properties"])
	}
}

func TestSanitizeSchema_IsIdempotent(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "Object",
		"properties": {
			"items": {"type": "Array", "items": {"type": "Integer"}}
		}
	}`)

	once, err := sanitizeSchema(raw)
	if err != nil {
		t.Fatalf("unexpected error on first pass: %v", err)
	}
	twice, err := sanitizeSchema(once)
	if err != nil {
		t.Fatalf("unexpected error on second pass: %v", err)
	}

	var a, b map[string]any
	json.Unmarshal(once, &a)
	json.Unmarshal(twice, &b)

	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if string(aj) != string(bj) {
		t.Fatalf("sanitizeSchema is not idempotent:\n%s\nvs\n%s", aj, bj)
	}
}

func TestSanitizeToolName_FallsBackToGenericName(t *testing.T) {
	if got := sanitizeToolName("!!!"); got != "tool" {
		t.Fatalf("expected fallback name tool, got %q", got)
	}
	if got := sanitizeToolName("get weather!"); got != "get_weather" {
		t.Fatalf("expected get_weather, got %q", got)
	}
}
