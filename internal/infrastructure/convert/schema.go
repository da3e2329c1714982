package convert

import (
	"encoding/json"
	"fmt"
)

// sanitizeSchema deep-copies raw, strips excluded keys, normalizes type
// keywords, and fills in object defaults. It returns an error if the
// resulting schema references an unsupported type anywhere in the tree, so
// the caller can drop the whole tool rather than send a malformed one.
func sanitizeSchema(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.Marshal(map[string]any{"type": "object", "properties": map[string]any{}})
	}

	var schema any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("convert: invalid schema json: %w", err)
	}

	cleaned := cleanSchemaValue(schema)
	if top, ok := cleaned.(map[string]any); ok {
		if _, hasType := top["type"]; !hasType {
			top["type"] = "object"
			if _, hasProps := top["properties"]; !hasProps {
				top["properties"] = map[string]any{}
			}
		}
	}
	if err := validateSchema(cleaned, "$"); err != nil {
		return nil, err
	}

	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("convert: re-marshaling schema: %w", err)
	}
	return out, nil
}

// cleanSchemaValue recurses through schema, stripping excluded keys and
// normalizing type keywords. Non-object/array values pass through
// unchanged.
func cleanSchemaValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cleanSchemaObject(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cleanSchemaValue(item)
		}
		return out
	default:
		return val
	}
}

func cleanSchemaObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if excludedSchemaKeys[k] {
			continue
		}
		out[k] = cleanSchemaValue(v)
	}
	normalizeTypeField(out)
	ensureSchemaDefaults(out)
	return out
}

func normalizeTypeField(schema map[string]any) {
	switch t := schema["type"].(type) {
	case string:
		schema["type"] = normalizeTypeName(t)
	case []any:
		normalized := make([]any, len(t))
		for i, item := range t {
			if s, ok := item.(string); ok {
				normalized[i] = normalizeTypeName(s)
			} else {
				normalized[i] = item
			}
		}
		schema["type"] = normalized
	}
}

func normalizeTypeName(t string) string {
	lower := toLowerASCII(t)
	if mapped, ok := schemaTypeMapping[lower]; ok {
		return mapped
	}
	return lower
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// ensureSchemaDefaults defaults object schemas to an empty properties map
// and defaults a missing type to "object" when the schema has properties.
// It runs at every nesting level; the top-level tool parameter schema is
// always given a type by sanitizeSchema.
func ensureSchemaDefaults(schema map[string]any) {
	if _, hasType := schema["type"]; !hasType {
		if _, hasProps := schema["properties"]; hasProps {
			schema["type"] = "object"
		}
	}
	if schema["type"] == "object" {
		if _, ok := schema["properties"]; !ok {
			schema["properties"] = map[string]any{}
		}
	}
}

// validateSchema walks the cleaned schema tree and errors on any type
// keyword outside the supported set.
func validateSchema(v any, path string) error {
	m, ok := v.(map[string]any)
	if !ok {
		if arr, ok := v.([]any); ok {
			for i, item := range arr {
				if err := validateSchema(item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	switch t := m["type"].(type) {
	case string:
		if !supportedSchemaTypes[t] {
			return fmt.Errorf("convert: unsupported schema type %q at %s", t, path)
		}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && !supportedSchemaTypes[s] {
				return fmt.Errorf("convert: unsupported schema type %q at %s", s, path)
			}
		}
	}

	for _, key := range []string{"properties", "patternProperties", "definitions"} {
		if section, ok := m[key].(map[string]any); ok {
			for name, sub := range section {
				if err := validateSchema(sub, fmt.Sprintf("%s.%s.%s", path, key, name)); err != nil {
					return err
				}
			}
		}
	}

	switch items := m["items"].(type) {
	case map[string]any:
		if err := validateSchema(items, path+".items"); err != nil {
			return err
		}
	case []any:
		if err := validateSchema(items, path+".items"); err != nil {
			return err
		}
	}

	return nil
}
