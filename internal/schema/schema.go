package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field describes one named input in a JSON-schema-like structure.
type Field struct {
	Type        string           `json:"type"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Default     json.RawMessage  `json:"default,omitempty"`
	Minimum     *float64         `json:"minimum,omitempty"`
	Maximum     *float64         `json:"maximum,omitempty"`
	Items       *Field           `json:"items,omitempty"`
	Properties  map[string]Field `json:"properties,omitempty"`
	Required    []string         `json:"required,omitempty"`
}

// Flat is the flattened view of a prompt input schema: the named fields,
// which of them are required, and their declaration order.
type Flat struct {
	Properties map[string]Field
	Required   []string
	Order      []string
}

// envelope covers the shapes a prompt schema arrives in: either a bare
// {properties, required} object, or a wrapper whose $defs carry the real
// schema under "Input" or "InputSchema".
type envelope struct {
	Defs       map[string]json.RawMessage `json:"$defs"`
	Properties json.RawMessage            `json:"properties"`
	Required   []string                   `json:"required"`
}

// Flatten extracts {properties, required, declaration order} from a raw
// prompt schema. Precedence: $defs.Input, then $defs.InputSchema, then the
// top-level object itself. A schema with no properties yields an empty Flat
// (callers fall back to unstructured input).
func Flatten(raw json.RawMessage) (Flat, error) {
	if len(raw) == 0 {
		return Flat{}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Flat{}, fmt.Errorf("failed to parse schema: %w", err)
	}

	body := raw
	if sub, ok := env.Defs["Input"]; ok {
		body = sub
	} else if sub, ok := env.Defs["InputSchema"]; ok {
		body = sub
	}

	var inner struct {
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(body, &inner); err != nil {
		return Flat{}, fmt.Errorf("failed to parse schema body: %w", err)
	}
	if len(inner.Properties) == 0 {
		return Flat{}, nil
	}

	var props map[string]Field
	if err := json.Unmarshal(inner.Properties, &props); err != nil {
		return Flat{}, fmt.Errorf("failed to parse schema properties: %w", err)
	}

	order, err := propertyOrder(inner.Properties)
	if err != nil {
		return Flat{}, fmt.Errorf("failed to read property order: %w", err)
	}

	return Flat{
		Properties: props,
		Required:   inner.Required,
		Order:      order,
	}, nil
}

// HasFields reports whether the schema declared any input fields.
func (f Flat) HasFields() bool {
	return len(f.Properties) > 0
}

// FieldOrder returns the presentation order: required fields first, in the
// order the required list names them, then the rest in declaration order.
func (f Flat) FieldOrder() []string {
	out := make([]string, 0, len(f.Order))
	required := make(map[string]bool, len(f.Required))

	for _, name := range f.Required {
		if _, ok := f.Properties[name]; ok {
			required[name] = true
			out = append(out, name)
		}
	}
	for _, name := range f.Order {
		if !required[name] {
			out = append(out, name)
		}
	}
	return out
}

// DefaultValue returns the type-aware initial value for a field: explicit
// schema default when present, otherwise empty sequence/mapping, false,
// unset (nil) for numbers, or empty string.
func DefaultValue(f Field) interface{} {
	if len(f.Default) > 0 {
		var v interface{}
		if err := json.Unmarshal(f.Default, &v); err == nil {
			return v
		}
	}

	switch f.Type {
	case "array":
		return []interface{}{}
	case "object":
		return map[string]interface{}{}
	case "boolean":
		return false
	case "number", "integer":
		return nil
	case "string":
		return ""
	default:
		return nil
	}
}

// Coerce converts raw form input (always a string) into the field's typed
// value. Array/object fields opportunistically parse `[...]`/`{...}` input
// as JSON, normalizing single quotes to double quotes, and keep the raw
// string on parse failure. Number fields return nil for empty input.
func Coerce(f Field, raw string) interface{} {
	trimmed := strings.TrimSpace(raw)

	switch f.Type {
	case "array", "object":
		opener, closer := "[", "]"
		if f.Type == "object" {
			opener, closer = "{", "}"
		}
		if strings.HasPrefix(trimmed, opener) && strings.HasSuffix(trimmed, closer) {
			var v interface{}
			if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
				return v
			}
			normalized := strings.ReplaceAll(trimmed, "'", `"`)
			if err := json.Unmarshal([]byte(normalized), &v); err == nil {
				return v
			}
		}
		return raw

	case "number":
		if trimmed == "" {
			return nil
		}
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return n
		}
		return raw

	case "integer":
		if trimmed == "" {
			return nil
		}
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n
		}
		return raw

	case "boolean":
		return trimmed == "true"

	default:
		return raw
	}
}

// RenameKey renames a key in a free-form object value, preserving the
// associated value and all other keys. Missing old keys are a no-op.
func RenameKey(m map[string]interface{}, oldKey, newKey string) {
	if oldKey == newKey {
		return
	}
	v, ok := m[oldKey]
	if !ok {
		return
	}
	delete(m, oldKey)
	m[newKey] = v
}

// BuildPayload serializes collected form values into the request payload.
// Without a schema the payload is a single unstructured "input" string.
// With a schema it is a "variables" mapping that omits empty/unset values,
// except booleans (always included) and numbers (included at zero, omitted
// only when nil/unset).
func BuildPayload(flat Flat, values map[string]interface{}, rawInput string) map[string]interface{} {
	if !flat.HasFields() {
		return map[string]interface{}{"input": rawInput}
	}

	variables := make(map[string]interface{})
	for name, field := range flat.Properties {
		v, ok := values[name]
		if !ok {
			continue
		}
		if includeValue(field, v) {
			variables[name] = v
		}
	}
	return map[string]interface{}{"variables": variables}
}

// includeValue applies the omission rules per field type.
func includeValue(f Field, v interface{}) bool {
	switch f.Type {
	case "boolean":
		return true
	case "number", "integer":
		return v != nil
	}

	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return true
	}
}

// propertyOrder walks a raw JSON object and returns its keys in
// declaration order, which map unmarshalling discards.
func propertyOrder(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("properties is not an object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token in properties object")
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// skipValue consumes one JSON value from the decoder.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
