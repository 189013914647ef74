package schema

import (
	"context"
	"encoding/json"
	"io"
	"reflect"
	"testing"

	"promptplay/internal/logging"
	"promptplay/internal/slot"
)

func testLogger() *logging.Logger {
	return logging.NewLogger("test", logging.ERROR, io.Discard)
}

func TestFlatten(t *testing.T) {
	t.Run("bare properties object", func(t *testing.T) {
		raw := json.RawMessage(`{
			"properties": {
				"topic": {"type": "string", "title": "Topic"},
				"count": {"type": "integer"}
			},
			"required": ["topic"]
		}`)
		flat, err := Flatten(raw)
		if err != nil {
			t.Fatalf("Flatten failed: %v", err)
		}
		if !flat.HasFields() {
			t.Fatal("expected fields")
		}
		if flat.Properties["topic"].Type != "string" {
			t.Errorf("topic type = %q", flat.Properties["topic"].Type)
		}
		if !reflect.DeepEqual(flat.Required, []string{"topic"}) {
			t.Errorf("required = %v", flat.Required)
		}
		if !reflect.DeepEqual(flat.Order, []string{"topic", "count"}) {
			t.Errorf("declaration order = %v", flat.Order)
		}
	})

	t.Run("defs Input wrapper", func(t *testing.T) {
		raw := json.RawMessage(`{
			"$defs": {
				"Input": {
					"properties": {"query": {"type": "string"}},
					"required": ["query"]
				}
			},
			"$ref": "#/$defs/Input"
		}`)
		flat, err := Flatten(raw)
		if err != nil {
			t.Fatalf("Flatten failed: %v", err)
		}
		if _, ok := flat.Properties["query"]; !ok {
			t.Error("expected query field from $defs.Input")
		}
	})

	t.Run("defs InputSchema wrapper", func(t *testing.T) {
		raw := json.RawMessage(`{
			"$defs": {
				"InputSchema": {
					"properties": {"prompt": {"type": "string"}}
				}
			}
		}`)
		flat, err := Flatten(raw)
		if err != nil {
			t.Fatalf("Flatten failed: %v", err)
		}
		if _, ok := flat.Properties["prompt"]; !ok {
			t.Error("expected prompt field from $defs.InputSchema")
		}
	})

	t.Run("Input wins over InputSchema", func(t *testing.T) {
		raw := json.RawMessage(`{
			"$defs": {
				"InputSchema": {"properties": {"loser": {"type": "string"}}},
				"Input": {"properties": {"winner": {"type": "string"}}}
			}
		}`)
		flat, err := Flatten(raw)
		if err != nil {
			t.Fatalf("Flatten failed: %v", err)
		}
		if _, ok := flat.Properties["winner"]; !ok {
			t.Error("expected $defs.Input to take precedence")
		}
		if _, ok := flat.Properties["loser"]; ok {
			t.Error("$defs.InputSchema should be shadowed")
		}
	})

	t.Run("no properties yields empty flat", func(t *testing.T) {
		for _, raw := range []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`{"type": "object"}`)} {
			flat, err := Flatten(raw)
			if err != nil {
				t.Fatalf("Flatten(%s) failed: %v", raw, err)
			}
			if flat.HasFields() {
				t.Errorf("Flatten(%s) reported fields", raw)
			}
		}
	})

	t.Run("malformed schema errors", func(t *testing.T) {
		if _, err := Flatten(json.RawMessage(`{"properties": `)); err == nil {
			t.Error("expected error for truncated schema")
		}
	})
}

func TestFieldOrder(t *testing.T) {
	raw := json.RawMessage(`{
		"properties": {
			"a": {"type": "string"},
			"b": {"type": "string"},
			"c": {"type": "string"}
		},
		"required": ["b"]
	}`)
	flat, err := Flatten(raw)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	got := flat.FieldOrder()
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FieldOrder() = %v, want %v", got, want)
	}
}

func TestFieldOrderIgnoresUnknownRequired(t *testing.T) {
	flat := Flat{
		Properties: map[string]Field{"a": {Type: "string"}},
		Required:   []string{"ghost", "a"},
		Order:      []string{"a"},
	}
	got := flat.FieldOrder()
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("FieldOrder() = %v", got)
	}
}

func TestDefaultValue(t *testing.T) {
	cases := []struct {
		name  string
		field Field
		want  interface{}
	}{
		{"explicit default", Field{Type: "string", Default: json.RawMessage(`"hello"`)}, "hello"},
		{"array", Field{Type: "array"}, []interface{}{}},
		{"object", Field{Type: "object"}, map[string]interface{}{}},
		{"boolean", Field{Type: "boolean"}, false},
		{"number unset", Field{Type: "number"}, nil},
		{"integer unset", Field{Type: "integer"}, nil},
		{"string", Field{Type: "string"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DefaultValue(tc.field)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("DefaultValue(%+v) = %#v, want %#v", tc.field, got, tc.want)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	t.Run("array json input", func(t *testing.T) {
		got := Coerce(Field{Type: "array"}, `["x", "y"]`)
		if !reflect.DeepEqual(got, []interface{}{"x", "y"}) {
			t.Errorf("Coerce = %#v", got)
		}
	})

	t.Run("single quotes normalized", func(t *testing.T) {
		got := Coerce(Field{Type: "array"}, `['x', 'y']`)
		if !reflect.DeepEqual(got, []interface{}{"x", "y"}) {
			t.Errorf("Coerce = %#v", got)
		}
	})

	t.Run("object json input", func(t *testing.T) {
		got := Coerce(Field{Type: "object"}, `{"k": 1}`)
		want := map[string]interface{}{"k": float64(1)}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Coerce = %#v", got)
		}
	})

	t.Run("unparseable bracket input kept raw", func(t *testing.T) {
		raw := `[not json]`
		if got := Coerce(Field{Type: "array"}, raw); got != raw {
			t.Errorf("Coerce = %#v, want raw string", got)
		}
	})

	t.Run("numbers", func(t *testing.T) {
		if got := Coerce(Field{Type: "number"}, "1.5"); got != 1.5 {
			t.Errorf("Coerce number = %#v", got)
		}
		if got := Coerce(Field{Type: "number"}, ""); got != nil {
			t.Errorf("empty number should be nil, got %#v", got)
		}
		if got := Coerce(Field{Type: "integer"}, "7"); got != int64(7) {
			t.Errorf("Coerce integer = %#v", got)
		}
	})

	t.Run("booleans", func(t *testing.T) {
		if got := Coerce(Field{Type: "boolean"}, "true"); got != true {
			t.Errorf("Coerce(true) = %#v", got)
		}
		if got := Coerce(Field{Type: "boolean"}, "anything"); got != false {
			t.Errorf("Coerce(anything) = %#v", got)
		}
	})
}

func TestRenameKey(t *testing.T) {
	m := map[string]interface{}{"old": 42, "other": "kept"}
	RenameKey(m, "old", "new")
	if _, ok := m["old"]; ok {
		t.Error("old key survived rename")
	}
	if m["new"] != 42 {
		t.Errorf("renamed value = %#v", m["new"])
	}
	if m["other"] != "kept" {
		t.Error("unrelated key disturbed")
	}

	RenameKey(m, "missing", "whatever")
	if _, ok := m["whatever"]; ok {
		t.Error("rename of missing key created an entry")
	}
}

func TestBuildPayload(t *testing.T) {
	t.Run("no schema wraps raw input", func(t *testing.T) {
		got := BuildPayload(Flat{}, nil, "hello world")
		want := map[string]interface{}{"input": "hello world"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("BuildPayload = %#v", got)
		}
	})

	t.Run("zero number and false boolean are kept", func(t *testing.T) {
		flat := Flat{
			Properties: map[string]Field{
				"a": {Type: "number"},
				"b": {Type: "boolean"},
			},
			Order: []string{"a", "b"},
		}
		got := BuildPayload(flat, map[string]interface{}{"a": float64(0), "b": false}, "")
		vars := got["variables"].(map[string]interface{})
		if v, ok := vars["a"]; !ok || v != float64(0) {
			t.Errorf("zero number dropped: %#v", vars)
		}
		if v, ok := vars["b"]; !ok || v != false {
			t.Errorf("false boolean dropped: %#v", vars)
		}
	})

	t.Run("empty values are omitted", func(t *testing.T) {
		flat := Flat{
			Properties: map[string]Field{
				"s":   {Type: "string"},
				"arr": {Type: "array"},
				"obj": {Type: "object"},
				"n":   {Type: "number"},
			},
			Order: []string{"s", "arr", "obj", "n"},
		}
		values := map[string]interface{}{
			"s":   "",
			"arr": []interface{}{},
			"obj": map[string]interface{}{},
			"n":   nil,
		}
		got := BuildPayload(flat, values, "")
		vars := got["variables"].(map[string]interface{})
		if len(vars) != 0 {
			t.Errorf("expected empty variables, got %#v", vars)
		}
	})

	t.Run("populated values pass through", func(t *testing.T) {
		flat := Flat{
			Properties: map[string]Field{
				"s":   {Type: "string"},
				"arr": {Type: "array"},
			},
			Order: []string{"s", "arr"},
		}
		values := map[string]interface{}{
			"s":   "text",
			"arr": []interface{}{"one"},
		}
		got := BuildPayload(flat, values, "ignored")
		vars := got["variables"].(map[string]interface{})
		if vars["s"] != "text" {
			t.Errorf("string value lost: %#v", vars)
		}
		if !reflect.DeepEqual(vars["arr"], []interface{}{"one"}) {
			t.Errorf("array value lost: %#v", vars)
		}
	})
}

func TestDraftStore(t *testing.T) {
	ctx := context.Background()
	s := slot.NewMemorySlot()
	drafts := NewDraftStore(s, testLogger())

	values := map[string]interface{}{"topic": "go", "count": float64(3)}
	drafts.Save(ctx, "prompt-1", values)

	got, ok := drafts.Load(ctx, "prompt-1")
	if !ok {
		t.Fatal("draft not found after save")
	}
	if !reflect.DeepEqual(got, values) {
		t.Errorf("loaded draft = %#v, want %#v", got, values)
	}

	if _, ok := drafts.Load(ctx, "prompt-other"); ok {
		t.Error("draft leaked across prompt ids")
	}

	if err := drafts.Clear(ctx, "prompt-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := drafts.Load(ctx, "prompt-1"); ok {
		t.Error("draft survived clear")
	}

	// Empty prompt id is inert.
	drafts.Save(ctx, "", values)
	if _, ok := drafts.Load(ctx, ""); ok {
		t.Error("empty prompt id stored a draft")
	}
}
