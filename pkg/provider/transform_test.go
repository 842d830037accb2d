package provider

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/cubicler/cubicler/pkg/config"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decoding fixture: %v", err)
	}
	return v
}

func TestApplyTransforms_RootArray(t *testing.T) {
	data := decode(t, `[
		{"user": "amy", "pwd": "hunter2", "t": "2024-03-05T08:30:00Z"},
		{"user": "bob", "pwd": "secret", "t": "2024-03-06T09:00:00Z"}
	]`)

	out, err := ApplyTransforms(data, []config.TransformSpec{
		{Path: "_root[].pwd", Transform: "remove"},
		{Path: "_root[].t", Transform: "date_format", Format: "YYYY-MM-DD"},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}

	want := decode(t, `[
		{"user": "amy", "t": "2024-03-05"},
		{"user": "bob", "t": "2024-03-06"}
	]`)
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestApplyTransforms_NestedRemove(t *testing.T) {
	data := decode(t, `{"meta": {"debug": true}, "items": [{"id": 1, "raw": "x"}, {"id": 2, "raw": "y"}]}`)

	out, err := ApplyTransforms(data, []config.TransformSpec{
		{Path: "meta.debug", Transform: "remove"},
		{Path: "items[].raw", Transform: "remove"},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}

	want := decode(t, `{"meta": {}, "items": [{"id": 1}, {"id": 2}]}`)
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestApplyTransforms_Map(t *testing.T) {
	data := decode(t, `{"status": 1}`)

	out, err := ApplyTransforms(data, []config.TransformSpec{
		{Path: "status", Transform: "map", Map: map[string]any{"1": "active", "2": "inactive"}},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}

	want := decode(t, `{"status": "active"}`)
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestApplyTransforms_MapMissEchoes(t *testing.T) {
	data := decode(t, `{"status": 9}`)

	out, err := ApplyTransforms(data, []config.TransformSpec{
		{Path: "status", Transform: "map", Map: map[string]any{"1": "active"}},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}
	if !reflect.DeepEqual(out, decode(t, `{"status": 9}`)) {
		t.Errorf("unmapped value should pass through, got %v", out)
	}
}

func TestApplyTransforms_Template(t *testing.T) {
	data := decode(t, `{"temp": 21.5}`)

	out, err := ApplyTransforms(data, []config.TransformSpec{
		{Path: "temp", Transform: "template", Template: "{value}°C"},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}
	if !reflect.DeepEqual(out, decode(t, `{"temp": "21.5°C"}`)) {
		t.Errorf("got %v", out)
	}
}

func TestApplyTransforms_RegexReplace(t *testing.T) {
	data := decode(t, `{"card": "1234-5678-9012-3456"}`)

	out, err := ApplyTransforms(data, []config.TransformSpec{
		{Path: "card", Transform: "regex_replace", Pattern: `\d{4}-\d{4}-\d{4}`, Replace: "****"},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}
	if !reflect.DeepEqual(out, decode(t, `{"card": "****-3456"}`)) {
		t.Errorf("got %v", out)
	}
}

func TestApplyTransforms_MissingPathUntouched(t *testing.T) {
	data := decode(t, `{"a": 1}`)

	out, err := ApplyTransforms(data, []config.TransformSpec{
		{Path: "b.c", Transform: "remove"},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}
	if !reflect.DeepEqual(out, decode(t, `{"a": 1}`)) {
		t.Errorf("missing path must leave value untouched, got %v", out)
	}
}

func TestApplyTransforms_UnknownTransform(t *testing.T) {
	if _, err := ApplyTransforms(map[string]any{"a": 1}, []config.TransformSpec{
		{Path: "a", Transform: "uppercase"},
	}); err == nil {
		t.Fatal("expected error for unknown transform")
	}
}

func TestApplyTransforms_IntegralFloatsStringifyAsInts(t *testing.T) {
	data := decode(t, `{"code": 404}`)

	out, err := ApplyTransforms(data, []config.TransformSpec{
		{Path: "code", Transform: "template", Template: "HTTP {value}"},
	})
	if err != nil {
		t.Fatalf("ApplyTransforms: %v", err)
	}
	if !reflect.DeepEqual(out, decode(t, `{"code": "HTTP 404"}`)) {
		t.Errorf("got %v", out)
	}
}
