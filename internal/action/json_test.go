package action

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeJSON(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestJSONGet(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "pkg.json", `{"name": "demo", "build": {"version": 3, "tags": ["a", "b"]}}`)
	opts := []Option{WithDir(dir)}

	tests := []struct {
		path string
		want any
	}{
		{"name", "demo"},
		{"build.version", 3},
		{"build.tags", []any{"a", "b"}},
	}
	for _, tt := range tests {
		got, err := call(t, opts, "json.get", map[string]any{"file": "pkg.json", "path": tt.path})
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: expected %#v, got %#v", tt.path, tt.want, got)
		}
	}
}

func TestJSONGetErrors(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "pkg.json", `{"name": "demo"}`)
	opts := []Option{WithDir(dir)}

	for _, args := range []map[string]any{
		{"file": "pkg.json", "path": "missing"},
		{"file": "pkg.json", "path": "name.inner"},
		{"file": "nope.json", "path": "name"},
		{"file": "pkg.json"},
	} {
		if _, err := call(t, opts, "json.get", args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestJSONSet(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, "cfg.json", `{"name": "demo"}`)

	if _, err := call(t, nil, "json.set", map[string]any{"file": path, "path": "build.replicas", "value": 2}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["name"] != "demo" {
		t.Errorf("existing key lost: %v", obj)
	}
	if obj["build"].(map[string]any)["replicas"] != float64(2) {
		t.Errorf("expected replicas=2, got %v", obj["build"])
	}

	if _, err := call(t, nil, "json.set", map[string]any{"file": path, "path": "name.inner", "value": 1}); err == nil {
		t.Error("expected error setting through a string")
	}
}

func TestJSONSetCreatesFile(t *testing.T) {
	dir := t.TempDir()
	opts := []Option{WithDir(dir)}

	if _, err := call(t, opts, "json.set", map[string]any{"file": "new.json", "path": "enabled", "value": true}); err != nil {
		t.Fatal(err)
	}
	got, err := call(t, opts, "json.get", map[string]any{"file": "new.json", "path": "enabled"})
	if err != nil {
		t.Fatal(err)
	}
	if got != true {
		t.Errorf("expected true, got %v", got)
	}
}
