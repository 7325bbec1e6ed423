package action

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

func (f *functions) jsonGet(_ context.Context, args map[string]any) (any, error) {
	if err := registry.Expect(args, "file", "path"); err != nil {
		return nil, err
	}
	file, path, err := fileAndPath(args)
	if err != nil {
		return nil, err
	}
	obj, err := readDocument(f.path(file))
	if err != nil {
		return nil, err
	}
	return getPath(obj, strings.Split(path, "."))
}

func (f *functions) jsonSet(_ context.Context, args map[string]any) (any, error) {
	if err := registry.Expect(args, "file", "path", "value"); err != nil {
		return nil, err
	}
	file, path, err := fileAndPath(args)
	if err != nil {
		return nil, err
	}
	full := f.path(file)
	obj, err := readDocument(full)
	if os.IsNotExist(err) {
		obj, err = map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := setPath(obj, strings.Split(path, "."), args["value"]); err != nil {
		return nil, err
	}

	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, out, 0o644); err != nil {
		return nil, err
	}
	return map[string]any{"file": file}, nil
}

func fileAndPath(args map[string]any) (string, string, error) {
	file, err := registry.String(args, "file")
	if err != nil {
		return "", "", err
	}
	path, err := registry.String(args, "path")
	if err != nil {
		return "", "", err
	}
	if file == "" || path == "" {
		return "", "", fmt.Errorf("arguments file and path must not be empty")
	}
	return file, path, nil
}

// readDocument decodes a JSON object. It is read as YAML so integers stay
// ints instead of becoming float64.
func readDocument(file string) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", file, err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

func getPath(obj map[string]any, keys []string) (any, error) {
	current := any(obj)
	for _, k := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("key %q: not an object", k)
		}
		v, ok := m[k]
		if !ok {
			return nil, fmt.Errorf("key %q not found", k)
		}
		current = v
	}
	return current, nil
}

func setPath(obj map[string]any, keys []string, value any) error {
	for _, k := range keys[:len(keys)-1] {
		next, ok := obj[k]
		if !ok {
			next = map[string]any{}
			obj[k] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("key %q: not an object", k)
		}
		obj = m
	}
	obj[keys[len(keys)-1]] = value
	return nil
}
