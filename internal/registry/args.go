package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Expect rejects keyword arguments outside allowed and reports missing
// required ones. Names ending in "?" are optional.
func Expect(args map[string]any, names ...string) error {
	allowed := make(map[string]bool, len(names))
	var missing []string
	for _, n := range names {
		optional := strings.HasSuffix(n, "?")
		n = strings.TrimSuffix(n, "?")
		allowed[n] = true
		if _, ok := args[n]; !ok && !optional {
			missing = append(missing, n)
		}
	}
	var unexpected []string
	for k := range args {
		if !allowed[k] {
			unexpected = append(unexpected, k)
		}
	}
	sort.Strings(unexpected)
	switch {
	case len(unexpected) > 0:
		return fmt.Errorf("unexpected keyword argument(s) %s", strings.Join(unexpected, ", "))
	case len(missing) > 0:
		return fmt.Errorf("missing required argument(s) %s", strings.Join(missing, ", "))
	}
	return nil
}

// String returns args[name] as a string.
func String(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing required argument %s", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string, got %T", name, v)
	}
	return s, nil
}

// OptionalString is String with a default for absent or null arguments.
func OptionalString(args map[string]any, name, def string) (string, error) {
	if v, ok := args[name]; !ok || v == nil {
		return def, nil
	}
	return String(args, name)
}

// Int returns args[name] as an int, accepting any integer type.
func Int(args map[string]any, name string) (int, error) {
	v, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("missing required argument %s", name)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("argument %s must be an integer, got %T", name, v)
}
