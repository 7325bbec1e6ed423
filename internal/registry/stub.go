package registry

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Call is one recorded invocation.
type Call struct {
	Function string         `json:"function"`
	Args     map[string]any `json:"args"`
}

// Stub answers functions from canned fixtures and records every call. It
// backs dry runs and tests.
type Stub struct {
	mu       sync.Mutex
	fixtures map[string]any
	calls    []Call
}

// NewStub creates a stub returning fixtures[name] for each fixture name.
func NewStub(fixtures map[string]any) *Stub {
	cp := make(map[string]any, len(fixtures))
	for k, v := range fixtures {
		cp[k] = v
	}
	return &Stub{fixtures: cp}
}

// LoadFixtures reads a YAML (or JSON) mapping of function name to return value.
func LoadFixtures(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}
	var fixtures map[string]any
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}
	if fixtures == nil {
		fixtures = map[string]any{}
	}
	return fixtures, nil
}

// Registry builds a registry over the fixtures. Functions of base without a
// fixture are passed through, and recorded too. base may be nil.
func (s *Stub) Registry(base *Registry) (*Registry, error) {
	r := New()
	for name, value := range s.fixtures {
		err := r.Register(name, s.record(name, func(context.Context, map[string]any) (any, error) {
			return value, nil
		}))
		if err != nil {
			return nil, fmt.Errorf("fixture: %w", err)
		}
	}
	if base == nil {
		return r, nil
	}
	for _, name := range base.Names() {
		if r.Has(name) {
			continue
		}
		fn, _ := base.Lookup(name)
		r.MustRegister(name, s.record(name, fn))
	}
	return r, nil
}

func (s *Stub) record(name string, fn Func) Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Function: name, Args: args})
		s.mu.Unlock()
		return fn(ctx, args)
	}
}

// Calls returns the invocations recorded so far, in order.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}
