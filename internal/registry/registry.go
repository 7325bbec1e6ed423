// Package registry maps qualified function names to the callables a plan's
// action steps invoke.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
	"github.com/stevehiehn/taskdsl/internal/plan"
)

// Func is a business capability. args holds the resolved keyword arguments;
// the return value is bound verbatim to the step's output variable.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Registry is a lookup table from qualified names to Funcs. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func New() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name. Names must be dot-separated identifiers and
// may only be registered once.
func (r *Registry) Register(name string, fn Func) error {
	if !plan.IsQualifiedName(name) {
		return fmt.Errorf("invalid function name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("function %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.funcs[name]; dup {
		return fmt.Errorf("function %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register for setup code; it panics on error.
func (r *Registry) MustRegister(name string, fn Func) *Registry {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the function registered under name or an
// UNKNOWN_FUNCTION error.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, planerrors.NewUnknownFunctionError(name)
	}
	return fn, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge copies every function of other into r. A name present in both is an
// error and leaves r unchanged.
func (r *Registry) Merge(other *Registry) error {
	other.mu.RLock()
	incoming := make(map[string]Func, len(other.funcs))
	for name, fn := range other.funcs {
		incoming[name] = fn
	}
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range incoming {
		if _, dup := r.funcs[name]; dup {
			return fmt.Errorf("function %q already registered", name)
		}
	}
	for name, fn := range incoming {
		r.funcs[name] = fn
	}
	return nil
}
