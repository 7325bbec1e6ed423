package scope

import planerrors "github.com/stevehiehn/taskdsl/internal/errors"

// Scope is one level of the variable environment. Reads fall through to
// the parent chain; writes always land in the receiver.
type Scope struct {
	vars   map[string]any
	parent *Scope
}

// New creates a root scope holding a copy of seed.
func New(seed map[string]any) *Scope {
	vars := make(map[string]any, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &Scope{vars: vars}
}

// Child creates a scope whose reads fall through to s.
func (s *Scope) Child() *Scope {
	return &Scope{vars: map[string]any{}, parent: s}
}

// Parent returns the enclosing scope, or nil for the root.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Depth is 0 for the root scope.
func (s *Scope) Depth() int {
	d := 0
	for p := s.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Define binds name in this scope, replacing any local binding.
func (s *Scope) Define(name string, value any) {
	s.vars[name] = value
}

// Lookup walks from s to the root and returns the first binding found.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Resolve is Lookup with an UnboundVariableError for missing names.
func (s *Scope) Resolve(name string) (any, error) {
	if v, ok := s.Lookup(name); ok {
		return v, nil
	}
	return nil, planerrors.NewUnboundVariableError(name)
}

// Locals returns a copy of the bindings defined directly in s.
func (s *Scope) Locals() map[string]any {
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Has reports whether name is bound directly in s.
func (s *Scope) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}
