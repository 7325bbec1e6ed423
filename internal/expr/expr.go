// Package expr implements the restricted expression language used inside
// plan placeholders, loop sources and conditions. It reads like a small
// subset of Python: literals, arithmetic, comparisons, boolean logic,
// indexing, comprehensions and a fixed set of helper functions. Nothing in
// it can reach the host process.
package expr

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
)

// Env resolves free names during evaluation. *scope.Scope satisfies it.
type Env interface {
	Resolve(name string) (any, error)
}

// MapEnv is a flat Env backed by a map.
type MapEnv map[string]any

func (m MapEnv) Resolve(name string) (any, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return nil, planerrors.NewUnboundVariableError(name)
}

// Expr is a parsed expression, safe for concurrent use.
type Expr struct {
	src  string
	root node
}

func (x *Expr) String() string { return x.src }

// Names returns the sorted free variable names the expression reads.
// Comprehension variables are excluded.
func (x *Expr) Names() []string {
	seen := map[string]bool{}
	freeNames(x.root, map[string]bool{}, seen)
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parse compiles src without consulting the cache.
func Parse(src string) (*Expr, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Expr{src: src, root: root}, nil
}

const cacheLimit = 4096

var (
	cache  sync.Map
	cached atomic.Int64
)

// Compile parses src, reusing an earlier result for the same source text.
func Compile(src string) (*Expr, error) {
	if v, ok := cache.Load(src); ok {
		return v.(*Expr), nil
	}
	x, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if cached.Load() < cacheLimit {
		if _, loaded := cache.LoadOrStore(src, x); !loaded {
			cached.Add(1)
		}
	}
	return x, nil
}

// Evaluator runs compiled expressions against an Env.
type Evaluator struct {
	clock func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source behind now() and today().
func WithClock(clock func() time.Time) Option {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEvaluator = NewEvaluator()

// Eval compiles and evaluates src with the default evaluator.
func Eval(src string, env Env) (any, error) {
	return defaultEvaluator.Eval(src, env)
}

func (e *Evaluator) Eval(src string, env Env) (any, error) {
	x, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return e.Run(x, env)
}

// Run evaluates x. Failures come back as *planerrors.Error carrying the
// expression source; unbound names keep their UNBOUND_VARIABLE kind.
func (e *Evaluator) Run(x *Expr, env Env) (v any, err error) {
	r := &runner{ev: e, src: x.src}
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			err = planerrors.NewEvaluationError(fmt.Sprintf("internal error: %v", rec)).WithExpr(x.src)
		}
	}()
	v, err = x.root.eval(r, env)
	if err != nil {
		return nil, r.wrap(err)
	}
	return v, nil
}

// maxWork bounds the elements, bytes and comprehension iterations one
// evaluation may produce in total.
const maxWork = 10 * maxSize

type runner struct {
	ev   *Evaluator
	src  string
	work int
}

func (r *runner) charge(n int) error {
	r.work += n
	if r.work > maxWork {
		return fmt.Errorf("expression exceeds its work limit of %d", maxWork)
	}
	return nil
}

// chargeValue charges the length of strings and lists.
func (r *runner) chargeValue(v any) error {
	switch t := v.(type) {
	case string:
		return r.charge(len(t))
	case []any:
		return r.charge(len(t))
	}
	return nil
}

func (r *runner) now() time.Time {
	return r.ev.clock()
}

func (r *runner) wrap(err error) error {
	var pe *planerrors.Error
	if errors.As(err, &pe) {
		return pe.WithExpr(r.src)
	}
	wrapped := planerrors.NewEvaluationError(err.Error())
	wrapped.Err = err
	return wrapped.WithExpr(r.src)
}

func freeNames(n node, bound, out map[string]bool) {
	switch t := n.(type) {
	case *nameNode:
		if !bound[t.id] {
			out[t.id] = true
		}
	case *listNode:
		for _, item := range t.items {
			freeNames(item, bound, out)
		}
	case *indexNode:
		freeNames(t.target, bound, out)
		freeNames(t.key, bound, out)
	case *sliceNode:
		freeNames(t.target, bound, out)
		if t.lo != nil {
			freeNames(t.lo, bound, out)
		}
		if t.hi != nil {
			freeNames(t.hi, bound, out)
		}
	case *attrNode:
		freeNames(t.target, bound, out)
	case *unaryNode:
		freeNames(t.x, bound, out)
	case *binaryNode:
		freeNames(t.l, bound, out)
		freeNames(t.r, bound, out)
	case *boolNode:
		freeNames(t.l, bound, out)
		freeNames(t.r, bound, out)
	case *compareNode:
		freeNames(t.first, bound, out)
		for _, r := range t.rest {
			freeNames(r, bound, out)
		}
	case *ternaryNode:
		freeNames(t.cond, bound, out)
		freeNames(t.then, bound, out)
		freeNames(t.els, bound, out)
	case *compNode:
		inner := make(map[string]bool, len(bound)+len(t.clauses))
		for k := range bound {
			inner[k] = true
		}
		for _, c := range t.clauses {
			freeNames(c.iter, inner, out)
			inner[c.target] = true
			for _, cond := range c.conds {
				freeNames(cond, inner, out)
			}
		}
		freeNames(t.elt, inner, out)
	case *callNode:
		for _, a := range t.args {
			freeNames(a, bound, out)
		}
		for _, kw := range t.kwargs {
			freeNames(kw.value, bound, out)
		}
	case *methodNode:
		freeNames(t.recv, bound, out)
		for _, a := range t.args {
			freeNames(a, bound, out)
		}
		for _, kw := range t.kwargs {
			freeNames(kw.value, bound, out)
		}
	}
}
