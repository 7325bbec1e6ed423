package expr

import (
	"fmt"
	"math"
	"time"
)

func (n *literalNode) eval(*runner, Env) (any, error) {
	return n.value, nil
}

func (n *nameNode) eval(_ *runner, env Env) (any, error) {
	return env.Resolve(n.id)
}

func (n *listNode) eval(r *runner, env Env) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(r, env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, r.charge(len(out))
}

func (n *indexNode) eval(r *runner, env Env) (any, error) {
	target, err := n.target.eval(r, env)
	if err != nil {
		return nil, err
	}
	key, err := n.key.eval(r, env)
	if err != nil {
		return nil, err
	}
	return index(target, key)
}

func (n *sliceNode) eval(r *runner, env Env) (any, error) {
	target, err := n.target.eval(r, env)
	if err != nil {
		return nil, err
	}
	var lo, hi any
	if n.lo != nil {
		if lo, err = n.lo.eval(r, env); err != nil {
			return nil, err
		}
	}
	if n.hi != nil {
		if hi, err = n.hi.eval(r, env); err != nil {
			return nil, err
		}
	}
	return slice(target, lo, hi)
}

func (n *attrNode) eval(r *runner, env Env) (any, error) {
	target, err := n.target.eval(r, env)
	if err != nil {
		return nil, err
	}
	return getAttr(target, n.name)
}

func (n *unaryNode) eval(r *runner, env Env) (any, error) {
	x, err := n.x.eval(r, env)
	if err != nil {
		return nil, err
	}
	if n.op == "not" {
		return !Truthy(x), nil
	}
	if d, ok := x.(time.Duration); ok {
		if n.op == "-" {
			return -d, nil
		}
		return d, nil
	}
	num, ok := asNumber(x)
	if !ok {
		return nil, fmt.Errorf("bad operand type for unary %s: %s", n.op, typeName(x))
	}
	if n.op == "+" {
		return num.value(), nil
	}
	if num.isInt {
		if num.i == math.MinInt {
			return nil, errIntOverflow
		}
		return -num.i, nil
	}
	return -num.f, nil
}

func (n *binaryNode) eval(r *runner, env Env) (any, error) {
	l, err := n.l.eval(r, env)
	if err != nil {
		return nil, err
	}
	rv, err := n.r.eval(r, env)
	if err != nil {
		return nil, err
	}
	v, err := arith(n.op, l, rv)
	if err != nil {
		return nil, err
	}
	return v, r.chargeValue(v)
}

// and/or short-circuit and yield an operand, not a bool.
func (n *boolNode) eval(r *runner, env Env) (any, error) {
	l, err := n.l.eval(r, env)
	if err != nil {
		return nil, err
	}
	if n.op == "and" && !Truthy(l) {
		return l, nil
	}
	if n.op == "or" && Truthy(l) {
		return l, nil
	}
	return n.r.eval(r, env)
}

func (n *compareNode) eval(r *runner, env Env) (any, error) {
	left, err := n.first.eval(r, env)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := n.rest[i].eval(r, env)
		if err != nil {
			return nil, err
		}
		ok, err := compareOp(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func compareOp(op string, a, b any) (bool, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	case "in":
		return contains(b, a)
	case "not in":
		found, err := contains(b, a)
		return !found, err
	case "is":
		return same(a, b), nil
	case "is not":
		return !same(a, b), nil
	}
	c, err := compare(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison %q", op)
}

// same approximates identity: None and booleans are singletons, everything
// else compares by value.
func same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok || bok {
		return aok && bok && ab == bb
	}
	return equal(a, b)
}

func (n *ternaryNode) eval(r *runner, env Env) (any, error) {
	cond, err := n.cond.eval(r, env)
	if err != nil {
		return nil, err
	}
	if Truthy(cond) {
		return n.then.eval(r, env)
	}
	return n.els.eval(r, env)
}

func (n *compNode) eval(r *runner, env Env) (any, error) {
	out := []any{}
	_, err := n.walk(r, env, 0, func(v any) (bool, error) {
		out = append(out, v)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *compNode) walk(r *runner, env Env, i int, yield func(any) (bool, error)) (bool, error) {
	if i == len(n.clauses) {
		v, err := n.elt.eval(r, env)
		if err != nil {
			return false, err
		}
		return yield(v)
	}
	clause := n.clauses[i]
	src, err := clause.iter.eval(r, env)
	if err != nil {
		return false, err
	}
	items, err := iterate(src)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if err := r.charge(1); err != nil {
			return false, err
		}
		inner := &boundEnv{name: clause.target, value: item, parent: env}
		keep := true
		for _, cond := range clause.conds {
			c, err := cond.eval(r, inner)
			if err != nil {
				return false, err
			}
			if !Truthy(c) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		stop, err := n.walk(r, inner, i+1, yield)
		if err != nil || stop {
			return stop, err
		}
	}
	return false, nil
}

// boundEnv layers one comprehension variable over an enclosing Env.
type boundEnv struct {
	name   string
	value  any
	parent Env
}

func (b *boundEnv) Resolve(name string) (any, error) {
	if name == b.name {
		return b.value, nil
	}
	return b.parent.Resolve(name)
}

// generator is a lazily evaluated comprehension passed straight to a helper,
// so any() and all() can stop at the first decisive element.
type generator struct {
	comp *compNode
	r    *runner
	env  Env
}

func (g *generator) each(yield func(any) (bool, error)) error {
	_, err := g.comp.walk(g.r, g.env, 0, yield)
	return err
}

func (g *generator) collect() ([]any, error) {
	out := []any{}
	err := g.each(func(v any) (bool, error) {
		out = append(out, v)
		return false, nil
	})
	return out, err
}

func evalArgs(r *runner, env Env, args []node, kwargs []kwarg) ([]any, map[string]any, error) {
	vals := make([]any, 0, len(args))
	for _, a := range args {
		if c, ok := a.(*compNode); ok && c.generator {
			vals = append(vals, &generator{comp: c, r: r, env: env})
			continue
		}
		v, err := a.eval(r, env)
		if err != nil {
			return nil, nil, err
		}
		vals = append(vals, v)
	}
	var kw map[string]any
	if len(kwargs) > 0 {
		kw = make(map[string]any, len(kwargs))
		for _, k := range kwargs {
			v, err := k.value.eval(r, env)
			if err != nil {
				return nil, nil, err
			}
			kw[k.name] = v
		}
	}
	return vals, kw, nil
}

func (n *callNode) eval(r *runner, env Env) (any, error) {
	args, kwargs, err := evalArgs(r, env, n.args, n.kwargs)
	if err != nil {
		return nil, err
	}
	v, err := n.fn(r, args, kwargs)
	if err != nil {
		return nil, err
	}
	return v, r.chargeValue(v)
}

func (n *methodNode) eval(r *runner, env Env) (any, error) {
	recv, err := n.recv.eval(r, env)
	if err != nil {
		return nil, err
	}
	args, kwargs, err := evalArgs(r, env, n.args, n.kwargs)
	if err != nil {
		return nil, err
	}
	for i, a := range args {
		if g, ok := a.(*generator); ok {
			if args[i], err = g.collect(); err != nil {
				return nil, err
			}
		}
	}
	v, err := callMethod(recv, n.name, args, kwargs)
	if err != nil {
		return nil, err
	}
	return v, r.chargeValue(v)
}
