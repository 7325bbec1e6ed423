// Package engine executes plans: a single depth-first pass over the step
// tree, threading function results through a scoped variable context.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
	"github.com/stevehiehn/taskdsl/internal/expr"
	"github.com/stevehiehn/taskdsl/internal/plan"
	"github.com/stevehiehn/taskdsl/internal/registry"
	"github.com/stevehiehn/taskdsl/internal/scope"
	"github.com/stevehiehn/taskdsl/internal/template"
)

// Engine runs plans against a registry. It holds no per-run state and may
// serve concurrent Execute calls.
type Engine struct {
	reg    *registry.Registry
	logger *zap.Logger
	clock  func() time.Time
	eval   *expr.Evaluator
	runID  string
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the time source for expression helpers and step timings.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRunID fixes the run id instead of generating one per execution.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reg == nil {
		e.reg = registry.New()
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	e.eval = expr.NewEvaluator(expr.WithClock(e.clock))
	return e
}

// Execute runs p with a top-level context seeded from seed. On failure the
// returned Result holds the partially populated context and the failed step
// path, and the error is a *planerrors.Error.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, seed map[string]any) (*Result, error) {
	if err := plan.Validate(p); err != nil {
		pe := asPlanError(err)
		task := ""
		if p != nil {
			task = p.Task
		}
		return &Result{Task: task, Context: map[string]any{}, Steps: []StepResult{}, FailedStep: pe.Path, Error: pe}, pe
	}

	rc := e.newRunContext(ctx, p)
	root := scope.New(seed)
	rc.logger.Info("plan started", zap.String("task", p.Task), zap.Int("steps", len(p.Steps)))

	err := rc.steps(p.Steps, root, nil)

	res := rc.result
	res.Context = root.Locals()
	res.Duration = e.clock().Sub(res.StartedAt).String()
	if err != nil {
		pe := asPlanError(err)
		res.Success = false
		res.FailedStep = pe.Path
		res.Error = pe
		rc.logger.Error("plan failed",
			zap.String("kind", pe.Kind),
			zap.String("step", planerrors.FormatPath(pe.Path)),
			zap.String("error", pe.Message),
		)
		return res, pe
	}
	res.Success = true
	rc.logger.Info("plan finished", zap.String("duration", res.Duration))
	return res, nil
}

func asPlanError(err error) *planerrors.Error {
	var pe *planerrors.Error
	if errors.As(err, &pe) {
		return pe
	}
	wrapped := planerrors.NewEvaluationError(err.Error())
	wrapped.Err = err
	return wrapped
}

// fail tags err with the step path unless a nested step already did.
func fail(err error, path []string) error {
	return asPlanError(err).WithPath(path)
}

func childPath(parent []string, label string) []string {
	path := make([]string, len(parent), len(parent)+1)
	copy(path, parent)
	return append(path, label)
}

func (rc *runContext) steps(steps []plan.Step, sc *scope.Scope, parent []string) error {
	for i, s := range steps {
		if err := rc.step(s, sc, childPath(parent, plan.Label(s, i))); err != nil {
			return err
		}
	}
	return nil
}

func (rc *runContext) step(s plan.Step, sc *scope.Scope, path []string) error {
	switch t := s.(type) {
	case *plan.Action:
		return rc.action(t, sc, path)
	case *plan.Condition:
		return rc.condition(t, sc, path)
	case *plan.Loop:
		return rc.loop(t, sc, path)
	}
	return planerrors.NewPlanFormatError(path, fmt.Sprintf("unsupported step type %T", s), "")
}

func (rc *runContext) action(a *plan.Action, sc *scope.Scope, path []string) error {
	idx := rc.begin(path, plan.KindAction)
	rc.trace(idx).Function = a.Function
	rc.trace(idx).OutputVar = a.OutputVar
	start := rc.clock()
	log := rc.logger.With(zap.String("step", planerrors.FormatPath(path)), zap.String("function", a.Function))

	finish := func(status string) {
		sr := rc.trace(idx)
		sr.Status = status
		sr.Duration = rc.clock().Sub(start).String()
	}

	args, err := rc.arguments(a, sc)
	if err != nil {
		finish(StatusFailed)
		return fail(err, path)
	}
	fn, err := rc.reg.Lookup(a.Function)
	if err != nil {
		finish(StatusFailed)
		return fail(err, path)
	}

	log.Debug("invoking function", zap.Int("args", len(args)))
	out, err := invoke(rc.ctx, fn, a.Function, args)
	if err != nil {
		finish(StatusFailed)
		return fail(err, path)
	}
	if a.OutputVar != "" {
		sc.Define(a.OutputVar, out)
	}
	finish(StatusSuccess)
	log.Info("step completed", zap.String("output_var", a.OutputVar))
	return nil
}

// arguments resolves every argument template in key order.
func (rc *runContext) arguments(a *plan.Action, sc *scope.Scope) (map[string]any, error) {
	keys := make([]string, 0, len(a.Arguments))
	for k := range a.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := template.Resolve(a.Arguments[k], rc.eval, sc)
		if err != nil {
			return nil, err
		}
		args[k] = v
	}
	return args, nil
}

func invoke(ctx context.Context, fn registry.Func, name string, args map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = planerrors.NewInvocationError(name, fmt.Errorf("panic: %v", r))
		}
	}()
	out, err = fn(ctx, args)
	if err != nil {
		return nil, planerrors.NewInvocationError(name, err)
	}
	return out, nil
}

func (rc *runContext) condition(c *plan.Condition, sc *scope.Scope, path []string) error {
	idx := rc.begin(path, plan.KindCondition)
	start := rc.clock()

	v, err := template.Eval(c.Condition, rc.eval, sc)
	if err != nil {
		rc.trace(idx).Status = StatusFailed
		return fail(err, path)
	}
	ok := expr.Truthy(v)
	rc.trace(idx).Outcome = &ok
	rc.logger.Debug("condition evaluated",
		zap.String("step", planerrors.FormatPath(path)),
		zap.Bool("outcome", ok),
	)
	if !ok {
		rc.trace(idx).Status = StatusSkipped
		return nil
	}

	err = rc.steps(c.Steps, sc, path)
	sr := rc.trace(idx)
	sr.Duration = rc.clock().Sub(start).String()
	if err != nil {
		sr.Status = StatusFailed
		return err
	}
	sr.Status = StatusSuccess
	return nil
}

func (rc *runContext) loop(l *plan.Loop, sc *scope.Scope, path []string) error {
	idx := rc.begin(path, plan.KindLoop)
	start := rc.clock()

	v, err := template.Eval(l.Over, rc.eval, sc)
	if err != nil {
		rc.trace(idx).Status = StatusFailed
		return fail(err, path)
	}
	items, ok := expr.Sequence(v)
	if !ok {
		rc.trace(idx).Status = StatusFailed
		src, _ := template.Source(l.Over)
		msg := fmt.Sprintf("loop source must be a sequence, got %s", expr.TypeName(v))
		return planerrors.NewEvaluationError(msg).WithExpr(src).WithPath(path)
	}

	log := rc.logger.With(zap.String("step", planerrors.FormatPath(path)))
	log.Debug("loop started", zap.Int("items", len(items)))

	done := 0
	for i, item := range items {
		child := sc.Child()
		child.Define(l.Variable, item)

		rc.iteration = append(rc.iteration, i)
		err := rc.steps(l.Steps, child, path)
		rc.iteration = rc.iteration[:len(rc.iteration)-1]
		if err != nil {
			sr := rc.trace(idx)
			sr.Status = StatusFailed
			sr.Iterations = &done
			return err
		}
		done++
		log.Debug("loop iteration finished", zap.Int("iteration", i))
	}

	sr := rc.trace(idx)
	sr.Status = StatusSuccess
	sr.Iterations = &done
	sr.Duration = rc.clock().Sub(start).String()
	return nil
}
