package engine

import (
	"errors"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
	"github.com/stevehiehn/taskdsl/internal/expr"
	"github.com/stevehiehn/taskdsl/internal/plan"
	"github.com/stevehiehn/taskdsl/internal/registry"
	"github.com/stevehiehn/taskdsl/internal/template"
)

// Issue is a problem found without running the plan.
type Issue struct {
	Field string            `json:"field,omitempty"`
	Err   *planerrors.Error `json:"error"`
}

// Lint compiles every expression in p and, when reg is non-nil, checks that
// every action's function is registered. Issues carry the step path.
func Lint(p *plan.Plan, reg *registry.Registry) []Issue {
	var issues []Issue
	add := func(path []string, field string, err error) {
		var pe *planerrors.Error
		if !errors.As(err, &pe) {
			pe = planerrors.NewEvaluationError(err.Error())
		}
		issues = append(issues, Issue{Field: field, Err: pe.WithPath(path)})
	}

	for _, site := range plan.Expressions(p) {
		switch site.Field {
		case "condition", "loop.over":
			src, err := template.Source(site.Text)
			if err == nil {
				_, err = expr.Compile(src)
			}
			if err != nil {
				add(site.Path, site.Field, err)
			}
		default:
			if _, err := template.Parse(site.Text); err != nil {
				add(site.Path, site.Field, err)
			}
		}
	}

	if reg != nil {
		_ = plan.Walk(p, func(path []string, s plan.Step) error {
			if a, ok := s.(*plan.Action); ok && !reg.Has(a.Function) {
				add(append([]string(nil), path...), "function", planerrors.NewUnknownFunctionError(a.Function))
			}
			return nil
		})
	}
	return issues
}
