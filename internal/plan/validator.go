package plan

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
)

// MaxDepth bounds step nesting.
const MaxDepth = 64

var (
	identRe     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	qualifiedRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// IsIdentifier reports whether s can name a variable.
func IsIdentifier(s string) bool { return identRe.MatchString(s) }

// IsQualifiedName reports whether s is a dot-separated function name such as
// inventory.allocate_stock.
func IsQualifiedName(s string) bool { return qualifiedRe.MatchString(s) }

// Validate checks a plan for structural correctness: step shapes, required
// fields, names, nesting depth and self-containment. It does not look at
// function existence or expression syntax.
func Validate(p *Plan) error {
	if p == nil {
		return planerrors.NewPlanFormatError(nil, "plan is nil", "")
	}
	if strings.TrimSpace(p.Task) == "" {
		return planerrors.NewPlanFormatError(nil, "plan has no task",
			"Set a top-level task: <description of the goal>")
	}
	if len(p.Steps) == 0 {
		return planerrors.NewPlanFormatError(nil, "plan has no steps", "")
	}
	v := &validator{onPath: map[Step]bool{}}
	return v.steps(p.Steps, nil)
}

type validator struct {
	onPath map[Step]bool
}

func (v *validator) steps(steps []Step, parent []string) error {
	if len(parent) >= MaxDepth {
		return planerrors.NewPlanFormatError(parent, fmt.Sprintf("steps nested deeper than %d levels", MaxDepth), "")
	}
	for i, s := range steps {
		if err := v.step(s, parent, i); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) step(s Step, parent []string, index int) error {
	if s == nil || isNilStep(s) {
		return planerrors.NewPlanFormatError(childPath(parent, fmt.Sprintf("#%d", index)), "step is nil", "")
	}
	path := childPath(parent, Label(s, index))
	if v.onPath[s] {
		return planerrors.NewPlanFormatError(path, "step contains itself", "A step cannot appear among its own descendants")
	}
	if strings.TrimSpace(s.StepName()) == "" {
		return planerrors.NewPlanFormatError(path, "step has no name", "Give every step a non-empty name")
	}

	switch t := s.(type) {
	case *Action:
		if t.Function == "" {
			return planerrors.NewPlanFormatError(path, "action has no function", "")
		}
		if !IsQualifiedName(t.Function) {
			return planerrors.NewPlanFormatError(path, fmt.Sprintf("function %q is not a qualified name", t.Function),
				"Use dot-separated identifiers, e.g. inventory.allocate_stock")
		}
		if t.OutputVar != "" && !IsIdentifier(t.OutputVar) {
			return planerrors.NewPlanFormatError(path, fmt.Sprintf("output_var %q is not an identifier", t.OutputVar), "")
		}
		return nil
	case *Condition:
		if strings.TrimSpace(t.Condition) == "" {
			return planerrors.NewPlanFormatError(path, "condition is empty", "")
		}
	case *Loop:
		if t.Variable == "" {
			return planerrors.NewPlanFormatError(path, "loop has no variable", "Set loop.variable to the per-element name")
		}
		if !IsIdentifier(t.Variable) {
			return planerrors.NewPlanFormatError(path, fmt.Sprintf("loop variable %q is not an identifier", t.Variable), "")
		}
		if strings.TrimSpace(t.Over) == "" {
			return planerrors.NewPlanFormatError(path, "loop has no over expression", "Set loop.over to the sequence to iterate")
		}
	default:
		return planerrors.NewPlanFormatError(path, fmt.Sprintf("unsupported step type %T", s), "")
	}

	if len(s.Children()) == 0 {
		return planerrors.NewPlanFormatError(path, fmt.Sprintf("%s step has no nested steps", s.Kind()), "")
	}
	v.onPath[s] = true
	defer delete(v.onPath, s)
	return v.steps(s.Children(), path)
}

func isNilStep(s Step) bool {
	switch t := s.(type) {
	case *Action:
		return t == nil
	case *Condition:
		return t == nil
	case *Loop:
		return t == nil
	}
	return false
}

// Label is the name a step goes by in paths: its name, or #index when unnamed.
func Label(s Step, index int) string {
	if name := s.StepName(); name != "" {
		return name
	}
	return fmt.Sprintf("#%d", index)
}

// Walk visits every step depth-first in document order. The path passed to
// fn ends with the step's own label and must not be retained.
func Walk(p *Plan, fn func(path []string, s Step) error) error {
	var walk func(steps []Step, parent []string) error
	walk = func(steps []Step, parent []string) error {
		for i, s := range steps {
			path := append(parent, Label(s, i))
			if err := fn(path, s); err != nil {
				return err
			}
			if err := walk(s.Children(), path); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(p.Steps, nil)
}

// Site is one place in a plan that holds expression text.
type Site struct {
	Path  []string
	Field string // "arguments.<key>", "loop.over" or "condition"
	Text  string
}

// Expressions lists every expression site: argument strings containing
// braces, loop sources and guards.
func Expressions(p *Plan) []Site {
	var sites []Site
	_ = Walk(p, func(path []string, s Step) error {
		own := append([]string(nil), path...)
		switch t := s.(type) {
		case *Action:
			keys := make([]string, 0, len(t.Arguments))
			for k := range t.Arguments {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				collectStrings(t.Arguments[k], "arguments."+k, func(field, text string) {
					sites = append(sites, Site{Path: own, Field: field, Text: text})
				})
			}
		case *Condition:
			sites = append(sites, Site{Path: own, Field: "condition", Text: t.Condition})
		case *Loop:
			sites = append(sites, Site{Path: own, Field: "loop.over", Text: t.Over})
		}
		return nil
	})
	return sites
}

func collectStrings(v any, field string, emit func(field, text string)) {
	switch t := v.(type) {
	case string:
		if strings.ContainsAny(t, "{}") {
			emit(field, t)
		}
	case []any:
		for i, item := range t {
			collectStrings(item, fmt.Sprintf("%s[%d]", field, i), emit)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(t[k], field+"."+k, emit)
		}
	}
}
