// Package template substitutes {expression} placeholders inside plan
// argument values.
package template

import (
	"fmt"
	"strings"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
	"github.com/stevehiehn/taskdsl/internal/expr"
)

type part struct {
	text string
	x    *expr.Expr // nil for literal text
}

// Template is a parsed argument string.
type Template struct {
	src   string
	parts []part
}

// Parse splits s into literal text and placeholders. "{{" and "}}" stand for
// literal braces. Each placeholder is compiled, so syntax errors surface here.
func Parse(s string) (*Template, error) {
	t := &Template{src: s}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			t.parts = append(t.parts, part{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				text.WriteByte('{')
				i++
				continue
			}
			end, err := closing(s, i)
			if err != nil {
				return nil, err
			}
			src := strings.TrimSpace(s[i+1 : end])
			if src == "" {
				return nil, planerrors.NewSyntaxError(s, fmt.Sprintf("empty placeholder at position %d", i))
			}
			x, err := expr.Compile(src)
			if err != nil {
				return nil, err
			}
			flush()
			t.parts = append(t.parts, part{x: x})
			i = end
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				text.WriteByte('}')
				i++
				continue
			}
			return nil, planerrors.NewSyntaxError(s, fmt.Sprintf("unmatched '}' at position %d", i))
		default:
			text.WriteByte(s[i])
		}
	}
	flush()
	return t, nil
}

// closing returns the index of the brace ending the placeholder opened at
// start, skipping over quoted strings.
func closing(s string, start int) (int, error) {
	var quote byte
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '{':
			return 0, planerrors.NewSyntaxError(s, fmt.Sprintf("nested '{' at position %d", i))
		case c == '}':
			return i, nil
		}
	}
	return 0, planerrors.NewSyntaxError(s, fmt.Sprintf("unterminated placeholder starting at position %d", start))
}

func (t *Template) String() string { return t.src }

// Single reports whether the template is exactly one placeholder.
func (t *Template) Single() bool {
	return len(t.parts) == 1 && t.parts[0].x != nil
}

// Expressions lists the placeholder sources in order.
func (t *Template) Expressions() []string {
	var out []string
	for _, p := range t.parts {
		if p.x != nil {
			out = append(out, p.x.String())
		}
	}
	return out
}

// Render evaluates the placeholders. A single placeholder yields its native
// value; anything else yields a string.
func (t *Template) Render(ev *expr.Evaluator, env expr.Env) (any, error) {
	if t.Single() {
		return ev.Run(t.parts[0].x, env)
	}
	var b strings.Builder
	for _, p := range t.parts {
		if p.x == nil {
			b.WriteString(p.text)
			continue
		}
		v, err := ev.Run(p.x, env)
		if err != nil {
			return nil, err
		}
		b.WriteString(expr.Format(v))
	}
	return b.String(), nil
}

// Resolve renders every template string inside v, descending into mappings
// and sequences. Other literals are returned unchanged.
func Resolve(v any, ev *expr.Evaluator, env expr.Env) (any, error) {
	switch t := v.(type) {
	case string:
		if !strings.ContainsAny(t, "{}") {
			return t, nil
		}
		tpl, err := Parse(t)
		if err != nil {
			return nil, err
		}
		return tpl.Render(ev, env)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			r, err := Resolve(item, ev, env)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			r, err := Resolve(item, ev, env)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	}
	return v, nil
}

// Placeholders collects the placeholder sources found anywhere inside v.
func Placeholders(v any) ([]string, error) {
	var out []string
	var walk func(any) error
	walk = func(v any) error {
		switch t := v.(type) {
		case string:
			if !strings.ContainsAny(t, "{}") {
				return nil
			}
			tpl, err := Parse(t)
			if err != nil {
				return err
			}
			out = append(out, tpl.Expressions()...)
		case []any:
			for _, item := range t {
				if err := walk(item); err != nil {
					return err
				}
			}
		case map[string]any:
			for _, item := range t {
				if err := walk(item); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(v); err != nil {
		return nil, err
	}
	return out, nil
}

// Source returns the expression text of a loop source or guard, which may be
// written bare or wrapped in a single placeholder.
func Source(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		tpl, err := Parse(trimmed)
		if err == nil && tpl.Single() {
			return tpl.parts[0].x.String(), nil
		}
		if err != nil {
			return "", err
		}
	}
	if trimmed == "" {
		return "", planerrors.NewSyntaxError(s, "empty expression")
	}
	return trimmed, nil
}

// Eval evaluates a loop source or guard.
func Eval(s string, ev *expr.Evaluator, env expr.Env) (any, error) {
	src, err := Source(s)
	if err != nil {
		return nil, err
	}
	x, err := expr.Compile(src)
	if err != nil {
		return nil, err
	}
	return ev.Run(x, env)
}
