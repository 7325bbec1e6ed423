package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Outline writes a numbered, indented description of p: each step's
// function and output, guard or loop source, without evaluating anything.
func Outline(w io.Writer, p *Plan) error {
	ow := &outliner{w: w}
	ow.printf("Task: %s\n", p.Task)
	if p.Description != "" {
		ow.printf("  %s\n", p.Description)
	}
	ow.printf("\n")
	ow.steps(p.Steps, "", 0)
	return ow.err
}

type outliner struct {
	w   io.Writer
	err error
}

func (o *outliner) printf(format string, args ...any) {
	if o.err != nil {
		return
	}
	_, o.err = fmt.Fprintf(o.w, format, args...)
}

func (o *outliner) steps(steps []Step, prefix string, depth int) {
	indent := strings.Repeat("    ", depth)
	for i, s := range steps {
		num := fmt.Sprintf("%s%d", prefix, i+1)
		label := Label(s, i)

		switch t := s.(type) {
		case *Action:
			line := fmt.Sprintf("%s%s. %s: call %s", indent, num, label, t.Function)
			if t.OutputVar != "" {
				line += " -> " + t.OutputVar
			}
			o.printf("%s\n", line)
			for _, k := range sortedKeys(t.Arguments) {
				o.printf("%s     %s = %s\n", indent, k, render(t.Arguments[k]))
			}
		case *Condition:
			o.printf("%s%s. %s: if %s\n", indent, num, label, t.Condition)
		case *Loop:
			o.printf("%s%s. %s: for %s in %s\n", indent, num, label, t.Variable, t.Over)
		}
		if d := description(s); d != "" {
			o.printf("%s     # %s\n", indent, d)
		}
		if children := s.Children(); len(children) > 0 {
			o.steps(children, num+".", depth+1)
		}
	}
}

func description(s Step) string {
	switch t := s.(type) {
	case *Action:
		return t.Description
	case *Condition:
		return t.Description
	case *Loop:
		return t.Description
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
