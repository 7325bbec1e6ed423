package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stevehiehn/taskdsl/internal/engine"
	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
	"github.com/stevehiehn/taskdsl/internal/expr"
	"github.com/stevehiehn/taskdsl/internal/plan"
)

// parseSeed converts ["key=value", ...] to seed variables. Values are read
// as YAML, so numbers, booleans and flow lists keep their types.
func parseSeed(raw []string) (map[string]any, error) {
	seed := map[string]any{}
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !plan.IsIdentifier(key) {
			return nil, fmt.Errorf("invalid --set %q: want name=value", kv)
		}
		if value == "" {
			seed[key] = ""
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		seed[key] = v
	}
	return seed, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError writes a structured plan error with its step path and hint.
func printError(w io.Writer, err error) {
	var pe *planerrors.Error
	if !errors.As(err, &pe) {
		fmt.Fprintf(w, "  Error: %s\n", err)
		return
	}
	fmt.Fprintf(w, "  Error: [%s] %s\n", pe.Kind, pe.Message)
	if len(pe.Path) > 0 {
		fmt.Fprintf(w, "  Step: %s\n", planerrors.FormatPath(pe.Path))
	}
	if pe.Expr != "" {
		fmt.Fprintf(w, "  Expression: %s\n", pe.Expr)
	}
	if pe.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", pe.Hint)
	}
}

// printResult reports a finished run in human-readable form.
func printResult(w io.Writer, res *engine.Result, err error) {
	if err != nil {
		fmt.Fprintf(w, "Plan %q failed at step %q.\n", res.Task, planerrors.FormatPath(res.FailedStep))
		printError(w, err)
	} else {
		fmt.Fprintf(w, "Plan %q completed successfully in %s.\n", res.Task, res.Duration)
	}

	if len(res.Context) > 0 {
		fmt.Fprintln(w, "Outputs:")
		names := make([]string, 0, len(res.Context))
		for name := range res.Context {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s = %s\n", name, expr.Format(res.Context[name]))
		}
	}
	if res.RunID != "" {
		fmt.Fprintf(w, "Run ID: %s\n", res.RunID)
	}
}
