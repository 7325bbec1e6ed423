package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevehiehn/taskdsl/internal/action"
	"github.com/stevehiehn/taskdsl/internal/engine"
	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
	"github.com/stevehiehn/taskdsl/internal/plan"
	"github.com/stevehiehn/taskdsl/internal/registry"
	"github.com/stevehiehn/taskdsl/internal/scm"
)

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Validate a plan file without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var issues []engine.Issue
			p, err := plan.LoadFile(args[0])
			if err != nil {
				var pe *planerrors.Error
				if !errors.As(err, &pe) {
					return err
				}
				issues = []engine.Issue{{Err: pe}}
			} else {
				reg, err := knownFunctions(g)
				if err != nil {
					return err
				}
				issues = engine.Lint(p, reg)
			}

			if g.jsonOutput {
				if err := writeJSON(out, map[string]any{"valid": len(issues) == 0, "errors": issues}); err != nil {
					return err
				}
			} else if len(issues) == 0 {
				fmt.Fprintln(out, "Plan is valid.")
			} else {
				fmt.Fprintf(out, "Validation failed with %d issue(s):\n", len(issues))
				for _, is := range issues {
					printError(out, is.Err)
				}
			}
			if len(issues) > 0 {
				return errFailed
			}
			return nil
		},
	}
}

// knownFunctions returns every function a run could call, backed by a
// throwaway in-memory store.
func knownFunctions(g *globals) (*registry.Registry, error) {
	store, err := scm.Open(":memory:", g.logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return fullRegistry(g, store)
}

// fullRegistry combines the core, supply-chain and utility functions.
func fullRegistry(g *globals, store *scm.Store) (*registry.Registry, error) {
	return coreWith(g, store.Registry(), actionFunctions(g))
}

// coreWith merges the given registries into the core functions. Nil
// entries are skipped.
func coreWith(g *globals, regs ...*registry.Registry) (*registry.Registry, error) {
	reg := registry.Core(g.logger)
	for _, r := range regs {
		if r == nil {
			continue
		}
		if err := reg.Merge(r); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// actionFunctions are the file, json, env and http functions. They touch
// the host, so servers only expose them on request.
func actionFunctions(g *globals) *registry.Registry {
	return action.Functions(action.WithLogger(g.logger))
}
