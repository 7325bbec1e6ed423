package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevehiehn/taskdsl/internal/engine"
	"github.com/stevehiehn/taskdsl/internal/expr"
	"github.com/stevehiehn/taskdsl/internal/plan"
	"github.com/stevehiehn/taskdsl/internal/registry"
)

func newDryRunCmd(g *globals) *cobra.Command {
	var (
		fixturesPath string
		sets         []string
	)
	cmd := &cobra.Command{
		Use:   "dry-run <plan.yaml>",
		Short: "Execute a plan against canned fixtures and list the calls it makes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}
			seed, err := parseSeed(sets)
			if err != nil {
				return err
			}
			fixtures := map[string]any{}
			if fixturesPath != "" {
				if fixtures, err = registry.LoadFixtures(fixturesPath); err != nil {
					return err
				}
			}

			stub := registry.NewStub(fixtures)
			reg, err := stub.Registry(registry.Core(g.logger))
			if err != nil {
				return err
			}
			res, runErr := engine.New(reg, engine.WithLogger(g.logger)).Execute(cmd.Context(), p, seed)

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := writeJSON(out, map[string]any{"result": res, "calls": stub.Calls()}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Dry-run: %s\n\n", p.Task)
				for i, c := range stub.Calls() {
					fmt.Fprintf(out, "%d. %s %s\n", i+1, c.Function, expr.Format(c.Args))
				}
				if len(stub.Calls()) == 0 {
					fmt.Fprintln(out, "No calls.")
				}
				fmt.Fprintln(out)
				printResult(out, res, runErr)
			}
			if runErr != nil {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturesPath, "fixtures", "", "YAML file mapping function names to return values")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Seed variable (name=value)")
	return cmd
}
