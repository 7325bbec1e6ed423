package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/stevehiehn/taskdsl/internal/plan"
)

func newExplainCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <plan.yaml>",
		Short: "Print the step outline of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}
			if !g.jsonOutput {
				return plan.Outline(cmd.OutOrStdout(), p)
			}
			var b strings.Builder
			if err := plan.Outline(&b, p); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"task": p.Task, "outline": b.String()})
		},
	}
}
