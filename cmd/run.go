package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/artifact"
	"github.com/stevehiehn/taskdsl/internal/engine"
	"github.com/stevehiehn/taskdsl/internal/plan"
	"github.com/stevehiehn/taskdsl/internal/scm"
)

func newRunCmd(g *globals) *cobra.Command {
	var (
		dbPath string
		reset  bool
		sets   []string
	)
	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a plan against the supply-chain database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading plan file: %w", err)
			}
			p, err := plan.Load(source)
			if err != nil {
				return err
			}
			seed, err := parseSeed(sets)
			if err != nil {
				return err
			}

			if dbPath == "" {
				dbPath = g.cfg.DB.Path
			}
			store, err := scm.Open(dbPath, g.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			empty, err := store.Empty(ctx)
			if err != nil {
				return err
			}
			if reset || empty {
				if err := store.Reset(ctx); err != nil {
					return err
				}
			}

			reg, err := fullRegistry(g, store)
			if err != nil {
				return err
			}
			res, runErr := engine.New(reg, engine.WithLogger(g.logger)).Execute(ctx, p, seed)

			var resultPath string
			if g.cfg.Artifacts.Enabled {
				resultPath = saveArtifacts(g, res, args[0], source)
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				printResult(out, res, runErr)
				if resultPath != "" {
					fmt.Fprintf(out, "Result: %s\n", resultPath)
				}
			}
			if runErr != nil {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default from config)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Recreate and reseed the database before running")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Seed variable (name=value)")
	return cmd
}

// saveArtifacts persists the plan and its result and returns the result
// path, or "" when saving failed. Failures are only logged.
func saveArtifacts(g *globals, res *engine.Result, name string, source []byte) string {
	store, err := artifact.New(res.RunID, g.cfg.Artifacts.Dir)
	if err == nil {
		err = store.WritePlan(name, source)
	}
	if err == nil {
		err = store.WriteResult(res)
	}
	if err != nil {
		g.logger.Warn("saving artifacts", zap.String("run_id", res.RunID), zap.Error(err))
		return ""
	}
	return store.ResultPath()
}
