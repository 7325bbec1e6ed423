package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stevehiehn/taskdsl/internal/mcp"
	"github.com/stevehiehn/taskdsl/internal/registry"
	"github.com/stevehiehn/taskdsl/internal/scm"
)

func newMCPCmd(g *globals) *cobra.Command {
	var (
		plansDir string
		sseAddr  string
		dbPath   string
		allowIO  bool
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start an MCP server on stdio, or over SSE with --sse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			opts := []mcp.Option{mcp.WithWorkDir(wd), mcp.WithLogger(g.logger)}
			if plansDir != "" {
				opts = append(opts, mcp.WithPlansDir(plansDir))
			}
			var supply, actions *registry.Registry
			if allowIO {
				actions = actionFunctions(g)
			}
			if dbPath != "" {
				store, err := scm.Open(dbPath, g.logger)
				if err != nil {
					return err
				}
				defer store.Close()
				if empty, err := store.Empty(cmd.Context()); err != nil {
					return err
				} else if empty {
					if err := store.Reset(cmd.Context()); err != nil {
						return err
					}
				}
				supply = store.Registry()
			}
			if supply != nil || actions != nil {
				reg, err := coreWith(g, supply, actions)
				if err != nil {
					return err
				}
				opts = append(opts, mcp.WithRegistry(reg))
			}

			srv := mcp.NewServer(opts...)
			if sseAddr != "" {
				return mcp.NewSSEServer(srv).ListenAndServe(cmd.Context(), sseAddr)
			}
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&plansDir, "plans-dir", "", "Directory of plans to expose as tools")
	cmd.Flags().StringVar(&sseAddr, "sse", "", "Serve over HTTP+SSE on this address instead of stdio (host defaults to 127.0.0.1)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Back plan.run with the supply-chain database at this path")
	cmd.Flags().BoolVar(&allowIO, "allow-io", false, "Expose the file, json, env and http functions to plans")
	return cmd
}
