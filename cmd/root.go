package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/config"
	"github.com/stevehiehn/taskdsl/internal/logging"
)

// errFailed is returned after a command has already reported its failure.
var errFailed = errors.New("")

// globals are shared by every subcommand and filled in before it runs.
type globals struct {
	jsonOutput bool
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "taskdsl",
		Short:         "Declarative task plan interpreter",
		Long:          "taskdsl validates, explains and executes YAML task plans against a registry of functions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "Output raw JSON")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (YAML)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newValidateCmd(g),
		newExplainCmd(g),
		newRunCmd(g),
		newDryRunCmd(g),
		newMCPCmd(g),
	)
	return root
}

func (g *globals) setup() error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	g.cfg, g.logger = cfg, logger
	return nil
}

// Run executes the CLI with args on the given streams.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
