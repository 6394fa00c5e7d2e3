// Package cli provides the ekaya-healthquery command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/app"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/logging"
)

// Options control how commands obtain their configuration and pipeline.
type Options struct {
	// LoadConfig defaults to config.Load.
	LoadConfig func(version string) (*config.Config, error)
	// NewLogger defaults to logging.NewLogger.
	NewLogger func(cfg config.LoggingConfig) (*zap.Logger, error)
	// App is passed to app.New by every command that needs the pipeline.
	App app.Options
}

// state is filled in by the root command before any subcommand runs.
type state struct {
	version string
	opts    Options
	cfg     *config.Config
	logger  *zap.Logger
}

func (rt *state) newApp(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), rt.cfg, rt.logger, rt.opts.App)
}

// NewRootCmd creates the root command. Running it without a subcommand serves HTTP.
func NewRootCmd(version string, opts Options) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	if opts.NewLogger == nil {
		opts.NewLogger = logging.NewLogger
	}
	rt := &state{version: version, opts: opts}

	serveCmd := newServeCommand(rt)
	rootCmd := &cobra.Command{
		Use:   "ekaya-healthquery",
		Short: "Answer natural-language questions about the health dataset",
		Long: `ekaya-healthquery turns a question about the patient tables into a read-only query,
checks it against the safety rules, runs it with a row cap and summarizes the result
in plain language with a medical disclaimer.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := rt.opts.LoadConfig(version)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := rt.opts.NewLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			rt.cfg = cfg
			rt.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
		RunE: serveCmd.RunE,
	}

	rootCmd.AddCommand(
		serveCmd,
		newAskCommand(rt),
		newSuiteCommand(rt),
		NewVersionCommand(version),
	)
	return rootCmd
}
