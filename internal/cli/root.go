// Package cli implements the rube command line.
package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/internal/config"
	"github.com/PipeOpsHQ/rube/internal/logging"
)

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *zap.Logger
}

// Execute runs the command line with args and returns the command error.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{envFile: ".env", logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "rube",
		Short:         "Chat backend that reaches third-party apps through a tool router",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", opts.envFile, "dotenv file loaded before reading the environment")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides RUBE_LOG_LEVEL")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (json or console); overrides RUBE_LOG_FORMAT")

	root.AddCommand(
		newServeCmd(opts),
		newKeysCmd(opts),
		newToolkitsCmd(opts),
		newConnectionsCmd(opts),
	)
	return root
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configFile, o.envFile)
	if err != nil {
		return err
	}
	if level := strings.TrimSpace(o.logLevel); level != "" {
		cfg.Log.Level = level
	}
	if format := strings.TrimSpace(o.logFormat); format != "" {
		cfg.Log.Format = format
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}
