package main

import (
	"github.com/VBChunguk/thcrap/internal/injector"
	"github.com/VBChunguk/thcrap/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// config carries the persistent flags to the subcommands.
type config struct {
	opts     injector.Options
	logLevel string
	logger   *zap.Logger
}

func NewRootCmd() *cobra.Command {
	cfg := &config{opts: injector.DefaultOptions()}

	root := &cobra.Command{
		Use:           "injector",
		Short:         "Start or attach to a game with the patch runtime loaded",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.opts.Validate(); err != nil {
				return err
			}
			logger, err := logging.NewLogger(cmd.ErrOrStderr(), cfg.logLevel)
			if err != nil {
				return err
			}
			cfg.logger = logger
			injector.SetLogger(logging.NewLoggerAdapter(logger))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cfg.logger != nil {
				cfg.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.opts.RuntimeModule, "runtime", cfg.opts.RuntimeModule, "path of the runtime module loaded into the target")
	flags.StringVar(&cfg.opts.SetupExport, "export", cfg.opts.SetupExport, "name of the runtime's setup routine")
	flags.StringVar(&cfg.opts.EntryModule, "entry-module", "", "wait for the entry point of this module instead of the executable's")
	flags.DurationVar(&cfg.opts.PollInterval, "poll", cfg.opts.PollInterval, "poll interval of every wait")
	flags.DurationVar(&cfg.opts.WaitTimeout, "wait-timeout", cfg.opts.WaitTimeout, "how long to wait for the target to reach its entry point")
	flags.DurationVar(&cfg.opts.RemoteThreadTimeout, "thread-timeout", cfg.opts.RemoteThreadTimeout, "how long to wait for each remote thread")
	flags.StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	for _, cmd := range platformCommands(cfg) {
		root.AddCommand(cmd)
	}
	return root
}
