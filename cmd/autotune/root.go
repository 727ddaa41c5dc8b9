package main

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/autotune/internal/config"
	"github.com/copyleftdev/autotune/internal/logging"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/factory"
)

// globals is state shared by all subcommands, filled in before they run.
type globals struct {
	logLevel string

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "autotune",
		Short: "Black-box configuration tuning",
		Long: `autotune searches a parameter space for the configuration that
minimizes an objective, using random search or Bayesian optimization.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.logger = logging.NewWithFormat(
				logging.ParseLevel(g.logLevel),
				cmd.ErrOrStderr(),
				logging.Format(strings.ToLower(cfg.Logging.Format)),
			).WithFields(map[string]interface{}{"command": cmd.Name()})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(g),
		newValidateCmd(g),
		newObjectivesCmd(),
	)
	return root
}

// zapLogger returns the logger handed to optimizers and the trial runner.
func (g *globals) zapLogger() *zap.Logger {
	return logging.NewZapLogger(g.logger)
}

// buildOptimizer turns the experiment's study into an optimizer. Warnings
// raised by the optimizer are logged.
func (g *globals) buildOptimizer(e *config.Experiment) (*optimization.Optimizer, error) {
	zlog := g.zapLogger()
	params, err := e.Params(config.Defaults{
		OptimizerType: g.cfg.Optimization.DefaultType,
		Seed:          g.cfg.Optimization.RandomSeed,
	}, zlog, func(err error) {
		zlog.Warn("Optimizer warning", zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return factory.Create(params)
}
