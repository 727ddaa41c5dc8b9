package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/autotune/internal/config"
)

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <experiment.yaml>",
		Short: "Check an experiment without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := config.LoadExperiment(args[0])
			if err != nil {
				return err
			}
			if err := checkObjective(e); err != nil {
				return err
			}
			opt, err := g.buildOptimizer(e)
			if err != nil {
				return err
			}
			defer func() { _ = opt.Cleanup() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: %s\n", opt)
			fmt.Fprintf(out, "parameters: %d, targets: %v, iterations: %d, parallelism: %d\n",
				opt.ParameterSpace().Len(), opt.Targets(), e.Iterations, e.Parallelism)
			return nil
		},
	}
}
