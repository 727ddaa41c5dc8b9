package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/autotune/internal/tuning"
)

func newObjectivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "objectives",
		Short: "List the builtin objective functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range tuning.Builtins() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
