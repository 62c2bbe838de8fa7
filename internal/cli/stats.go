package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory bank statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				return printResult(cmd, a.tools.Stats(cmd.Context()))
			})
		},
	}

	RootCmd.AddCommand(cmd)
}
