package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a memory block",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	cmd.Flags().Bool("text", false, "Print only the block text")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	textOnly, _ := cmd.Flags().GetBool("text")

	return withApp(cmd, func(a *app) error {
		res := a.tools.GetBlock(cmd.Context(), tools.GetBlockRequest{ID: args[0]})
		if textOnly && res.OK() {
			fmt.Fprintln(cmd.OutOrStdout(), res.Block.Text)
			return nil
		}
		return printResult(cmd, res)
	})
}
