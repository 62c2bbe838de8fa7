package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a memory block",
		Long:  "Delete a block from the store and the vector index. Blocks that other blocks link to need --force, which also drops those links.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}

	cmd.Flags().Bool("force", false, "Delete even when other blocks link here")
	cmd.Flags().String("by", "", "Author")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	by, _ := cmd.Flags().GetString("by")

	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.DeleteBlock(cmd.Context(), tools.DeleteBlockRequest{
			ID:        args[0],
			Force:     force,
			DeletedBy: by,
		}))
	})
}
