package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex [id]",
		Short: "Rebuild vector index entries from the store",
		Long: `Re-derive vector nodes from the structured store.

With an id only that block is rebuilt; --tag rebuilds every block with the tag;
--inconsistent repairs blocks whose last index sync failed; otherwise every block is rebuilt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runReindex,
	}

	cmd.Flags().String("tag", "", "Rebuild blocks with this tag")
	cmd.Flags().Bool("inconsistent", false, "Only repair blocks flagged inconsistent")
	cmd.Flags().Bool("force", false, "Re-embed even when content is unchanged")
	cmd.Flags().Bool("reset", false, "Empty the index before a full rebuild")

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	req := tools.ReindexRequest{}
	if len(args) == 1 {
		req.ID = args[0]
	}
	req.Tag, _ = cmd.Flags().GetString("tag")
	req.InconsistentOnly, _ = cmd.Flags().GetBool("inconsistent")
	req.Force, _ = cmd.Flags().GetBool("force")
	req.Reset, _ = cmd.Flags().GetBool("reset")

	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.Reindex(cmd.Context(), req))
	})
}
