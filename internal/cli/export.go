package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/bank"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memory blocks as JSON",
		Long:  "Export blocks with metadata, tags and links as a JSON array, in the format import expects.",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}

	cmd.Flags().String("type", "", "Filter by type")
	cmd.Flags().StringSliceP("tags", "t", nil, "Filter by tags (comma-separated)")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	typ, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetStringSlice("tags")

	return withApp(cmd, func(a *app) error {
		blocks, err := a.bank.Export(cmd.Context(), bank.ExportParams{Type: typ, Tags: tags})
		if err != nil {
			return err
		}
		return printJSON(cmd, blocks)
	})
}
