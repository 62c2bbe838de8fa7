package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	link := &cobra.Command{
		Use:   "link <from-id> <to-id> <relation>",
		Short: "Link two blocks",
		Long:  "Add a typed, directed link between blocks. With --remove, delete it instead.",
		Args:  cobra.ExactArgs(3),
		RunE:  runLink,
	}
	link.Flags().Bool("remove", false, "Remove the link")

	backlinks := &cobra.Command{
		Use:   "backlinks <id>",
		Short: "Show blocks linking to a block",
		Args:  cobra.ExactArgs(1),
		RunE:  runBacklinks,
	}

	RootCmd.AddCommand(link, backlinks)
}

func runLink(cmd *cobra.Command, args []string) error {
	remove, _ := cmd.Flags().GetBool("remove")
	req := tools.LinkRequest{FromID: args[0], ToID: args[1], Relation: args[2]}

	return withApp(cmd, func(a *app) error {
		if remove {
			return printResult(cmd, a.tools.RemoveLink(cmd.Context(), req))
		}
		return printResult(cmd, a.tools.AddLink(cmd.Context(), req))
	})
}

func runBacklinks(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.GetBacklinks(cmd.Context(), tools.BacklinksRequest{ID: args[0]}))
	})
}
