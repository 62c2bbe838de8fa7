package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/store"
	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	list := &cobra.Command{
		Use:   "list",
		Short: "List memory blocks",
		RunE:  runList,
	}
	list.Flags().String("type", "", "Filter by type")
	list.Flags().String("state", "", "Filter by state")
	list.Flags().StringSliceP("tags", "t", nil, "Filter by tags (comma-separated)")
	list.Flags().Bool("all", false, "Require every tag instead of any")
	list.Flags().IntP("limit", "l", 20, "Max results")
	list.Flags().Int("offset", 0, "Skip this many results")
	list.Flags().Bool("ids-only", false, "Only output IDs")

	tags := &cobra.Command{
		Use:   "tags <tag>...",
		Short: "Find blocks by tag",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTags,
	}
	tags.Flags().Bool("all", false, "Require every tag instead of any")

	RootCmd.AddCommand(list, tags)
}

func runList(cmd *cobra.Command, args []string) error {
	typ, _ := cmd.Flags().GetString("type")
	state, _ := cmd.Flags().GetString("state")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	return withApp(cmd, func(a *app) error {
		blocks, err := a.bank.List(cmd.Context(), store.ListParams{
			Type:   typ,
			State:  state,
			Tags:   tags,
			AllTag: all,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return err
		}
		if idsOnly {
			for _, b := range blocks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.ID, b.Type)
			}
			return nil
		}
		return printJSON(cmd, blocks)
	})
}

func runTags(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.QueryBlocksByTags(cmd.Context(), tools.QueryByTagsRequest{Tags: args, MatchAll: all}))
	})
}
