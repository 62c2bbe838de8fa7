package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/store"
	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memory blocks by meaning",
		Long: `Rank blocks by semantic similarity to the query using the vector index.
With --keyword, run a full-text search over block text in the structured store instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().IntP("limit", "l", 10, "Max results")
	cmd.Flags().StringSliceP("tags", "t", nil, "Keep blocks with any of these tags")
	cmd.Flags().String("type", "", "Filter by block type")
	cmd.Flags().Bool("keyword", false, "Full-text search instead of semantic search")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	limit, _ := cmd.Flags().GetInt("limit")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	typ, _ := cmd.Flags().GetString("type")
	keyword, _ := cmd.Flags().GetBool("keyword")

	return withApp(cmd, func(a *app) error {
		if keyword {
			blocks, err := a.bank.QueryText(cmd.Context(), store.SearchParams{Query: query, Type: typ, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd, blocks)
		}
		return printResult(cmd, a.tools.QueryBlocksSemantic(cmd.Context(), tools.QuerySemanticRequest{
			QueryText:  query,
			TopK:       limit,
			FilterTags: tags,
			Type:       typ,
		}))
	})
}
