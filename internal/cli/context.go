package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Assemble the most relevant blocks for a query",
		Long: `Build a context pack: blocks ranked by relevance to the query, linked neighbours
pulled in, and the result trimmed to a token budget.

Example:
  memory-bank context "auth token refresh" --budget 1500 --type task`,
		Args: cobra.MinimumNArgs(1),
		RunE: runContext,
	}

	cmd.Flags().Int("budget", 2000, "Token budget")
	cmd.Flags().String("type", "", "Only blocks of this type")
	cmd.Flags().StringSliceP("tags", "t", nil, "Only blocks with any of these tags")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	budget, _ := cmd.Flags().GetInt("budget")
	typ, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetStringSlice("tags")

	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.BuildContext(cmd.Context(), tools.ContextRequest{
			Query:  strings.Join(args, " "),
			Type:   typ,
			Tags:   tags,
			Budget: budget,
		}))
	})
}
