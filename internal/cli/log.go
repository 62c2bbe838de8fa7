package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the commit history",
		Args:  cobra.NoArgs,
		RunE:  runLog,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max commits")
	cmd.Flags().Bool("json", false, "Output JSON")

	RootCmd.AddCommand(cmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	return withApp(cmd, func(a *app) error {
		commits, err := a.store.Commits(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, commits)
		}
		out := cmd.OutOrStdout()
		for _, c := range commits {
			fmt.Fprintf(out, "%s  %s  %-10s %s\n", c.ID, c.CreatedAt.Format("2006-01-02 15:04:05"), c.Author, c.Message)
		}
		return nil
	})
}
