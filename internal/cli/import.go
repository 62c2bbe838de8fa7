package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memory blocks from JSON",
		Long:  "Import blocks from a file or stdin. Expects the format produced by export; blocks whose ID already exists are skipped.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runImport,
	}

	cmd.Flags().String("by", "", "Author recorded for blocks without one")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	by, _ := cmd.Flags().GetString("by")

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	var blocks []*model.MemoryBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}

	return withApp(cmd, func(a *app) error {
		sum, err := a.bank.Import(cmd.Context(), blocks, by)
		if err != nil {
			return err
		}
		if err := printJSON(cmd, sum); err != nil {
			return err
		}
		if sum.Failed > 0 {
			return errFailed
		}
		return nil
	})
}
