package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage block type schemas",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List block types and their schema versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				return printResult(cmd, a.tools.ListSchemas(cmd.Context()))
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <type> [version]",
		Short: "Show a type's JSON Schema",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSchemaGet,
	}

	register := &cobra.Command{
		Use:   "register <type> <version> <json-schema|@file>",
		Short: "Register a JSON Schema for a block type",
		Long: `Register a JSON Schema (draft 2020-12) as the metadata model for a block type.
Registering an older version than the latest, or a breaking change under an existing version, fails.`,
		Args: cobra.ExactArgs(3),
		RunE: runSchemaRegister,
	}

	cmd.AddCommand(list, get, register)
	RootCmd.AddCommand(cmd)
}

func runSchemaGet(cmd *cobra.Command, args []string) error {
	req := tools.GetSchemaRequest{Type: args[0]}
	if len(args) == 2 && args[1] != "latest" {
		v, err := positiveInt("version", args[1])
		if err != nil {
			return err
		}
		req.Version = v
	}
	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.GetSchema(cmd.Context(), req))
	})
}

func runSchemaRegister(cmd *cobra.Command, args []string) error {
	version, err := positiveInt("version", args[1])
	if err != nil {
		return err
	}
	data, err := fileOrValue("schema", args[2])
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("schema: invalid JSON")
	}
	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.RegisterSchema(cmd.Context(), tools.RegisterSchemaRequest{
			Type:       args[0],
			Version:    version,
			JSONSchema: data,
		}))
	})
}

func positiveInt(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return n, nil
}
