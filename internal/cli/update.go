package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a memory block",
		Long: `Partially update a block. Only the flags given are changed.

--meta replaces the metadata object; --patch applies a JSON Patch (RFC 6902) to it,
or a JSON Merge Patch with --merge. --text-patch applies a diff-match-patch text patch.

Examples:
  memory-bank update 3f2c... --patch '[{"op":"replace","path":"/status","value":"in_progress"}]'
  memory-bank update 3f2c... --merge --patch '{"priority":"low"}' --tags backlog`,
		Args: cobra.ExactArgs(1),
		RunE: runUpdate,
	}

	cmd.Flags().String("text", "", "Replace the text")
	cmd.Flags().String("text-patch", "", "diff-match-patch patch for the text, or @file")
	cmd.Flags().String("meta", "", "Replace metadata with this JSON object, or @file")
	cmd.Flags().String("patch", "", "JSON Patch for the metadata, or @file")
	cmd.Flags().Bool("merge", false, "Treat --patch as a JSON Merge Patch")
	cmd.Flags().StringSliceP("tags", "t", nil, "Replace tags (comma-separated)")
	cmd.Flags().StringSlice("link", nil, "Replace outgoing links, as <id>:<relation>")
	cmd.Flags().String("state", "", "Lifecycle state")
	cmd.Flags().String("visibility", "", "Visibility")
	cmd.Flags().Int("version", 0, "Move the block to this schema version")
	cmd.Flags().String("by", "", "Author")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	req := tools.UpdateBlockRequest{ID: args[0]}
	req.SchemaVersion, _ = f.GetInt("version")
	req.UpdatedBy, _ = f.GetString("by")

	if f.Changed("text") {
		s, _ := f.GetString("text")
		req.Text = &s
	}
	if raw, _ := f.GetString("text-patch"); raw != "" {
		data, err := fileOrValue("text-patch", raw)
		if err != nil {
			return err
		}
		req.TextPatch = string(data)
	}
	if raw, _ := f.GetString("meta"); raw != "" {
		m, err := parseJSONFlag("meta", raw)
		if err != nil {
			return err
		}
		req.Metadata = m
	}
	if raw, _ := f.GetString("patch"); raw != "" {
		data, err := fileOrValue("patch", raw)
		if err != nil {
			return err
		}
		if !json.Valid(data) {
			return fmt.Errorf("--patch: invalid JSON")
		}
		req.MetadataPatch = data
		if merge, _ := f.GetBool("merge"); merge {
			req.PatchFormat = "merge_patch"
		}
	}
	if f.Changed("tags") {
		tags, _ := f.GetStringSlice("tags")
		req.Tags = &tags
	}
	if f.Changed("link") {
		specs, _ := f.GetStringSlice("link")
		links, err := parseLinks(specs)
		if err != nil {
			return err
		}
		req.Links = &links
	}
	if f.Changed("state") {
		s, _ := f.GetString("state")
		req.State = &s
	}
	if f.Changed("visibility") {
		s, _ := f.GetString("visibility")
		req.Visibility = &s
	}

	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.UpdateBlock(cmd.Context(), req))
	})
}

// fileOrValue returns raw, or the contents of the file when raw is "@path".
func fileOrValue(name, raw string) ([]byte, error) {
	if !strings.HasPrefix(raw, "@") {
		return []byte(raw), nil
	}
	data, err := os.ReadFile(raw[1:])
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return data, nil
}
