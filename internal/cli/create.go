package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "create [text]",
		Short: "Create a memory block",
		Long: `Create a typed memory block. Text is read from the arguments or stdin.
Metadata is a JSON object validated against the type's schema; pass @file to read it from a file.

Examples:
  memory-bank create --type task --meta '{"title":"Ship v1","status":"ready","priority":"P1","acceptance_criteria":["release tagged"]}' "Cut the release"
  cat notes.md | memory-bank create --type doc --meta '{"title":"Notes"}' --tags design,api`,
		RunE: runCreate,
	}

	cmd.Flags().String("type", "", "Block type (required)")
	cmd.Flags().Int("version", 0, "Schema version (default: latest)")
	cmd.Flags().String("meta", "", "Metadata JSON object or @file")
	cmd.Flags().StringSliceP("tags", "t", nil, "Tags (comma-separated)")
	cmd.Flags().StringSlice("link", nil, "Outgoing link as <id>:<relation> (repeatable)")
	cmd.Flags().String("state", "", "Lifecycle state")
	cmd.Flags().String("visibility", "", "Visibility")
	cmd.Flags().String("id", "", "Block ID (default: generated)")
	cmd.Flags().String("by", "", "Author")
	cmd.MarkFlagRequired("type")

	RootCmd.AddCommand(cmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	typ, _ := cmd.Flags().GetString("type")
	version, _ := cmd.Flags().GetInt("version")
	metaRaw, _ := cmd.Flags().GetString("meta")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	linkSpecs, _ := cmd.Flags().GetStringSlice("link")
	state, _ := cmd.Flags().GetString("state")
	visibility, _ := cmd.Flags().GetString("visibility")
	id, _ := cmd.Flags().GetString("id")
	by, _ := cmd.Flags().GetString("by")

	text, err := readContent(cmd, args)
	if err != nil {
		return err
	}
	meta, err := parseJSONFlag("meta", metaRaw)
	if err != nil {
		return err
	}
	links, err := parseLinks(linkSpecs)
	if err != nil {
		return err
	}

	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.CreateBlock(cmd.Context(), tools.CreateBlockRequest{
			ID:            id,
			Type:          typ,
			SchemaVersion: version,
			Text:          strings.TrimRight(text, "\n"),
			Metadata:      meta,
			Tags:          tags,
			Links:         links,
			State:         state,
			Visibility:    visibility,
			CreatedBy:     by,
		}))
	})
}

// parseLinks turns "<id>:<relation>" specs into links.
func parseLinks(specs []string) ([]model.BlockLink, error) {
	var out []model.BlockLink
	for _, s := range specs {
		to, rel, ok := strings.Cut(s, ":")
		if !ok || to == "" || rel == "" {
			return nil, fmt.Errorf("--link %q: want <id>:<relation>", s)
		}
		out = append(out, model.BlockLink{ToID: to, Relation: rel})
	}
	return out, nil
}
