package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rcliao/memory-bank/internal/model"
)

// ServerName identifies the MCP server to clients.
const ServerName = "memory-bank"

const instructions = `Structured memory bank. Blocks are typed (task, project, epic, bug, doc, knowledge, log, or runtime-registered types) and carry validated metadata, tags and typed links.
Every tool returns JSON with "success"; on failure "error" and "error_kind" explain why. "is_consistent": false means the write is durable but semantic search may lag until reindex.`

// NewMCPServer registers every tool of t on a new MCP server.
func NewMCPServer(t *Toolset, version string) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.AddTool(buildCreateBlockTool(), handle(t.CreateBlock))
	s.AddTool(buildGetBlockTool(), handle(t.GetBlock))
	s.AddTool(buildUpdateBlockTool(), handle(t.UpdateBlock))
	s.AddTool(buildDeleteBlockTool(), handle(t.DeleteBlock))
	s.AddTool(buildQuerySemanticTool(), handle(t.QueryBlocksSemantic))
	s.AddTool(buildQueryByTagsTool(), handle(t.QueryBlocksByTags))
	s.AddTool(buildValidationReportTool(), handle(t.AddValidationReport))
	s.AddTool(buildValidateMetadataTool(), handle(t.ValidateMetadata))
	s.AddTool(buildRegisterSchemaTool(), handle(t.RegisterSchema))
	s.AddTool(buildGetSchemaTool(), handle(t.GetSchema))
	s.AddTool(buildListSchemasTool(), handle(func(ctx context.Context, _ struct{}) SchemasResult { return t.ListSchemas(ctx) }))
	s.AddTool(buildLinkTool("add_link", "Adds a typed link from one block to another. Adding an existing link succeeds."), handle(t.AddLink))
	s.AddTool(buildLinkTool("remove_link", "Removes a typed link. Removing a link that does not exist succeeds."), handle(t.RemoveLink))
	s.AddTool(buildBacklinksTool(), handle(t.GetBacklinks))
	s.AddTool(buildReindexTool(), handle(t.Reindex))
	s.AddTool(buildContextTool(), handle(t.BuildContext))
	s.AddTool(buildStatsTool(), handle(func(ctx context.Context, _ struct{}) StatsResult { return t.Stats(ctx) }))
	return s
}

type reporter interface {
	OK() bool
}

// handle adapts a typed tool to an MCP handler. Arguments are bound onto the
// request struct; the result is returned as JSON text, flagged as an error
// result when the call failed.
func handle[Req any, Res reporter](call func(context.Context, Req) Res) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in Req
		if err := req.BindArguments(&in); err != nil {
			ve := &model.ValidationError{Reason: "arguments do not match the tool schema: " + err.Error()}
			return jsonResult(Result{Error: "validation: " + ve.Error(), ErrorKind: "validation"}, true)
		}
		out := call(ctx, in)
		return jsonResult(out, !out.OK())
	}
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error()), nil
	}
	res := mcp.NewToolResultText(string(b))
	res.IsError = isError
	return res, nil
}

// ---------------------------------------------------------------------------
// Tool builders
// ---------------------------------------------------------------------------

var linkItem = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"to_id":    map[string]any{"type": "string", "description": "Target block UUID"},
		"relation": map[string]any{"type": "string", "description": "lower_snake_case relation, e.g. depends_on, subtask_of, related_to"},
	},
	"required": []string{"to_id", "relation"},
}

var stringItem = map[string]any{"type": "string"}

// withMetadataPatch declares metadata_patch, which is an array for a JSON
// Patch and an object for a merge patch.
func withMetadataPatch() mcp.ToolOption {
	return func(t *mcp.Tool) {
		t.InputSchema.Properties["metadata_patch"] = map[string]any{
			"type":        []string{"array", "object"},
			"description": `RFC 6902 operations, e.g. [{"op":"replace","path":"/title","value":"x"}], or with patch_format "merge_patch" an RFC 7396 object, e.g. {"title":"x","obsolete":null}`,
		}
	}
}

func buildCreateBlockTool() mcp.Tool {
	return mcp.NewTool(
		"create_block",
		mcp.WithDescription("Creates a memory block. Metadata is validated against the type's schema; system fields x_agent_id and x_timestamp are filled in when missing."),
		mcp.WithString("type", mcp.Description("Block type, e.g. task, doc, knowledge"), mcp.Required()),
		mcp.WithString("text", mcp.Description("Free-form body text")),
		mcp.WithObject("metadata", mcp.Description("Type-specific metadata")),
		mcp.WithArray("tags", mcp.Description("Tags"), mcp.Items(stringItem)),
		mcp.WithArray("links", mcp.Description("Outgoing links"), mcp.Items(linkItem)),
		mcp.WithString("created_by", mcp.Description("Agent or user creating the block")),
		mcp.WithString("state", mcp.Enum("draft", "published", "archived")),
		mcp.WithString("visibility", mcp.Enum("internal", "public", "restricted")),
		mcp.WithNumber("schema_version", mcp.Description("Schema version to validate against; omit for latest")),
	)
}

func buildGetBlockTool() mcp.Tool {
	return mcp.NewTool(
		"get_block",
		mcp.WithDescription("Reads one block with its metadata and links."),
		mcp.WithString("id", mcp.Description("Block UUID"), mcp.Required()),
	)
}

func buildUpdateBlockTool() mcp.Tool {
	return mcp.NewTool(
		"update_block",
		mcp.WithDescription("Updates a block. Omitted fields are unchanged. metadata replaces the whole mapping; metadata_patch is an RFC 6902 patch (max 50 operations) or a merge patch; text_patch is a diff-match-patch patch (max 1000 lines)."),
		mcp.WithString("id", mcp.Description("Block UUID"), mcp.Required()),
		mcp.WithString("text", mcp.Description("Replacement text")),
		mcp.WithString("text_patch", mcp.Description("Patch for the text, exclusive with text")),
		mcp.WithObject("metadata", mcp.Description("Replacement metadata")),
		withMetadataPatch(),
		mcp.WithString("patch_format", mcp.Enum("json_patch", "merge_patch")),
		mcp.WithArray("tags", mcp.Description("Replacement tags"), mcp.Items(stringItem)),
		mcp.WithArray("links", mcp.Description("Replacement outgoing links"), mcp.Items(linkItem)),
		mcp.WithString("state", mcp.Enum("draft", "published", "archived")),
		mcp.WithString("visibility", mcp.Enum("internal", "public", "restricted")),
		mcp.WithString("updated_by", mcp.Description("Author recorded in the commit log")),
	)
}

func buildDeleteBlockTool() mcp.Tool {
	return mcp.NewTool(
		"delete_block",
		mcp.WithDescription("Deletes a block. A block other blocks link to needs force, which also removes those links."),
		mcp.WithString("id", mcp.Description("Block UUID"), mcp.Required()),
		mcp.WithBoolean("force", mcp.Description("Remove incoming links too")),
	)
}

func buildQuerySemanticTool() mcp.Tool {
	return mcp.NewTool(
		"query_blocks_semantic",
		mcp.WithDescription("Finds blocks similar in meaning to the query text."),
		mcp.WithString("query_text", mcp.Description("Natural language query"), mcp.Required()),
		mcp.WithNumber("top_k", mcp.Description("Maximum results (default 10)")),
		mcp.WithArray("filter_tags", mcp.Description("Keep blocks carrying any of these tags"), mcp.Items(stringItem)),
		mcp.WithString("type", mcp.Description("Keep blocks of this type")),
	)
}

func buildQueryByTagsTool() mcp.Tool {
	return mcp.NewTool(
		"query_blocks_by_tags",
		mcp.WithDescription("Lists blocks carrying the given tags, newest first."),
		mcp.WithArray("tags", mcp.Description("Tags to match"), mcp.Items(stringItem), mcp.Required()),
		mcp.WithBoolean("match_all", mcp.Description("Require every tag instead of any")),
	)
}

func buildValidationReportTool() mcp.Tool {
	return mcp.NewTool(
		"add_validation_report",
		mcp.WithDescription("Records acceptance-criteria results on a block. The block becomes done only with mark_as_done and zero failing results."),
		mcp.WithString("block_id", mcp.Description("Block UUID"), mcp.Required()),
		mcp.WithArray("results", mcp.Required(), mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"criterion": map[string]any{"type": "string"},
				"status":    map[string]any{"type": "string", "enum": []string{"pass", "fail"}},
				"notes":     map[string]any{"type": "string"},
			},
			"required": []string{"criterion", "status"},
		})),
		mcp.WithString("validated_by", mcp.Description("Who checked the criteria"), mcp.Required()),
		mcp.WithBoolean("mark_as_done", mcp.Description("Move the block to done if everything passed")),
	)
}

func buildValidateMetadataTool() mcp.Tool {
	return mcp.NewTool(
		"validate_metadata",
		mcp.WithDescription("Checks metadata against a type's schema without storing anything."),
		mcp.WithString("type", mcp.Required()),
		mcp.WithObject("metadata", mcp.Required()),
	)
}

func buildRegisterSchemaTool() mcp.Tool {
	return mcp.NewTool(
		"register_schema",
		mcp.WithDescription("Registers a JSON Schema for a block type. A breaking change needs a new version."),
		mcp.WithString("type", mcp.Required()),
		mcp.WithNumber("version", mcp.Required(), mcp.Min(1)),
		mcp.WithObject("json_schema", mcp.Description("JSON Schema document for the metadata"), mcp.Required()),
	)
}

func buildGetSchemaTool() mcp.Tool {
	return mcp.NewTool(
		"get_schema",
		mcp.WithDescription("Returns the JSON Schema of a block type."),
		mcp.WithString("type", mcp.Required()),
		mcp.WithNumber("version", mcp.Description("Omit for latest")),
	)
}

func buildListSchemasTool() mcp.Tool {
	return mcp.NewTool(
		"list_schemas",
		mcp.WithDescription("Lists block types with their latest and stored schema versions."),
	)
}

func buildLinkTool(name, desc string) mcp.Tool {
	return mcp.NewTool(
		name,
		mcp.WithDescription(desc),
		mcp.WithString("from_id", mcp.Description("Source block UUID"), mcp.Required()),
		mcp.WithString("to_id", mcp.Description("Target block UUID"), mcp.Required()),
		mcp.WithString("relation", mcp.Description("lower_snake_case relation"), mcp.Required()),
	)
}

func buildBacklinksTool() mcp.Tool {
	return mcp.NewTool(
		"get_backlinks",
		mcp.WithDescription("Lists the blocks linking to a block, and the block's own outgoing links."),
		mcp.WithString("id", mcp.Description("Block UUID"), mcp.Required()),
	)
}

func buildReindexTool() mcp.Tool {
	return mcp.NewTool(
		"reindex",
		mcp.WithDescription("Rebuilds semantic index entries from the structured store: one block, a tag, the inconsistent blocks, or everything."),
		mcp.WithString("id", mcp.Description("Rebuild only this block")),
		mcp.WithString("tag", mcp.Description("Rebuild blocks carrying this tag")),
		mcp.WithBoolean("inconsistent_only", mcp.Description("Retry blocks flagged inconsistent")),
		mcp.WithBoolean("force", mcp.Description("Re-embed even unchanged blocks")),
		mcp.WithBoolean("reset", mcp.Description("Empty the index before a full rebuild")),
	)
}

func buildContextTool() mcp.Tool {
	return mcp.NewTool(
		"build_context",
		mcp.WithDescription("Returns the blocks most relevant to a query, packed into a token budget."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithString("type"),
		mcp.WithArray("tags", mcp.Items(stringItem)),
		mcp.WithNumber("budget", mcp.Description("Token budget (default 4000)")),
	)
}

func buildStatsTool() mcp.Tool {
	return mcp.NewTool(
		"stats",
		mcp.WithDescription("Reports block, link, schema and index totals."),
	)
}
