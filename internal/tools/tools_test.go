package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-bank/internal/bank"
	"github.com/rcliao/memory-bank/internal/embedding"
	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/schema"
	"github.com/rcliao/memory-bank/internal/store"
	"github.com/rcliao/memory-bank/internal/vector"
)

func newTestToolset(t *testing.T) *Toolset {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tools.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx, err := vector.NewChromemIndex(embedding.NewHashEmbedder(128), vector.Options{}, nil)
	require.NoError(t, err)

	reg := schema.NewRegistry(nil)
	require.NoError(t, schema.RegisterBuiltins(reg))

	b, err := bank.New(bank.Options{Store: st, Index: idx, Registry: reg, IndexTimeout: time.Second})
	require.NoError(t, err)
	return New(b, nil)
}

func taskRequest(title, text string, tags ...string) CreateBlockRequest {
	return CreateBlockRequest{
		Type: "task",
		Text: text,
		Metadata: map[string]any{
			"title":               title,
			"status":              "in_progress",
			"acceptance_criteria": []any{"it works"},
		},
		Tags:      tags,
		CreatedBy: "agent-1",
	}
}

func mustCreate(t *testing.T, ts *Toolset, req CreateBlockRequest) string {
	t.Helper()
	res := ts.CreateBlock(context.Background(), req)
	require.True(t, res.Success, res.Error)
	require.True(t, res.IsConsistent)
	return res.ID
}

func TestCreateAndGetBlock(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)

	id := mustCreate(t, ts, taskRequest("Write parser", "parse the config file", "parser"))
	assert.NoError(t, model.ValidateBlockID(id))

	got := ts.GetBlock(ctx, GetBlockRequest{ID: id})
	require.True(t, got.Success, got.Error)
	assert.Equal(t, "task", got.Block.Type)
	assert.Equal(t, "Write parser", got.Block.Metadata["title"])
	assert.Equal(t, "agent-1", got.Block.Metadata["x_agent_id"])
	assert.Equal(t, []string{"parser"}, got.Block.Tags)
}

func TestErrorsAreStructured(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)

	tests := []struct {
		name string
		res  Result
		kind string
	}{
		{"malformed id", ts.GetBlock(ctx, GetBlockRequest{ID: "nope"}).Result, "validation"},
		{"missing block", ts.GetBlock(ctx, GetBlockRequest{ID: model.NewBlockID()}).Result, "not_found"},
		{"unknown type", ts.CreateBlock(ctx, CreateBlockRequest{Type: "spaceship", Text: "x"}).Result, "unknown_type"},
		{"stale version", ts.CreateBlock(ctx, func() CreateBlockRequest {
			r := taskRequest("t", "x")
			r.SchemaVersion = 7
			return r
		}()).Result, "version_mismatch"},
		{"empty query", ts.QueryBlocksSemantic(ctx, QuerySemanticRequest{}).Result, "validation"},
		{"no tags", ts.QueryBlocksByTags(ctx, QueryByTagsRequest{}).Result, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.res.Success)
			assert.Equal(t, tt.kind, tt.res.ErrorKind)
			assert.Contains(t, tt.res.Error, tt.kind+": ")
		})
	}
}

func TestCreateReportsFieldErrors(t *testing.T) {
	ts := newTestToolset(t)
	req := taskRequest("Empty criteria", "x")
	req.Metadata["acceptance_criteria"] = []any{}

	res := ts.CreateBlock(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.ErrorKind)
	require.NotEmpty(t, res.Fields)
	assert.Equal(t, "acceptance_criteria", res.Fields[0].Field)
}

func TestUpdateBlock(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)
	id := mustCreate(t, ts, taskRequest("Old title", "body"))

	res := ts.UpdateBlock(ctx, UpdateBlockRequest{
		ID:            id,
		MetadataPatch: json.RawMessage(`[{"op":"replace","path":"/title","value":"New title"}]`),
		UpdatedBy:     "agent-2",
	})
	require.True(t, res.Success, res.Error)
	assert.True(t, res.IsConsistent)
	assert.Equal(t, "New title", res.UpdatedMetadata["title"])

	ops := make([]string, 0, 51)
	for i := 0; i < 51; i++ {
		ops = append(ops, fmt.Sprintf(`{"op":"add","path":"/k%d","value":%d}`, i, i))
	}
	big := ts.UpdateBlock(ctx, UpdateBlockRequest{ID: id, MetadataPatch: json.RawMessage("[" + joinComma(ops) + "]")})
	assert.False(t, big.Success)
	assert.Equal(t, "patch_size", big.ErrorKind)

	got := ts.GetBlock(ctx, GetBlockRequest{ID: id})
	require.True(t, got.Success)
	assert.Equal(t, "New title", got.Block.Metadata["title"])
	assert.NotContains(t, got.Block.Metadata, "k0")
}

func joinComma(xs []string) string {
	out := ""
	for i, x := range xs {
		if i > 0 {
			out += ","
		}
		out += x
	}
	return out
}

func TestValidationReportTool(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)
	id := mustCreate(t, ts, taskRequest("Ship", "ship the release"))

	res := ts.AddValidationReport(ctx, AddValidationReportRequest{
		BlockID:     id,
		ValidatedBy: "qa",
		MarkAsDone:  true,
		Results: []schema.ValidationResult{
			{Criterion: "it works", Status: "pass"},
			{Criterion: "docs", Status: "fail"},
		},
	})
	require.True(t, res.Success, res.Error)
	assert.False(t, res.StatusUpdated)
	assert.Equal(t, &ValidationSummary{Pass: 1, Fail: 1, Total: 2}, res.ValidationSummary)

	res = ts.AddValidationReport(ctx, AddValidationReportRequest{
		BlockID:     id,
		ValidatedBy: "qa",
		MarkAsDone:  true,
		Results:     []schema.ValidationResult{{Criterion: "it works", Status: "pass"}},
	})
	require.True(t, res.Success, res.Error)
	assert.True(t, res.StatusUpdated)

	got := ts.GetBlock(ctx, GetBlockRequest{ID: id})
	assert.Equal(t, "done", got.Block.Metadata["status"])
}

func TestLinkTools(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)
	a := mustCreate(t, ts, taskRequest("A", "first"))
	b := mustCreate(t, ts, taskRequest("B", "second"))

	link := LinkRequest{FromID: a, ToID: b, Relation: "depends_on"}
	require.True(t, ts.AddLink(ctx, link).Success)
	require.True(t, ts.AddLink(ctx, link).Success)

	back := ts.GetBacklinks(ctx, BacklinksRequest{ID: b})
	require.True(t, back.Success)
	assert.Equal(t, []string{a}, back.Backlinks)

	fwd := ts.GetBacklinks(ctx, BacklinksRequest{ID: a})
	assert.Equal(t, []model.BlockLink{{ToID: b, Relation: "depends_on"}}, fwd.Forward)

	require.True(t, ts.RemoveLink(ctx, link).Success)
	require.True(t, ts.RemoveLink(ctx, link).Success)
	back = ts.GetBacklinks(ctx, BacklinksRequest{ID: b})
	assert.Empty(t, back.Backlinks)

	bad := ts.AddLink(ctx, LinkRequest{FromID: a, ToID: b, Relation: "Depends On"})
	assert.Equal(t, "validation", bad.ErrorKind)
	missing := ts.AddLink(ctx, LinkRequest{FromID: a, ToID: model.NewBlockID(), Relation: "mentions"})
	assert.Equal(t, "not_found", missing.ErrorKind)

	del := ts.DeleteBlock(ctx, DeleteBlockRequest{ID: b})
	require.True(t, del.Success, del.Error)
	assert.Equal(t, b, del.ID)
	assert.Equal(t, "not_found", ts.GetBlock(ctx, GetBlockRequest{ID: b}).ErrorKind)
}

const noteSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"mood": {"type": "string", "enum": ["calm", "busy"]}
	},
	"required": ["title"]
}`

// noteSchemaV2 makes mood required, a breaking change from noteSchema.
const noteSchemaV2 = `{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"mood": {"type": "string", "enum": ["calm", "busy"]}
	},
	"required": ["title", "mood"]
}`

func TestSchemaTools(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)

	reg := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "note", Version: 1, JSONSchema: json.RawMessage(noteSchema)})
	require.True(t, reg.Success, reg.Error)
	assert.True(t, reg.Stored)
	assert.True(t, reg.Bound)

	again := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "note", Version: 1, JSONSchema: json.RawMessage(noteSchema)})
	require.True(t, again.Success, again.Error)
	assert.False(t, again.Stored)

	got := ts.GetSchema(ctx, GetSchemaRequest{Type: "note"})
	require.True(t, got.Success, got.Error)
	assert.Equal(t, 1, got.Schema.Version)
	assert.JSONEq(t, noteSchema, string(got.Schema.JSONSchema))

	created := ts.CreateBlock(ctx, CreateBlockRequest{Type: "note", Text: "a note", Metadata: map[string]any{"title": "hello", "mood": "calm"}})
	require.True(t, created.Success, created.Error)
	rejected := ts.CreateBlock(ctx, CreateBlockRequest{Type: "note", Text: "a note", Metadata: map[string]any{"mood": "angry"}})
	assert.Equal(t, "validation", rejected.ErrorKind)

	builtin := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "task", Version: 1, JSONSchema: json.RawMessage(noteSchema)})
	require.True(t, builtin.Success, builtin.Error)
	assert.False(t, builtin.Bound)

	bumped := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "note", Version: 2, JSONSchema: json.RawMessage(noteSchemaV2)})
	require.True(t, bumped.Success, bumped.Error)
	down := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "note", Version: 1, JSONSchema: json.RawMessage(noteSchema)})
	assert.Equal(t, "schema_registry", down.ErrorKind)

	generated := ts.GetSchema(ctx, GetSchemaRequest{Type: "doc"})
	require.True(t, generated.Success, generated.Error)
	assert.True(t, generated.Bound)
	assert.Contains(t, string(generated.Schema.JSONSchema), "title")

	unknown := ts.GetSchema(ctx, GetSchemaRequest{Type: "spaceship"})
	assert.Equal(t, "unknown_type", unknown.ErrorKind)

	list := ts.ListSchemas(ctx)
	require.True(t, list.Success)
	byType := map[string]SchemaSummary{}
	for _, s := range list.Schemas {
		byType[s.Type] = s
	}
	assert.Equal(t, 2, byType["note"].LatestVersion)
	assert.Equal(t, []int{1, 2}, byType["note"].Versions)
	assert.True(t, byType["task"].Bound)
}

func TestRegisterSchemaVersionPolicy(t *testing.T) {
	const (
		widgetV1       = `{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`
		widgetOptional = `{"type":"object","properties":{"title":{"type":"string"},"note":{"type":"string"}},"required":["title"]}`
		widgetRequired = `{"type":"object","properties":{"title":{"type":"string"},"note":{"type":"string"}},"required":["title","note"]}`
	)
	tests := []struct {
		name    string
		version int
		schema  string
		success bool
	}{
		{"non-breaking bump", 2, widgetOptional, false},
		{"gap", 9, widgetRequired, false},
		{"gap with breaking change", 3, widgetRequired, false},
		{"non-breaking change in place", 1, widgetOptional, true},
		{"breaking bump", 2, widgetRequired, true},
	}

	ctx := context.Background()
	ts := newTestToolset(t)
	start := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "widget", Version: 1, JSONSchema: json.RawMessage(widgetV1)})
	require.True(t, start.Success, start.Error)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "widget", Version: tt.version, JSONSchema: json.RawMessage(tt.schema)})
			assert.Equal(t, tt.success, res.Success, res.Error)
			if !tt.success {
				assert.Equal(t, "schema_registry", res.ErrorKind)
			}
		})
	}

	list := ts.ListSchemas(ctx)
	for _, s := range list.Schemas {
		if s.Type == "widget" {
			assert.Equal(t, []int{1, 2}, s.Versions)
			assert.Equal(t, 2, s.LatestVersion)
		}
	}

	fresh := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "gadget", Version: 2, JSONSchema: json.RawMessage(widgetV1)})
	assert.Equal(t, "schema_registry", fresh.ErrorKind)

	// Builtins already sit at v1, so a breaking change goes to v2 directly.
	task := ts.RegisterSchema(ctx, RegisterSchemaRequest{Type: "task", Version: 3, JSONSchema: json.RawMessage(widgetRequired)})
	assert.Equal(t, "schema_registry", task.ErrorKind)
}

func TestValidateMetadataTool(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)

	res := ts.ValidateMetadata(ctx, ValidateMetadataRequest{Type: "doc", Metadata: map[string]any{"format": "pdf"}})
	require.True(t, res.Success)
	assert.False(t, res.Validation.Valid)
	assert.NotEmpty(t, res.Validation.Errors)

	loose := ts.ValidateMetadata(ctx, ValidateMetadataRequest{Type: "unregistered", Metadata: map[string]any{"a": 1}})
	require.True(t, loose.Success)
	assert.True(t, loose.Validation.Valid)
	assert.NotEmpty(t, loose.Validation.Warnings)
}

func TestQueryTools(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)
	parser := mustCreate(t, ts, taskRequest("Parser", "tokenize and parse the yaml config file", "go", "config"))
	mustCreate(t, ts, taskRequest("Lunch", "order sandwiches for the team offsite", "food"))

	sem := ts.QueryBlocksSemantic(ctx, QuerySemanticRequest{QueryText: "parse yaml config", TopK: 1})
	require.True(t, sem.Success, sem.Error)
	require.Len(t, sem.Blocks, 1)
	assert.Equal(t, parser, sem.Blocks[0].Block.ID)

	huge := ts.QueryBlocksSemantic(ctx, QuerySemanticRequest{QueryText: "parse yaml config", TopK: 1 << 40})
	require.True(t, huge.Success, huge.Error)
	assert.Len(t, huge.Blocks, 2)

	tags := ts.QueryBlocksByTags(ctx, QueryByTagsRequest{Tags: []string{"go", "food"}})
	require.True(t, tags.Success)
	assert.Len(t, tags.Blocks, 2)

	all := ts.QueryBlocksByTags(ctx, QueryByTagsRequest{Tags: []string{"go", "config"}, MatchAll: true})
	require.Len(t, all.Blocks, 1)
	assert.Equal(t, parser, all.Blocks[0].ID)

	cx := ts.BuildContext(ctx, ContextRequest{Query: "yaml config", Budget: 500})
	require.True(t, cx.Success, cx.Error)
	require.NotEmpty(t, cx.Blocks)
	assert.Equal(t, parser, cx.Blocks[0].ID)
}

func TestReindexAndStats(t *testing.T) {
	ctx := context.Background()
	ts := newTestToolset(t)
	id := mustCreate(t, ts, taskRequest("A", "alpha", "x"))
	mustCreate(t, ts, taskRequest("B", "beta", "x"))

	one := ts.Reindex(ctx, ReindexRequest{ID: id})
	require.True(t, one.Success, one.Error)
	assert.Equal(t, 1, one.Summary.Unchanged)

	forced := ts.Reindex(ctx, ReindexRequest{ID: id, Force: true})
	assert.Equal(t, 1, forced.Summary.Succeeded)

	tag := ts.Reindex(ctx, ReindexRequest{Tag: "x", Force: true})
	require.True(t, tag.Success)
	assert.Equal(t, 2, tag.Summary.Total)

	full := ts.Reindex(ctx, ReindexRequest{Reset: true})
	require.True(t, full.Success)
	assert.Equal(t, 2, full.Summary.Succeeded)

	gone := ts.Reindex(ctx, ReindexRequest{ID: model.NewBlockID()})
	assert.Equal(t, "not_found", gone.ErrorKind)

	st := ts.Stats(ctx)
	require.True(t, st.Success)
	assert.Equal(t, 2, st.TotalBlocks)
	assert.Equal(t, 2, st.IndexedNodes)
}
