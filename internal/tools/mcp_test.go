package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func rpc(t *testing.T, ts *Toolset, method string, params any) gjson.Result {
	t.Helper()
	srv := NewMCPServer(ts, "test")
	msg, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp := srv.HandleMessage(context.Background(), msg)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	return gjson.ParseBytes(raw)
}

func callTool(t *testing.T, ts *Toolset, name string, args map[string]any) (gjson.Result, bool) {
	t.Helper()
	resp := rpc(t, ts, "tools/call", map[string]any{"name": name, "arguments": args})
	require.False(t, resp.Get("error").Exists(), resp.Raw)
	text := resp.Get("result.content.0.text").String()
	require.True(t, gjson.Valid(text), text)
	return gjson.Parse(text), resp.Get("result.isError").Bool()
}

func TestMCPListsEveryTool(t *testing.T) {
	ts := newTestToolset(t)
	resp := rpc(t, ts, "tools/list", map[string]any{})

	var names []string
	for _, tool := range resp.Get("result.tools").Array() {
		names = append(names, tool.Get("name").String())
	}
	for _, want := range []string{
		"create_block", "get_block", "update_block", "delete_block",
		"query_blocks_semantic", "query_blocks_by_tags", "add_validation_report",
		"validate_metadata", "register_schema", "get_schema", "list_schemas",
		"add_link", "remove_link", "get_backlinks", "reindex", "build_context", "stats",
	} {
		assert.Contains(t, names, want)
	}
}

func TestMCPCreateThenQuery(t *testing.T) {
	ts := newTestToolset(t)

	created, isErr := callTool(t, ts, "create_block", map[string]any{
		"type": "knowledge",
		"text": "chromem keeps one vector per block",
		"metadata": map[string]any{
			"title":    "vector layout",
			"keywords": []any{"vector", "index"},
		},
		"tags":       []any{"design"},
		"created_by": "agent-9",
	})
	require.False(t, isErr, created.Raw)
	assert.True(t, created.Get("success").Bool())
	assert.True(t, created.Get("is_consistent").Bool())
	id := created.Get("id").String()
	require.NotEmpty(t, id)

	got, isErr := callTool(t, ts, "get_block", map[string]any{"id": id})
	require.False(t, isErr)
	assert.Equal(t, "vector layout", got.Get("block.metadata.title").String())
	assert.Equal(t, []any{"vector", "index"}, got.Get("block.metadata.keywords").Value())

	hits, _ := callTool(t, ts, "query_blocks_semantic", map[string]any{"query_text": "vector per block", "top_k": 3})
	assert.Equal(t, id, hits.Get("blocks.0.block.id").String())

	tagged, _ := callTool(t, ts, "query_blocks_by_tags", map[string]any{"tags": []any{"design"}})
	assert.Equal(t, int64(1), tagged.Get("blocks.#").Int())

	stats, _ := callTool(t, ts, "stats", nil)
	assert.Equal(t, int64(1), stats.Get("total_blocks").Int())
}

func TestMCPUpdateWithMergePatch(t *testing.T) {
	ts := newTestToolset(t)

	list := rpc(t, ts, "tools/list", map[string]any{})
	var patchType gjson.Result
	for _, tool := range list.Get("result.tools").Array() {
		if tool.Get("name").String() == "update_block" {
			patchType = tool.Get("inputSchema.properties.metadata_patch.type")
		}
	}
	assert.Equal(t, []any{"array", "object"}, patchType.Value())

	created, isErr := callTool(t, ts, "create_block", map[string]any{
		"type":     "knowledge",
		"text":     "merge patches drop keys set to null",
		"metadata": map[string]any{"title": "patching", "keywords": []any{"json"}},
	})
	require.False(t, isErr, created.Raw)
	id := created.Get("id").String()

	updated, isErr := callTool(t, ts, "update_block", map[string]any{
		"id":             id,
		"metadata_patch": map[string]any{"title": "merge patching", "keywords": nil},
		"patch_format":   "merge_patch",
	})
	require.False(t, isErr, updated.Raw)
	assert.Equal(t, "merge patching", updated.Get("updated_metadata.title").String())
	assert.False(t, updated.Get("updated_metadata.keywords").Exists())

	updated, isErr = callTool(t, ts, "update_block", map[string]any{
		"id":             id,
		"metadata_patch": []any{map[string]any{"op": "replace", "path": "/title", "value": "json patching"}},
	})
	require.False(t, isErr, updated.Raw)
	assert.Equal(t, "json patching", updated.Get("updated_metadata.title").String())
}

func TestMCPFailuresAreErrorResults(t *testing.T) {
	ts := newTestToolset(t)

	res, isErr := callTool(t, ts, "get_block", map[string]any{"id": "not-a-uuid"})
	assert.True(t, isErr)
	assert.False(t, res.Get("success").Bool())
	assert.Equal(t, "validation", res.Get("error_kind").String())

	res, isErr = callTool(t, ts, "create_block", map[string]any{"type": "task", "text": 42})
	assert.True(t, isErr)
	assert.Equal(t, "validation", res.Get("error_kind").String())

	res, isErr = callTool(t, ts, "add_validation_report", map[string]any{
		"block_id":     "00000000-0000-4000-8000-000000000000",
		"results":      []any{map[string]any{"criterion": "x", "status": "pass"}},
		"validated_by": "qa",
	})
	assert.True(t, isErr)
	assert.Equal(t, "not_found", res.Get("error_kind").String())
}
