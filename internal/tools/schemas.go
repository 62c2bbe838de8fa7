package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/schema"
)

// RegisterSchemaRequest registers a JSON Schema as the metadata model of a
// block type.
type RegisterSchemaRequest struct {
	Type       string          `json:"type"`
	Version    int             `json:"version"`
	JSONSchema json.RawMessage `json:"json_schema"`
}

// RegisterSchemaResult reports what changed. Stored is false when an
// identical definition already existed; Bound is false when a compiled-in
// model of the same version keeps serving the type.
type RegisterSchemaResult struct {
	Result
	Stored bool `json:"stored"`
	Bound  bool `json:"bound"`
}

// RegisterSchema persists the definition and binds it in the registry.
// A new type starts at v1. After that only the latest version may be
// re-registered with a non-breaking change, and a breaking change must go
// to exactly the next version.
func (t *Toolset) RegisterSchema(ctx context.Context, req RegisterSchemaRequest) RegisterSchemaResult {
	fail := func(err error) RegisterSchemaResult {
		return RegisterSchemaResult{Result: t.fail("register_schema", err)}
	}
	if req.Type == "" {
		return fail(invalid("type", "type is required"))
	}
	m, err := schema.NewJSONSchemaModel(req.Type, req.Version, req.JSONSchema)
	if err != nil {
		return fail(err)
	}
	reg := t.bank.Registry()
	latest, prev, err := t.latestSchema(ctx, req.Type)
	if err != nil {
		return fail(err)
	}
	if err := schema.CheckVersion(req.Type, latest, prev, req.Version, req.JSONSchema); err != nil {
		return fail(err)
	}

	stored, err := t.bank.Store().RegisterSchema(ctx, model.SchemaRecord{
		NodeType:   req.Type,
		Version:    req.Version,
		JSONSchema: req.JSONSchema,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fail(err)
	}

	bound := true
	if cur, v, err := reg.Resolve(req.Type, schema.Latest); err == nil && v == req.Version {
		if _, runtime := cur.(*schema.JSONSchemaModel); !runtime {
			bound = false
		}
	}
	if bound {
		if err := reg.Register(m); err != nil {
			return fail(err)
		}
	}
	t.log.Info("schema registered", "type", req.Type, "version", req.Version, "stored", stored, "bound", bound)
	return RegisterSchemaResult{Result: ok(), Stored: stored, Bound: bound}
}

// latestSchema returns the highest version known for typ, from the registry
// or the store, and the schema stored or generated for it. The schema is nil
// when neither side can supply it.
func (t *Toolset) latestSchema(ctx context.Context, typ string) (int, []byte, error) {
	latest := t.bank.Registry().LatestVersion(typ)
	rec, err := t.bank.Store().GetSchema(ctx, typ, 0)
	switch {
	case errors.Is(err, model.ErrNotFound):
		rec = nil
	case err != nil:
		return 0, nil, err
	}
	if rec != nil && rec.Version >= latest {
		return rec.Version, rec.JSONSchema, nil
	}
	if m, v, err := t.bank.Registry().Resolve(typ, schema.Latest); err == nil && v == latest {
		if js, err := m.JSONSchema(); err == nil {
			return latest, js, nil
		}
	}
	return latest, nil, nil
}

// GetSchemaRequest selects a schema. Version 0 means latest.
type GetSchemaRequest struct {
	Type    string `json:"type"`
	Version int    `json:"version,omitempty"`
}

// SchemaResult carries one schema definition.
type SchemaResult struct {
	Result
	Schema *model.SchemaRecord `json:"schema,omitempty"`
	Bound  bool                `json:"bound"`
}

// GetSchema returns a stored schema, falling back to the bound model's
// generated schema when nothing has been persisted yet.
func (t *Toolset) GetSchema(ctx context.Context, req GetSchemaRequest) SchemaResult {
	if req.Type == "" {
		return SchemaResult{Result: t.fail("get_schema", invalid("type", "type is required"))}
	}
	reg := t.bank.Registry()
	m, latest, rerr := reg.Resolve(req.Type, schema.Latest)
	bound := rerr == nil && (req.Version == 0 || req.Version == latest)

	rec, err := t.bank.Store().GetSchema(ctx, req.Type, req.Version)
	if errors.Is(err, model.ErrNotFound) && bound {
		js, gerr := m.JSONSchema()
		if gerr != nil {
			return SchemaResult{Result: t.fail("get_schema", gerr)}
		}
		rec, err = &model.SchemaRecord{NodeType: req.Type, Version: latest, JSONSchema: js}, nil
	}
	if err != nil {
		if errors.Is(err, model.ErrNotFound) && reg.LatestVersion(req.Type) == 0 {
			err = fmt.Errorf("schema %s: %w", req.Type, model.ErrUnknownType)
		}
		return SchemaResult{Result: t.fail("get_schema", err)}
	}
	return SchemaResult{Result: ok(), Schema: rec, Bound: bound}
}

// SchemaSummary describes one block type.
type SchemaSummary struct {
	Type          string `json:"type"`
	LatestVersion int    `json:"latest_version"`
	Versions      []int  `json:"stored_versions,omitempty"`
	Bound         bool   `json:"bound"`
}

// SchemasResult lists block types.
type SchemasResult struct {
	Result
	Schemas []SchemaSummary `json:"schemas"`
}

// ListSchemas lists every known type with its stored versions.
func (t *Toolset) ListSchemas(ctx context.Context) SchemasResult {
	recs, err := t.bank.Store().ListSchemas(ctx)
	if err != nil {
		return SchemasResult{Result: t.fail("list_schemas", err), Schemas: []SchemaSummary{}}
	}
	stored := map[string][]int{}
	for _, r := range recs {
		stored[r.NodeType] = append(stored[r.NodeType], r.Version)
	}
	reg := t.bank.Registry()
	out := []SchemaSummary{}
	for _, typ := range reg.Types() {
		_, _, rerr := reg.Resolve(typ, schema.Latest)
		out = append(out, SchemaSummary{
			Type:          typ,
			LatestVersion: reg.LatestVersion(typ),
			Versions:      stored[typ],
			Bound:         rerr == nil,
		})
	}
	return SchemasResult{Result: ok(), Schemas: out}
}
