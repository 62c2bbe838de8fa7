package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rcliao/memory-bank/internal/model"
)

func TestRegisterSchema(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v1 := model.SchemaRecord{
		NodeType:   "note",
		Version:    1,
		JSONSchema: []byte(`{"type":"object","properties":{"title":{"type":"string"}},"x-generated-at":"2026-01-01T00:00:00Z"}`),
	}
	created, err := s.RegisterSchema(ctx, v1)
	if err != nil || !created {
		t.Fatalf("first register: created=%v err=%v", created, err)
	}

	same := v1
	same.JSONSchema = []byte(`{"x-generated-at":"2026-02-02T00:00:00Z","properties":{"title":{"type":"string"}},"type":"object"}`)
	created, err = s.RegisterSchema(ctx, same)
	if err != nil || created {
		t.Fatalf("identical register should be a no-op: created=%v err=%v", created, err)
	}

	optional := v1
	optional.JSONSchema = []byte(`{"type":"object","properties":{"title":{"type":"string"},"color":{"type":"string"}}}`)
	created, err = s.RegisterSchema(ctx, optional)
	if err != nil || !created {
		t.Fatalf("non-breaking change should replace: created=%v err=%v", created, err)
	}

	breaking := v1
	breaking.JSONSchema = []byte(`{"type":"object","properties":{"title":{"type":"string"},"color":{"type":"string"}},"required":["title"]}`)
	_, err = s.RegisterSchema(ctx, breaking)
	if !errors.Is(err, model.ErrBreakingChange) {
		t.Fatalf("expected breaking change error, got %v", err)
	}

	breaking.Version = 2
	if _, err := s.RegisterSchema(ctx, breaking); err != nil {
		t.Fatalf("register v2: %v", err)
	}

	latest, err := s.GetSchema(ctx, "note", 0)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.Version != 2 {
		t.Errorf("expected v2, got v%d", latest.Version)
	}
	first, _ := s.GetSchema(ctx, "note", 1)
	if string(first.JSONSchema) != string(optional.JSONSchema) {
		t.Errorf("expected v1 to hold the replaced schema, got %s", first.JSONSchema)
	}

	all, _ := s.ListSchemas(ctx)
	if len(all) != 2 {
		t.Errorf("expected 2 records, got %d", len(all))
	}
}

func TestRegisterSchemaRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RegisterSchema(context.Background(), model.SchemaRecord{NodeType: "x", Version: 1, JSONSchema: []byte(`{`)})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = s.GetSchema(context.Background(), "missing", 0)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegisterSchemaVersionPolicy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := []byte(`{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`)
	optional := []byte(`{"type":"object","properties":{"title":{"type":"string"},"note":{"type":"string"}},"required":["title"]}`)
	required := []byte(`{"type":"object","properties":{"title":{"type":"string"},"note":{"type":"string"}},"required":["title","note"]}`)

	if _, err := s.RegisterSchema(ctx, model.SchemaRecord{NodeType: "widget", Version: 1, JSONSchema: base}); err != nil {
		t.Fatalf("register v1: %v", err)
	}

	tests := []struct {
		name    string
		version int
		schema  []byte
		want    error
	}{
		{"gap", 9, required, model.ErrVersionGap},
		{"non-breaking bump", 2, optional, model.ErrNeedlessBump},
		{"breaking bump", 2, required, nil},
	}
	for _, tt := range tests {
		_, err := s.RegisterSchema(ctx, model.SchemaRecord{NodeType: "widget", Version: tt.version, JSONSchema: tt.schema})
		if tt.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}

	all, _ := s.ListSchemas(ctx)
	if len(all) != 2 {
		t.Errorf("expected v1 and v2 only, got %d records", len(all))
	}
}
