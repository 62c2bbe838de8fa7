package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/schema"
)

// RegisterSchema stores a schema definition under (node_type, version).
// Re-registering an equivalent definition is a no-op and reports false. A
// different definition replaces the stored one only when the change is not
// breaking; a breaking change needs a new version. A new version must be the
// next one after the highest stored and must carry a breaking change.
func (s *SQLiteStore) RegisterSchema(ctx context.Context, rec model.SchemaRecord) (bool, error) {
	if rec.NodeType == "" || rec.Version < 1 {
		return false, &model.ValidationError{Type: rec.NodeType, Reason: "schema needs a node type and a version >= 1"}
	}
	if !json.Valid(rec.JSONSchema) {
		return false, &model.ValidationError{Type: rec.NodeType, Reason: "json_schema is not valid JSON"}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, persistErr("begin", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT json_schema FROM node_schemas WHERE node_type = ? AND schema_version = ?`,
		rec.NodeType, rec.Version).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := checkNextVersion(ctx, tx, rec); err != nil {
			return false, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO node_schemas (node_type, schema_version, json_schema, created_at) VALUES (?, ?, ?, ?)`,
			rec.NodeType, rec.Version, string(rec.JSONSchema), rec.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return false, persistErr("insert schema", err)
		}
	case err != nil:
		return false, persistErr("read schema", err)
	default:
		if schema.Equivalent([]byte(current), rec.JSONSchema) {
			return false, nil
		}
		if breaking, reasons := schema.IsBreaking([]byte(current), rec.JSONSchema); breaking {
			return false, fmt.Errorf("schema %s v%d: %s: %w", rec.NodeType, rec.Version, strings.Join(reasons, "; "), model.ErrBreakingChange)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE node_schemas SET json_schema = ? WHERE node_type = ? AND schema_version = ?`,
			string(rec.JSONSchema), rec.NodeType, rec.Version)
		if err != nil {
			return false, persistErr("update schema", err)
		}
	}

	if _, err := s.appendCommit(ctx, tx, fmt.Sprintf("schema %s v%d", rec.NodeType, rec.Version), "", ""); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, persistErr("commit", err)
	}
	return true, nil
}

// checkNextVersion enforces the versioning policy for a version not stored
// yet. A type without stored history may start at any version, since its
// compiled model can already be past v1.
func checkNextVersion(ctx context.Context, q querier, rec model.SchemaRecord) error {
	var (
		latest int
		prev   string
	)
	err := q.QueryRowContext(ctx,
		`SELECT schema_version, json_schema FROM node_schemas WHERE node_type = ?
		 ORDER BY schema_version DESC LIMIT 1`, rec.NodeType).Scan(&latest, &prev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return persistErr("read latest schema", err)
	}
	return schema.CheckVersion(rec.NodeType, latest, []byte(prev), rec.Version, rec.JSONSchema)
}

// GetSchema returns the stored definition for nodeType. version 0 selects
// the highest stored version.
func (s *SQLiteStore) GetSchema(ctx context.Context, nodeType string, version int) (*model.SchemaRecord, error) {
	query := `SELECT node_type, schema_version, json_schema, created_at FROM node_schemas WHERE node_type = ?`
	args := []any{nodeType}
	if version > 0 {
		query += ` AND schema_version = ?`
		args = append(args, version)
	}
	query += ` ORDER BY schema_version DESC LIMIT 1`

	rec, err := scanSchema(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		if version > 0 {
			return nil, fmt.Errorf("schema %s v%d: %w", nodeType, version, model.ErrNotFound)
		}
		return nil, fmt.Errorf("schema %s: %w", nodeType, model.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("read schema", err)
	}
	return rec, nil
}

// ListSchemas returns every stored definition ordered by type and version.
func (s *SQLiteStore) ListSchemas(ctx context.Context) ([]model.SchemaRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_type, schema_version, json_schema, created_at FROM node_schemas
		 ORDER BY node_type, schema_version`)
	if err != nil {
		return nil, persistErr("list schemas", err)
	}
	defer rows.Close()

	var out []model.SchemaRecord
	for rows.Next() {
		rec, err := scanSchema(rows)
		if err != nil {
			return nil, persistErr("scan schema", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanSchema(row scanner) (*model.SchemaRecord, error) {
	var rec model.SchemaRecord
	var js, createdAt string
	if err := row.Scan(&rec.NodeType, &rec.Version, &js, &createdAt); err != nil {
		return nil, err
	}
	rec.JSONSchema = json.RawMessage(js)
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &rec, nil
}
