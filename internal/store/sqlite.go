package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memory-bank/internal/model"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	branch string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// Commits are recorded on branch (DefaultBranch when empty).
func NewSQLiteStore(dbPath, branch string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if branch == "" {
		branch = DefaultBranch
	}
	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		branch:  branch,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Branch returns the branch commits are recorded on.
func (s *SQLiteStore) Branch() string { return s.branch }

func (s *SQLiteStore) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocks (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		text           TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL DEFAULT 'draft',
		visibility     TEXT NOT NULL DEFAULT 'internal',
		tags           TEXT NOT NULL DEFAULT '[]',
		links          TEXT NOT NULL DEFAULT '[]',
		confidence     TEXT,
		created_by     TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		schema_version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocks_type ON blocks(type);
	CREATE INDEX IF NOT EXISTS idx_blocks_updated ON blocks(updated_at DESC);

	CREATE TABLE IF NOT EXISTS block_properties (
		block_id              TEXT NOT NULL REFERENCES blocks(id) ON DELETE CASCADE,
		property_name         TEXT NOT NULL,
		property_type         TEXT NOT NULL CHECK (property_type IN ('text','number','bool','json','date','select','multi_select')),
		property_value_text   TEXT,
		property_value_number REAL,
		property_value_json   TEXT,
		is_computed           INTEGER NOT NULL DEFAULT 0,
		created_at            TEXT NOT NULL,
		updated_at            TEXT NOT NULL,
		UNIQUE (block_id, property_name),
		CHECK ((property_value_text IS NOT NULL)
		     + (property_value_number IS NOT NULL)
		     + (property_value_json IS NOT NULL) = 1)
	);
	CREATE INDEX IF NOT EXISTS idx_properties_name ON block_properties(property_name);

	CREATE TABLE IF NOT EXISTS block_links (
		from_id    TEXT NOT NULL REFERENCES blocks(id) ON DELETE CASCADE,
		to_id      TEXT NOT NULL,
		relation   TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, relation)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON block_links(to_id);

	CREATE TABLE IF NOT EXISTS node_schemas (
		node_type      TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		json_schema    TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		UNIQUE (node_type, schema_version)
	);

	CREATE TABLE IF NOT EXISTS store_commits (
		id         TEXT PRIMARY KEY,
		branch     TEXT NOT NULL,
		message    TEXT NOT NULL,
		author     TEXT,
		block_id   TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_commits_branch ON store_commits(branch, id);

	CREATE TABLE IF NOT EXISTS index_state (
		block_id     TEXT PRIMARY KEY,
		content_hash TEXT,
		consistent   INTEGER NOT NULL DEFAULT 1,
		last_error   TEXT,
		indexed_at   TEXT
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS blocks_fts USING fts5(
		text,
		content=blocks,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers keep the text index in step with the blocks table.
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS blocks_ai AFTER INSERT ON blocks BEGIN
			INSERT INTO blocks_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS blocks_ad AFTER DELETE ON blocks BEGIN
			INSERT INTO blocks_fts(blocks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS blocks_au AFTER UPDATE OF text ON blocks BEGIN
			INSERT INTO blocks_fts(blocks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
			INSERT INTO blocks_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
	}
	for _, t := range triggers {
		if _, err := s.db.Exec(t); err != nil {
			return err
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}

func (s *SQLiteStore) CreateBlock(ctx context.Context, w WriteParams) (*model.Commit, error) {
	b := w.Block
	if b == nil || b.ID == "" {
		return nil, fmt.Errorf("create block: missing block: %w", model.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin", err)
	}
	defer tx.Rollback()

	if err := insertBlock(ctx, tx, b); err != nil {
		return nil, err
	}
	if err := insertProperties(ctx, tx, b.ID, w.Properties, nil); err != nil {
		return nil, err
	}
	if err := insertLinks(ctx, tx, b.ID, b.Links, b.UpdatedAt); err != nil {
		return nil, err
	}

	msg := w.Message
	if msg == "" {
		msg = fmt.Sprintf("create %s %s", b.Type, b.ID)
	}
	c, err := s.appendCommit(ctx, tx, msg, w.Author, b.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit", err)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateBlock(ctx context.Context, w WriteParams) (*model.Commit, error) {
	b := w.Block
	if b == nil || b.ID == "" {
		return nil, fmt.Errorf("update block: missing block: %w", model.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin", err)
	}
	defer tx.Rollback()

	tags, links, conf, err := encodeBlockJSON(b)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE blocks SET type = ?, text = ?, state = ?, visibility = ?, tags = ?, links = ?,
		        confidence = ?, created_by = ?, updated_at = ?, schema_version = ?
		 WHERE id = ?`,
		b.Type, b.Text, b.State, b.Visibility, tags, links, derefString(conf), nullString(b.CreatedBy),
		b.UpdatedAt.UTC().Format(timeLayout), b.SchemaVersion, b.ID)
	if err != nil {
		return nil, persistErr("update block", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("block %s: %w", b.ID, model.ErrNotFound)
	}

	// Properties keep their original created_at across rewrites.
	created := map[string]string{}
	rows, err := tx.QueryContext(ctx, `SELECT property_name, created_at FROM block_properties WHERE block_id = ?`, b.ID)
	if err != nil {
		return nil, persistErr("read properties", err)
	}
	for rows.Next() {
		var name, at string
		if err := rows.Scan(&name, &at); err != nil {
			rows.Close()
			return nil, persistErr("read properties", err)
		}
		created[name] = at
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM block_properties WHERE block_id = ?`, b.ID); err != nil {
		return nil, persistErr("clear properties", err)
	}
	if err := insertProperties(ctx, tx, b.ID, w.Properties, created); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM block_links WHERE from_id = ?`, b.ID); err != nil {
		return nil, persistErr("clear links", err)
	}
	if err := insertLinks(ctx, tx, b.ID, b.Links, b.UpdatedAt); err != nil {
		return nil, err
	}

	msg := w.Message
	if msg == "" {
		msg = fmt.Sprintf("update %s %s", b.Type, b.ID)
	}
	c, err := s.appendCommit(ctx, tx, msg, w.Author, b.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit", err)
	}
	return c, nil
}

func (s *SQLiteStore) DeleteBlock(ctx context.Context, p DeleteParams) (*model.Commit, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, persistErr("begin", err)
	}
	defer tx.Rollback()

	var typ string
	err = tx.QueryRowContext(ctx, `SELECT type FROM blocks WHERE id = ?`, p.ID).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("block %s: %w", p.ID, model.ErrNotFound)
	}
	if err != nil {
		return nil, nil, persistErr("read block", err)
	}

	// A self link never blocks deletion.
	sources, err := backlinks(ctx, tx, p.ID, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(sources) > 0 && !p.Force {
		return nil, nil, fmt.Errorf("block %s is linked from %s: %w", p.ID, strings.Join(sources, ", "), model.ErrConstraint)
	}

	now := time.Now().UTC()
	if len(sources) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM block_links WHERE to_id = ? AND from_id != ?`, p.ID, p.ID); err != nil {
			return nil, nil, persistErr("drop incoming links", err)
		}
		for _, src := range sources {
			links, err := embeddedLinks(ctx, tx, src)
			if err != nil {
				return nil, nil, err
			}
			kept := links[:0]
			for _, l := range links {
				if l.ToID != p.ID {
					kept = append(kept, l)
				}
			}
			if err := setEmbeddedLinks(ctx, tx, src, kept, now); err != nil {
				return nil, nil, err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE id = ?`, p.ID); err != nil {
		return nil, nil, persistErr("delete block", err)
	}

	c, err := s.appendCommit(ctx, tx, fmt.Sprintf("delete %s %s", typ, p.ID), p.Author, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, persistErr("commit", err)
	}
	return c, sources, nil
}

func (s *SQLiteStore) GetBlock(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks b WHERE b.id = ?`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("read block", err)
	}
	props, err := loadProperties(ctx, s.db, []string{id})
	if err != nil {
		return nil, err
	}
	return &Record{Block: b, Properties: props[id]}, nil
}

func (s *SQLiteStore) ListBlocks(ctx context.Context, p ListParams) ([]Record, error) {
	var where []string
	var args []any

	if p.Type != "" {
		where = append(where, "b.type = ?")
		args = append(args, p.Type)
	}
	if p.State != "" {
		where = append(where, "b.state = ?")
		args = append(args, p.State)
	}
	if tags := model.NormalizeTags(p.Tags); len(tags) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
		if p.AllTag {
			where = append(where, `(SELECT COUNT(DISTINCT t.value) FROM json_each(b.tags) t WHERE t.value IN (`+marks+`)) = ?`)
		} else {
			where = append(where, `EXISTS (SELECT 1 FROM json_each(b.tags) t WHERE t.value IN (`+marks+`))`)
		}
		for _, t := range tags {
			args = append(args, t)
		}
		if p.AllTag {
			args = append(args, len(tags))
		}
	}

	query := `SELECT ` + blockColumns + ` FROM blocks b`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY b.updated_at DESC, b.id LIMIT ? OFFSET ?`
	args = append(args, limit, p.Offset)

	return s.queryRecords(ctx, query, args...)
}

func (s *SQLiteStore) BlockIDs(ctx context.Context, tag string) ([]string, error) {
	query := `SELECT b.id FROM blocks b`
	var args []any
	if tag != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM json_each(b.tags) t WHERE t.value = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY b.created_at, b.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list block ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("list block ids", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, s.db, id)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func exists(ctx context.Context, q querier, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE id = ?`, id).Scan(&n); err != nil {
		return false, persistErr("check block", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query blocks", err)
	}
	var blocks []*model.MemoryBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			rows.Close()
			return nil, persistErr("scan block", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, persistErr("query blocks", err)
	}
	rows.Close()

	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	props, err := loadProperties(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(blocks))
	for i, b := range blocks {
		out[i] = Record{Block: b, Properties: props[b.ID]}
	}
	return out, nil
}

func insertBlock(ctx context.Context, q querier, b *model.MemoryBlock) error {
	tags, links, conf, err := encodeBlockJSON(b)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO blocks (id, type, text, state, visibility, tags, links, confidence, created_by, created_at, updated_at, schema_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Type, b.Text, b.State, b.Visibility, tags, links, derefString(conf), nullString(b.CreatedBy),
		b.CreatedAt.UTC().Format(timeLayout), b.UpdatedAt.UTC().Format(timeLayout), b.SchemaVersion)
	if err != nil {
		return persistErr("insert block", err)
	}
	return nil
}

// insertProperties writes rows for blockID. created maps property names to a
// created_at to preserve; rows not in it use their own timestamps.
func insertProperties(ctx context.Context, q querier, blockID string, props []model.BlockProperty, created map[string]string) error {
	now := time.Now().UTC()
	for _, p := range props {
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		createdStr := createdAt.UTC().Format(timeLayout)
		if at, ok := created[p.Name]; ok {
			createdStr = at
		}
		updatedAt := p.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO block_properties (block_id, property_name, property_type,
			        property_value_text, property_value_number, property_value_json,
			        is_computed, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			blockID, p.Name, string(p.Type), derefString(p.Text), derefFloat(p.Number), derefString(p.JSON),
			p.IsComputed, createdStr, updatedAt.UTC().Format(timeLayout))
		if err != nil {
			return persistErr(fmt.Sprintf("insert property %q", p.Name), err)
		}
	}
	return nil
}

func insertLinks(ctx context.Context, q querier, fromID string, links []model.BlockLink, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, l := range links {
		_, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO block_links (from_id, to_id, relation, created_at) VALUES (?, ?, ?, ?)`,
			fromID, l.ToID, l.Relation, at.UTC().Format(timeLayout))
		if err != nil {
			return persistErr("insert link", err)
		}
	}
	return nil
}

func loadProperties(ctx context.Context, q querier, ids []string) (map[string][]model.BlockProperty, error) {
	out := make(map[string][]model.BlockProperty, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx,
		`SELECT block_id, property_name, property_type, property_value_text, property_value_number,
		        property_value_json, is_computed, created_at, updated_at
		 FROM block_properties WHERE block_id IN (`+marks+`) ORDER BY block_id, property_name`, args...)
	if err != nil {
		return nil, persistErr("read properties", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.BlockProperty
		var typ, createdAt, updatedAt string
		var text, raw sql.NullString
		var num sql.NullFloat64
		if err := rows.Scan(&p.BlockID, &p.Name, &typ, &text, &num, &raw, &p.IsComputed, &createdAt, &updatedAt); err != nil {
			return nil, persistErr("scan property", err)
		}
		p.Type = model.PropertyType(typ)
		if text.Valid {
			p.Text = &text.String
		}
		if num.Valid {
			p.Number = &num.Float64
		}
		if raw.Valid {
			p.JSON = &raw.String
		}
		p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out[p.BlockID] = append(out[p.BlockID], p)
	}
	return out, rows.Err()
}

const blockColumns = `b.id, b.type, b.text, b.state, b.visibility, b.tags, b.links, b.confidence,
	b.created_by, b.created_at, b.updated_at, b.schema_version`

type scanner interface {
	Scan(dest ...any) error
}

func scanBlock(row scanner) (*model.MemoryBlock, error) {
	var b model.MemoryBlock
	var tags, links string
	var conf, createdBy sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&b.ID, &b.Type, &b.Text, &b.State, &b.Visibility, &tags, &links, &conf,
		&createdBy, &createdAt, &updatedAt, &b.SchemaVersion)
	if err != nil {
		return nil, err
	}

	b.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	b.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if createdBy.Valid {
		b.CreatedBy = createdBy.String
	}
	json.Unmarshal([]byte(tags), &b.Tags)
	json.Unmarshal([]byte(links), &b.Links)
	if conf.Valid {
		var c model.Confidence
		if json.Unmarshal([]byte(conf.String), &c) == nil {
			b.Confidence = &c
		}
	}
	return &b, nil
}

func encodeBlockJSON(b *model.MemoryBlock) (tags, links string, conf *string, err error) {
	tb, err := json.Marshal(nonNil(b.Tags))
	if err != nil {
		return "", "", nil, fmt.Errorf("encode tags: %w", err)
	}
	lb, err := json.Marshal(nonNilLinks(b.Links))
	if err != nil {
		return "", "", nil, fmt.Errorf("encode links: %w", err)
	}
	if b.Confidence != nil {
		cb, err := json.Marshal(b.Confidence)
		if err != nil {
			return "", "", nil, fmt.Errorf("encode confidence: %w", err)
		}
		s := string(cb)
		conf = &s
	}
	return string(tb), string(lb), conf, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func nonNilLinks(ls []model.BlockLink) []model.BlockLink {
	if ls == nil {
		return []model.BlockLink{}
	}
	return ls
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
