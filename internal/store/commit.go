package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/memory-bank/internal/model"
)

// appendCommit records a commit inside tx. The commit row becomes durable
// together with the rest of the transaction.
func (s *SQLiteStore) appendCommit(ctx context.Context, q querier, message, author, blockID string) (*model.Commit, error) {
	now := time.Now().UTC()
	c := &model.Commit{
		ID:        s.newID(now),
		Branch:    s.branch,
		Message:   message,
		Author:    author,
		BlockID:   blockID,
		CreatedAt: now,
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO store_commits (id, branch, message, author, block_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Branch, c.Message, nullString(author), nullString(blockID), now.Format(timeLayout))
	if err != nil {
		return nil, persistErr("append commit", err)
	}
	return c, nil
}

// Commits returns the newest commits on the store's branch first.
func (s *SQLiteStore) Commits(ctx context.Context, limit int) ([]model.Commit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, branch, message, author, block_id, created_at FROM store_commits
		 WHERE branch = ? ORDER BY id DESC LIMIT ?`, s.branch, limit)
	if err != nil {
		return nil, persistErr("read commits", err)
	}
	defer rows.Close()

	var out []model.Commit
	for rows.Next() {
		var c model.Commit
		var author, blockID sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Branch, &c.Message, &author, &blockID, &createdAt); err != nil {
			return nil, persistErr("scan commit", err)
		}
		c.Author = author.String
		c.BlockID = blockID.String
		c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetIndexState records whether a block's vector node is in sync.
func (s *SQLiteStore) SetIndexState(ctx context.Context, st model.IndexState) error {
	var indexedAt any
	if st.IndexedAt != nil {
		indexedAt = st.IndexedAt.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_state (block_id, content_hash, consistent, last_error, indexed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(block_id) DO UPDATE SET
		   content_hash = excluded.content_hash,
		   consistent   = excluded.consistent,
		   last_error   = excluded.last_error,
		   indexed_at   = COALESCE(excluded.indexed_at, index_state.indexed_at)`,
		st.BlockID, nullString(st.ContentHash), st.Consistent, nullString(st.LastError), indexedAt)
	if err != nil {
		return persistErr("write index state", err)
	}
	return nil
}

// GetIndexState returns the recorded state for blockID, or ErrNotFound when
// the block was never indexed.
func (s *SQLiteStore) GetIndexState(ctx context.Context, blockID string) (*model.IndexState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT block_id, content_hash, consistent, last_error, indexed_at FROM index_state WHERE block_id = ?`, blockID)
	st, err := scanIndexState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index state %s: %w", blockID, model.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("read index state", err)
	}
	return st, nil
}

// IndexStates lists recorded states, optionally only the diverged ones.
func (s *SQLiteStore) IndexStates(ctx context.Context, inconsistentOnly bool) ([]model.IndexState, error) {
	query := `SELECT block_id, content_hash, consistent, last_error, indexed_at FROM index_state`
	if inconsistentOnly {
		query += ` WHERE consistent = 0`
	}
	query += ` ORDER BY block_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistErr("read index state", err)
	}
	defer rows.Close()

	var out []model.IndexState
	for rows.Next() {
		st, err := scanIndexState(rows)
		if err != nil {
			return nil, persistErr("scan index state", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// DeleteIndexState forgets blockID.
func (s *SQLiteStore) DeleteIndexState(ctx context.Context, blockID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM index_state WHERE block_id = ?`, blockID); err != nil {
		return persistErr("delete index state", err)
	}
	return nil
}

func scanIndexState(row scanner) (*model.IndexState, error) {
	var st model.IndexState
	var hash, lastErr, indexedAt sql.NullString
	if err := row.Scan(&st.BlockID, &hash, &st.Consistent, &lastErr, &indexedAt); err != nil {
		return nil, err
	}
	st.ContentHash = hash.String
	st.LastError = lastErr.String
	if indexedAt.Valid {
		t, _ := time.Parse(timeLayout, indexedAt.String)
		st.IndexedAt = &t
	}
	return &st, nil
}
