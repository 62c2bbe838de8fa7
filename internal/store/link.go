package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/memory-bank/internal/model"
)

// AddLink stores a link and mirrors it into the source block's embedded
// links. Adding an existing link changes nothing. The target is not checked:
// existence policy belongs to the link manager.
func (s *SQLiteStore) AddLink(ctx context.Context, l model.Link) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin", err)
	}
	defer tx.Rollback()

	ok, err := exists(ctx, tx, l.FromID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("link source %s: %w", l.FromID, model.ErrNotFound)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO block_links (from_id, to_id, relation, created_at) VALUES (?, ?, ?, ?)`,
		l.FromID, l.ToID, l.Relation, now.Format(timeLayout))
	if err != nil {
		return persistErr("insert link", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	links, err := embeddedLinks(ctx, tx, l.FromID)
	if err != nil {
		return err
	}
	links = model.DedupeLinks(append(links, model.BlockLink{ToID: l.ToID, Relation: l.Relation}))
	if err := setEmbeddedLinks(ctx, tx, l.FromID, links, now); err != nil {
		return err
	}
	if _, err := s.appendCommit(ctx, tx, fmt.Sprintf("link %s -%s-> %s", l.FromID, l.Relation, l.ToID), "", l.FromID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// RemoveLink deletes a link. Removing a link that does not exist is a no-op.
func (s *SQLiteStore) RemoveLink(ctx context.Context, l model.Link) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM block_links WHERE from_id = ? AND to_id = ? AND relation = ?`,
		l.FromID, l.ToID, l.Relation)
	if err != nil {
		return persistErr("delete link", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	links, err := embeddedLinks(ctx, tx, l.FromID)
	if err != nil {
		return err
	}
	kept := links[:0]
	for _, bl := range links {
		if bl.ToID != l.ToID || bl.Relation != l.Relation {
			kept = append(kept, bl)
		}
	}
	if err := setEmbeddedLinks(ctx, tx, l.FromID, kept, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := s.appendCommit(ctx, tx, fmt.Sprintf("unlink %s -%s-> %s", l.FromID, l.Relation, l.ToID), "", l.FromID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// ReplaceLinks sets the outgoing links of fromID to exactly links.
func (s *SQLiteStore) ReplaceLinks(ctx context.Context, fromID string, links []model.BlockLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin", err)
	}
	defer tx.Rollback()

	ok, err := exists(ctx, tx, fromID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("link source %s: %w", fromID, model.ErrNotFound)
	}

	links = model.DedupeLinks(links)
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `DELETE FROM block_links WHERE from_id = ?`, fromID); err != nil {
		return persistErr("clear links", err)
	}
	if err := insertLinks(ctx, tx, fromID, links, now); err != nil {
		return err
	}
	if err := setEmbeddedLinks(ctx, tx, fromID, links, now); err != nil {
		return err
	}
	if _, err := s.appendCommit(ctx, tx, fmt.Sprintf("relink %s", fromID), "", fromID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// ForwardLinks returns the outgoing links of fromID in insertion order.
func (s *SQLiteStore) ForwardLinks(ctx context.Context, fromID string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, relation, created_at FROM block_links
		 WHERE from_id = ? ORDER BY rowid`, fromID)
	if err != nil {
		return nil, persistErr("read links", err)
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		var l model.Link
		var createdAt string
		if err := rows.Scan(&l.FromID, &l.ToID, &l.Relation, &createdAt); err != nil {
			return nil, persistErr("scan link", err)
		}
		l.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

// Backlinks returns the distinct IDs of blocks linking to toID. A block that
// links to itself is among its own backlinks.
func (s *SQLiteStore) Backlinks(ctx context.Context, toID string) ([]string, error) {
	return backlinks(ctx, s.db, toID, "")
}

// backlinks lists the sources linking to toID other than skip.
func backlinks(ctx context.Context, q querier, toID, skip string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT from_id FROM block_links WHERE to_id = ? AND from_id != ? ORDER BY from_id`,
		toID, skip)
	if err != nil {
		return nil, persistErr("read backlinks", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("scan backlink", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func embeddedLinks(ctx context.Context, q querier, id string) ([]model.BlockLink, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT links FROM blocks WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("read embedded links", err)
	}
	var links []model.BlockLink
	json.Unmarshal([]byte(raw), &links)
	return links, nil
}

func setEmbeddedLinks(ctx context.Context, q querier, id string, links []model.BlockLink, at time.Time) error {
	b, err := json.Marshal(nonNilLinks(links))
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE blocks SET links = ?, updated_at = ? WHERE id = ?`,
		string(b), at.UTC().Format(timeLayout), id); err != nil {
		return persistErr("write embedded links", err)
	}
	return nil
}
