package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath       string      `json:"db_path"`
	DBSizeBytes  int64       `json:"db_size_bytes"`
	Branch       string      `json:"branch"`
	TotalBlocks  int         `json:"total_blocks"`
	TotalProps   int         `json:"total_properties"`
	TotalLinks   int         `json:"total_links"`
	PendingLinks int         `json:"pending_links"`
	TotalSchemas int         `json:"total_schemas"`
	TotalCommits int         `json:"total_commits"`
	Inconsistent int         `json:"inconsistent_blocks"`
	Types        []TypeStats `json:"types"`
}

// TypeStats holds per-type counts.
type TypeStats struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path, Branch: s.branch}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&st.TotalBlocks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM block_properties`).Scan(&st.TotalProps)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM block_links`).Scan(&st.TotalLinks)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM block_links l WHERE NOT EXISTS (SELECT 1 FROM blocks b WHERE b.id = l.to_id)`).Scan(&st.PendingLinks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM node_schemas`).Scan(&st.TotalSchemas)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM store_commits WHERE branch = ?`, s.branch).Scan(&st.TotalCommits)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_state WHERE consistent = 0`).Scan(&st.Inconsistent)

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) AS cnt FROM blocks
		GROUP BY type ORDER BY cnt DESC, type`)
	if err != nil {
		return st, persistErr("read stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts TypeStats
		rows.Scan(&ts.Type, &ts.Count)
		st.Types = append(st.Types, ts)
	}

	return st, nil
}
