package store

import (
	"context"
	"strings"
)

// SearchParams holds parameters for full-text search over block text.
type SearchParams struct {
	Query string
	Type  string
	Limit int
}

// SearchText finds blocks whose text matches the query, best match first.
// Each whitespace-separated term is matched as a quoted FTS5 phrase.
func (s *SQLiteStore) SearchText(ctx context.Context, p SearchParams) ([]Record, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(p.Query)
	if match == "" {
		return nil, nil
	}

	where := []string{"blocks_fts MATCH ?"}
	args := []any{match}
	if p.Type != "" {
		where = append(where, "b.type = ?")
		args = append(args, p.Type)
	}
	args = append(args, limit)

	query := `SELECT ` + blockColumns + `
		FROM blocks_fts
		JOIN blocks b ON b.rowid = blocks_fts.rowid
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY bm25(blocks_fts), b.updated_at DESC
		LIMIT ?`
	return s.queryRecords(ctx, query, args...)
}

// ftsQuery turns free text into an FTS5 query that cannot be a syntax error.
func ftsQuery(q string) string {
	var terms []string
	for _, f := range strings.Fields(q) {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}
