//go:build !sqlite_fts5

package docstore

import (
	"database/sql"
	"fmt"
)

// Without FTS5 the blocks table is searched with LIKE.

func initSearch(_ *sql.DB) error { return nil }

func searchInsert(_ *sql.Tx, _, _, _ string) error { return nil }

func searchDelete(_ *sql.Tx, _ string) error { return nil }

// Search returns blocks whose text or document title contains query.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT b.document, d.title, b.block_id, substr(b.text, 1, 200)
		FROM blocks b JOIN documents d ON d.name = b.document
		WHERE b.text LIKE ? OR d.title LIKE ?
		ORDER BY b.document, b.position
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("docstore: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Document, &r.Title, &r.BlockID, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
