//go:build sqlite_fts5

package docstore

import (
	"database/sql"
	"fmt"
)

func initSearch(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS blocks_fts USING fts5(
			document UNINDEXED,
			block_id UNINDEXED,
			text,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func searchInsert(tx *sql.Tx, document, blockID, text string) error {
	_, err := tx.Exec(`INSERT INTO blocks_fts (document, block_id, text) VALUES (?, ?, ?)`, document, blockID, text)
	if err != nil {
		return fmt.Errorf("docstore: insert fts: %w", err)
	}
	return nil
}

func searchDelete(tx *sql.Tx, document string) error {
	if _, err := tx.Exec(`DELETE FROM blocks_fts WHERE document = ?`, document); err != nil {
		return fmt.Errorf("docstore: delete fts: %w", err)
	}
	return nil
}

// Search runs an FTS5 query over block text and returns snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT f.document, d.title, f.block_id,
		       snippet(blocks_fts, 2, '<b>', '</b>', '...', 32)
		FROM blocks_fts f JOIN documents d ON d.name = f.document
		WHERE blocks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
