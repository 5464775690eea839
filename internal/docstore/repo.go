package docstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/checksum"
)

// DocumentRow is a row of the documents table without its content.
type DocumentRow struct {
	Name           string
	Title          string
	Tags           []string
	Source         string // vault path the document was imported from
	SourceChecksum string
	Checksum       string
	UpdatedAt      time.Time
}

// BlockRow is the searchable projection of one block.
type BlockRow struct {
	BlockID string
	Type    string
	Text    string
	Threads int
}

// SearchResult is one matching block.
type SearchResult struct {
	Document string `json:"document"`
	Title    string `json:"title"`
	BlockID  string `json:"blockId"`
	Snippet  string `json:"snippet"`
}


// Create inserts a new document and returns its checksum.
func (db *DB) Create(row DocumentRow, content []byte, blocks []BlockRow) (string, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var exists int
	if err := tx.QueryRow(`SELECT count(*) FROM documents WHERE name = ?`, row.Name).Scan(&exists); err != nil {
		return "", fmt.Errorf("docstore: create: %w", err)
	}
	if exists > 0 {
		return "", fmt.Errorf("docstore: create %s: %w", row.Name, apperr.ErrAlreadyExists)
	}

	cs, err := write(tx, row, content, blocks)
	if err != nil {
		return "", err
	}
	return cs, tx.Commit()
}

// Save replaces the content of a document and returns the new checksum.
// A non-empty ifMatch must equal the stored checksum.
func (db *DB) Save(row DocumentRow, content []byte, blocks []BlockRow, ifMatch string) (string, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if ifMatch != "" {
		var stored string
		err := tx.QueryRow(`SELECT checksum FROM documents WHERE name = ?`, row.Name).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("docstore: save %s: %w", row.Name, apperr.ErrNotFound)
		}
		if err != nil {
			return "", fmt.Errorf("docstore: save: %w", err)
		}
		if stored != ifMatch {
			return "", fmt.Errorf("docstore: save %s: %w", row.Name, apperr.ErrConflict)
		}
	}

	cs, err := write(tx, row, content, blocks)
	if err != nil {
		return "", err
	}
	return cs, tx.Commit()
}

func write(tx *sql.Tx, row DocumentRow, content []byte, blocks []BlockRow) (string, error) {
	tags := row.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	cs := checksum.Sum(content)
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now()
	}

	_, err := tx.Exec(`
		INSERT INTO documents (name, title, tags, source, source_checksum, content, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			title           = excluded.title,
			tags            = excluded.tags,
			source          = excluded.source,
			source_checksum = excluded.source_checksum,
			content         = excluded.content,
			checksum        = excluded.checksum,
			updated_at      = excluded.updated_at
	`, row.Name, row.Title, string(tagsJSON), row.Source, row.SourceChecksum, string(content), cs, row.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("docstore: upsert document: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM blocks WHERE document = ?`, row.Name); err != nil {
		return "", fmt.Errorf("docstore: clear blocks: %w", err)
	}
	if err := searchDelete(tx, row.Name); err != nil {
		return "", err
	}
	if len(blocks) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO blocks (document, block_id, position, type, text, threads) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return "", fmt.Errorf("docstore: prepare block insert: %w", err)
		}
		defer stmt.Close()
		for i, b := range blocks {
			if _, err := stmt.Exec(row.Name, b.BlockID, i, b.Type, b.Text, b.Threads); err != nil {
				return "", fmt.Errorf("docstore: insert block: %w", err)
			}
			if err := searchInsert(tx, row.Name, b.BlockID, b.Text); err != nil {
				return "", err
			}
		}
	}
	return cs, nil
}

// Load returns a document and its content.
func (db *DB) Load(name string) (*DocumentRow, []byte, error) {
	var (
		row     DocumentRow
		tags    string
		content string
	)
	err := db.conn.QueryRow(`
		SELECT name, title, tags, source, source_checksum, content, checksum, updated_at
		FROM documents WHERE name = ?
	`, name).Scan(&row.Name, &row.Title, &tags, &row.Source, &row.SourceChecksum, &content, &row.Checksum, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("docstore: load %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("docstore: load: %w", err)
	}
	_ = json.Unmarshal([]byte(tags), &row.Tags)
	return &row, []byte(content), nil
}

// List returns a page of documents ordered by most recent update, optionally
// filtered by tag, and the total count.
func (db *DB) List(limit, offset int, tag string) ([]DocumentRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := ""
	args := []any{}
	if tag != "" {
		where = `WHERE EXISTS (SELECT 1 FROM json_each(documents.tags) WHERE json_each.value = ?)`
		args = append(args, tag)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("docstore: count: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT name, title, tags, source, source_checksum, checksum, updated_at
		FROM documents `+where+`
		ORDER BY updated_at DESC, name
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("docstore: list: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var r DocumentRow
		var tags string
		if err := rows.Scan(&r.Name, &r.Title, &tags, &r.Source, &r.SourceChecksum, &r.Checksum, &r.UpdatedAt); err != nil {
			return nil, 0, err
		}
		_ = json.Unmarshal([]byte(tags), &r.Tags)
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Delete removes a document and its blocks.
func (db *DB) Delete(name string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM documents WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("docstore: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore: delete %s: %w", name, apperr.ErrNotFound)
	}
	_, _ = tx.Exec(`DELETE FROM blocks WHERE document = ?`, name)
	if err := searchDelete(tx, name); err != nil {
		return err
	}
	return tx.Commit()
}

// SourceChecksums maps every import source to the checksum of the file it
// was last imported from.
func (db *DB) SourceChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT source, source_checksum FROM documents WHERE source != ''`)
	if err != nil {
		return nil, fmt.Errorf("docstore: source checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var src, cs string
		if err := rows.Scan(&src, &cs); err != nil {
			return nil, err
		}
		out[src] = cs
	}
	return out, rows.Err()
}
