//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			collection UNINDEXED,
			id UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, collection string, n NoteRow) error {
	_, err := tx.Exec(`INSERT INTO notes_fts (collection, id, title, body, tags) VALUES (?, ?, ?, ?, ?)`,
		collection, n.ID, n.Title, n.Body, strings.Join(n.Tags, " "))
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

func ftsDeleteCollection(tx *sql.Tx, collection string) {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE collection = ?`, collection)
}

// Search performs an FTS5 full-text search and returns matching results
// with snippets. An empty collection searches all of them.
func (db *DB) Search(collection, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT f.collection,
		       f.id,
		       f.title,
		       snippet(notes_fts, 3, '<b>', '</b>', '...', 64),
		       n.tags
		FROM notes_fts f
		JOIN notes n ON n.collection = f.collection AND n.id = f.id
		WHERE notes_fts MATCH ? AND (? = '' OR f.collection = ?)
		ORDER BY rank
		LIMIT ?
	`, query, collection, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanResults(rows)
}
