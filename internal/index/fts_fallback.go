//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; full-text search uses LIKE fallback on the notes.body column.
	return nil
}

func ftsInsert(_ *sql.Tx, _ string, _ NoteRow) error {
	// Body is already stored in the notes table; nothing extra to do.
	return nil
}

func ftsDeleteCollection(_ *sql.Tx, _ string) {}

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
// An empty collection searches all of them.
func (db *DB) Search(collection, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT collection, id, title, substr(body, 1, 200), tags
		FROM notes
		WHERE (title LIKE ? OR body LIKE ? OR tags LIKE ?)
		  AND (? = '' OR collection = ?)
		ORDER BY collection, position
		LIMIT ?
	`, like, like, like, collection, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanResults(rows)
}
