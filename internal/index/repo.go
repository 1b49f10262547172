package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/tape/internal/apperr"
	"github.com/starford/tape/internal/tree"
)

// NoteRow represents a row in the notes table.
type NoteRow struct {
	Collection    string
	ID            int64
	ParentID      *int64
	PrevSiblingID *int64
	// Position is the note's pre-order index within its collection.
	Position   int
	Depth      int
	Title      string
	Body       string
	Tags       []string
	CreatedAt  string
	ModifiedAt string
}

// SearchResult represents one search hit.
type SearchResult struct {
	Collection string
	ID         int64
	Title      string
	Snippet    string
	Tags       []string
}

// ListQuery selects a page of notes.
type ListQuery struct {
	Limit  int
	Offset int
	// Tag keeps only notes carrying exactly this tag.
	Tag string
	// Sort is one of position (default), created_at, modified_at, title.
	Sort string
}

var sortColumns = map[string]string{
	"":            "position",
	"position":    "position",
	"created_at":  "created_at, position",
	"modified_at": "modified_at DESC, position",
	"title":       "title COLLATE NOCASE, position",
}

// Title returns the first non-blank line of a note body.
func Title(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

// Rows converts a pre-order dump into index rows, deriving each note's
// depth from its parent.
func Rows(collection string, records []tree.Record) []NoteRow {
	depth := make(map[int64]int, len(records))
	rows := make([]NoteRow, len(records))
	for i, r := range records {
		d := 0
		if r.ParentID != nil {
			d = depth[*r.ParentID] + 1
		}
		depth[r.ID] = d
		rows[i] = NoteRow{
			Collection:    collection,
			ID:            r.ID,
			ParentID:      r.ParentID,
			PrevSiblingID: r.PrevSiblingID,
			Position:      i,
			Depth:         d,
			Title:         Title(r.Body),
			Body:          r.Body,
			Tags:          r.Tags,
			CreatedAt:     r.CreatedAt,
			ModifiedAt:    r.ModifiedAt,
		}
	}
	return rows
}

// Replace swaps the indexed contents of a collection within a transaction.
func (db *DB) Replace(collection, checksum string, rows []NoteRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO collections (path, checksum, notes, indexed_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			notes      = excluded.notes,
			indexed_at = excluded.indexed_at
	`, collection, checksum, len(rows))
	if err != nil {
		return fmt.Errorf("index: upsert collection: %w", err)
	}

	ftsDeleteCollection(tx, collection)
	if _, err := tx.Exec(`DELETE FROM notes WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("index: clear collection: %w", err)
	}

	if len(rows) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO notes (collection, id, parent_id, prev_sibling_id, position, depth,
			                   title, body, tags, created_at, modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare note insert: %w", err)
		}
		defer stmt.Close()
		for _, n := range rows {
			tagsJSON, _ := json.Marshal(nonNil(n.Tags))
			if _, err := stmt.Exec(collection, n.ID, n.ParentID, n.PrevSiblingID, n.Position, n.Depth,
				n.Title, n.Body, string(tagsJSON), n.CreatedAt, n.ModifiedAt); err != nil {
				return fmt.Errorf("index: insert note %d: %w", n.ID, err)
			}
			// FTS insert (no-op when FTS5 tag is absent).
			if err := ftsInsert(tx, collection, n); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// DeleteCollection removes a collection and all its notes.
func (db *DB) DeleteCollection(collection string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDeleteCollection(tx, collection)
	_, _ = tx.Exec(`DELETE FROM notes WHERE collection = ?`, collection)
	_, _ = tx.Exec(`DELETE FROM collections WHERE path = ?`, collection)

	return tx.Commit()
}

// GetChecksum returns the checksum the collection was indexed at, or an
// empty string if it is not indexed.
func (db *DB) GetChecksum(collection string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM collections WHERE path = ?`, collection).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums maps every indexed collection to its checksum.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM collections`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

const noteColumns = `collection, id, parent_id, prev_sibling_id, position, depth,
	title, body, tags, created_at, modified_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (NoteRow, error) {
	var (
		n        NoteRow
		parent   sql.NullInt64
		prev     sql.NullInt64
		tagsJSON string
	)
	if err := s.Scan(&n.Collection, &n.ID, &parent, &prev, &n.Position, &n.Depth,
		&n.Title, &n.Body, &tagsJSON, &n.CreatedAt, &n.ModifiedAt); err != nil {
		return NoteRow{}, err
	}
	if parent.Valid {
		n.ParentID = &parent.Int64
	}
	if prev.Valid {
		n.PrevSiblingID = &prev.Int64
	}
	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		return NoteRow{}, fmt.Errorf("index: decode tags: %w", err)
	}
	n.Tags = nonNil(n.Tags)
	return n, nil
}

// GetNote returns a single indexed note.
func (db *DB) GetNote(collection string, id int64) (*NoteRow, error) {
	row := db.conn.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE collection = ? AND id = ?`, collection, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note: %w", err)
	}
	return &n, nil
}

// ListNotes returns a page of notes and the total number matching q.
func (db *DB) ListNotes(collection string, q ListQuery) ([]NoteRow, int, error) {
	order, ok := sortColumns[q.Sort]
	if !ok {
		return nil, 0, fmt.Errorf("index: unknown sort %q: %w", q.Sort, apperr.ErrInvalid)
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where := `collection = ?`
	args := []any{collection}
	if q.Tag != "" {
		where += ` AND EXISTS (SELECT 1 FROM json_each(notes.tags) WHERE json_each.value = ?)`
		args = append(args, q.Tag)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count notes: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+noteColumns+` FROM notes WHERE `+where+
		` ORDER BY `+order+` LIMIT ? OFFSET ?`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list notes: %w", err)
	}
	defer rows.Close()

	var out []NoteRow
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// AllIDs returns every note id of a collection in tree order.
func (db *DB) AllIDs(collection string) ([]int64, error) {
	rows, err := db.conn.Query(`SELECT id FROM notes WHERE collection = ? ORDER BY position`, collection)
	if err != nil {
		return nil, fmt.Errorf("index: all ids: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var (
			r        SearchResult
			tagsJSON string
		)
		if err := rows.Scan(&r.Collection, &r.ID, &r.Title, &r.Snippet, &tagsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
			return nil, fmt.Errorf("index: decode tags: %w", err)
		}
		r.Tags = nonNil(r.Tags)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
