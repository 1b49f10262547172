//go:build sqlite_fts5

package index

import (
	"testing"

	"github.com/starford/tape/internal/note"
	"github.com/starford/tape/internal/tree"
)

func oneNote(t *testing.T, collection, body string, tags ...string) []NoteRow {
	t.Helper()
	tr := tree.New()
	tr.Append(tree.Root, note.New(fixedClock, body, tags...))
	records, err := tr.Dump()
	if err != nil {
		t.Fatal(err)
	}
	return Rows(collection, records)
}

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes_fts`).Scan(&count); err != nil {
		t.Fatalf("notes_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	rows := oneNote(t, "fts.json", "FTS Note\nThe index provides powerful full-text search capabilities.", "search")
	if err := db.Replace("fts.json", "f1", rows); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := db.Search("", "powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Collection != "fts.json" || results[0].ID != 1 {
		t.Errorf("hit = %+v", results[0])
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
	if len(results[0].Tags) != 1 || results[0].Tags[0] != "search" {
		t.Errorf("tags = %v", results[0].Tags)
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	_ = db.Replace("gone.json", "g", oneNote(t, "gone.json", "vanishing content"))
	_ = db.DeleteCollection("gone.json")

	results, _ := db.Search("", "vanishing", 10)
	if len(results) != 0 {
		t.Errorf("deleted collection still in FTS index: %+v", results)
	}
}

func TestFTS5_ReplaceSwapsContent(t *testing.T) {
	db := testDB(t)
	_ = db.Replace("evo.json", "1", oneNote(t, "evo.json", "Old\noriginal text"))
	_ = db.Replace("evo.json", "2", oneNote(t, "evo.json", "New\nreplacement text"))

	results, _ := db.Search("", "original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("", "replacement", 10)
	if len(results) != 1 || results[0].Title != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
