// Package testutil provides shared test helpers for setting up data
// directories, databases and collections.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/starford/tape/internal/index"
	"github.com/starford/tape/internal/note"
	"github.com/starford/tape/internal/storage"
	"github.com/starford/tape/internal/tree"
)

// Epoch is the time returned by Clock.
var Epoch = time.Date(2021, 3, 4, 5, 6, 7, 890000000, time.UTC)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tape-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDataDir creates a temporary data directory with a storage.Provider.
func TestDataDir(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Clock returns a note.Clock that advances by one second per call,
// starting at Epoch.
func Clock() note.Clock {
	now := Epoch.Add(-time.Second)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

// Collection returns the persisted form of a flat collection holding one
// top-level note per body.
func Collection(t *testing.T, bodies ...string) []byte {
	t.Helper()
	clock := Clock()
	tr := tree.New()
	for _, b := range bodies {
		tr.Append(tree.Root, note.New(clock, b))
	}
	data, err := tr.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return data
}
