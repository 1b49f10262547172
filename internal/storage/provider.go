// Package storage keeps note collections as JSON files under a data
// directory.
package storage

import "time"

// CollectionExt is the file extension of a persisted collection.
const CollectionExt = ".json"

// FileInfo describes one collection file.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for collection file operations. Paths are
// relative to the data directory.
type Provider interface {
	// Root returns the absolute data directory.
	Root() string
	// List returns metadata for every collection file under dir.
	List(dir string) ([]FileInfo, error)
	// Stat returns metadata for a single file.
	Stat(path string) (FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path.
	Write(path string, content []byte) error
}
