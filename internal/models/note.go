// Package models defines the domain types the collection service hands to
// its outer surfaces.
package models

import "time"

// Note is a single note with its position in the tree.
type Note struct {
	ID            int64     `json:"id"`
	ParentID      *int64    `json:"parent_id"`
	PrevSiblingID *int64    `json:"prev_sibling_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Tags          []string  `json:"tags"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
	// Depth is 0 for top-level notes.
	Depth    int `json:"depth"`
	Children int `json:"children"`
	// Checksum is the digest of the note's persisted form, used as an
	// ETag for optimistic updates.
	Checksum string `json:"checksum"`
}

// TreeNode is a note in the nested view of a collection.
type TreeNode struct {
	ID         int64       `json:"id"`
	Title      string      `json:"title"`
	Body       string      `json:"body"`
	Tags       []string    `json:"tags"`
	CreatedAt  time.Time   `json:"created_at"`
	ModifiedAt time.Time   `json:"modified_at"`
	Children   []*TreeNode `json:"children"`
}

// NewNote describes a note to create. A nil ParentID creates a top-level
// note; a nil Position appends it after its siblings.
type NewNote struct {
	Body     string
	Tags     []string
	ParentID *int64
	Position *int
}

// NoteUpdate lists the fields to change. Nil fields are left as they are.
type NoteUpdate struct {
	Body *string
	Tags *[]string
}

// SearchHit is one search result.
type SearchHit struct {
	ID      int64    `json:"id"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet"`
	Tags    []string `json:"tags"`
}
