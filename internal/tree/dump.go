package tree

import (
	"github.com/starford/tape/internal/note"
)

// Record keys that link a dumped note into the tree.
const (
	KeyParentID      = "parent_id"
	KeyPrevSiblingID = "prev_sibling_id"
)

// Record is one note of the linearized tree. Fields are in key order so the
// JSON encoding is sorted like the on-disk format.
type Record struct {
	Body          string   `json:"body"`
	CreatedAt     string   `json:"created_at"`
	ID            int64    `json:"id"`
	ModifiedAt    string   `json:"modified_at"`
	ParentID      *int64   `json:"parent_id"`
	PrevSiblingID *int64   `json:"prev_sibling_id"`
	Tags          []string `json:"tags"`
}

// Dict returns the record in dictionary form, suitable for Load.
func (r Record) Dict() map[string]any {
	tagList := make([]string, len(r.Tags))
	copy(tagList, r.Tags)
	return map[string]any{
		note.KeyBody:       r.Body,
		note.KeyTags:       tagList,
		note.KeyID:         r.ID,
		note.KeyCreatedAt:  r.CreatedAt,
		note.KeyModifiedAt: r.ModifiedAt,
		KeyParentID:        optionalID(r.ParentID),
		KeyPrevSiblingID:   optionalID(r.PrevSiblingID),
	}
}

func optionalID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// AssignIDs gives every id-less note a fresh id, counting up from the
// largest existing id (or from 1 when no note has one), in pre-order.
// Existing ids are never changed. Duplicate existing ids fail with
// ErrDuplicateID before anything is assigned.
func (t *Tree) AssignIDs() error {
	seen := make(map[int64]struct{})
	var (
		missing []*note.Note
		maxID   int64
		dupe    *int64
		anyID   bool
	)
	t.Walk(func(id NodeID, _ int) bool {
		n := t.nodes[id].note
		if n.ID == nil {
			missing = append(missing, n)
			return true
		}
		if _, ok := seen[*n.ID]; ok && dupe == nil {
			v := *n.ID
			dupe = &v
		}
		seen[*n.ID] = struct{}{}
		if !anyID || *n.ID > maxID {
			maxID = *n.ID
		}
		anyID = true
		return true
	})
	if dupe != nil {
		return &StructureError{Kind: ErrDuplicateID, Record: -1, ID: dupe}
	}
	next := maxID
	for _, n := range missing {
		next++
		n.SetID(next)
	}
	return nil
}

// Dump assigns missing ids and linearizes the tree in pre-order. Each
// record's parent_id is nil for top-level notes and prev_sibling_id is nil
// for first children.
func (t *Tree) Dump() ([]Record, error) {
	if err := t.AssignIDs(); err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(t.nodes)-1)
	t.preorder(func(id, prev NodeID, _ int) bool {
		n := t.nodes[id].note
		r := Record{
			Body:       n.Body,
			CreatedAt:  note.FormatTimestamp(n.CreatedAt),
			ID:         *n.ID,
			ModifiedAt: note.FormatTimestamp(n.ModifiedAt),
			Tags:       make([]string, len(n.Tags)),
		}
		copy(r.Tags, n.Tags)
		if parent := t.nodes[id].parent; parent != Root {
			pid := *t.nodes[parent].note.ID
			r.ParentID = &pid
		}
		if prev != None {
			sid := *t.nodes[prev].note.ID
			r.PrevSiblingID = &sid
		}
		records = append(records, r)
		return true
	})
	return records, nil
}
