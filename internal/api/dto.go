package api

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tape/internal/collection"
	"github.com/starford/tape/internal/models"
	"github.com/starford/tape/internal/snapshot"
)

const maxBodyLen = 1 << 20

var noComma = validation.By(func(v any) error {
	if s, _ := v.(string); strings.Contains(s, ",") {
		return errors.New("must not contain a comma")
	}
	return nil
})

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Body     string   `json:"body" example:"Groceries\nmilk, eggs"`
	Tags     []string `json:"tags" example:"home"`
	ParentID *int64   `json:"parent_id" example:"3"`
	Position *int     `json:"position" example:"0"`
}

// Validate validates the request.
func (r CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Body, validation.Length(0, maxBodyLen)),
		validation.Field(&r.Tags, validation.Each(noComma)),
		validation.Field(&r.Position, validation.Min(0)),
	)
}

func (r CreateNoteRequest) model() models.NewNote {
	return models.NewNote{Body: r.Body, Tags: r.Tags, ParentID: r.ParentID, Position: r.Position}
}

// UpdateNoteRequest is the request body for updating a note. Omitted
// fields are left unchanged.
type UpdateNoteRequest struct {
	Body *string   `json:"body" example:"Groceries\nmilk"`
	Tags *[]string `json:"tags" example:"home"`
}

// Validate validates the request.
func (r UpdateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Body,
			validation.NotNil.When(r.Tags == nil).Error("body or tags is required"),
			validation.Length(0, maxBodyLen)),
		validation.Field(&r.Tags, validation.Each(noComma)),
	)
}

func (r UpdateNoteRequest) model() models.NoteUpdate {
	return models.NoteUpdate{Body: r.Body, Tags: r.Tags}
}

// MoveNoteRequest is the request body for moving a note. A null parent_id
// moves to the top level; a null position appends.
type MoveNoteRequest struct {
	ParentID *int64 `json:"parent_id" example:"3"`
	Position *int   `json:"position" example:"0"`
}

// Validate validates the request.
func (r MoveNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Position, validation.Min(0)),
	)
}

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// TreeResponse wraps the nested view of the collection.
type TreeResponse struct {
	Notes []*models.TreeNode `json:"notes" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.SearchHit `json:"results" validate:"required"`
}

// FilterResponse wraps the notes matching a filter.
type FilterResponse struct {
	Notes []models.Note `json:"notes" validate:"required"`
}

// DeleteResponse reports how many notes a delete removed.
type DeleteResponse struct {
	Removed int `json:"removed" example:"3"`
}

// ReplaceResponse reports the size of a replaced or restored collection.
type ReplaceResponse struct {
	Notes    int    `json:"notes" example:"120"`
	Checksum string `json:"checksum" example:"abc123..."`
}

// ImportResponse is returned after a hotlist import.
type ImportResponse = collection.ImportResult

// SnapshotListResponse wraps the saved versions of the collection.
type SnapshotListResponse struct {
	Snapshots []snapshot.Snapshot `json:"snapshots" validate:"required"`
}
