// Package note defines the Note record and its dictionary form.
package note

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/starford/tape/internal/tags"
)

// TimestampLayout is the fixed-width timestamp format of the persisted
// collection. The microsecond group is always present, even when zero.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Dictionary keys.
const (
	KeyBody       = "body"
	KeyTags       = "tags"
	KeyID         = "id"
	KeyCreatedAt  = "created_at"
	KeyModifiedAt = "modified_at"
)

var (
	ErrMissingProperties   = errors.New("missing properties")
	ErrWrongAttributeType  = errors.New("wrong attribute type")
	ErrInvalidTagCharacter = tags.ErrInvalidCharacter
	ErrDuplicateTag        = tags.ErrDuplicate
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrInvalidTimestamps   = errors.New("modified_at precedes created_at")
)

// Clock returns the current time. It is injected wherever defaults are
// derived from "now".
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Note is a single journal record. Notes compare by identity; use ToDict to
// compare values.
type Note struct {
	ID         *int64
	Body       string
	Tags       []string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// New creates a note stamped with the clock's current time. Timestamps are
// truncated to microseconds so they survive serialization unchanged.
func New(clock Clock, body string, tags ...string) *Note {
	if clock == nil {
		clock = SystemClock
	}
	now := normalize(clock())
	return &Note{
		Body:       body,
		Tags:       append([]string{}, tags...),
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// SetID assigns the note's identifier.
func (n *Note) SetID(id int64) {
	n.ID = &id
}

// HasID reports whether an identifier has been assigned.
func (n *Note) HasID() bool {
	return n.ID != nil
}

// Touch moves ModifiedAt to the clock's current time, never before CreatedAt.
func (n *Note) Touch(clock Clock) {
	if clock == nil {
		clock = SystemClock
	}
	now := normalize(clock())
	if now.Before(n.CreatedAt) {
		now = n.CreatedAt
	}
	n.ModifiedAt = now
}

// Clone returns a deep copy of n.
func (n *Note) Clone() *Note {
	c := *n
	c.Tags = slices.Clone(n.Tags)
	if n.ID != nil {
		id := *n.ID
		c.ID = &id
	}
	return &c
}

// String renders the note's dictionary form, mostly for test failures.
func (n *Note) String() string {
	return fmt.Sprintf("Note%v", n.ToDict())
}

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t, nil
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
