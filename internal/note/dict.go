package note

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/starford/tape/internal/tags"
)

var requiredKeys = []string{KeyBody, KeyTags, KeyID, KeyCreatedAt, KeyModifiedAt}

// ToDict converts the note to primitive types only: strings, a list of
// strings, an int64 or nil, and two TimestampLayout strings.
func (n *Note) ToDict() map[string]any {
	var id any
	if n.ID != nil {
		id = *n.ID
	}
	tagList := make([]string, len(n.Tags))
	copy(tagList, n.Tags)
	return map[string]any{
		KeyBody:       n.Body,
		KeyTags:       tagList,
		KeyID:         id,
		KeyCreatedAt:  FormatTimestamp(n.CreatedAt),
		KeyModifiedAt: FormatTimestamp(n.ModifiedAt),
	}
}

// FromDict validates a dictionary and builds a note from it. Unknown keys
// are ignored.
func FromDict(d map[string]any) (*Note, error) {
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := d[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("note: %w: %s", ErrMissingProperties, strings.Join(missing, ", "))
	}

	body, ok := d[KeyBody].(string)
	if !ok {
		return nil, typeError(KeyBody, "string", d[KeyBody])
	}
	tagList, err := decodeTags(d[KeyTags])
	if err != nil {
		return nil, err
	}
	id, err := DecodeID(KeyID, d[KeyID])
	if err != nil {
		return nil, err
	}
	createdRaw, ok := d[KeyCreatedAt].(string)
	if !ok {
		return nil, typeError(KeyCreatedAt, "string", d[KeyCreatedAt])
	}
	modifiedRaw, ok := d[KeyModifiedAt].(string)
	if !ok {
		return nil, typeError(KeyModifiedAt, "string", d[KeyModifiedAt])
	}

	if err := tags.Validate(tagList); err != nil {
		return nil, fmt.Errorf("note: %w", err)
	}

	created, err := ParseTimestamp(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("note: %s: %w", KeyCreatedAt, err)
	}
	modified, err := ParseTimestamp(modifiedRaw)
	if err != nil {
		return nil, fmt.Errorf("note: %s: %w", KeyModifiedAt, err)
	}
	if modified.Before(created) {
		return nil, fmt.Errorf("note: %w: %s < %s", ErrInvalidTimestamps, modifiedRaw, createdRaw)
	}

	return &Note{
		ID:         id,
		Body:       body,
		Tags:       tagList,
		CreatedAt:  created,
		ModifiedAt: modified,
	}, nil
}

// DecodeID converts an integer-or-null dictionary value. JSON decoders hand
// numbers over as float64 or json.Number; only integral values are accepted.
func DecodeID(field string, v any) (*int64, error) {
	var id int64
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int:
		id = int64(x)
	case int32:
		id = int64(x)
	case int64:
		id = x
	case float64:
		if x != math.Trunc(x) || x >= 1<<63 || x < -1<<63 {
			return nil, typeError(field, "integer or null", v)
		}
		id = int64(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, typeError(field, "integer or null", v)
		}
		id = n
	default:
		return nil, typeError(field, "integer or null", v)
	}
	return &id, nil
}

func decodeTags(v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, typeError(KeyTags, "list of strings", v)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, typeError(KeyTags, "list of strings", v)
	}
}

func typeError(field, expected string, v any) error {
	actual := "null"
	if v != nil {
		actual = fmt.Sprintf("%T", v)
	}
	return fmt.Errorf("note: %w: %s: expected %s, got %s", ErrWrongAttributeType, field, expected, actual)
}
