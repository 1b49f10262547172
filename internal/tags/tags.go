// Package tags handles the comma-separated tag lists users type and the
// `/`-separated tag paths produced by folder imports.
package tags

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Separator joins tags for display. Commas are therefore forbidden inside a tag.
const Separator = ", "

var (
	// ErrInvalidCharacter is returned for a tag containing a comma.
	ErrInvalidCharacter = errors.New("invalid tag character")
	// ErrDuplicate is returned when the same tag appears twice in one list.
	ErrDuplicate = errors.New("duplicate tag")
)

var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Split parses user input such as "b, a,, c" into a sorted, deduplicated
// list of trimmed tags. Empty entries are dropped.
func Split(text string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, raw := range strings.Split(text, ",") {
		t := strings.TrimSpace(raw)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Join is the inverse of Split for valid tag lists. Order is kept as given.
func Join(tags []string) string {
	return strings.Join(tags, Separator)
}

// Validate checks that no tag contains a comma and no tag is repeated.
func Validate(tags []string) error {
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if strings.Contains(t, ",") {
			return fmt.Errorf("%w: %q", ErrInvalidCharacter, t)
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicate, t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

// Extract collects inline #tags from a note body in order of appearance.
func Extract(body string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range inlineTagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Match reports whether tag matches a glob pattern over `/`-separated tag
// paths ("work/**", "*/todo"). A malformed pattern matches nothing.
func Match(pattern, tag string) bool {
	ok, err := doublestar.Match(pattern, tag)
	return err == nil && ok
}

// MatchAny reports whether any of tags matches pattern. An empty pattern
// matches every list.
func MatchAny(pattern string, tags []string) bool {
	if pattern == "" {
		return true
	}
	for _, t := range tags {
		if Match(pattern, t) {
			return true
		}
	}
	return false
}

// ValidPattern reports whether pattern is a well-formed glob.
func ValidPattern(pattern string) bool {
	return doublestar.ValidatePattern(pattern)
}
