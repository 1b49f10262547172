// Package hotlist imports notes from the legacy Opera hotlist format.
//
// A hotlist file is a sequence of lines. Elements start with "#NAME",
// followed by tab-indented "key=value" attribute lines. A bare "-" closes
// the innermost open folder. The file may start with header lines.
package hotlist

import (
	"regexp"
	"strings"
)

// Kind classifies a single hotlist line.
type Kind int

const (
	LineInvalid Kind = iota
	LineEmpty
	LineHeader
	LineEnd
	LineElement
	LineAttribute
)

func (k Kind) String() string {
	switch k {
	case LineEmpty:
		return "empty"
	case LineHeader:
		return "header"
	case LineEnd:
		return "end"
	case LineElement:
		return "element"
	case LineAttribute:
		return "attribute"
	default:
		return "invalid"
	}
}

var (
	headerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^Opera\s+Hotlist\s+version\s+[\d.]`),
		regexp.MustCompile(`^Options:`),
	}
	elementPattern   = regexp.MustCompile(`^#([A-Z_\-]+)\s*$`)
	attributePattern = regexp.MustCompile(`^\t([^=]*)=(.*)$`)
	endPattern       = regexp.MustCompile(`^-\s*$`)
)

// Line is a classified hotlist line. Name is set for elements and
// attributes, Value for attributes only.
type Line struct {
	Kind  Kind
	Name  string
	Value string
}

// ClassifyLine determines what a line is. A trailing line terminator is
// ignored. Attribute names are trimmed; values are kept verbatim because
// leading indentation in NAME is part of the note text.
func ClassifyLine(line string) Line {
	line = trimEOL(line)
	if strings.TrimSpace(line) == "" {
		return Line{Kind: LineEmpty}
	}
	if endPattern.MatchString(line) {
		return Line{Kind: LineEnd}
	}
	if m := elementPattern.FindStringSubmatch(line); m != nil {
		return Line{Kind: LineElement, Name: m[1]}
	}
	if m := attributePattern.FindStringSubmatch(line); m != nil {
		return Line{Kind: LineAttribute, Name: strings.TrimSpace(m[1]), Value: m[2]}
	}
	if IsHeader(line) {
		return Line{Kind: LineHeader}
	}
	return Line{Kind: LineInvalid}
}

// IsHeader reports whether line is one of the file header lines.
func IsHeader(line string) bool {
	for _, p := range headerPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
