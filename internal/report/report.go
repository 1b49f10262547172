// Package report renders collections and import results for the command line.
package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"github.com/starford/tape/internal/checksum"
	"github.com/starford/tape/internal/hotlist"
	"github.com/starford/tape/internal/index"
	"github.com/starford/tape/internal/tags"
	"github.com/starford/tape/internal/tree"
)

// Stats summarizes a collection.
type Stats struct {
	Notes    int
	TopLevel int
	// MaxDepth is 0 for a flat collection, -1 for an empty one.
	MaxDepth int
	// Tags lists the distinct tags in sorted order.
	Tags     []string
	Checksum string
}

// Collect computes the statistics of t. data is the file t was loaded from.
func Collect(t *tree.Tree, data []byte) Stats {
	s := Stats{
		TopLevel: len(t.Children(tree.Root)),
		MaxDepth: -1,
		Checksum: checksum.Sum(data),
	}
	seen := make(map[string]struct{})
	t.Walk(func(nid tree.NodeID, depth int) bool {
		s.Notes++
		s.MaxDepth = max(s.MaxDepth, depth)
		for _, tag := range t.Note(nid).Tags {
			seen[tag] = struct{}{}
		}
		return true
	})
	s.Tags = make([]string, 0, len(seen))
	for tag := range seen {
		s.Tags = append(s.Tags, tag)
	}
	slices.Sort(s.Tags)
	return s
}

// Summary writes s as a two-column table headed by the file name.
func Summary(w io.Writer, name string, s Stats) {
	bold := color.New(color.Bold)

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow(bold.Sprint("Collection"), name)
	tbl.AddRow("Notes", s.Notes)
	tbl.AddRow("Top level", s.TopLevel)
	tbl.AddRow("Max depth", s.MaxDepth)
	tbl.AddRow("Distinct tags", len(s.Tags))
	if len(s.Tags) > 0 {
		tbl.AddRow("Tags", tags.Join(s.Tags))
	}
	tbl.AddRow("Checksum", s.Checksum)

	_, _ = fmt.Fprintln(w, tbl)
}

// ImportSummary writes the counts of a hotlist import.
func ImportSummary(w io.Writer, source string, s hotlist.Stats) {
	bold := color.New(color.Bold)

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow(bold.Sprint("Imported"), source)
	tbl.AddRow("Notes", s.Notes)
	tbl.AddRow("Folders", s.Folders)
	tbl.AddRow("Skipped (trash)", s.Skipped)
	tbl.AddRow("Ignored", s.Ignored)

	_, _ = fmt.Fprintln(w, tbl)
}

// Outline writes t as an indented list of note titles. Ids are faint and
// tags green when color output is enabled.
func Outline(w io.Writer, t *tree.Tree) {
	faint := color.New(color.Faint)
	tagc := color.New(color.FgGreen)

	if t.Len() == 0 {
		_, _ = color.New(color.Faint, color.Italic).Fprintln(w, "(empty)")
		return
	}
	t.Walk(func(nid tree.NodeID, depth int) bool {
		n := t.Note(nid)
		_, _ = fmt.Fprint(w, strings.Repeat("  ", depth))
		if n.ID != nil {
			_, _ = faint.Fprintf(w, "%d ", *n.ID)
		}
		title := index.Title(n.Body)
		if title == "" {
			title = "(untitled)"
		}
		_, _ = fmt.Fprint(w, title)
		for _, tag := range n.Tags {
			_, _ = tagc.Fprintf(w, " #%s", tag)
		}
		_, _ = fmt.Fprintln(w)
		return true
	})
}

// Problem writes a load failure, naming the structural kind when known.
func Problem(w io.Writer, name string, err error) {
	red := color.New(color.FgRed, color.Bold)
	_, _ = red.Fprint(w, "invalid")
	_, _ = fmt.Fprintf(w, " %s: %v\n", name, err)
}
