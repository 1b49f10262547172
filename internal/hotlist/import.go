package hotlist

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/starford/tape/internal/note"
	"github.com/starford/tape/internal/tree"
)

// Element and attribute names the importer understands.
const (
	ElementFolder = "FOLDER"
	ElementNote   = "NOTE"

	AttrID          = "ID"
	AttrName        = "NAME"
	AttrCreated     = "CREATED"
	AttrTrashFolder = "TRASH FOLDER"
)

// FolderTagSeparator joins folder titles into a tag path.
const FolderTagSeparator = "/"

type options struct {
	skipTrash  bool
	folderTags bool
}

// Option configures Import.
type Option func(*options)

// WithSkipTrash controls whether the trash folder and everything inside it
// is dropped. It is on by default.
func WithSkipTrash(skip bool) Option {
	return func(o *options) { o.skipTrash = skip }
}

// WithFolderTags tags every imported note with the "/"-joined titles of
// its enclosing folders. Folders are tagged with their own path.
func WithFolderTags(enabled bool) Option {
	return func(o *options) { o.folderTags = enabled }
}

// Stats summarizes an import.
type Stats struct {
	Notes   int `json:"notes"`
	Folders int `json:"folders"`
	// Skipped counts notes and folders dropped with the trash.
	Skipped int `json:"skipped"`
	// Ignored counts elements of other kinds, such as separators.
	Ignored int `json:"ignored"`
}

// Import reads a hotlist and returns it as a note tree. Folders become
// notes whose children are the folder contents.
func Import(r io.Reader, opts ...Option) (*tree.Tree, error) {
	t, _, err := ImportWithStats(r, opts...)
	return t, err
}

type folder struct {
	node  tree.NodeID
	title string
}

// ImportWithStats is Import that also reports what was imported.
func ImportWithStats(r io.Reader, opts ...Option) (*tree.Tree, Stats, error) {
	o := options{skipTrash: true}
	for _, fn := range opts {
		fn(&o)
	}

	var (
		t          = tree.New()
		stats      Stats
		stack      []folder
		trashLevel = -1
	)
	it := NewIterator(r)
	for {
		el, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Stats{}, err
		}

		if el.End {
			if len(stack) == 0 {
				return nil, Stats{}, &ParseError{Kind: ErrStructural, Line: el.Line, Msg: "folder end marker without a matching folder"}
			}
			stack = stack[:len(stack)-1]
			if trashLevel >= 0 && len(stack) <= trashLevel {
				trashLevel = -1
			}
			continue
		}

		switch el.Name {
		case ElementFolder:
			trash, err := isTrashFolder(el)
			if err != nil {
				return nil, Stats{}, err
			}
			if trash {
				if trashLevel >= 0 {
					return nil, Stats{}, &ParseError{Kind: ErrStructural, Line: el.Line, Msg: "nested trash folders are not supported"}
				}
				trashLevel = len(stack)
			}
			title := folderTitle(el.Attributes[AttrName])
			f := folder{node: tree.None, title: title}
			if trashLevel >= 0 && o.skipTrash {
				stats.Skipped++
			} else {
				n, err := toNote(el)
				if err != nil {
					return nil, Stats{}, err
				}
				if o.folderTags {
					addFolderTag(n, stack, title)
				}
				f.node = t.Append(parentOf(stack), n)
				stats.Folders++
			}
			stack = append(stack, f)

		case ElementNote:
			if trashLevel >= 0 && o.skipTrash {
				stats.Skipped++
				continue
			}
			n, err := toNote(el)
			if err != nil {
				return nil, Stats{}, err
			}
			if o.folderTags {
				addFolderTag(n, stack, "")
			}
			t.Append(parentOf(stack), n)
			stats.Notes++

		default:
			stats.Ignored++
		}
	}

	if len(stack) > 0 {
		return nil, Stats{}, &ParseError{Kind: ErrStructural, Msg: fmt.Sprintf("%d folder(s) not closed, the file may be truncated", len(stack))}
	}
	return t, stats, nil
}

func parentOf(stack []folder) tree.NodeID {
	if len(stack) == 0 {
		return tree.Root
	}
	return stack[len(stack)-1].node
}

func isTrashFolder(el Element) (bool, error) {
	v, ok := el.Attributes[AttrTrashFolder]
	if !ok {
		return false, nil
	}
	switch strings.ToUpper(v) {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	default:
		return false, &ParseError{Kind: ErrInvalidAttributeValue, Line: el.Line,
			Msg: fmt.Sprintf("unrecognized %s value %q", AttrTrashFolder, v)}
	}
}

// toNote converts a FOLDER or NOTE element. CREATED holds Unix seconds.
func toNote(el Element) (*note.Note, error) {
	raw, ok := el.Attributes[AttrCreated]
	if !ok {
		id, ok := el.Attributes[AttrID]
		if !ok {
			id = "???"
		}
		return nil, &ParseError{Kind: ErrMissingAttributes, Line: el.Line,
			Msg: fmt.Sprintf("%s (ID=%s) lacks %s", el.Name, id, AttrCreated)}
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, &ParseError{Kind: ErrInvalidAttributeValue, Line: el.Line,
			Msg: fmt.Sprintf("%s is not a timestamp: %q", AttrCreated, raw)}
	}
	created := time.Unix(secs, 0).UTC()
	return note.New(func() time.Time { return created }, Body(el.Attributes[AttrName])), nil
}

// Body decodes a NAME attribute into note text: the "\x02\x02" line
// separators become newlines, leading blank lines and trailing whitespace
// are dropped, and indentation of the first line is kept.
func Body(name string) string {
	return lineStrip(strings.ReplaceAll(name, "\x02\x02", "\n"))
}

func lineStrip(text string) string {
	first := strings.IndexFunc(text, func(r rune) bool { return !isSpace(r) })
	if first < 0 {
		return ""
	}
	text = strings.TrimRightFunc(text, isSpace)
	start := strings.LastIndexByte(text[:first], '\n') + 1
	return text[start:]
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func folderTitle(name string) string {
	title, _, _ := strings.Cut(strings.ReplaceAll(name, "\x02\x02", "\n"), "\n")
	return strings.TrimSpace(title)
}

// addFolderTag tags n with the path of its enclosing folders, plus self
// when n is itself a folder. Tags cannot hold commas, so those become
// spaces.
func addFolderTag(n *note.Note, stack []folder, self string) {
	parts := make([]string, 0, len(stack)+1)
	for _, f := range stack {
		parts = append(parts, f.title)
	}
	if self != "" {
		parts = append(parts, self)
	}
	tag := strings.ReplaceAll(strings.Join(parts, FolderTagSeparator), ",", " ")
	if strings.Trim(tag, FolderTagSeparator+" ") == "" {
		return
	}
	n.Tags = append(n.Tags, tag)
}
