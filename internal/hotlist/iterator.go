package hotlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidLine           = errors.New("invalid line")
	ErrStructural            = errors.New("invalid structure")
	ErrDuplicateAttribute    = errors.New("duplicate attribute")
	ErrMissingAttributes     = errors.New("missing attributes")
	ErrInvalidAttributeValue = errors.New("invalid attribute value")
)

// ParseError carries the line number (1-based, 0 when not tied to a line)
// of a hotlist failure.
type ParseError struct {
	Kind error
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("hotlist: line %d: %s: %s", e.Line, e.Kind, e.Msg)
	}
	return fmt.Sprintf("hotlist: %s: %s", e.Kind, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Kind }

// Element is one item of the element stream: either a named element with
// its attributes or, when End is set, a folder end marker.
type Element struct {
	Name       string
	Attributes map[string]string
	End        bool
	// Line is where the element (or end marker) starts.
	Line int
}

// Iterator pulls elements from a hotlist stream one at a time.
type Iterator struct {
	r       *bufio.Reader
	lineNo  int
	pending *rawLine
	started bool
	eof     bool
}

type rawLine struct {
	text string
	no   int
}

// NewIterator returns an iterator over r.
func NewIterator(r io.Reader) *Iterator {
	return &Iterator{r: bufio.NewReader(r)}
}

// readLine returns the next raw line or nil at end of input.
func (it *Iterator) readLine() (*rawLine, error) {
	if it.pending != nil {
		l := it.pending
		it.pending = nil
		return l, nil
	}
	if it.eof {
		return nil, nil
	}
	text, err := it.r.ReadString('\n')
	if err == io.EOF {
		it.eof = true
		if text == "" {
			return nil, nil
		}
	} else if err != nil {
		return nil, fmt.Errorf("hotlist: read: %w", err)
	}
	it.lineNo++
	return &rawLine{text: text, no: it.lineNo}, nil
}

func (it *Iterator) unread(l *rawLine) { it.pending = l }

// Next returns the next element. It returns io.EOF once the input is
// exhausted. Leading empty and header lines are skipped.
func (it *Iterator) Next() (Element, error) {
	var (
		l   *rawLine
		err error
	)
	for {
		l, err = it.readLine()
		if err != nil {
			return Element{}, err
		}
		if l == nil {
			return Element{}, io.EOF
		}
		info := ClassifyLine(l.text)
		if info.Kind == LineEmpty || (!it.started && info.Kind == LineHeader) {
			continue
		}
		break
	}
	it.started = true

	info := ClassifyLine(l.text)
	switch info.Kind {
	case LineEnd:
		return Element{End: true, Line: l.no}, nil
	case LineElement:
		attrs, err := it.readAttributes(info.Name)
		if err != nil {
			return Element{}, err
		}
		return Element{Name: info.Name, Attributes: attrs, Line: l.no}, nil
	case LineAttribute:
		return Element{}, &ParseError{Kind: ErrStructural, Line: l.no,
			Msg: fmt.Sprintf("attribute without a preceding element: %s=%s", info.Name, info.Value)}
	case LineHeader:
		return Element{}, &ParseError{Kind: ErrStructural, Line: l.no, Msg: "header line after the first element"}
	default:
		return Element{}, &ParseError{Kind: ErrInvalidLine, Line: l.no, Msg: fmt.Sprintf("%q", trimEOL(l.text))}
	}
}

// readAttributes consumes attribute lines up to the next element or end
// marker, which is left for the following Next call.
func (it *Iterator) readAttributes(element string) (map[string]string, error) {
	attrs := make(map[string]string)
	for {
		l, err := it.readLine()
		if err != nil {
			return nil, err
		}
		if l == nil {
			return attrs, nil
		}
		info := ClassifyLine(l.text)
		switch info.Kind {
		case LineElement, LineEnd:
			it.unread(l)
			return attrs, nil
		case LineAttribute:
			if _, dup := attrs[info.Name]; dup {
				return nil, &ParseError{Kind: ErrDuplicateAttribute, Line: l.no,
					Msg: fmt.Sprintf("element %s: %s=%s", element, info.Name, info.Value)}
			}
			attrs[info.Name] = info.Value
		case LineHeader:
			return nil, &ParseError{Kind: ErrStructural, Line: l.no, Msg: "header line inside an element"}
		case LineEmpty:
		default:
			return nil, &ParseError{Kind: ErrInvalidLine, Line: l.no, Msg: fmt.Sprintf("%q", trimEOL(l.text))}
		}
	}
}

// All drains the iterator.
func (it *Iterator) All() ([]Element, error) {
	var out []Element
	for {
		el, err := it.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
}
