package hotlist

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/tape/internal/tree"
)

// Header is the first line of every hotlist Export writes.
const Header = "Opera Hotlist version 2.0\nOptions: encoding = utf8, version=3\n"

// Export writes t as a hotlist. Notes with children become folders holding
// them, leaf notes become notes. Tags and modification times have no
// hotlist equivalent and are dropped; creation times keep whole seconds.
func Export(w io.Writer, t *tree.Tree) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return fmt.Errorf("hotlist: export: %w", err)
	}
	e := exporter{w: bw, t: t}
	for _, child := range t.Children(tree.Root) {
		e.write(child)
	}
	if e.err == nil {
		e.err = bw.Flush()
	}
	if e.err != nil {
		return fmt.Errorf("hotlist: export: %w", e.err)
	}
	return nil
}

type exporter struct {
	w      *bufio.Writer
	t      *tree.Tree
	nextID int
	err    error
}

func (e *exporter) printf(format string, args ...any) {
	if e.err == nil {
		_, e.err = fmt.Fprintf(e.w, format, args...)
	}
}

func (e *exporter) write(nid tree.NodeID) {
	n := e.t.Note(nid)
	children := e.t.Children(nid)
	kind := ElementNote
	if len(children) > 0 {
		kind = ElementFolder
	}
	e.nextID++
	e.printf("#%s\n", kind)
	e.printf("\t%s=%d\n", AttrID, e.nextID)
	e.printf("\t%s=%s\n", AttrName, encodeName(n.Body))
	e.printf("\t%s=%d\n", AttrCreated, n.CreatedAt.Unix())
	e.printf("\tUNIQUEID=%s\n\n", uniqueID())
	if kind != ElementFolder {
		return
	}
	for _, c := range children {
		e.write(c)
	}
	e.printf("-\n\n")
}

// encodeName is the inverse of Body: newlines become "\x02\x02".
func encodeName(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.ReplaceAll(body, "\n", "\x02\x02")
}

// uniqueID returns a random id in the hotlist's 32 upper-case hex digit form.
func uniqueID() string {
	u := uuid.New()
	return strings.ToUpper(hex.EncodeToString(u[:]))
}
