package tree

import (
	"fmt"

	"github.com/starford/tape/internal/note"
)

type pending struct {
	index    int
	id       int64
	parentID *int64
	prevID   *int64
	node     NodeID
	inserted bool
}

// Load rebuilds a tree from linearized records. Records may come in any
// order. Sibling order is reconstructed from prev_sibling_id links, so a
// note is attached only after its previous sibling.
//
// Load never returns a partial tree: any inconsistency fails the whole call
// with a *StructureError, or with the note package's validation error for a
// malformed note.
func Load(records []map[string]any) (*Tree, error) {
	t := New()
	byID := make(map[int64]*pending, len(records))
	order := make([]*pending, 0, len(records))

	for i, rec := range records {
		p, n, err := decodeRecord(i, rec)
		if err != nil {
			return nil, err
		}
		if _, dup := byID[p.id]; dup {
			return nil, &StructureError{Kind: ErrDuplicateID, Record: i, ID: n.ID}
		}
		p.node = t.newDetached(n)
		byID[p.id] = p
		order = append(order, p)
	}

	for _, p := range order {
		if p.inserted {
			continue
		}
		if err := t.resolve(p, byID); err != nil {
			return nil, err
		}
	}

	if t.Len() != len(records) {
		return nil, t.parentCycle(order)
	}
	return t, nil
}

func decodeRecord(i int, rec map[string]any) (*pending, *note.Note, error) {
	if v, ok := rec[note.KeyID]; !ok || v == nil {
		return nil, nil, &StructureError{Kind: ErrMissingID, Record: i}
	}
	n, err := note.FromDict(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("tree: record %d: %w", i, err)
	}
	rawParent, ok := rec[KeyParentID]
	if !ok {
		return nil, nil, &StructureError{Kind: ErrMissingParentReference, Record: i, ID: n.ID}
	}
	rawPrev, ok := rec[KeyPrevSiblingID]
	if !ok {
		return nil, nil, &StructureError{Kind: ErrMissingSiblingReference, Record: i, ID: n.ID}
	}
	parentID, err := note.DecodeID(KeyParentID, rawParent)
	if err != nil {
		return nil, nil, fmt.Errorf("tree: record %d: %w", i, err)
	}
	prevID, err := note.DecodeID(KeyPrevSiblingID, rawPrev)
	if err != nil {
		return nil, nil, fmt.Errorf("tree: record %d: %w", i, err)
	}
	return &pending{index: i, id: *n.ID, parentID: parentID, prevID: prevID}, n, nil
}

// resolve attaches start, first attaching the chain of not-yet-inserted
// previous siblings it depends on. The chain is followed with an explicit
// stack so long sibling lists cannot exhaust the goroutine stack.
func (t *Tree) resolve(start *pending, byID map[int64]*pending) error {
	stack := []*pending{start}
	onStack := map[int64]bool{start.id: true}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		if cur.prevID != nil {
			prev, ok := byID[*cur.prevID]
			if !ok {
				return cur.fail(ErrMissingNote, fmt.Sprintf("prev_sibling_id %d not found", *cur.prevID))
			}
			if !prev.inserted {
				if onStack[prev.id] {
					return cur.fail(ErrSiblingCycle, fmt.Sprintf("prev_sibling_id %d", prev.id))
				}
				stack = append(stack, prev)
				onStack[prev.id] = true
				continue
			}
		}
		if err := t.attach(cur, byID); err != nil {
			return err
		}
		cur.inserted = true
		stack = stack[:len(stack)-1]
		delete(onStack, cur.id)
	}
	return nil
}

// attach links p under its parent after checking that its previous sibling
// is exactly the parent's current last child.
func (t *Tree) attach(p *pending, byID map[int64]*pending) error {
	parent := Root
	if p.parentID != nil {
		pp, ok := byID[*p.parentID]
		if !ok {
			return p.fail(ErrMissingNote, fmt.Sprintf("parent_id %d not found", *p.parentID))
		}
		parent = pp.node
	}

	children := t.nodes[parent].children
	if p.prevID == nil {
		if len(children) != 0 {
			return p.fail(ErrConflictingSiblingIDs, "more than one first child")
		}
	} else {
		prev := byID[*p.prevID]
		if !sameID(prev.parentID, p.parentID) {
			return p.fail(ErrInconsistentParentIDs,
				fmt.Sprintf("prev_sibling_id %d has parent %s, note has parent %s",
					prev.id, formatRef(prev.parentID), formatRef(p.parentID)))
		}
		if len(children) == 0 || children[len(children)-1] != prev.node {
			return p.fail(ErrConflictingSiblingIDs,
				fmt.Sprintf("prev_sibling_id %d is already followed by another note", prev.id))
		}
	}
	t.link(parent, p.node, -1)
	return nil
}

// parentCycle names the first record, in input order, that is not
// reachable from the root.
func (t *Tree) parentCycle(order []*pending) error {
	reachable := make(map[NodeID]bool, len(order))
	t.Walk(func(id NodeID, _ int) bool {
		reachable[id] = true
		return true
	})
	for _, p := range order {
		if !reachable[p.node] {
			return p.fail(ErrParentCycle, "note is not reachable from the root")
		}
	}
	return &StructureError{Kind: ErrParentCycle, Record: -1}
}

func (p *pending) fail(kind error, detail string) error {
	id := p.id
	return &StructureError{Kind: kind, Record: p.index, ID: &id, Detail: detail}
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func formatRef(id *int64) string {
	if id == nil {
		return "null"
	}
	return fmt.Sprint(*id)
}
