// Package tree implements the ordered note tree and its flat, id-linked
// persisted form.
//
// The tree is an arena: nodes live in a slice and are addressed by NodeID.
// Node 0 is a virtual root whose children are the top-level notes.
package tree

import (
	"fmt"
	"slices"

	"github.com/starford/tape/internal/note"
)

// NodeID addresses a node inside one Tree. It is stable for the lifetime of
// the tree, including across Clone.
type NodeID int

const (
	// Root is the virtual root node.
	Root NodeID = 0
	// None marks the absence of a node (the root's parent, a first child's
	// previous sibling).
	None NodeID = -1
)

type node struct {
	note     *note.Note
	parent   NodeID
	children []NodeID
	removed  bool
}

// Tree is an ordered multi-way tree of notes. It is not safe for
// concurrent use.
type Tree struct {
	nodes []node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{nodes: []node{{parent: None}}}
}

func (t *Tree) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes) && !t.nodes[id].removed
}

func (t *Tree) mustValid(id NodeID) {
	if !t.valid(id) {
		panic(fmt.Sprintf("tree: invalid node %d", id))
	}
}

// newDetached allocates a node that belongs to no parent yet.
func (t *Tree) newDetached(n *note.Note) NodeID {
	t.nodes = append(t.nodes, node{note: n, parent: None})
	return NodeID(len(t.nodes) - 1)
}

func (t *Tree) link(parent, child NodeID, index int) {
	p := &t.nodes[parent]
	if index < 0 || index >= len(p.children) {
		p.children = append(p.children, child)
	} else {
		p.children = slices.Insert(p.children, index, child)
	}
	t.nodes[child].parent = parent
}

func (t *Tree) unlink(child NodeID) {
	parent := t.nodes[child].parent
	if parent == None {
		return
	}
	p := &t.nodes[parent]
	if i := slices.Index(p.children, child); i >= 0 {
		p.children = slices.Delete(p.children, i, i+1)
	}
	t.nodes[child].parent = None
}

// Append adds n as the last child of parent. It panics if parent is not a
// node of t.
func (t *Tree) Append(parent NodeID, n *note.Note) NodeID {
	t.mustValid(parent)
	id := t.newDetached(n)
	t.link(parent, id, -1)
	return id
}

// Insert adds n as the index-th child of parent. A negative index appends.
func (t *Tree) Insert(parent NodeID, index int, n *note.Note) (NodeID, error) {
	if !t.valid(parent) {
		return None, fmt.Errorf("tree: insert: %w: %d", ErrInvalidNode, parent)
	}
	if index > len(t.nodes[parent].children) {
		return None, fmt.Errorf("tree: insert: %w: %d", ErrInvalidPosition, index)
	}
	id := t.newDetached(n)
	t.link(parent, id, index)
	return id, nil
}

// Remove deletes id and its whole subtree.
func (t *Tree) Remove(id NodeID) error {
	if id == Root || !t.valid(id) {
		return fmt.Errorf("tree: remove: %w: %d", ErrInvalidNode, id)
	}
	t.unlink(id)
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t.nodes[cur].removed = true
		stack = append(stack, t.nodes[cur].children...)
	}
	return nil
}

// Move detaches id and reattaches it as the index-th child of parent,
// counting positions after the detach. A negative index appends. Moving a
// node under itself or one of its descendants fails with ErrParentCycle.
func (t *Tree) Move(id, parent NodeID, index int) error {
	if id == Root || !t.valid(id) {
		return fmt.Errorf("tree: move: %w: %d", ErrInvalidNode, id)
	}
	if !t.valid(parent) {
		return fmt.Errorf("tree: move: %w: %d", ErrInvalidNode, parent)
	}
	for cur := parent; cur != None; cur = t.nodes[cur].parent {
		if cur == id {
			return &StructureError{Kind: ErrParentCycle, Record: -1, ID: t.nodes[id].note.ID, Detail: "cannot move a note under itself"}
		}
	}
	siblings := len(t.nodes[parent].children)
	if t.nodes[id].parent == parent {
		siblings--
	}
	if index > siblings {
		return fmt.Errorf("tree: move: %w: %d", ErrInvalidPosition, index)
	}
	t.unlink(id)
	t.link(parent, id, index)
	return nil
}

// Note returns the note held by id, or nil for the root.
func (t *Tree) Note(id NodeID) *note.Note {
	t.mustValid(id)
	return t.nodes[id].note
}

// Parent returns the parent of id; top-level nodes return Root and the root
// returns None.
func (t *Tree) Parent(id NodeID) NodeID {
	t.mustValid(id)
	return t.nodes[id].parent
}

// Children returns a copy of id's ordered child list.
func (t *Tree) Children(id NodeID) []NodeID {
	t.mustValid(id)
	return slices.Clone(t.nodes[id].children)
}

// Row returns the position of id among its siblings.
func (t *Tree) Row(id NodeID) int {
	t.mustValid(id)
	parent := t.nodes[id].parent
	if parent == None {
		return 0
	}
	return slices.Index(t.nodes[parent].children, id)
}

// Level returns the nesting depth of id. Top-level nodes are at level 0.
func (t *Tree) Level(id NodeID) int {
	t.mustValid(id)
	level := 0
	for cur := t.nodes[id].parent; cur != Root && cur != None; cur = t.nodes[cur].parent {
		level++
	}
	return level
}

// Path returns the row numbers of id and each of its ancestors, innermost
// first.
func (t *Tree) Path(id NodeID) []int {
	t.mustValid(id)
	var path []int
	for cur := id; cur != Root && cur != None; cur = t.nodes[cur].parent {
		path = append(path, t.Row(cur))
	}
	return path
}

// Len returns the number of notes reachable from the root.
func (t *Tree) Len() int {
	n := 0
	t.Walk(func(NodeID, int) bool {
		n++
		return true
	})
	return n
}

// Walk visits every reachable node in pre-order, depth-first, keeping
// sibling order. Depth is 0 for top-level nodes. Returning false from fn
// skips the node's children.
func (t *Tree) Walk(fn func(id NodeID, depth int) bool) {
	t.preorder(func(id, _ NodeID, depth int) bool {
		return fn(id, depth)
	})
}

// preorder walks with an explicit stack and reports each node's previous
// sibling (None for a first child).
func (t *Tree) preorder(fn func(id, prev NodeID, depth int) bool) {
	type frame struct {
		id, prev NodeID
		depth    int
	}
	var stack []frame
	push := func(parent NodeID, depth int) {
		children := t.nodes[parent].children
		for i := len(children) - 1; i >= 0; i-- {
			prev := None
			if i > 0 {
				prev = children[i-1]
			}
			stack = append(stack, frame{id: children[i], prev: prev, depth: depth})
		}
	}
	push(Root, 0)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if fn(f.id, f.prev, f.depth) {
			push(f.id, f.depth+1)
		}
	}
}

// Notes returns every reachable note in pre-order.
func (t *Tree) Notes() []*note.Note {
	var out []*note.Note
	t.Walk(func(id NodeID, _ int) bool {
		out = append(out, t.nodes[id].note)
		return true
	})
	return out
}

// Find returns the node holding the note with the given id.
func (t *Tree) Find(noteID int64) (NodeID, bool) {
	found := None
	t.Walk(func(id NodeID, _ int) bool {
		if found != None {
			return false
		}
		if n := t.nodes[id].note; n.ID != nil && *n.ID == noteID {
			found = id
			return false
		}
		return true
	})
	return found, found != None
}

// Clone returns a deep copy of t. Node ids are preserved.
func (t *Tree) Clone() *Tree {
	c := &Tree{nodes: make([]node, len(t.nodes))}
	for i, n := range t.nodes {
		cp := node{parent: n.parent, children: slices.Clone(n.children), removed: n.removed}
		if n.note != nil {
			cp.note = n.note.Clone()
		}
		c.nodes[i] = cp
	}
	return c
}

// Graft copies every top-level subtree of other, in order, to the end of
// parent's children. It returns the new node ids of the grafted subtrees.
func (t *Tree) Graft(parent NodeID, other *Tree) ([]NodeID, error) {
	if !t.valid(parent) {
		return nil, fmt.Errorf("tree: graft: %w: %d", ErrInvalidNode, parent)
	}
	var roots []NodeID
	mapping := map[NodeID]NodeID{Root: parent}
	other.Walk(func(id NodeID, depth int) bool {
		dst := t.newDetached(other.nodes[id].note.Clone())
		t.link(mapping[other.nodes[id].parent], dst, -1)
		mapping[id] = dst
		if depth == 0 {
			roots = append(roots, dst)
		}
		return true
	})
	return roots, nil
}
