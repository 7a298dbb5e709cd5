// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package apply defines the ordered list of structural changes produced
// by one composition pass, and the bridge that applies it to an external
// target tree as a single atomic batch.
//
// The runtime does not know what a node is: node and parent references
// are opaque values supplied by the caller when groups are emitted, and
// handed back through the [Applier] interface.
package apply

import "fmt"

// Op is the kind of a structural [Change].
type Op int32

const (
	// Insert inserts one node (with its fully built subtree) under
	// Parent at index At.
	Insert Op = iota

	// Remove removes Count children of Parent starting at index At.
	Remove

	// Move moves Count children of Parent from index From to index To.
	// From is the index before the children are taken out, and To is the
	// index they are reinserted at after the removal, matching
	// [slices.Delete] followed by [slices.Insert].
	Move

	// Update replaces the value of an existing node.
	Update
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "Insert"
	case Remove:
		return "Remove"
	case Move:
		return "Move"
	case Update:
		return "Update"
	}
	return fmt.Sprintf("Op(%d)", int32(o))
}

// Change is one structural edit of the target tree. Changes are created
// during a composition pass, consumed exactly once by [Bridge.Run], and
// then discarded.
//
// Indices are computed by the composer against the evolving child list,
// so they are valid only when the changes are applied in exactly the
// order recorded, without re-deriving indices.
type Change struct {
	Op     Op
	Parent any // parent node reference, for Insert, Remove, Move
	Node   any // node reference, for Insert and Update
	At     int // child index, for Insert and Remove
	From   int // source child index, for Move
	To     int // destination child index, for Move
	Count  int // number of children, for Remove and Move
	Value  any // new node value, for Update
}

func (c Change) String() string {
	switch c.Op {
	case Insert:
		return fmt.Sprintf("Insert(at=%d, node=%v)", c.At, c.Node)
	case Remove:
		return fmt.Sprintf("Remove(at=%d, count=%d)", c.At, c.Count)
	case Move:
		return fmt.Sprintf("Move(from=%d, to=%d, count=%d)", c.From, c.To, c.Count)
	case Update:
		return fmt.Sprintf("Update(node=%v, value=%v)", c.Node, c.Value)
	}
	return c.Op.String()
}

// List is the ordered batch of changes produced by one composition pass.
type List struct {
	Changes []Change
}

// Insert records the insertion of the given node under the given parent
// at the given child index.
func (l *List) Insert(parent any, at int, node any) {
	l.Changes = append(l.Changes, Change{Op: Insert, Parent: parent, At: at, Node: node})
}

// Remove records the removal of count children of the given parent
// starting at the given child index.
func (l *List) Remove(parent any, at, count int) {
	l.Changes = append(l.Changes, Change{Op: Remove, Parent: parent, At: at, Count: count})
}

// Move records moving count children of the given parent from one child
// index to another.
func (l *List) Move(parent any, from, to, count int) {
	l.Changes = append(l.Changes, Change{Op: Move, Parent: parent, From: from, To: to, Count: count})
}

// Update records replacing the value of the given node.
func (l *List) Update(node, value any) {
	l.Changes = append(l.Changes, Change{Op: Update, Node: node, Value: value})
}

// Len returns the number of changes in the list.
func (l *List) Len() int {
	return len(l.Changes)
}

// Empty reports whether the list contains no changes.
func (l *List) Empty() bool {
	return len(l.Changes) == 0
}
