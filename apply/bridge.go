// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apply

import "fmt"

// Applier is the required contract for the external target tree.
// Each method may reject a change by returning an error, which aborts
// the rest of the in-flight batch.
type Applier interface {
	// InsertChild inserts node under parent at child index i.
	// The node's own subtree has already been fully built off-tree.
	InsertChild(parent any, i int, node any) error

	// RemoveChildren removes n children of parent starting at index i.
	RemoveChildren(parent any, i, n int) error

	// MoveChildren moves n children of parent from index from to index
	// to, where to is interpreted after the children are taken out.
	MoveChildren(parent any, from, to, n int) error

	// UpdateNode replaces the value of the given node.
	UpdateNode(node, value any) error
}

// Batcher is optionally implemented by appliers that need to know batch
// boundaries, e.g. to make a batch atomic from the target tree's point
// of view by buffering or rolling back.
type Batcher interface {
	// BeginBatch is called before the first change of a batch.
	BeginBatch()

	// EndBatch is called after the last change of a batch; aborted is
	// true if the batch failed partway and the target should roll back
	// everything applied since BeginBatch.
	EndBatch(aborted bool)
}

// Error reports that the applier target rejected a change. The rest of
// the batch was aborted; the slot store has still committed its own
// bookkeeping, since the structural decisions were valid, so the caller
// must reconcile the target tree, e.g. by retrying a full reset.
type Error struct {
	Index  int    // index of the failed change in the batch
	Change Change // the rejected change
	Err    error  // the applier's error
}

func (e *Error) Error() string {
	return fmt.Sprintf("apply: change %d %v rejected: %v", e.Index, e.Change, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Bridge applies change lists to one applier target, bracketing each
// list in a batch.
type Bridge struct {
	target Applier
}

// NewBridge returns a bridge for the given applier target.
func NewBridge(target Applier) *Bridge {
	return &Bridge{target: target}
}

// Run applies all changes of the given list, in order, as one batch.
// On the first rejected change it stops and returns an [*Error]; if the
// target implements [Batcher] it is told to roll the batch back, so
// partial application is never observable.
func (b *Bridge) Run(list *List) error {
	batcher, _ := b.target.(Batcher)
	if batcher != nil {
		batcher.BeginBatch()
	}
	for i, c := range list.Changes {
		var err error
		switch c.Op {
		case Insert:
			err = b.target.InsertChild(c.Parent, c.At, c.Node)
		case Remove:
			err = b.target.RemoveChildren(c.Parent, c.At, c.Count)
		case Move:
			err = b.target.MoveChildren(c.Parent, c.From, c.To, c.Count)
		case Update:
			err = b.target.UpdateNode(c.Node, c.Value)
		default:
			err = fmt.Errorf("unknown op %v", c.Op)
		}
		if err != nil {
			if batcher != nil {
				batcher.EndBatch(true)
			}
			return &Error{Index: i, Change: c, Err: err}
		}
	}
	if batcher != nil {
		batcher.EndBatch(false)
	}
	return nil
}
