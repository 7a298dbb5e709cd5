// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

import (
	"slices"

	"github.com/loomui/loom/apply"
	"github.com/loomui/loom/base/slicesx"
)

// genStructural records the structural changes for one recomposed
// frame and, recursively, its reused children. nodeParent is the
// applier node the frame's children attach to and base the node index
// of the frame's first child within it (transparent groups share their
// nearest node ancestor's index space).
//
// Changes per parent come out removal-first: every previous-pass
// child not reused this pass is removed, adjacent drops coalesced into
// one change, then reused children are moved and fresh ones inserted in
// a single left-to-right placement over the surviving order. Reordering
// k children therefore costs at most k-1 moves, and a pure removal
// emits exactly one change.
func (c *Composer) genStructural(list *apply.List, f *frame, nodeParent any, base int) {
	if f.skipped || (f.failed && !f.fresh) {
		return
	}

	// working mirrors the node-bearing order of the previous pass and
	// is edited alongside the changes; node counts stay at their
	// previous-pass values until a child's own diff runs.
	type entry struct {
		g     *Group
		nodes int
	}
	working := make([]entry, 0, len(f.oldKids))
	for _, ok := range f.oldKids {
		working = append(working, entry{ok.group, ok.group.nodes})
	}
	nodeIndex := func(pos int) int {
		n := base
		for i := 0; i < pos; i++ {
			n += working[i].nodes
		}
		return n
	}

	// Removals first.
	for _, ok := range f.oldKids {
		if !ok.consumed {
			c.removed = append(c.removed, ok)
		}
	}
	consumed := make(map[*Group]bool, len(f.oldKids))
	for _, ok := range f.oldKids {
		consumed[ok.group] = ok.consumed
	}
	for i := 0; i < len(working); {
		if consumed[working[i].g] {
			i++
			continue
		}
		j, count := i, 0
		for j < len(working) && !consumed[working[j].g] {
			count += working[j].nodes
			j++
		}
		if count > 0 {
			list.Remove(nodeParent, nodeIndex(i), count)
		}
		working = slices.Delete(working, i, j)
	}

	// Placement: walk the new order, inserting fresh children and
	// moving reused ones that are out of position.
	for i, kid := range f.kids {
		if kid.fresh {
			if kid.nodes > 0 {
				c.emitFresh(list, kid, nodeParent, nodeIndex(i))
			}
			working = slices.Insert(working, i, entry{kid.group, kid.nodes})
			continue
		}
		ci := i
		if ci >= len(working) || working[ci].g != kid.group {
			ci = slicesx.Search(working, func(e entry) bool { return e.g == kid.group }, i)
		}
		if ci == i {
			continue
		}
		if count := working[ci].nodes; count > 0 {
			from := nodeIndex(ci)
			e := working[ci]
			working = slices.Delete(working, ci, ci+1)
			to := nodeIndex(i)
			list.Move(nodeParent, from, to, count)
			working = slices.Insert(working, i, e)
		} else {
			working = slicesx.Move(working, ci, i)
		}
	}

	// Recurse into reused children. Earlier siblings have applied
	// their own diffs by the time a later child's runs, so bases sum
	// this pass's node counts.
	nb := base
	for _, kid := range f.kids {
		if !kid.fresh {
			if kid.node != nil {
				c.genStructural(list, kid, kid.node, 0)
			} else {
				c.genStructural(list, kid, nodeParent, nb)
			}
		}
		nb += kid.nodes
	}
}

// emitFresh records the inserts for a freshly composed subtree in
// postorder: a node's children are attached to it before the node
// itself joins its parent, so partially built subtrees never appear in
// the target tree.
func (c *Composer) emitFresh(list *apply.List, f *frame, nodeParent any, at int) {
	if f.node != nil {
		j := 0
		for _, kid := range f.kids {
			c.emitFresh(list, kid, f.node, j)
			j += kid.nodes
		}
		list.Insert(nodeParent, at, f.node)
		return
	}
	j := at
	for _, kid := range f.kids {
		c.emitFresh(list, kid, nodeParent, j)
		j += kid.nodes
	}
}
