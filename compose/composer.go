// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compose implements the incremental composition runtime: a
// [Composer] executes a tree of declarative build calls against a slot
// store, matching calls to prior positions by key, remembering values,
// skipping subtrees whose inputs are unchanged, and recording the
// minimal structural changes for an external applier; a [Recomposer]
// tracks invalidation from observable [Cell] writes and schedules
// recomposition passes.
package compose

import (
	"log/slog"

	"github.com/loomui/loom/apply"
	"github.com/loomui/loom/base/slicesx"
	"github.com/loomui/loom/slot"
	"github.com/loomui/loom/stability"
)

// Composer executes one composition pass. It is created by its
// [Recomposer] for each pass and must only be used from the body
// callbacks of that pass; composition is single-threaded per store.
type Composer struct {
	rec    *Recomposer
	store  *slot.Store
	oracle *stability.Oracle

	stack []*frame

	// removed are the previous-pass children dropped by this pass,
	// collected so their subtree scopes can be destroyed at commit.
	removed []*oldKid

	// updates are node value updates recorded by [Composer.UpdateSlot],
	// appended to the change list after the structural changes.
	updates []apply.Change

	// began and created track scope transitions for rollback if the
	// pass aborts.
	began   []*Scope
	created []*Scope

	bodyErrs []error

	composed, skipped int
}

// frame is the in-progress state of one open group during a pass.
type frame struct {
	group *Group
	fresh bool

	// skipped means the group's whole subtree is carried over untouched.
	skipped bool

	// failed means the body panicked; for a retained group the previous
	// content is kept, for a fresh one only the group itself survives.
	failed bool

	start   int // virtual index of the group record in the pre-pass store
	oldKids []*oldKid
	oldPos  int // positional pointer: first unconsumed old child
	keys    map[Key]struct{}

	oldSlots []any
	slots    []any
	lastSlot int

	params []Param
	body   func(*Composer)

	node    any
	nodeRef any // nearest enclosing node (or the root ref)

	kids  []*frame
	els   []any // staged element region, assembled at EndGroup
	span  int
	nodes int
}

// oldKid is one child group of the previous pass, candidate for reuse.
type oldKid struct {
	group    *Group
	start    int
	consumed bool
}

func (c *Composer) cur() *frame {
	if len(c.stack) == 0 {
		panic("compose: no group open; Composer used outside a pass")
	}
	return c.stack[len(c.stack)-1]
}

// Scope returns the invalidation scope of the innermost open group.
func (c *Composer) Scope() *Scope {
	return c.cur().group.scope
}

// fail aborts the pass with the given error.
func (c *Composer) fail(err error) {
	panic(passAbort{err})
}

// BeginGroup opens a structural group with the given key and
// parameters. The caller must check [Composer.Skip] and, unless it
// returns true, emit the group's content, then call
// [Composer.EndGroup]. Most callers use [Composer.Group] instead.
func (c *Composer) BeginGroup(key Key, params ...Param) {
	c.begin(key, nil, params)
}

// BeginNode opens a group that materializes a node in the applier
// target tree. create is called once, when the group is first
// inserted; on reuse the existing node reference is kept, so node
// identity is stable across passes.
func (c *Composer) BeginNode(key Key, create func() any, params ...Param) {
	if create == nil {
		panic("compose: BeginNode requires a create function")
	}
	c.begin(key, create, params)
}

func (c *Composer) begin(key Key, create func() any, params []Param) {
	p := c.cur()
	if p.skipped || p.failed {
		panic("compose: composing into a skipped group")
	}
	if p.keys == nil {
		p.keys = make(map[Key]struct{})
	}
	if _, dup := p.keys[key]; dup {
		c.fail(&KeyCollisionError{Key: key, Parent: p.group.key})
	}
	p.keys[key] = struct{}{}

	f := &frame{lastSlot: -1, params: params}

	isNode := create != nil
	match := p.findOld(key, isNode)
	if match != nil {
		match.consumed = true
		g := match.group
		f.group = g
		f.start = match.start
		f.node = g.node
		f.body = g.body
		if paramsEqual(c.oracle, g.params, params) && !c.rec.scopeDirty(g.scope) {
			f.skipped = true
		} else {
			f.oldSlots = readSlots(c.store, match.start, g)
			f.oldKids = readKids(c.store, match.start, g)
			c.rec.beginScope(g.scope)
			c.began = append(c.began, g.scope)
		}
	} else {
		g := &Group{key: key}
		f.group = g
		f.fresh = true
		if isNode {
			f.node = create()
			g.node = f.node
		}
		sc := &Scope{rec: c.rec, group: g, parent: p.group.scope}
		g.scope = sc
		c.created = append(c.created, sc)
	}
	if f.node != nil {
		f.nodeRef = f.node
	} else {
		f.nodeRef = p.nodeRef
	}
	c.stack = append(c.stack, f)
}

// findOld locates an unconsumed previous-pass child with the given key
// and kind: first by position, then by a bidirectional scan bounded to
// the parent's remaining previous-pass children.
func (p *frame) findOld(key Key, isNode bool) *oldKid {
	if len(p.oldKids) == 0 {
		return nil
	}
	for p.oldPos < len(p.oldKids) && p.oldKids[p.oldPos].consumed {
		p.oldPos++
	}
	ok := func(k *oldKid) bool {
		return !k.consumed && k.group.key == key && (k.group.node != nil) == isNode
	}
	if p.oldPos < len(p.oldKids) && ok(p.oldKids[p.oldPos]) {
		return p.oldKids[p.oldPos]
	}
	if ci := slicesx.Search(p.oldKids, ok, p.oldPos); ci >= 0 {
		return p.oldKids[ci]
	}
	return nil
}

// Skip reports whether the group opened by the last BeginGroup or
// BeginNode call can be skipped: its key matched, every parameter
// compared equal under the stability oracle, and no scope below it is
// invalidated. When true the caller must not emit the group's content;
// the whole subtree is carried over and its slots are left untouched.
func (c *Composer) Skip() bool {
	return c.cur().skipped
}

// EndGroup closes the innermost open group, assembling its staged
// region and aggregating its node count into the parent.
func (c *Composer) EndGroup() {
	f := c.cur()
	c.stack = c.stack[:len(c.stack)-1]
	c.finish(f)
	p := c.cur()
	p.kids = append(p.kids, f)
}

// finish assembles the staged element region of a completed frame.
func (c *Composer) finish(f *frame) {
	if f.skipped || (f.failed && !f.fresh) {
		g := f.group
		f.els = copyRegion(c.store, f.start, g.span)
		f.span = g.span
		f.nodes = g.nodes
		if f.skipped {
			c.skipped++
		}
		return
	}
	els := make([]any, 0, 1+len(f.slots))
	els = append(els, f.group)
	els = append(els, f.slots...)
	nodes := 0
	for _, kid := range f.kids {
		els = append(els, kid.els...)
		nodes += kid.nodes
	}
	if f.node != nil {
		nodes = 1
	}
	f.els = els
	f.span = len(els)
	f.nodes = nodes
	c.composed++
}

// Group composes one structural group: BeginGroup, the body unless the
// group is skippable, EndGroup. Body panics abort only this group's
// subtree for the pass.
func (c *Composer) Group(key Key, body func(c *Composer), params ...Param) {
	c.BeginGroup(key, params...)
	if !c.Skip() {
		c.runBody(body)
	}
	c.EndGroup()
}

// Node composes one node-materializing group; see [Composer.BeginNode].
func (c *Composer) Node(key Key, create func() any, body func(c *Composer), params ...Param) {
	c.BeginNode(key, create, params...)
	if !c.Skip() {
		c.runBody(body)
	}
	c.EndGroup()
}

// runBody executes a group body, recovering panics so that only this
// scope's subtree is aborted for the pass. Pass-fatal and
// corruption-class panics propagate.
func (c *Composer) runBody(body func(*Composer)) {
	f := c.cur()
	f.body = body
	depth := len(c.stack)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r.(type) {
		case passAbort, *slot.CorruptionError:
			panic(r)
		}
		open := make([]*frame, len(c.stack)-depth)
		copy(open, c.stack[depth:])
		c.stack = c.stack[:depth]
		for _, of := range open {
			c.abandon(of)
		}
		for _, kid := range f.kids {
			c.abandon(kid)
		}
		f.kids = nil
		f.failed = true
		c.rec.failScope(f.group.scope)
		err := &BodyError{Key: f.group.key, Recovered: r}
		c.bodyErrs = append(c.bodyErrs, err)
		slog.Error("compose: group body panicked", "key", f.group.key.String(), "recovered", r)
	}()
	body(c)
}

// abandon releases the scopes of a frame subtree whose staged content
// is being dropped: fresh scopes are destroyed, re-run scopes revert
// to invalidated so they are retried. Skipped frames keep their
// previous content and are left alone.
func (c *Composer) abandon(f *frame) {
	if f.skipped {
		return
	}
	if f.fresh {
		c.rec.destroyScope(f.group.scope)
	} else {
		c.rec.failScope(f.group.scope)
	}
	for _, kid := range f.kids {
		c.abandon(kid)
	}
}

// Remember returns the value of the current group's next slot, running
// init to fill it on a freshly inserted group (or when the body
// remembers more slots than the previous pass recorded). On a reused
// group it returns the stored value.
func (c *Composer) Remember(init func() any) any {
	f := c.cur()
	idx := len(f.slots)
	f.lastSlot = idx
	if !f.fresh && idx < len(f.oldSlots) {
		v := f.oldSlots[idx]
		f.slots = append(f.slots, v)
		return v
	}
	v := init()
	f.slots = append(f.slots, v)
	return v
}

// Remember is the typed convenience form of [Composer.Remember].
func Remember[T any](c *Composer, init func() T) T {
	return c.Remember(func() any { return init() }).(T)
}

// UpdateSlot replaces the value of the most recently remembered slot.
// On a reused group, if the new value differs under the stability
// oracle, an Update change is recorded against the nearest enclosing
// node, so the applier refreshes it.
func (c *Composer) UpdateSlot(v any) {
	f := c.cur()
	if f.lastSlot < 0 {
		panic("compose: UpdateSlot without a preceding Remember")
	}
	old := f.slots[f.lastSlot]
	f.slots[f.lastSlot] = v
	if f.fresh {
		return
	}
	if c.oracle.Equal(old, v, c.oracle.Classify(v)) {
		return
	}
	if f.nodeRef != nil {
		c.updates = append(c.updates, apply.Change{Op: apply.Update, Node: f.nodeRef, Value: v})
	}
}

// copyRegion returns the span elements starting at the given virtual
// index, carrying a skipped subtree into the staged region untouched.
func copyRegion(s *slot.Store, start, span int) []any {
	els := make([]any, span)
	for i := range els {
		els[i] = s.Get(start + i)
	}
	return els
}

// readSlots returns the remembered slot values of the group whose
// region starts at the given virtual index.
func readSlots(s *slot.Store, start int, g *Group) []any {
	slots := make([]any, g.slotCount)
	for i := range slots {
		slots[i] = s.Get(start + 1 + i)
	}
	return slots
}

// readKids returns the child groups of the group whose region starts
// at the given virtual index, verifying the stored region layout.
func readKids(s *slot.Store, start int, g *Group) []*oldKid {
	idx := start + 1 + g.slotCount
	kids := make([]*oldKid, 0, g.childCount)
	for i := 0; i < g.childCount; i++ {
		kg, ok := s.Get(idx).(*Group)
		if !ok {
			panic(&slot.CorruptionError{Msg: "expected group record in child position"})
		}
		kids = append(kids, &oldKid{group: kg, start: idx})
		idx += kg.span
	}
	if idx != start+g.span {
		panic(&slot.CorruptionError{Msg: "group span disagrees with stored region size"})
	}
	return kids
}
