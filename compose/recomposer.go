// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/loomui/loom/apply"
	"github.com/loomui/loom/slot"
	"github.com/loomui/loom/stability"
)

// Stats are cumulative counters over all composition passes of a
// [Recomposer].
type Stats struct {
	Passes   uint64
	Composed uint64 // group bodies executed
	Skipped  uint64 // groups carried over without executing their body
	Changes  uint64 // changes handed to the applier
}

// PassInfo describes the most recent composition pass.
type PassInfo struct {
	ID       string // ULID, unique and time-ordered per pass
	Composed int
	Skipped  int
	Changes  int
}

// Recomposer owns one composition: the slot store holding the composed
// tree, the pending-invalidation set, and the bridge to the external
// applier. Composition passes run one at a time on the caller's
// goroutine; [Cell.Set], [Future.Complete], and the flush controls may
// be called from any goroutine.
type Recomposer struct {
	mu             sync.Mutex
	pending        map[*Scope]struct{}
	flushScheduled bool
	stats          Stats
	lastPass       PassInfo

	store  *slot.Store
	bridge *apply.Bridge
	oracle *stability.Oracle

	// rootRef is the applier node that top-level composed nodes attach
	// to. It is never created or removed by the runtime.
	rootRef any

	body func(*Composer)

	rootGroup *Group
}

// NewRecomposer returns a recomposer that composes body into target,
// attaching top-level nodes to rootRef. Call [Recomposer.Compose] to
// run the initial pass.
func NewRecomposer(target apply.Applier, rootRef any, body func(c *Composer)) *Recomposer {
	return &Recomposer{
		pending: make(map[*Scope]struct{}),
		store:   slot.NewStore(),
		bridge:  apply.NewBridge(target),
		oracle:  stability.NewOracle(),
		rootRef: rootRef,
		body:    body,
	}
}

// Oracle returns the stability oracle used for parameter and slot
// comparison, for registering application types.
func (r *Recomposer) Oracle() *stability.Oracle { return r.oracle }

// Stats returns a copy of the cumulative pass counters.
func (r *Recomposer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// LastPass returns information about the most recent pass.
func (r *Recomposer) LastPass() PassInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPass
}

// Compose runs the initial composition pass, building the whole tree
// and applying its inserts to the target.
func (r *Recomposer) Compose() error {
	if r.rootGroup != nil {
		return errors.New("compose: Compose called twice; use RunPendingRecompositions")
	}
	return r.composePass(nil)
}

// Invalidate marks the given scope for recomposition at the next flush,
// as if a cell it read had been written. Safe from any goroutine.
func (r *Recomposer) Invalidate(sc *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc.markInvalid()
}

// ScheduleFlush promotes every invalidated scope to scheduled,
// committing the current pending set to the next
// [Recomposer.RunPendingRecompositions]. Invalidation arriving after
// the boundary still joins that flush; the boundary exists so
// [Recomposer.CancelFlush] has a defined set to release.
func (r *Recomposer) ScheduleFlush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushScheduled = true
	for sc := range r.pending {
		if sc.state == Invalidated {
			sc.state = Scheduled
		}
	}
}

// CancelFlush rescinds a scheduled flush. The scopes revert to
// invalidated; no pending recomposition is dropped, it runs at the
// next flush instead.
func (r *Recomposer) CancelFlush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushScheduled = false
	for sc := range r.pending {
		if sc.state == Scheduled {
			sc.state = Invalidated
		}
	}
}

// RunPendingRecompositions recomposes every pending scope and applies
// the resulting changes, one pass per surviving top-level scope. A
// pending scope whose ancestor is also pending is subsumed by the
// ancestor's pass. Multiple invalidations since the last flush batch
// into this one call.
//
// Per-scope failures don't stop the flush; the errors are joined.
func (r *Recomposer) RunPendingRecompositions() error {
	r.mu.Lock()
	r.flushScheduled = false
	targets := make([]*Scope, 0, len(r.pending))
outer:
	for sc := range r.pending {
		for p := sc.parent; p != nil; p = p.parent {
			if _, ok := r.pending[p]; ok {
				continue outer
			}
		}
		targets = append(targets, sc)
	}
	r.mu.Unlock()

	var errs []error
	for _, sc := range targets {
		r.mu.Lock()
		live := !sc.dead && (sc.state == Invalidated || sc.state == Scheduled)
		r.mu.Unlock()
		if !live {
			// Cleared or removed by an earlier pass in this flush.
			continue
		}
		if err := r.composePass(sc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// composePass runs one composition pass: the initial whole-tree pass
// when target is nil, otherwise a recomposition entered directly at
// the target scope's group. The staged result is committed to the
// store in one splice before any change reaches the applier; applier
// failure therefore leaves the store consistent with the already
// generated change list.
func (r *Recomposer) composePass(target *Scope) error {
	c := &Composer{rec: r, store: r.store, oracle: r.oracle}
	passID := ulid.Make().String()

	var f *frame
	var at, oldSpan, oldNodes int
	var nodeParent any
	var base int
	var body func(*Composer)

	if target == nil {
		g := &Group{key: Key{Site: "root"}}
		g.scope = &Scope{rec: r, group: g}
		f = &frame{group: g, fresh: true, lastSlot: -1, nodeRef: r.rootRef}
		nodeParent = r.rootRef
		body = r.body
	} else {
		g := target.group
		idx, err := r.store.IndexFor(g.anchor)
		if err != nil {
			// The group was removed after the invalidation landed.
			r.destroyScope(target)
			return nil
		}
		f = &frame{group: g, start: idx, lastSlot: -1, node: g.node, params: g.params}
		f.oldSlots = readSlots(r.store, idx, g)
		f.oldKids = readKids(r.store, idx, g)
		r.beginScope(target)
		c.began = append(c.began, target)
		at, oldSpan, oldNodes = idx, g.span, g.nodes
		nodeParent, base = r.nodeContext(g)
		if f.node != nil {
			f.nodeRef = f.node
		} else {
			f.nodeRef = nodeParent
		}
		body = g.body
	}

	c.stack = append(c.stack, f)
	if err := c.run(body); err != nil {
		r.abortPass(c)
		slog.Warn("compose: pass aborted", "pass", passID, "err", err)
		return err
	}
	if len(c.stack) != 1 {
		panic("compose: unbalanced BeginGroup/EndGroup in pass body")
	}
	c.stack = c.stack[:0]
	c.finish(f)

	list := &apply.List{}
	if f.node != nil {
		c.genStructural(list, f, f.node, 0)
	} else {
		c.genStructural(list, f, nodeParent, base)
	}
	list.Changes = append(list.Changes, c.updates...)

	// Scopes of dropped subtrees, collected while the store still
	// holds the previous pass.
	var removedScopes []*Scope
	for _, ok := range c.removed {
		for i := 0; i < ok.group.span; i++ {
			if g, isGroup := r.store.Get(ok.start + i).(*Group); isGroup && g.scope != nil {
				removedScopes = append(removedScopes, g.scope)
			}
		}
	}

	tx := r.store.Begin()
	tx.Splice(at, oldSpan, f.els)
	if err := tx.Commit(); err != nil {
		r.abortPass(c)
		return err
	}
	for i, el := range f.els {
		if g, isGroup := el.(*Group); isGroup && g.anchor == nil {
			g.anchor = r.store.AnchorFor(at + i)
		}
	}

	r.mu.Lock()
	r.commitFrames(f, f.group.parent)
	for _, sc := range removedScopes {
		sc.destroy()
	}
	r.mu.Unlock()

	if target != nil {
		r.fixupAncestors(target.group, f.span-oldSpan, f.nodes-oldNodes)
	} else {
		r.rootGroup = f.group
	}

	r.mu.Lock()
	r.stats.Passes++
	r.stats.Composed += uint64(c.composed)
	r.stats.Skipped += uint64(c.skipped)
	r.stats.Changes += uint64(list.Len())
	r.lastPass = PassInfo{ID: passID, Composed: c.composed, Skipped: c.skipped, Changes: list.Len()}
	r.mu.Unlock()

	slog.Debug("compose: pass committed",
		"pass", passID,
		"composed", c.composed,
		"skipped", c.skipped,
		"changes", list.Len(),
		"bodyErrors", len(c.bodyErrs))

	errs := c.bodyErrs
	if !list.Empty() {
		if err := r.bridge.Run(list); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// run executes the pass body, converting a pass-fatal abort panic
// into its error. Corruption panics propagate.
func (c *Composer) run(body func(*Composer)) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if pa, isAbort := r.(passAbort); isAbort {
			err = pa.err
			return
		}
		panic(r)
	}()
	c.runBody(body)
	return nil
}

// abortPass rolls back the scope transitions of a failed pass: scopes
// created this pass die, scopes that had begun recomposing revert to
// invalidated so nothing is lost. The store was never touched.
func (r *Recomposer) abortPass(c *Composer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sc := range c.created {
		if !sc.dead {
			sc.destroy()
		}
	}
	for _, sc := range c.began {
		if !sc.dead && sc.state == Composing {
			sc.state = Clean
			sc.markInvalid()
		}
	}
}

// commitFrames writes each recomposed frame's staged bookkeeping back
// into its group record and settles its scope. Called with mu held,
// after the store splice, so anchors are bound.
func (r *Recomposer) commitFrames(f *frame, parent *slot.Anchor) {
	g := f.group
	g.parent = parent
	if f.skipped || (f.failed && !f.fresh) {
		return
	}
	g.childCount = len(f.kids)
	g.slotCount = len(f.slots)
	g.span = f.span
	g.nodes = f.nodes
	g.params = f.params
	g.body = f.body
	if sc := g.scope; sc != nil && sc.state == Composing {
		sc.state = Clean
	}
	for _, kid := range f.kids {
		r.commitFrames(kid, g.anchor)
	}
}

// beginScope transitions a scope into Composing as its body is about
// to re-execute, releasing its pending registration and previous read
// set.
func (r *Recomposer) beginScope(sc *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc.clearPending()
	sc.state = Composing
	sc.dropReads()
}

// failScope reverts a scope whose body panicked (or whose staged
// content was dropped with a failed ancestor) back to invalidated, so
// it is retried at the next flush.
func (r *Recomposer) failScope(sc *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc.dead {
		return
	}
	if sc.state == Composing {
		sc.state = Clean
	}
	sc.markInvalid()
}

func (r *Recomposer) destroyScope(sc *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !sc.dead {
		sc.destroy()
	}
}

// scopeDirty reports whether the scope vetoes skipping.
func (r *Recomposer) scopeDirty(sc *Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sc.dirty()
}

// nodeContext resolves the applier parent of a group's children for a
// recomposition entered mid-tree: the node of the nearest
// node-materializing ancestor (or the root ref) and the node index of
// the group's first child within it, accumulated across the
// transparent groups in between.
func (r *Recomposer) nodeContext(g *Group) (nodeParent any, base int) {
	child := g
	for a := child.parent; a != nil; {
		el, err := r.store.Read(a)
		if err != nil {
			panic(&slot.CorruptionError{Msg: "stale parent link in group record"})
		}
		pg, isGroup := el.(*Group)
		if !isGroup {
			panic(&slot.CorruptionError{Msg: "parent link does not reference a group record"})
		}
		pstart, err := r.store.IndexFor(a)
		if err != nil {
			panic(&slot.CorruptionError{Msg: "stale parent link in group record"})
		}
		for _, kid := range readKids(r.store, pstart, pg) {
			if kid.group == child {
				break
			}
			base += kid.group.nodes
		}
		if pg.node != nil {
			return pg.node, base
		}
		child = pg
		a = pg.parent
	}
	return r.rootRef, base
}

// fixupAncestors propagates a recomposed region's size change up the
// retained ancestor chain: spans grow all the way to the root, node
// counts only until the first node-materializing ancestor, which
// contributes a single node regardless of its content.
func (r *Recomposer) fixupAncestors(g *Group, spanDelta, nodeDelta int) {
	if spanDelta == 0 && nodeDelta == 0 {
		return
	}
	propagateNodes := g.node == nil
	for a := g.parent; a != nil; {
		el, err := r.store.Read(a)
		if err != nil {
			panic(&slot.CorruptionError{Msg: "stale parent link in group record"})
		}
		pg, isGroup := el.(*Group)
		if !isGroup {
			panic(&slot.CorruptionError{Msg: "parent link does not reference a group record"})
		}
		pg.span += spanDelta
		if propagateNodes {
			if pg.node != nil {
				propagateNodes = false
			} else {
				pg.nodes += nodeDelta
			}
		}
		a = pg.parent
	}
}
