// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

// ScopeState is the recomposition state of a [Scope].
type ScopeState int32

const (
	// Clean means the scope's last composed output is up to date.
	Clean ScopeState = iota

	// Invalidated means a state cell the scope reads has been written
	// since its last composition.
	Invalidated

	// Scheduled means the scope's invalidation has been picked up by a
	// flush boundary and will be recomposed at the next
	// [Recomposer.RunPendingRecompositions].
	Scheduled

	// Composing means the scope's body is currently re-executing.
	Composing
)

func (s ScopeState) String() string {
	switch s {
	case Clean:
		return "Clean"
	case Invalidated:
		return "Invalidated"
	case Scheduled:
		return "Scheduled"
	case Composing:
		return "Composing"
	}
	return "Invalid"
}

// readerSet is implemented by anything that tracks scopes as readers
// or waiters ([Cell], [Future]) and must drop a scope when it is
// recomposed or destroyed.
type readerSet interface {
	dropReader(sc *Scope)
}

// Scope is the unit of invalidation: the region of the call tree owned
// by one group that must be re-executed when any state cell it reads is
// written. A scope is created when its group is first composed and
// destroyed when the group is removed.
//
// All scope state is guarded by its recomposer's mutex, since cell
// writes may invalidate scopes from any goroutine.
type Scope struct {
	rec   *Recomposer
	group *Group

	// parent is the scope of the enclosing group; nil for the root.
	// Kept directly (scopes are plain runtime objects, not store
	// elements) so invalidation never has to touch the slot store.
	parent *Scope

	state ScopeState

	// dirtyChildren counts invalidated scopes anywhere below this one;
	// a group is only skippable while it is zero.
	dirtyChildren int

	// reads are the cells and futures that currently track this scope,
	// recorded during its most recent composition.
	reads []readerSet

	dead bool
}

// State returns the scope's current recomposition state.
func (sc *Scope) State() ScopeState {
	sc.rec.mu.Lock()
	defer sc.rec.mu.Unlock()
	return sc.state
}

// Key returns the key of the scope's group.
func (sc *Scope) Key() Key {
	return sc.group.key
}

// The transition helpers below are called with rec.mu held.

// markInvalid transitions the scope to Invalidated and registers it as
// pending, bumping ancestor dirty counts. No-op unless Clean or
// Composing.
func (sc *Scope) markInvalid() {
	if sc.dead || sc.state == Invalidated || sc.state == Scheduled {
		return
	}
	sc.state = Invalidated
	sc.rec.pending[sc] = struct{}{}
	for p := sc.parent; p != nil; p = p.parent {
		p.dirtyChildren++
	}
}

// clearPending removes the scope from the pending set and releases its
// ancestor dirty counts. Called when the scope starts composing or is
// destroyed.
func (sc *Scope) clearPending() {
	if sc.state != Invalidated && sc.state != Scheduled {
		return
	}
	delete(sc.rec.pending, sc)
	for p := sc.parent; p != nil; p = p.parent {
		p.dirtyChildren--
	}
}

// dirty reports whether this scope or anything below it needs
// recomposition, which vetoes skipping.
func (sc *Scope) dirty() bool {
	return sc.state != Clean || sc.dirtyChildren > 0
}

// dropReads detaches the scope from everything it read in its previous
// composition. A fresh read set is recorded as the body re-executes.
func (sc *Scope) dropReads() {
	for _, r := range sc.reads {
		r.dropReader(sc)
	}
	sc.reads = nil
}

// destroy marks the scope dead after its group was removed.
func (sc *Scope) destroy() {
	sc.clearPending()
	sc.dropReads()
	sc.state = Clean
	sc.dead = true
}
