// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slot implements the position-addressable backing store for the
// composition runtime: a gap-buffered array of elements (group records
// and remembered slot values), with relocation-stable [Anchor] references
// and a [Txn] journal that defers all mutation to a single commit point.
//
// Indices in the public API are always in virtual space, which excludes
// the gap: element i is the i-th occupied element in traversal order,
// regardless of where the gap currently sits.
package slot

import "slices"

// minCapacity is the initial physical capacity of a [Store].
const minCapacity = 32

// Store is a gap buffer of elements. The backing array is split as
// [occupied-left][gap][occupied-right]; moving the gap copies only the
// span between the old and new positions, so insertions and removals
// clustered near one traversal cursor are amortized O(1).
//
// A Store is exclusively owned by one composer/recomposer pair and is
// not safe for concurrent use.
type Store struct {
	buf      []any
	gapStart int // physical index of the first gap element
	gapLen   int

	// anchors are the live anchors into this store. Anchors are encoded
	// relative to the side of the gap they fall on (see [Anchor.loc]),
	// so only [Store.MoveGapTo] has to recompute any of them.
	anchors []*Anchor

	// dead is set once a [CorruptionError] has been raised; all further
	// operations fail fast.
	dead bool
}

// Anchored is implemented by elements that carry their own [Anchor],
// allowing [Txn.Splice] to rebind them to their new positions when a
// region is rewritten. Group records in the composition runtime
// implement this.
type Anchored interface {
	StoreAnchor() *Anchor
}

// NewStore returns a new empty [Store].
func NewStore() *Store {
	return &Store{buf: make([]any, minCapacity), gapLen: minCapacity}
}

// Len returns the number of occupied elements.
func (s *Store) Len() int {
	return len(s.buf) - s.gapLen
}

// phys converts a virtual index to a physical one.
func (s *Store) phys(i int) int {
	if i < s.gapStart {
		return i
	}
	return i + s.gapLen
}

// check panics with a [CorruptionError] if the store is dead or the
// given virtual range is out of bounds.
func (s *Store) check(at, count int) {
	if s.dead {
		corruptf("store used after corruption")
	}
	if at < 0 || count < 0 || at+count > s.Len() {
		s.dead = true
		corruptf("range [%d,%d) outside occupied length %d", at, at+count, s.Len())
	}
}

// Get returns the element at the given virtual index.
func (s *Store) Get(i int) any {
	s.check(i, 1)
	return s.buf[s.phys(i)]
}

// Set replaces the element at the given virtual index.
func (s *Store) Set(i int, v any) {
	s.check(i, 1)
	s.buf[s.phys(i)] = v
}

// MoveGapTo moves the gap so that it starts at the given virtual index,
// copying the span between the old and new gap positions and recomputing
// the anchors that fall within it.
func (s *Store) MoveGapTo(i int) {
	s.check(i, 0)
	if i == s.gapStart {
		return
	}
	n := len(s.buf)
	if i < s.gapStart {
		// span [i, gapStart) moves right by gapLen
		copy(s.buf[i+s.gapLen:s.gapStart+s.gapLen], s.buf[i:s.gapStart])
		for _, a := range s.anchors {
			if a.loc >= i && a.loc < s.gapStart {
				a.loc = (a.loc + s.gapLen) - n // now end-relative
			}
		}
		clearRange(s.buf, i, min(i+s.gapLen, s.gapStart))
	} else {
		// span [gapStart, i) (virtual) moves left by gapLen
		copy(s.buf[s.gapStart:i], s.buf[s.gapStart+s.gapLen:i+s.gapLen])
		lo, hi := s.gapStart+s.gapLen, i+s.gapLen
		for _, a := range s.anchors {
			if a.loc < 0 {
				p := n + a.loc
				if p >= lo && p < hi {
					a.loc = p - s.gapLen // now start-relative
				}
			}
		}
		clearRange(s.buf, max(i, s.gapStart+s.gapLen), i+s.gapLen)
	}
	s.gapStart = i
}

// clearRange nils out buf[lo:hi] so the gap holds no references.
func clearRange(buf []any, lo, hi int) {
	for j := lo; j < hi; j++ {
		buf[j] = nil
	}
}

// grow reallocates the backing array to at least double its size
// (and at least need more gap elements), copying both occupied spans.
// Anchors need no adjustment: left-side anchors are start-relative and
// right-side anchors are end-relative.
func (s *Store) grow(need int) {
	n := len(s.buf)
	newLen := max(2*n, n+need, minCapacity)
	nb := make([]any, newLen)
	copy(nb, s.buf[:s.gapStart])
	rn := n - (s.gapStart + s.gapLen)
	copy(nb[newLen-rn:], s.buf[s.gapStart+s.gapLen:])
	s.gapLen += newLen - n
	s.buf = nb
}

// Insert inserts the given element at the given virtual index.
func (s *Store) Insert(at int, v any) {
	s.InsertSlice(at, []any{v})
}

// InsertSlice inserts the given elements at the given virtual index as
// one contiguous region.
func (s *Store) InsertSlice(at int, els []any) {
	s.check(at, 0)
	if len(els) == 0 {
		return
	}
	s.MoveGapTo(at)
	if s.gapLen < len(els) {
		s.grow(len(els) - s.gapLen)
	}
	copy(s.buf[s.gapStart:], els)
	s.gapStart += len(els)
	s.gapLen -= len(els)
}

// Remove removes count elements starting at the given virtual index.
// Anchors within the removed range become stale.
func (s *Store) Remove(at, count int) {
	s.check(at, count)
	if count == 0 {
		return
	}
	s.MoveGapTo(at)
	lo := s.gapStart + s.gapLen
	hi := lo + count
	n := len(s.buf)
	s.anchors = slices.DeleteFunc(s.anchors, func(a *Anchor) bool {
		p := a.loc
		if p < 0 {
			p = n + p
		}
		if p >= lo && p < hi {
			a.dead = true
			return true
		}
		return false
	})
	clearRange(s.buf, lo, hi)
	s.gapLen += count
}

// splice replaces the removeCount elements at the given virtual index
// with the given new elements, then rebinds the anchor of every
// [Anchored] element in the new region to its new position. Anchors in
// the removed range that do not reappear in the new region stay stale.
func (s *Store) splice(at, removeCount int, els []any) {
	s.Remove(at, removeCount)
	s.InsertSlice(at, els)
	for i, el := range els {
		if an, ok := el.(Anchored); ok {
			if a := an.StoreAnchor(); a != nil {
				s.rebind(a, at+i)
			}
		}
	}
}
