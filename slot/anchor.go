// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slot

// Anchor is a stable logical reference to one element of a [Store] that
// remains valid across insertions, removals, and buffer relocation
// elsewhere in the store. Dereferencing an anchor whose element has been
// removed fails with [ErrStaleAnchor].
type Anchor struct {
	store *Store

	// loc encodes the element position relative to the gap: if loc >= 0
	// the element is left of the gap and loc is its distance from the
	// start of the buffer; if loc < 0 the element is right of the gap
	// and -loc is its distance from the end. Insertions at the gap and
	// buffer growth therefore never invalidate it; only [Store.MoveGapTo]
	// recomputes the anchors in the moved span.
	loc int

	dead bool
}

// Valid reports whether the anchor still refers to a live element.
func (a *Anchor) Valid() bool {
	return a != nil && !a.dead
}

// AnchorFor returns an anchor for the element at the given virtual index.
func (s *Store) AnchorFor(i int) *Anchor {
	s.check(i, 1)
	a := &Anchor{store: s}
	a.loc = s.encode(i)
	s.anchors = append(s.anchors, a)
	return a
}

// encode converts a virtual index to the gap-relative anchor encoding.
func (s *Store) encode(i int) int {
	p := s.phys(i)
	if p < s.gapStart {
		return p
	}
	return p - len(s.buf)
}

// IndexFor returns the current virtual index of the given anchor,
// or [ErrStaleAnchor] if its element has been removed.
func (s *Store) IndexFor(a *Anchor) (int, error) {
	if a == nil || a.dead || a.store != s {
		return 0, ErrStaleAnchor
	}
	if a.loc >= 0 {
		return a.loc, nil
	}
	return len(s.buf) + a.loc - s.gapLen, nil
}

// Read returns the element the anchor refers to,
// or [ErrStaleAnchor] if it has been removed.
func (s *Store) Read(a *Anchor) (any, error) {
	i, err := s.IndexFor(a)
	if err != nil {
		return nil, err
	}
	return s.Get(i), nil
}

// Write replaces the element the anchor refers to,
// or fails with [ErrStaleAnchor] if it has been removed.
func (s *Store) Write(a *Anchor, v any) error {
	i, err := s.IndexFor(a)
	if err != nil {
		return err
	}
	s.Set(i, v)
	return nil
}

// rebind points the given anchor at the element now at virtual index i,
// reviving it if it was staled by an intervening removal.
func (s *Store) rebind(a *Anchor, i int) {
	if a.store != s {
		corruptf("rebinding anchor from a different store")
	}
	if a.dead {
		a.dead = false
		s.anchors = append(s.anchors, a)
	}
	a.loc = s.encode(i)
}
