// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

// Cell is an observable state cell: a mutable value box whose writes
// are visible to the recomposer's invalidation tracker. Reads during
// composition record the reading scope; a write invalidates every
// recorded reader. Writes may come from any goroutine; they only
// enqueue invalidations and never touch the slot store directly.
//
// Cells compare by identity for skip purposes (they implement
// [stability.Observer]), because mutation is tracked by invalidation,
// not by re-diffing the contents.
type Cell[T any] struct {
	rec     *Recomposer
	value   T
	readers map[*Scope]struct{}
}

// NewCell returns a state cell remembered in the current group's slots,
// so the same cell (by identity) is returned on every recomposition of
// the group.
func NewCell[T any](c *Composer, initial T) *Cell[T] {
	return Remember(c, func() *Cell[T] {
		return &Cell[T]{rec: c.rec, value: initial}
	})
}

// ObserverIdentity implements [stability.Observer].
func (l *Cell[T]) ObserverIdentity() any { return l }

// Get returns the cell's value and records the current scope as a
// reader, so a later [Cell.Set] invalidates it.
func (l *Cell[T]) Get(c *Composer) T {
	sc := c.Scope()
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	if sc != nil {
		if l.readers == nil {
			l.readers = make(map[*Scope]struct{})
		}
		if _, ok := l.readers[sc]; !ok {
			l.readers[sc] = struct{}{}
			sc.reads = append(sc.reads, l)
		}
	}
	return l.value
}

// Value returns the cell's value without recording a read. For use
// outside composition, e.g. by the external driver.
func (l *Cell[T]) Value() T {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return l.value
}

// Set replaces the cell's value and invalidates every scope that read
// it during its most recent composition. Safe to call from any
// goroutine; the recomposition itself runs later, at the next flush.
func (l *Cell[T]) Set(v T) {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	l.value = v
	for sc := range l.readers {
		sc.markInvalid()
	}
}

func (l *Cell[T]) dropReader(sc *Scope) {
	delete(l.readers, sc)
}
