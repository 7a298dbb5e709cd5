// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

// Future is the resumable-task abstraction for asynchronous subtree
// composition. A body that needs an externally supplied value calls
// [Future.Await]; if the value is not ready, the scope is recorded as a
// waiter and the body composes placeholder content. When the value
// resolves, the waiting scopes are invalidated and re-entered directly
// at their anchors on the next flush, not restarted from the root;
// their slots keep their prior state in between.
type Future[T any] struct {
	rec     *Recomposer
	done    bool
	value   T
	waiters map[*Scope]struct{}
}

// NewFuture returns a future remembered in the current group's slots,
// stable across recompositions of the group.
func NewFuture[T any](c *Composer) *Future[T] {
	return Remember(c, func() *Future[T] {
		return &Future[T]{rec: c.rec}
	})
}

// Await returns the resolved value and true, or the zero value and
// false if the value is not ready yet, in which case the current scope
// is re-entered when [Future.Complete] is called.
func (f *Future[T]) Await(c *Composer) (T, bool) {
	sc := c.Scope()
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if f.done {
		return f.value, true
	}
	if sc != nil {
		if f.waiters == nil {
			f.waiters = make(map[*Scope]struct{})
		}
		if _, ok := f.waiters[sc]; !ok {
			f.waiters[sc] = struct{}{}
			sc.reads = append(sc.reads, f)
		}
	}
	var zero T
	return zero, false
}

// Complete resolves the future and invalidates every waiting scope.
// Completing an already resolved future is a no-op. Safe to call from
// any goroutine.
func (f *Future[T]) Complete(v T) {
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	f.value = v
	for sc := range f.waiters {
		sc.markInvalid()
	}
	f.waiters = nil
}

// Done reports whether the future has resolved.
func (f *Future[T]) Done() bool {
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	return f.done
}

func (f *Future[T]) dropReader(sc *Scope) {
	delete(f.waiters, sc)
}
