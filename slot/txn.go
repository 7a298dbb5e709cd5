// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slot

// Txn is a journal of pending store mutations recorded during one
// composition pass. The store itself is not touched until [Txn.Commit]
// replays the journal in recorded order, so a cancelled pass can be
// discarded with [Txn.Rollback] and every outstanding anchor still
// refers to the pre-pass state.
type Txn struct {
	store *Store
	ops   []txOp

	// writes is the read-your-writes overlay for anchored writes
	// recorded but not yet committed.
	writes map[*Anchor]any

	done bool
}

type txOp struct {
	// splice when els != nil or removeCount > 0; anchored write otherwise
	at          int
	removeCount int
	els         []any

	anchor *Anchor
	value  any
}

// Begin starts a new transaction on the store. Only one transaction
// may be in flight at a time; composition is single-threaded per store.
func (s *Store) Begin() *Txn {
	if s.dead {
		corruptf("store used after corruption")
	}
	return &Txn{store: s}
}

// Splice records the replacement of removeCount elements at the given
// virtual index with the given new elements. Indices are interpreted
// against the store state at replay time, in recorded order.
func (t *Txn) Splice(at, removeCount int, els []any) {
	t.ops = append(t.ops, txOp{at: at, removeCount: removeCount, els: els})
}

// Write records an anchored element replacement. Within the transaction,
// [Txn.Read] observes the pending value.
func (t *Txn) Write(a *Anchor, v any) {
	if t.writes == nil {
		t.writes = make(map[*Anchor]any)
	}
	t.writes[a] = v
	t.ops = append(t.ops, txOp{anchor: a, value: v})
}

// Read returns the element the anchor refers to, observing writes
// pending in this transaction.
func (t *Txn) Read(a *Anchor) (any, error) {
	if v, ok := t.writes[a]; ok {
		return v, nil
	}
	return t.store.Read(a)
}

// Commit replays the journal onto the store. The transaction must not
// be used afterward.
func (t *Txn) Commit() error {
	if t.done {
		corruptf("transaction committed or rolled back twice")
	}
	t.done = true
	for _, op := range t.ops {
		if op.els != nil || op.removeCount > 0 {
			t.store.splice(op.at, op.removeCount, op.els)
			continue
		}
		if err := t.store.Write(op.anchor, op.value); err != nil {
			return err
		}
	}
	t.ops = nil
	t.writes = nil
	return nil
}

// Rollback discards the journal, leaving the store exactly as it was
// when the transaction began.
func (t *Txn) Rollback() {
	t.done = true
	t.ops = nil
	t.writes = nil
}
