// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomui/loom/apply"
)

func TestSkipUnchangedSiblings(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	runs := map[string]int{}
	var left, right *Cell[string]
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("left"), func(c *Composer) {
			left = NewCell(c, "1")
			v := left.Get(c)
			runs["left"]++
			c.Node(KeyOf("l", v), newItem("l"+v), nop)
		})
		c.Group(KeyOf("right"), func(c *Composer) {
			right = NewCell(c, "1")
			v := right.Get(c)
			runs["right"]++
			c.Node(KeyOf("r", v), newItem("r"+v), nop)
		})
	})
	require.NoError(t, r.Compose())
	require.Equal(t, []string{"l1", "r1"}, root.names())

	left.Set("2")
	flush(t, r)
	assert.Equal(t, []string{"l2", "r1"}, root.names())
	assert.Equal(t, 2, runs["left"])
	assert.Equal(t, 1, runs["right"])

	// The second sibling composes against the node index space it
	// shares with the first.
	ap.reset()
	right.Set("2")
	flush(t, r)
	assert.Equal(t, []string{"l2", "r2"}, root.names())
	assert.Equal(t, []string{
		"remove root@1+1",
		"insert root->r2@1",
	}, ap.log)
}

func TestBatchedWritesSingleFlush(t *testing.T) {
	root, _, r, order := newListFixture(t, []string{"a"})

	// Three writes between flushes collapse into one recomposition of
	// the reading scope.
	order.Set([]string{"b", "a"})
	order.Set([]string{"a"})
	order.Set([]string{"a", "b", "c"})
	flush(t, r)

	assert.Equal(t, []string{"a", "b", "c"}, root.names())
	assert.Equal(t, uint64(2), r.Stats().Passes)
}

func TestFlushCoversMultipleScopes(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	var left, right *Cell[string]
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("left"), func(c *Composer) {
			left = NewCell(c, "1")
			c.Node(KeyOf("l", left.Get(c)), newItem("l"+left.Value()), nop)
		})
		c.Group(KeyOf("right"), func(c *Composer) {
			right = NewCell(c, "1")
			c.Node(KeyOf("r", right.Get(c)), newItem("r"+right.Value()), nop)
		})
	})
	require.NoError(t, r.Compose())

	left.Set("2")
	right.Set("2")
	flush(t, r)
	assert.Equal(t, []string{"l2", "r2"}, root.names())
	assert.Equal(t, uint64(3), r.Stats().Passes)

	// The pending set is drained; a second flush does nothing.
	flush(t, r)
	assert.Equal(t, uint64(3), r.Stats().Passes)
}

func TestParentPassSubsumesChild(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	runs := map[string]int{}
	var outer, inner *Cell[string]
	var innerScope *Scope
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("outer"), func(c *Composer) {
			outer = NewCell(c, "o")
			outer.Get(c)
			runs["outer"]++
			c.Group(KeyOf("inner"), func(c *Composer) {
				innerScope = c.Scope()
				inner = NewCell(c, "i")
				inner.Get(c)
				runs["inner"]++
			})
		})
	})
	require.NoError(t, r.Compose())

	// Both scopes are pending; the child is recomposed within its
	// ancestor's pass, not in a pass of its own.
	outer.Set("o2")
	inner.Set("i2")
	flush(t, r)
	assert.Equal(t, 2, runs["outer"])
	assert.Equal(t, 2, runs["inner"])
	assert.Equal(t, uint64(2), r.Stats().Passes)
	assert.Equal(t, Clean, innerScope.State())
}

func TestScheduleAndCancelFlush(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	var v *Cell[string]
	var sc *Scope
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("g"), func(c *Composer) {
			sc = c.Scope()
			v = NewCell(c, "1")
			c.Node(KeyOf("n", v.Get(c)), newItem("n"+v.Value()), nop)
		})
	})
	require.NoError(t, r.Compose())
	assert.Equal(t, Clean, sc.State())

	v.Set("2")
	assert.Equal(t, Invalidated, sc.State())

	r.ScheduleFlush()
	assert.Equal(t, Scheduled, sc.State())

	// Cancelling reverts the schedule without dropping the pending
	// recomposition.
	r.CancelFlush()
	assert.Equal(t, Invalidated, sc.State())
	assert.Equal(t, []string{"n1"}, root.names())

	flush(t, r)
	assert.Equal(t, Clean, sc.State())
	assert.Equal(t, []string{"n2"}, root.names())
}

func TestInvalidateScope(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	runs := 0
	var sc *Scope
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("g"), func(c *Composer) {
			sc = c.Scope()
			runs++
			c.Node(KeyOf("n"), newItem("n"), nop)
		})
	})
	require.NoError(t, r.Compose())
	require.Equal(t, 1, runs)

	r.Invalidate(sc)
	flush(t, r)
	assert.Equal(t, 2, runs)
	assert.Equal(t, []string{"n"}, root.names())
}

func TestKeyCollisionFailsInitialPass(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("dup"), nop)
		c.Group(KeyOf("dup"), nop)
	})
	err := r.Compose()

	var kc *KeyCollisionError
	require.ErrorAs(t, err, &kc)
	assert.Equal(t, KeyOf("dup"), kc.Key)
	assert.Empty(t, ap.log)
	assert.Empty(t, root.kids)
	assert.Empty(t, r.Snapshot().Groups)
}

func TestKeyCollisionKeepsPreviousPass(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	var mode *Cell[string]
	var sc *Scope
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("g"), func(c *Composer) {
			sc = c.Scope()
			mode = NewCell(c, "ok")
			c.Node(KeyOf("x"), newItem("x1"), nop)
			if mode.Get(c) == "dup" {
				c.Node(KeyOf("x"), newItem("x2"), nop)
			}
		})
	})
	require.NoError(t, r.Compose())
	require.Equal(t, []string{"x1"}, root.names())
	ap.reset()

	mode.Set("dup")
	r.ScheduleFlush()
	err := r.RunPendingRecompositions()

	var kc *KeyCollisionError
	require.ErrorAs(t, err, &kc)
	assert.Empty(t, ap.log)
	assert.Equal(t, []string{"x1"}, root.names())
	// The scope stays pending so a fixed body can retry.
	assert.Equal(t, Invalidated, sc.State())
}

func TestFutureSuspendAndResume(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	var fut *Future[string]
	var sc *Scope
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("async"), func(c *Composer) {
			sc = c.Scope()
			fut = NewFuture[string](c)
			if v, ok := fut.Await(c); ok {
				c.Node(KeyOf("content", v), newItem("content-"+v), nop)
			} else {
				c.Node(KeyOf("spinner"), newItem("spinner"), nop)
			}
		})
	})
	require.NoError(t, r.Compose())
	require.Equal(t, []string{"spinner"}, root.names())
	assert.False(t, fut.Done())
	ap.reset()

	fut.Complete("data")
	assert.Equal(t, Invalidated, sc.State())
	flush(t, r)

	assert.Equal(t, []string{"content-data"}, root.names())
	assert.Equal(t, []string{
		"remove root@0+1",
		"insert root->content-data@0",
	}, ap.log)
	assert.Equal(t, Clean, sc.State())

	// Completing again is a no-op.
	fut.Complete("late")
	assert.True(t, fut.Done())
	assert.Equal(t, Clean, sc.State())
	assert.Equal(t, []string{"content-data"}, root.names())
}

func TestBodyPanicIsolatesScope(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	var mode *Cell[string]
	var sc *Scope
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Group(KeyOf("good"), func(c *Composer) {
			c.Node(KeyOf("g"), newItem("g"), nop)
		})
		c.Group(KeyOf("bad"), func(c *Composer) {
			sc = c.Scope()
			mode = NewCell(c, "ok")
			v := mode.Get(c)
			if v == "boom" {
				panic("kaboom")
			}
			c.Node(KeyOf("b", v), newItem("b-"+v), nop)
		})
	})
	require.NoError(t, r.Compose())
	require.Equal(t, []string{"g", "b-ok"}, root.names())
	ap.reset()

	mode.Set("boom")
	r.ScheduleFlush()
	err := r.RunPendingRecompositions()

	var be *BodyError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KeyOf("bad"), be.Key)
	// The failed scope's previous content survives and it stays
	// pending; nothing reached the applier.
	assert.Equal(t, []string{"g", "b-ok"}, root.names())
	assert.Empty(t, ap.log)
	assert.Equal(t, Invalidated, sc.State())

	mode.Set("fine")
	flush(t, r)
	assert.Equal(t, []string{"g", "b-fine"}, root.names())
	assert.Equal(t, Clean, sc.State())
}

func TestUpdateSlotTargetsNearestNode(t *testing.T) {
	root := &testNode{name: "root"}
	ap := &treeApplier{}
	creates := 0
	var lbl *Cell[string]
	r := NewRecomposer(ap, root, func(c *Composer) {
		c.Node(KeyOf("label"), func() any {
			creates++
			return &testNode{name: "label", value: "hello"}
		}, func(c *Composer) {
			lbl = NewCell(c, "hello")
			v := lbl.Get(c)
			Remember(c, func() string { return v })
			c.UpdateSlot(v)
		})
	})
	require.NoError(t, r.Compose())
	require.Equal(t, "hello", root.kids[0].value)
	ap.reset()

	lbl.Set("bye")
	flush(t, r)

	assert.Equal(t, []string{"update label=bye"}, ap.log)
	assert.Equal(t, "bye", root.kids[0].value)
	// Node identity is stable: create ran only on first insertion.
	assert.Equal(t, 1, creates)

	// Writing the same value back recomposes but updates nothing.
	ap.reset()
	lbl.Set("bye")
	flush(t, r)
	assert.Empty(t, ap.log)
}

func TestApplierRejectionAbortsBatch(t *testing.T) {
	_, ap, r, order := newListFixture(t, []string{"a"})

	ap.failOn = "insert"
	order.Set([]string{"a", "b"})
	r.ScheduleFlush()
	err := r.RunPendingRecompositions()

	var ae *apply.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apply.Insert, ae.Change.Op)
	assert.True(t, ap.aborted)
}
