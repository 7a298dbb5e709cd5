// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apply

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logApplier records every call in order and can be told to fail at a
// given change index. It rolls back on an aborted batch, so tests can
// verify all-or-nothing application.
type logApplier struct {
	log       []string
	committed []string
	failAt    int // change index to fail at, -1 for never
	applied   int
	inBatch   bool
}

func newLogApplier() *logApplier {
	return &logApplier{failAt: -1}
}

func (a *logApplier) step(s string) error {
	if a.applied == a.failAt {
		return errors.New("rejected")
	}
	a.applied++
	a.log = append(a.log, s)
	return nil
}

func (a *logApplier) InsertChild(parent any, i int, node any) error {
	return a.step("insert")
}

func (a *logApplier) RemoveChildren(parent any, i, n int) error {
	return a.step("remove")
}

func (a *logApplier) MoveChildren(parent any, from, to, n int) error {
	return a.step("move")
}

func (a *logApplier) UpdateNode(node, value any) error {
	return a.step("update")
}

func (a *logApplier) BeginBatch() {
	a.inBatch = true
}

func (a *logApplier) EndBatch(aborted bool) {
	a.inBatch = false
	if aborted {
		a.log = a.log[:len(a.committed)] // roll back
		return
	}
	a.committed = append([]string{}, a.log...)
}

func TestBridgeOrder(t *testing.T) {
	target := newLogApplier()
	l := &List{}
	l.Insert("root", 0, "a")
	l.Move("root", 2, 0, 1)
	l.Remove("root", 1, 2)
	l.Update("a", 42)

	require.NoError(t, NewBridge(target).Run(l))
	assert.Equal(t, []string{"insert", "move", "remove", "update"}, target.log)
	assert.False(t, target.inBatch)
}

func TestBridgeAtomicity(t *testing.T) {
	target := newLogApplier()
	target.failAt = 2
	l := &List{}
	l.Insert("root", 0, "a")
	l.Insert("root", 1, "b")
	l.Insert("root", 2, "c")

	err := NewBridge(target).Run(l)
	require.Error(t, err)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 2, ae.Index)
	assert.Equal(t, Insert, ae.Change.Op)

	// aborted batch rolled back: target observes none of the changes
	assert.Empty(t, target.log)
	assert.False(t, target.inBatch)
}

func TestChangeString(t *testing.T) {
	l := &List{}
	l.Move("p", 2, 0, 3)
	assert.Equal(t, "Move(from=2, to=0, count=3)", l.Changes[0].String())
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.Empty())
}
