// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

import (
	"github.com/loomui/loom/slot"
	"github.com/loomui/loom/stability"
)

// Group is the record of one call-site invocation in the slot store.
// It is the first element of its region; its slotCount remembered
// slots and the regions of its childCount child groups follow it
// contiguously, for span elements in total.
//
// Cross-references between groups go through anchors, never raw
// pointers, so the store can relocate its backing array freely.
type Group struct {
	key    Key
	anchor *slot.Anchor // own position in the store
	parent *slot.Anchor // anchor of the parent group; nil for the root

	childCount int
	slotCount  int
	span       int // total region size including this record
	nodes      int // applier nodes contributed by this subtree

	// node is the applier node reference this group materializes,
	// or nil for a purely structural group.
	node any

	// params are the previous pass's parameter values, compared by the
	// stability oracle to decide skipping.
	params []Param

	// body re-executes this group's subtree; stored by reference so an
	// invalidated scope can be re-entered directly at its anchor.
	body func(*Composer)

	scope *Scope
}

// StoreAnchor implements [slot.Anchored], so splices rebind retained
// group records to their new positions.
func (g *Group) StoreAnchor() *slot.Anchor { return g.anchor }

// Key returns the group's key.
func (g *Group) Key() Key { return g.key }

// Param is one typed parameter of a group, tagged with the stability
// class used to compare it across passes.
type Param struct {
	Value any
	Class stability.Class

	// static marks a construction-time constant that can never change,
	// so it always compares equal without consulting the oracle.
	static bool

	// auto defers classification to the oracle at compare time.
	auto bool
}

// Arg returns a [Param] classified by the stability oracle when it is
// first compared.
func Arg(v any) Param {
	return Param{Value: v, auto: true}
}

// Static returns a [Param] for a construction-time constant, which is
// always treated as unchanged.
func Static(v any) Param {
	return Param{Value: v, static: true}
}

// Classified returns a [Param] with an explicitly declared stability
// class, overriding the oracle's classification.
func Classified(v any, c stability.Class) Param {
	return Param{Value: v, Class: c}
}

// paramsEqual reports whether every new parameter compares equal to the
// previous pass's value under the oracle, the precondition for skipping.
func paramsEqual(o *stability.Oracle, old, new []Param) bool {
	if len(old) != len(new) {
		return false
	}
	for i, np := range new {
		op := old[i]
		if np.static && op.static {
			continue
		}
		class := np.Class
		if np.auto {
			class = o.Classify(np.Value)
		}
		if !o.Equal(op.Value, np.Value, class) {
			return false
		}
	}
	return true
}
