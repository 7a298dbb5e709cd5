// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

import (
	"encoding/json"
	"strings"

	"github.com/loomui/loom/base/indent"
)

// GroupInfo describes one composed group in a [Snapshot].
type GroupInfo struct {
	Key      string `json:"key"`
	Depth    int    `json:"depth"`
	Slots    int    `json:"slots"`
	Children int    `json:"children"`
	Nodes    int    `json:"nodes"`
	Node     bool   `json:"node,omitempty"`
}

// Snapshot is a read-only view of the composed tree as of the last
// committed pass, in preorder. Useful for debugging and tests.
type Snapshot struct {
	PassID   string      `json:"passID"`
	Composed int         `json:"composed"`
	Skipped  int         `json:"skipped"`
	Changes  int         `json:"changes"`
	Groups   []GroupInfo `json:"groups"`
}

// Snapshot captures the committed composed tree. Must not be called
// while a pass is running.
func (r *Recomposer) Snapshot() *Snapshot {
	last := r.LastPass()
	sn := &Snapshot{
		PassID:   last.ID,
		Composed: last.Composed,
		Skipped:  last.Skipped,
		Changes:  last.Changes,
	}
	if r.store.Len() == 0 {
		return sn
	}
	var walk func(start, depth int)
	walk = func(start, depth int) {
		g, isGroup := r.store.Get(start).(*Group)
		if !isGroup {
			return
		}
		sn.Groups = append(sn.Groups, GroupInfo{
			Key:      g.key.String(),
			Depth:    depth,
			Slots:    g.slotCount,
			Children: g.childCount,
			Nodes:    g.nodes,
			Node:     g.node != nil,
		})
		idx := start + 1 + g.slotCount
		for i := 0; i < g.childCount; i++ {
			kg, ok := r.store.Get(idx).(*Group)
			if !ok {
				return
			}
			walk(idx, depth+1)
			idx += kg.span
		}
	}
	walk(0, 0)
	return sn
}

// JSON returns the snapshot as indented JSON.
func (sn *Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(sn, "", "  ")
}

func (sn *Snapshot) String() string {
	var sb strings.Builder
	sb.WriteString("pass " + sn.PassID + "\n")
	for _, g := range sn.Groups {
		sb.WriteString(indent.Tabs(g.Depth))
		sb.WriteString(g.Key)
		if g.Node {
			sb.WriteString(" [node]")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
