// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slicesx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMove(t *testing.T) {
	s := []string{"a", "b", "c", "d"}
	s = Move(s, 2, 0)
	assert.Equal(t, []string{"c", "a", "b", "d"}, s)

	s = Move(s, 0, 3)
	assert.Equal(t, []string{"a", "b", "d", "c"}, s)
}

func TestSearch(t *testing.T) {
	s := []int{10, 20, 30, 40, 50}
	for i, v := range s {
		assert.Equal(t, i, Search(s, func(e int) bool { return e == v }))
		assert.Equal(t, i, Search(s, func(e int) bool { return e == v }, 0))
		assert.Equal(t, i, Search(s, func(e int) bool { return e == v }, 4))
	}
	assert.Equal(t, -1, Search(s, func(e int) bool { return e == 99 }))
	assert.Equal(t, -1, Search([]int{}, func(e int) bool { return true }))
	assert.Equal(t, 2, Search(s, func(e int) bool { return e == 30 }, 10))
}
