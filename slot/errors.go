// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slot

import (
	"errors"
	"fmt"
)

// ErrStaleAnchor indicates that an [Anchor] was dereferenced after the
// element it referred to was removed from the [Store]. This is recoverable:
// it simply means that region of the store no longer exists.
var ErrStaleAnchor = errors.New("slot: stale anchor")

// CorruptionError is an internal invariant violation in the [Store],
// such as group and slot counts disagreeing with the stored region size.
// It is always fatal: it is raised as a panic, and the Store must not
// be used afterward, since continuing would silently corrupt the
// target tree.
type CorruptionError struct {
	Msg string
}

func (e *CorruptionError) Error() string {
	return "slot: store corrupted: " + e.Msg
}

// corruptf panics with a [CorruptionError] with the given formatted message.
func corruptf(format string, args ...any) {
	panic(&CorruptionError{Msg: fmt.Sprintf(format, args...)})
}
