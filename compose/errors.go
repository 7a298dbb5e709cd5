// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

import "fmt"

// KeyCollisionError reports that two sibling groups under the same
// parent declared identical keys within one pass. Ambiguous identity
// breaks positional matching, so this is fatal for the pass: the pass
// is rolled back and the error surfaced to the external driver rather
// than silently picking one of the two.
type KeyCollisionError struct {
	Key    Key
	Parent Key
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("compose: duplicate sibling key %v under %v", e.Key, e.Parent)
}

// BodyError reports that a group's body callback panicked during
// composition. Only that scope's subtree was aborted for the pass
// (its previous content is retained and the scope remains
// invalidated); the rest of the pass committed normally.
type BodyError struct {
	Key       Key
	Recovered any
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("compose: body of group %v panicked: %v", e.Key, e.Recovered)
}

// passAbort carries a pass-fatal error up through body callbacks.
type passAbort struct {
	err error
}
