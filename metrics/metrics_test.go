// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomui/loom/compose"
)

type fixedStats compose.Stats

func (f fixedStats) Stats() compose.Stats { return compose.Stats(f) }

func TestCollector(t *testing.T) {
	col := NewCollector(fixedStats{Passes: 3, Composed: 12, Skipped: 7, Changes: 5})
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(col))

	expected := `
# HELP loom_compose_changes_total Changes handed to the applier.
# TYPE loom_compose_changes_total counter
loom_compose_changes_total 5
# HELP loom_compose_groups_composed_total Group bodies executed across all passes.
# TYPE loom_compose_groups_composed_total counter
loom_compose_groups_composed_total 12
# HELP loom_compose_groups_skipped_total Groups carried over without executing their body.
# TYPE loom_compose_groups_skipped_total counter
loom_compose_groups_skipped_total 7
# HELP loom_compose_passes_total Composition passes run.
# TYPE loom_compose_passes_total counter
loom_compose_passes_total 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))
}
