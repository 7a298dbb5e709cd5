// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics exposes composition pass counters as Prometheus
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loomui/loom/compose"
)

// StatsSource provides cumulative pass counters; *[compose.Recomposer]
// implements it.
type StatsSource interface {
	Stats() compose.Stats
}

// Collector is a [prometheus.Collector] over one recomposer's pass
// counters. Register it with a prometheus registry:
//
//	reg.MustRegister(metrics.NewCollector(rec))
type Collector struct {
	src StatsSource

	passes   *prometheus.Desc
	composed *prometheus.Desc
	skipped  *prometheus.Desc
	changes  *prometheus.Desc
}

// NewCollector returns a collector reading from the given source.
func NewCollector(src StatsSource) *Collector {
	return &Collector{
		src: src,
		passes: prometheus.NewDesc("loom_compose_passes_total",
			"Composition passes run.", nil, nil),
		composed: prometheus.NewDesc("loom_compose_groups_composed_total",
			"Group bodies executed across all passes.", nil, nil),
		skipped: prometheus.NewDesc("loom_compose_groups_skipped_total",
			"Groups carried over without executing their body.", nil, nil),
		changes: prometheus.NewDesc("loom_compose_changes_total",
			"Changes handed to the applier.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.passes
	ch <- c.composed
	ch <- c.skipped
	ch <- c.changes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.passes, prometheus.CounterValue, float64(st.Passes))
	ch <- prometheus.MustNewConstMetric(c.composed, prometheus.CounterValue, float64(st.Composed))
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(st.Skipped))
	ch <- prometheus.MustNewConstMetric(c.changes, prometheus.CounterValue, float64(st.Changes))
}
