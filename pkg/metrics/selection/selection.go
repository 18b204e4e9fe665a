// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package selection registers the prometheus collectors for the
// selection-cycle metrics (selections_total, nodeset_build_duration_seconds,
// preemptions_total) and is blank-imported by pkg/metrics/register
// (which cmd/nodeselectd blank-imports in turn), the way the teacher's
// pkg/metrics/register blank-imports its per-subsystem collector
// packages.
package selection

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clusterctl/nodeselect/pkg/metrics"
)

var (
	// Selections counts completed SelectNodes calls by result.
	Selections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeselect",
		Name:      "selections_total",
		Help:      "Total SelectNodes calls by result (success, busy, infeasible).",
	}, []string{"result"})

	// NodeSetBuildDuration measures C3's Build latency.
	NodeSetBuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nodeselect",
		Name:      "nodeset_build_duration_seconds",
		Help:      "Latency of node-set construction (C3).",
	})

	// Preemptions counts C8 preemption actions by mode.
	Preemptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeselect",
		Name:      "preemptions_total",
		Help:      "Total preemption actions taken, by mode.",
	}, []string{"mode"})
)

// fanOut bundles several collectors behind a single Collector, since
// RegisterCollector takes one InitCollector per registration slot and
// this package owns three distinct metrics.
type fanOut []prometheus.Collector

func (f fanOut) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range f {
		c.Describe(ch)
	}
}

func (f fanOut) Collect(ch chan<- prometheus.Metric) {
	for _, c := range f {
		c.Collect(ch)
	}
}

func init() {
	if err := metrics.RegisterCollector("selection", func() (prometheus.Collector, error) {
		return fanOut{Selections, NodeSetBuildDuration, Preemptions}, nil
	}); err != nil {
		panic(err)
	}
}
