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

// Package clusterstate owns the process-wide node table and the
// derived population bitmaps (C1): avail, idle, sharable, completing,
// powered-down. Unlike the original's file-scope globals (spec.md §9),
// these live inside a State value the controller owns and threads
// through the call graph explicitly.
package clusterstate

import (
	"fmt"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/log"
)

var logger = log.NewLogger("clusterstate")

// State is the owned cluster-state object: the node table, the
// configuration-record table, the feature registry, and the derived
// population bitmaps.
type State struct {
	Nodes   map[cluster.NodeIndex]*cluster.Node
	Configs map[cluster.ConfigIndex]*cluster.ConfigRecord
	Features *cluster.FeatureRegistry

	All         bitmap.Set
	Avail       bitmap.Set
	Idle        bitmap.Set
	Sharable    bitmap.Set
	Completing  bitmap.Set
	PoweredDown bitmap.Set
}

// New returns an empty state ready for node registration.
func New() *State {
	return &State{
		Nodes:       make(map[cluster.NodeIndex]*cluster.Node),
		Configs:     make(map[cluster.ConfigIndex]*cluster.ConfigRecord),
		Features:    cluster.NewFeatureRegistry(),
		All:         bitmap.Empty(),
		Avail:       bitmap.Empty(),
		Idle:        bitmap.Empty(),
		Sharable:    bitmap.Empty(),
		Completing:  bitmap.Empty(),
		PoweredDown: bitmap.Empty(),
	}
}

// RegisterNode appends a node to the table (an append-only operation:
// NodeIndex identity is assigned by the caller and never reused) and
// folds it into the derived bitmaps according to its initial state.
func (s *State) RegisterNode(n *cluster.Node) {
	s.Nodes[n.Index] = n
	s.All = bitmap.Or(s.All, bitmap.New(int(n.Index)))
	s.recompute(n.Index)
}

// recompute refreshes the derived bitmaps for a single node after any
// state transition, maintaining the idle⊆avail, idle∩completing=∅
// invariants atomically with respect to any concurrent selection call
// (the caller holds the controller lock for the duration).
func (s *State) recompute(idx cluster.NodeIndex) {
	n, ok := s.Nodes[idx]
	if !ok {
		return
	}
	bit := bitmap.New(int(idx))

	set := func(pop *bitmap.Set, member bool) {
		if member {
			*pop = bitmap.Or(*pop, bit)
		} else {
			*pop = bitmap.Not(*pop, bit)
		}
	}

	avail := !n.IsDown() && !n.IsNoRespond()
	set(&s.Avail, avail)

	completing := n.State == cluster.Completing
	set(&s.Completing, completing)

	idle := avail && n.State == cluster.Idle && n.RunningJobs == 0 && !completing
	set(&s.Idle, idle)

	sharable := avail && !completing && (n.State == cluster.Idle || n.State == cluster.Mixed)
	set(&s.Sharable, sharable)

	set(&s.PoweredDown, n.State == cluster.PowerSave)
}

// MakeNodeAlloc transitions a node to ALLOCATED, incrementing its
// run-job count and folding the transition into the population
// bitmaps. Mirrors the original's make_node_alloc.
func (s *State) MakeNodeAlloc(idx cluster.NodeIndex) error {
	n, ok := s.Nodes[idx]
	if !ok {
		return fmt.Errorf("clusterstate: unknown node index %d", idx)
	}
	n.State = cluster.Allocated
	n.RunningJobs++
	s.recompute(idx)
	return nil
}

// MakeNodeComp transitions a node to COMPLETING. Mirrors the
// original's make_node_comp.
func (s *State) MakeNodeComp(idx cluster.NodeIndex) error {
	n, ok := s.Nodes[idx]
	if !ok {
		return fmt.Errorf("clusterstate: unknown node index %d", idx)
	}
	n.State = cluster.Completing
	n.CompletingJobs++
	if n.RunningJobs > 0 {
		n.RunningJobs--
	}
	s.recompute(idx)
	return nil
}

// MakeNodeIdle clears a node's completing/allocated status back to
// IDLE once its last job has finished.
func (s *State) MakeNodeIdle(idx cluster.NodeIndex) error {
	n, ok := s.Nodes[idx]
	if !ok {
		return fmt.Errorf("clusterstate: unknown node index %d", idx)
	}
	if n.CompletingJobs > 0 {
		n.CompletingJobs--
	}
	if n.CompletingJobs == 0 && n.RunningJobs == 0 {
		n.State = cluster.Idle
	}
	s.recompute(idx)
	return nil
}

// Overlap reports whether a and b share at least one member.
func Overlap(a, b bitmap.Set) bool { return bitmap.Overlap(a, b) }

// Superset reports whether a is a superset of b.
func Superset(a, b bitmap.Set) bool { return bitmap.Superset(a, b) }
