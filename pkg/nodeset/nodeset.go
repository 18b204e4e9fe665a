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

// Package nodeset builds the weight-ordered node-set lists the picker
// consumes (C3): groups of nodes sharing a configuration that satisfy
// a job's scalar, topology, partition, usable-mask and feature
// constraints, with powered-down members split into penalty-weighted
// duplicate sets.
//
// Modeled on the teacher's cpuallocator.CpuAllocator method-per-phase
// structure: takeIdlePackages/takeIdleCores/takeIdleThreads became
// scalarOK/splitPoweredDown/refilterMembers.
package nodeset

import (
	"sort"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/features"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/log"
	"github.com/clusterctl/nodeselect/pkg/partition"
	"github.com/clusterctl/nodeselect/pkg/selecterr"
)

var logger = log.NewLogger("nodeset")

// NoVal marks a topology minimum as unspecified: it never fails the
// scalar filter.
const NoVal = -1

// Set is one weight-tier group of nodes sharing a configuration and
// matching a job's filters (spec.md §3 "Node set").
type Set struct {
	CPUsPerNodeMin int
	RealMemory     resource.Quantity
	NodeCount      int
	Weight         int
	FeaturesString string
	FeatureBits    uint64
	Members        bitmap.Set
}

// Builder walks configuration records to produce a Set list for one
// selection call.
type Builder struct {
	State NodeCounts
}

// NodeCounts resolves a node's actual, as-opposed-to-configured,
// per-node counts for the deferred C3b re-filter.
type NodeCounts interface {
	Actual(cluster.NodeIndex) (cluster.Counts, bool)
}

// Build implements spec.md §4.3 in full: scalar filter, partition and
// usable-mask intersection, XOR-alternative computation, powered-down
// splitting, and (when not fast-schedule) the deferred per-node
// re-filter. usable is narrowed further here by running the job's
// feature expression (§4.2) through registry: the two-pass bitmap+count
// evaluator produces the final "reservation ∩ excluded-complement ∩
// feature-bitmap-result" mask §4.3 calls for, and a count-pass failure
// (e.g. `4*gpu` with only 3 gpu nodes known to the registry) surfaces
// as InfeasibleFeatures before any configuration is even examined.
// Result is sorted by non-decreasing weight.
func (b *Builder) Build(cfgs []*cluster.ConfigRecord, j *job.Job, part *partition.Partition, registry *cluster.FeatureRegistry, usable bitmap.Set, poweredDown bitmap.Set, fastSchedule bool) ([]Set, error) {
	usable, _, err := features.Evaluate(registry, usable, j.Features)
	if err != nil {
		return nil, err
	}

	var sets []Set
	type deferred struct {
		idx int
	}
	var toRefilter []deferred

	for _, cfg := range cfgs {
		if !scalarOK(j, cfg) {
			if fastSchedule {
				continue
			}
			// Deferred mode: keep the configuration, re-examine
			// members individually below (C3b).
		}

		members := bitmap.And(cfg.Members, part.Members)
		members = bitmap.And(members, usable)
		if bitmap.Count(members) == 0 {
			continue
		}

		bits := features.ValidFeatures(j.Features, cfg)
		if bits == 0 {
			continue
		}

		s := Set{
			CPUsPerNodeMin: cfg.CPUs,
			RealMemory:     cfg.RealMemory,
			NodeCount:      bitmap.Count(members),
			Weight:         cfg.Weight,
			FeaturesString: cfg.Features,
			FeatureBits:    bits,
			Members:        members,
		}
		sets = append(sets, s)
		if !fastSchedule && !scalarOK(j, cfg) {
			toRefilter = append(toRefilter, deferred{idx: len(sets) - 1})
		}
	}

	if !fastSchedule {
		for _, d := range toRefilter {
			sets[d.idx].Members = b.refilterMembers(j, sets[d.idx].Members)
			sets[d.idx].NodeCount = bitmap.Count(sets[d.idx].Members)
		}
		filtered := sets[:0]
		for _, s := range sets {
			if s.NodeCount > 0 {
				filtered = append(filtered, s)
			}
		}
		sets = filtered
	}

	sets = splitPoweredDown(sets, poweredDown)

	sort.SliceStable(sets, func(i, k int) bool { return sets[i].Weight < sets[k].Weight })

	if len(sets) == 0 {
		return nil, selecterr.New(selecterr.InfeasibleConfig, "no node configuration satisfies job request")
	}
	return sets, nil
}

// scalarOK rejects configurations where any job minimum exceeds the
// configuration's per-node maxima. A NoVal topology field never fails.
func scalarOK(j *job.Job, cfg *cluster.ConfigRecord) bool {
	if j.MinCPUsPerNode > 0 && j.MinCPUsPerNode > cfg.CPUs {
		return false
	}
	mem := j.RealMemory.DeepCopy()
	if j.PerCPUMemory && j.MinCPUsPerNode > 0 {
		scaled := mem.DeepCopy()
		scaled.Set(scaled.Value() * int64(j.MinCPUsPerNode))
		mem = scaled
	}
	if mem.Cmp(cfg.RealMemory) > 0 {
		return false
	}
	if j.TmpDisk.Cmp(cfg.TmpDisk) > 0 {
		return false
	}
	if j.Sockets != NoVal && j.Sockets > cfg.Sockets {
		return false
	}
	if j.Cores != NoVal && j.Cores > cfg.Cores {
		return false
	}
	if j.Threads != NoVal && j.Threads > cfg.Threads {
		return false
	}
	return true
}

func (b *Builder) refilterMembers(j *job.Job, members bitmap.Set) bitmap.Set {
	if b.State == nil {
		return members
	}
	var keep []int
	for _, idx := range members.List() {
		actual, ok := b.State.Actual(cluster.NodeIndex(idx))
		if !ok {
			continue
		}
		if nodeScalarOK(j, actual) {
			keep = append(keep, idx)
		}
	}
	return bitmap.New(keep...)
}

func nodeScalarOK(j *job.Job, actual cluster.Counts) bool {
	if j.MinCPUsPerNode > 0 && j.MinCPUsPerNode > actual.CPUs {
		return false
	}
	if j.RealMemory.Cmp(actual.RealMemory) > 0 {
		return false
	}
	if j.TmpDisk.Cmp(actual.TmpDisk) > 0 {
		return false
	}
	if j.Sockets != NoVal && j.Sockets > actual.Sockets {
		return false
	}
	if j.Cores != NoVal && j.Cores > actual.Cores {
		return false
	}
	if j.Threads != NoVal && j.Threads > actual.Threads {
		return false
	}
	return true
}

// splitPoweredDown implements the powered-down penalty split of
// spec.md §4.3: sets wholly powered down are weight-bumped by
// maxWeight; mixed sets are split into a powered-down half (weighted
// w+maxWeight) and a powered-up half (weighted w), guaranteeing
// powered-down sets sort strictly after every powered-up set. When some
// base weight is zero or negative the bump is widened to
// maxWeight-minWeight+1, since w+maxWeight alone would tie.
func splitPoweredDown(sets []Set, poweredDown bitmap.Set) []Set {
	if bitmap.Count(poweredDown) == 0 || len(sets) == 0 {
		return sets
	}
	maxWeight, minWeight := 0, sets[0].Weight
	for _, s := range sets {
		if s.Weight > maxWeight {
			maxWeight = s.Weight
		}
		if s.Weight < minWeight {
			minWeight = s.Weight
		}
	}
	bump := maxWeight
	if minWeight+bump <= maxWeight {
		bump = maxWeight - minWeight + 1
	}

	out := make([]Set, 0, len(sets))
	for _, s := range sets {
		down := bitmap.And(s.Members, poweredDown)
		if bitmap.Count(down) == 0 {
			out = append(out, s)
			continue
		}
		if bitmap.Count(down) == s.NodeCount {
			s.Weight += bump
			out = append(out, s)
			continue
		}
		up := bitmap.Not(s.Members, down)
		upSet := s
		upSet.Members = up
		upSet.NodeCount = bitmap.Count(up)
		out = append(out, upSet)

		downSet := s
		downSet.Members = down
		downSet.NodeCount = bitmap.Count(down)
		downSet.Weight = s.Weight + bump
		out = append(out, downSet)
	}
	return out
}

// FilterForRequiredNodes narrows sets down to only those overlapping
// job's required-node bitmap, a pre-pass used by callers validating a
// required-node list against configuration minima before running the
// full Build (original_source's job_req_node_filter).
func FilterForRequiredNodes(sets []Set, required bitmap.Set) []Set {
	if bitmap.Count(required) == 0 {
		return sets
	}
	var out []Set
	for _, s := range sets {
		if bitmap.Overlap(s.Members, required) {
			out = append(out, s)
		}
	}
	return out
}
