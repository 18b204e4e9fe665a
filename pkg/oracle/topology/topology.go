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

// Package topology ships an oracle backend that scores candidate
// nodes by socket/core affinity instead of pure first-fit, useful when
// nodes carry rich topology minima. Grounded on the teacher's
// policy/builtin/topology-aware/pools.go score-sort-then-allocate
// shape (buildPoolsByTopology / allocatePool / sortPoolsByScore /
// applyGrant), one level up: pools of CPUs there become pools of
// nodes sharing socket/core counts here.
package topology

import (
	"context"
	"sort"

	pkgerrors "github.com/pkg/errors"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/oracle"
)

const Name = "topology"

func init() {
	if err := oracle.Register(Name, "score candidate nodes by socket/core affinity", create); err != nil {
		panic(err)
	}
}

// NodeLookup resolves a node index to its record, the same role the
// teacher's pools.go gets from its CPU tree.
type NodeLookup interface {
	Node(cluster.NodeIndex) (*cluster.Node, bool)
}

type backend struct {
	lookup              NodeLookup
	consumableResources bool
}

func create(opts oracle.Options) (oracle.Oracle, error) {
	lookup, _ := opts["lookup"].(NodeLookup)
	if lookup == nil {
		return nil, pkgerrors.New("topology: backend requires a NodeLookup in options[\"lookup\"]")
	}
	cr, _ := opts["consumable_resources"].(bool)
	return &backend{lookup: lookup, consumableResources: cr}, nil
}

// pool is a group of candidate nodes sharing the same socket/core
// topology, the analogue of pools.go's per-NUMA-node CPU pool.
type pool struct {
	sockets, cores, threads int
	members                 []int
	score                   int
}

// buildPoolsByTopology groups candidate into pools keyed by topology
// shape, mirroring pools.go's buildPoolsByTopology.
func (b *backend) buildPoolsByTopology(candidate bitmap.Set) []pool {
	byShape := map[[3]int]*pool{}
	for _, idx := range candidate.List() {
		n, ok := b.lookup.Node(cluster.NodeIndex(idx))
		if !ok {
			continue
		}
		key := [3]int{n.Actual.Sockets, n.Actual.Cores, n.Actual.Threads}
		p, ok := byShape[key]
		if !ok {
			p = &pool{sockets: key[0], cores: key[1], threads: key[2]}
			byShape[key] = p
		}
		p.members = append(p.members, idx)
	}
	pools := make([]pool, 0, len(byShape))
	for _, p := range byShape {
		p.score = p.sockets*1000 + p.cores*10 + p.threads
		pools = append(pools, *p)
	}
	return pools
}

// sortPoolsByScore orders richer-topology pools first, so allocatePool
// prefers filling out high-affinity nodes before plainer ones.
func sortPoolsByScore(pools []pool) {
	sort.SliceStable(pools, func(i, k int) bool { return pools[i].score > pools[k].score })
}

// allocatePool drains pools in score order until want members have
// been chosen.
func allocatePool(pools []pool, want int) []int {
	chosen := make([]int, 0, want)
	for _, p := range pools {
		for _, idx := range p.members {
			if len(chosen) == want {
				return chosen
			}
			chosen = append(chosen, idx)
		}
	}
	return chosen
}

func (b *backend) SelectJobTest(ctx context.Context, j *job.Job, candidate bitmap.Set, min, max, req int, mode oracle.Mode, preemptCandidates []job.ID) (oracle.Result, error) {
	pools := b.buildPoolsByTopology(candidate)
	sortPoolsByScore(pools)

	want := req
	if want <= 0 || want > bitmap.Count(candidate) {
		want = bitmap.Count(candidate)
	}
	if want > max {
		want = max
	}
	chosen := allocatePool(pools, want)
	if len(chosen) < min {
		return oracle.Result{}, pkgerrors.Errorf("topology: only %d nodes scored, need at least %d", len(chosen), min)
	}

	layout := applyGrant(j, chosen)
	return oracle.Result{Selected: bitmap.New(chosen...), Layout: layout}, nil
}

// applyGrant assigns CPUs per node, the analogue of pools.go's
// applyGrant writing a CPU grant into the pod's resulting allocation.
func applyGrant(j *job.Job, chosen []int) oracle.Layout {
	cpus := j.MinCPUsPerNode
	if cpus <= 0 {
		cpus = 1
	}
	layout := oracle.Layout{PerNode: make(map[int]int, len(chosen))}
	for _, idx := range chosen {
		layout.PerNode[idx] = cpus
		layout.CPUCount += cpus
	}
	return layout
}

func (b *backend) SelectJobBegin(ctx context.Context, j *job.Job) error { return nil }

func (b *backend) SelectJobFini(ctx context.Context, j *job.Job) error { return nil }

func (b *backend) GetInfo(ctx context.Context, q oracle.Query) (interface{}, error) {
	switch q {
	case oracle.CRPluginQuery:
		return b.consumableResources, nil
	default:
		return nil, pkgerrors.Errorf("topology: unknown query %d", q)
	}
}
