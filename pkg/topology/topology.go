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

// Package topology loads the cluster's node table, configuration
// records, feature registry, and partitions from a single YAML
// snapshot document (spec.md §6 "Persistent state": the core itself
// writes nothing, every process restart repopulates from a
// caller-provided snapshot). The snapshot format is our own, not a
// re-parse of Slurm's slurm.conf/gres.conf text formats.
package topology

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/yaml"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/partition"
)

// Snapshot is the on-disk shape of a topology document.
type Snapshot struct {
	Nodes      []NodeSpec      `json:"nodes,omitempty"`
	Configs    []ConfigSpec    `json:"configs,omitempty"`
	Features   []FeatureSpec   `json:"features,omitempty"`
	Partitions []PartitionSpec `json:"partitions,omitempty"`
}

// NodeSpec describes one cluster member.
type NodeSpec struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Config  int    `json:"config"`
	// State is one of idle, allocated, mixed, completing, down, drain,
	// fail, power_save, no_respond; empty defaults to idle.
	State string `json:"state,omitempty"`
}

// ConfigSpec describes one configuration record grouping nodes that
// share declared resources.
type ConfigSpec struct {
	Index      int    `json:"index"`
	CPUs       int    `json:"cpus"`
	Sockets    int    `json:"sockets"`
	Cores      int    `json:"cores"`
	Threads    int    `json:"threads"`
	RealMemory string `json:"realMemory,omitempty"`
	TmpDisk    string `json:"tmpDisk,omitempty"`
	Weight     int    `json:"weight,omitempty"`
	Features   string `json:"features,omitempty"`
	Members    []int  `json:"members"`
}

// FeatureSpec names the node population carrying one feature; a
// feature may be declared by more than one ConfigSpec, so this list is
// additional to (and unioned with) whatever a config's Features string
// already implies.
type FeatureSpec struct {
	Name  string `json:"name"`
	Nodes []int  `json:"nodes"`
}

// PartitionSpec describes one admission-control/sharing-policy scope.
type PartitionSpec struct {
	Name        string `json:"name"`
	MinNodes    int    `json:"minNodes,omitempty"`
	MaxNodes    int    `json:"maxNodes"`
	MaxTime     int    `json:"maxTime,omitempty"`
	DefaultTime int    `json:"defaultTime,omitempty"`
	// State is one of up, down, inactive; empty defaults to up.
	State string `json:"state,omitempty"`
	// Sharing is one of exclusive, no, yes, force; empty defaults to no.
	Sharing  string `json:"sharing,omitempty"`
	SharingN int    `json:"sharingN,omitempty"`
	Members  []int  `json:"members"`
}

// Load parses raw as a Snapshot and materializes it into a fresh
// clusterstate.State and partition table. Unknown fields are rejected
// (yaml.UnmarshalStrict), matching pkg/config's configuration-fragment
// loading discipline.
func Load(raw []byte) (*clusterstate.State, map[string]*partition.Partition, error) {
	var snap Snapshot
	if err := yaml.UnmarshalStrict(raw, &snap); err != nil {
		return nil, nil, fmt.Errorf("topology: %w", err)
	}

	state := clusterstate.New()

	for _, cs := range snap.Configs {
		rec := &cluster.ConfigRecord{
			Index:    cluster.ConfigIndex(cs.Index),
			CPUs:     cs.CPUs,
			Sockets:  cs.Sockets,
			Cores:    cs.Cores,
			Threads:  cs.Threads,
			Weight:   cs.Weight,
			Features: cs.Features,
			Members:  bitmap.New(cs.Members...),
		}
		if cs.RealMemory != "" {
			q, err := resource.ParseQuantity(cs.RealMemory)
			if err != nil {
				return nil, nil, fmt.Errorf("topology: config %d realMemory: %w", cs.Index, err)
			}
			rec.RealMemory = q
		}
		if cs.TmpDisk != "" {
			q, err := resource.ParseQuantity(cs.TmpDisk)
			if err != nil {
				return nil, nil, fmt.Errorf("topology: config %d tmpDisk: %w", cs.Index, err)
			}
			rec.TmpDisk = q
		}
		state.Configs[rec.Index] = rec
		if rec.Features != "" {
			state.Features.Add(rec.Features, rec.Members)
		}
	}

	for _, ns := range snap.Nodes {
		st, err := parseNodeState(ns.State)
		if err != nil {
			return nil, nil, fmt.Errorf("topology: node %d: %w", ns.Index, err)
		}
		n := &cluster.Node{
			Index:   cluster.NodeIndex(ns.Index),
			Name:    ns.Name,
			Address: ns.Address,
			Config:  cluster.ConfigIndex(ns.Config),
			State:   st,
		}
		if rec, ok := state.Configs[n.Config]; ok {
			n.Actual = cluster.Counts{
				CPUs:       rec.CPUs,
				Sockets:    rec.Sockets,
				Cores:      rec.Cores,
				Threads:    rec.Threads,
				RealMemory: rec.RealMemory,
				TmpDisk:    rec.TmpDisk,
			}
		}
		state.RegisterNode(n)
	}

	for _, fs := range snap.Features {
		state.Features.Add(fs.Name, bitmap.New(fs.Nodes...))
	}

	partitions := make(map[string]*partition.Partition, len(snap.Partitions))
	for _, ps := range snap.Partitions {
		pstate, err := parsePartitionState(ps.State)
		if err != nil {
			return nil, nil, fmt.Errorf("topology: partition %q: %w", ps.Name, err)
		}
		policy, err := parseSharingPolicy(ps.Sharing, ps.SharingN)
		if err != nil {
			return nil, nil, fmt.Errorf("topology: partition %q: %w", ps.Name, err)
		}
		partitions[ps.Name] = &partition.Partition{
			Name:        ps.Name,
			MinNodes:    ps.MinNodes,
			MaxNodes:    ps.MaxNodes,
			MaxTime:     ps.MaxTime,
			DefaultTime: ps.DefaultTime,
			State:       pstate,
			Sharing:     policy,
			Members:     bitmap.New(ps.Members...),
		}
	}

	return state, partitions, nil
}

func parseNodeState(s string) (cluster.State, error) {
	switch s {
	case "", "idle":
		return cluster.Idle, nil
	case "allocated":
		return cluster.Allocated, nil
	case "mixed":
		return cluster.Mixed, nil
	case "completing":
		return cluster.Completing, nil
	case "down":
		return cluster.Down, nil
	case "drain":
		return cluster.Drain, nil
	case "fail":
		return cluster.Fail, nil
	case "power_save":
		return cluster.PowerSave, nil
	case "no_respond":
		return cluster.NoRespond, nil
	default:
		return 0, fmt.Errorf("unknown node state %q", s)
	}
}

func parsePartitionState(s string) (partition.State, error) {
	switch s {
	case "", "up":
		return partition.Up, nil
	case "down":
		return partition.Down, nil
	case "inactive":
		return partition.Inactive, nil
	default:
		return 0, fmt.Errorf("unknown partition state %q", s)
	}
}

func parseSharingPolicy(s string, n int) (partition.SharingPolicy, error) {
	switch s {
	case "exclusive":
		return partition.SharingPolicy{Kind: partition.Exclusive}, nil
	case "", "no":
		return partition.SharingPolicy{Kind: partition.No}, nil
	case "yes":
		return partition.SharingPolicy{Kind: partition.Yes, N: n}, nil
	case "force":
		return partition.SharingPolicy{Kind: partition.Force, N: n}, nil
	default:
		return partition.SharingPolicy{}, fmt.Errorf("unknown sharing policy %q", s)
	}
}
