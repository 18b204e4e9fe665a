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

// Package cluster holds the process-wide, append-only node and
// configuration-record tables: stable small-integer identity for every
// node and group of nodes the selection core reasons about.
package cluster

import (
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
)

// NodeIndex is a stable small-integer node identity. Never a pointer:
// registries are append-only tables indexed by NodeIndex, so a node
// record's lifetime never needs to outlive the table itself.
type NodeIndex int

// ConfigIndex is a stable small-integer configuration-record identity.
type ConfigIndex int

// State is the discrete node operational state.
type State int

const (
	Idle State = iota
	Allocated
	Mixed
	Completing
	Down
	Drain
	Fail
	PowerSave
	NoRespond
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Allocated:
		return "ALLOCATED"
	case Mixed:
		return "MIXED"
	case Completing:
		return "COMPLETING"
	case Down:
		return "DOWN"
	case Drain:
		return "DRAIN"
	case Fail:
		return "FAIL"
	case PowerSave:
		return "POWER_SAVE"
	case NoRespond:
		return "NO_RESPOND"
	default:
		return "UNKNOWN"
	}
}

// Counts holds actual, as-opposed-to-configured, per-node resource
// counts: what C3b's deferred re-filter compares against when the
// controller is not in fast-schedule mode.
type Counts struct {
	CPUs       int
	Sockets    int
	Cores      int
	Threads    int
	RealMemory resource.Quantity
	TmpDisk    resource.Quantity
}

// Node is the immutable-identity, mutable-state record for one
// cluster member.
type Node struct {
	Index   NodeIndex
	Name    string
	Address string
	Config  ConfigIndex

	State State
	// NoRespondFlag and DrainFlag are orthogonal to State: a node can be
	// simultaneously DRAIN and MIXED, for instance.
	NoRespondFlag bool
	DrainFlag     bool

	Actual Counts

	CompletingJobs int
	RunningJobs    int
}

// IsDown reports whether the node should be excluded from any
// candidate set outright.
func (n *Node) IsDown() bool {
	return n.State == Down || n.State == Fail
}

// IsNoRespond reports whether the node is not currently answering the
// agent and should be excluded from fresh placement.
func (n *Node) IsNoRespond() bool {
	return n.NoRespondFlag || n.State == NoRespond
}

// IsConfiguring reports whether the node is still coming up and
// should not yet be counted idle.
func (n *Node) IsConfiguring() bool {
	return n.State == Mixed && n.RunningJobs == 0
}

// ConfigRecord groups nodes sharing declared resources. Immutable
// after load; Members is fixed at construction.
type ConfigRecord struct {
	Index ConfigIndex

	CPUs       int
	Sockets    int
	Cores      int
	Threads    int
	RealMemory resource.Quantity
	TmpDisk    resource.Quantity
	Weight     int
	Features   string

	Members bitmap.Set
}

// HasFeature reports whether this configuration declares name among
// its (comma-separated) feature string.
func (c *ConfigRecord) HasFeature(name string) bool {
	for _, f := range splitFeatures(c.Features) {
		if f == name {
			return true
		}
	}
	return false
}

func splitFeatures(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
