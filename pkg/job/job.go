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

// Package job holds the pending/running job record: its resource
// request, feature expression, node bounds, and sharing preference.
package job

import (
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
)

// ID is a stable small-integer job identity.
type ID int

// Combinator is how a feature term combines with the accumulator built
// from the terms before it.
type Combinator int

const (
	// And intersects; a missing feature clears the accumulator.
	And Combinator = iota
	// Or unions.
	Or
	// Xor unions, but marks the expression as carrying mutually
	// exclusive alternatives (see pkg/features).
	Xor
)

func (c Combinator) String() string {
	switch c {
	case And:
		return "AND"
	case Or:
		return "OR"
	case Xor:
		return "XOR"
	default:
		return "?"
	}
}

// FeatureTerm is one entry of a job's feature expression: a tagged
// variant, not a string to be reparsed downstream.
type FeatureTerm struct {
	Name  string
	Op    Combinator
	Count int
}

// SharingRequest is the user-specified sharing preference.
type SharingRequest int

const (
	SharingIndifferent SharingRequest = iota
	SharingExclusive
	SharingShare
)

// State is the job's lifecycle state.
type State int

const (
	Pending State = iota
	Running
	Completing
	Held
)

// PreemptMode is the closed variant of preemption action assigned to a
// job when it is selected as a preemption victim.
type PreemptMode int

const (
	PreemptCancel PreemptMode = iota
	PreemptCheckpoint
	PreemptRequeue
	PreemptSuspendGang
	PreemptUnknown
)

// Job is the pending/running request the selection core reasons
// about. Partition and Reservation are held as stable indices/names,
// never owning references, to avoid job<->partition lifetime cycles.
type Job struct {
	ID        ID
	Owner     string
	Partition string
	Reservation string

	MinCPUsPerNode int
	// RealMemory is per-node unless PerCPUMemory is set, in which case
	// it is multiplied by MinCPUs when checked against a configuration.
	RealMemory   resource.Quantity
	PerCPUMemory bool
	TmpDisk      resource.Quantity

	Sockets int
	Cores   int
	Threads int

	MinNodes int
	MaxNodes int
	ReqNodes int

	RequiredNodes bitmap.Set
	ExcludedNodes bitmap.Set
	HasRequired   bool
	HasExcluded   bool

	// Allocated is the bitmap Commit actually placed the job on, once
	// RUNNING; distinct from RequiredNodes (the pre-run request) since
	// most jobs run without naming required nodes at all. Preemption
	// reads this, not RequiredNodes, to find a victim's real nodes.
	Allocated bitmap.Set

	Features []FeatureTerm

	Sharing SharingRequest

	Priority    int
	StateReason string
	State       State
	Held        bool

	PreemptModeOf func(victim ID) PreemptMode
}

// Snapshot is the portion of a Job's fields that C7's restoration
// discipline must revert on every exit path (spec.md §4.7, §8
// property 5).
type Snapshot struct {
	MinNodes      int
	ReqNodes      int
	MinCPUsPerNode int
	RequiredNodes bitmap.Set
	HasRequired   bool
}

// Snap captures the fields C7 temporarily overrides.
func (j *Job) Snap() Snapshot {
	return Snapshot{
		MinNodes:       j.MinNodes,
		ReqNodes:       j.ReqNodes,
		MinCPUsPerNode: j.MinCPUsPerNode,
		RequiredNodes:  j.RequiredNodes,
		HasRequired:    j.HasRequired,
	}
}

// Restore reverts the fields captured by Snap. Called unconditionally
// (via defer) by every caller that temporarily overrides them.
func (j *Job) Restore(s Snapshot) {
	j.MinNodes = s.MinNodes
	j.ReqNodes = s.ReqNodes
	j.MinCPUsPerNode = s.MinCPUsPerNode
	j.RequiredNodes = s.RequiredNodes
	j.HasRequired = s.HasRequired
}

// HasFeatureCounts reports whether any feature term carries a
// non-zero count, the condition that triggers C7's per-term pass.
func (j *Job) HasFeatureCounts() bool {
	for _, t := range j.Features {
		if t.Count > 0 {
			return true
		}
	}
	return false
}
