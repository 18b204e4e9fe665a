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

// Package oracle declares the placement-oracle contract the selection
// core invokes (consumed, not implemented, by this module — spec.md
// §6): a pluggable component that scores a candidate bitmap against
// topology and returns a concrete per-node resource layout. It is
// destructive of its bitmap argument; callers always pass a disposable
// copy (spec.md §3, §5, §9).
package oracle

import (
	"context"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/job"
)

// Mode is the placement mode passed to SelectJobTest.
type Mode int

const (
	RunNow Mode = iota
	TestOnly
	WillRun
)

// Layout is a job's per-node resource assignment as returned by the
// oracle.
type Layout struct {
	CPUCount int
	PerNode  map[int]int // node index -> CPUs assigned
}

// Result is the placement-oracle's outcome for one SelectJobTest call.
type Result struct {
	Selected    bitmap.Set
	Layout      Layout
	Preemptees  []job.ID
}

// Query identifies a GetInfo request.
type Query int

const (
	// CRPluginQuery asks whether consumable resources are enabled.
	CRPluginQuery Query = iota
)

// Oracle is the placement-oracle contract.
type Oracle interface {
	// SelectJobTest scores candidate (which it may shrink in place —
	// callers must pass an owned, disposable copy) against j's
	// min/max/req bounds in the given mode. preemptCandidates names
	// jobs the oracle may choose to preempt; it returns the jobs it
	// actually selected as preemptees.
	SelectJobTest(ctx context.Context, j *job.Job, candidate bitmap.Set, min, max, req int, mode Mode, preemptCandidates []job.ID) (Result, error)
	// SelectJobBegin is called after commit.
	SelectJobBegin(ctx context.Context, j *job.Job) error
	// SelectJobFini is called on deallocation.
	SelectJobFini(ctx context.Context, j *job.Job) error
	// GetInfo answers a one-shot query such as CRPluginQuery.
	GetInfo(ctx context.Context, q Query) (interface{}, error)
}
