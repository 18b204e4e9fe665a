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

package alloc

import (
	"context"

	"github.com/clusterctl/nodeselect/pkg/agentsubmit"
	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/job"
)

// TerminationKind selects which agent message Deallocate and ReKill
// enqueue.
type TerminationKind int

const (
	TerminationRegular TerminationKind = iota
	TerminationTimeout
	TerminationPreempted
)

// Deallocate transitions j's allocated nodes to COMPLETING, releases
// licenses, calls the oracle's job_fini hook, and enqueues the
// appropriate termination request. Nodes already DOWN are cleared
// from the completing bitmap without waiting for an agent response
// (spec.md §4.8 "Deallocation", §8 property 7).
func (d *Driver) Deallocate(ctx context.Context, j *job.Job, allocated bitmap.Set, kind TerminationKind) error {
	var toNotify []cluster.NodeIndex
	for _, idx := range allocated.List() {
		n, ok := d.State.Nodes[cluster.NodeIndex(idx)]
		if !ok {
			continue
		}
		if n.IsDown() {
			// Already down: never transitions through COMPLETING, no
			// agent round trip expected to ever complete.
			continue
		}
		if err := d.State.MakeNodeComp(cluster.NodeIndex(idx)); err != nil {
			return err
		}
		toNotify = append(toNotify, cluster.NodeIndex(idx))
	}

	if err := d.Licenses.Release(j); err != nil {
		return err
	}
	if err := d.Oracle.SelectJobFini(ctx, j); err != nil {
		return err
	}

	if len(toNotify) == 0 {
		return nil
	}

	msgType := agentsubmit.TerminateJob
	switch kind {
	case TerminationTimeout:
		msgType = agentsubmit.KillTimelimit
	case TerminationPreempted:
		msgType = agentsubmit.KillPreempted
	}
	return d.Submitter.Submit(msgType, toNotify, nil)
}

// ReKill rebuilds the kill request from the completing bitmap only,
// excluding non-responding and already-down nodes, for jobs whose
// prior termination went unacknowledged (original_source's
// re_kill_job, spec.md §4.8 "Re-kill").
func (d *Driver) ReKill(ctx context.Context, completing bitmap.Set) error {
	var targets []cluster.NodeIndex
	for _, idx := range completing.List() {
		n, ok := d.State.Nodes[cluster.NodeIndex(idx)]
		if !ok || n.IsDown() || n.IsNoRespond() {
			continue
		}
		targets = append(targets, cluster.NodeIndex(idx))
	}
	if len(targets) == 0 {
		return nil
	}
	return d.Submitter.Submit(agentsubmit.TerminateJob, targets, nil)
}
