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

// Package alloc drives allocation commit and preemption (C8): on
// success it claims licenses and marks nodes allocated (no prolog is
// fired); on contention it drives each preemptee through its
// configured preemption mode.
package alloc

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/clusterctl/nodeselect/pkg/agentsubmit"
	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/licensing"
	"github.com/clusterctl/nodeselect/pkg/log"
	"github.com/clusterctl/nodeselect/pkg/oracle"
	"github.com/clusterctl/nodeselect/pkg/selecterr"
)

var logger = log.NewLogger("alloc")

// Driver wires C8 to its collaborators.
type Driver struct {
	State     *clusterstate.State
	Oracle    oracle.Oracle
	Licenses  licensing.Licenser
	Submitter agentsubmit.Submitter
	// GangEnabled reports whether the gang scheduler is active, gating
	// the SuspendGang preemption mode (spec.md §4.8).
	GangEnabled bool
}

// Commit implements spec.md §4.8's success path: it claims licenses,
// marks each selected node ALLOCATED, transitions j to RUNNING,
// records selected in j.Allocated and calls the oracle's job_begin
// hook. It fires no prolog, and defaultTime and infiniteTime are not
// used: no start or end time is set on j.
func (d *Driver) Commit(ctx context.Context, j *job.Job, selected bitmap.Set, defaultTime, infiniteTime time.Duration) error {
	if err := d.Licenses.Claim(j); err != nil {
		return selecterr.Wrap(selecterr.AccountingPolicy, err, "license claim failed for job %d", j.ID)
	}

	for _, idx := range selected.List() {
		if err := d.State.MakeNodeAlloc(cluster.NodeIndex(idx)); err != nil {
			return err
		}
	}

	j.State = job.Running
	j.StateReason = ""
	j.Allocated = selected

	if err := d.Oracle.SelectJobBegin(ctx, j); err != nil {
		return selecterr.Wrap(selecterr.AccountingPolicy, err, "oracle job_begin failed for job %d", j.ID)
	}

	logger.Info("job %d committed on node(s) %s", j.ID, bitmap.Short(selected))
	return nil
}

// Preempt drives each preemptee through its configured mode (spec.md
// §4.8's preemption table). It never aborts the loop on one victim's
// failure: errors are aggregated and, after the loop, BUSY is always
// surfaced if any job was actioned so the caller retries next cycle.
func (d *Driver) Preempt(ctx context.Context, victims []job.ID, victimOf func(job.ID) *job.Job) error {
	if len(victims) == 0 {
		return nil
	}

	var errs *multierror.Error
	actioned := false

	for _, id := range victims {
		victim := victimOf(id)
		if victim == nil {
			continue
		}
		mode := job.PreemptUnknown
		if victim.PreemptModeOf != nil {
			mode = victim.PreemptModeOf(id)
		}

		if err := d.actOnVictim(ctx, victim, mode); err != nil {
			errs = multierror.Append(errs, err)
		}
		if mode != job.PreemptSuspendGang && mode != job.PreemptUnknown {
			actioned = true
		}
	}

	if errs != nil {
		logger.Warn("preemption encountered %d error(s): %v", errs.Len(), errs)
	}

	if actioned {
		return selecterr.New(selecterr.NodesBusy, "preemption in progress, retry next cycle")
	}
	return nil
}

func (d *Driver) actOnVictim(ctx context.Context, victim *job.Job, mode job.PreemptMode) error {
	switch mode {
	case job.PreemptCancel:
		return d.Submitter.Submit(agentsubmit.KillTimelimit, nodeList(victim), nil)

	case job.PreemptCheckpoint:
		if err := d.Submitter.Submit(agentsubmit.TerminateJob, nodeList(victim), "checkpoint-requeue"); err != nil {
			if err2 := d.Submitter.Submit(agentsubmit.TerminateJob, nodeList(victim), "checkpoint-vacate"); err2 != nil {
				return d.Submitter.Submit(agentsubmit.KillPreempted, nodeList(victim), nil)
			}
		}
		return nil

	case job.PreemptRequeue:
		victim.State = job.Pending
		return d.Submitter.Submit(agentsubmit.TerminateJob, nodeList(victim), "requeue")

	case job.PreemptSuspendGang:
		if !d.GangEnabled {
			logger.Warn("job %d: suspend-gang mode requested but gang scheduler disabled, ignoring", victim.ID)
			return nil
		}
		logger.Info("job %d suspended by gang scheduler", victim.ID)
		return nil

	default:
		logger.Error("job %d: unknown preemption mode, taking no action", victim.ID)
		return nil
	}
}

// nodeList derives the agent-message host list from the nodes a job
// is actually running on (j.Allocated, set by Commit), not from
// RequiredNodes -- the pre-run request, which is empty for the common
// case of a job placed without an explicit required-node constraint
// and would otherwise leave preemption messages with no targets at all.
func nodeList(j *job.Job) []cluster.NodeIndex {
	out := make([]cluster.NodeIndex, 0, bitmap.Count(j.Allocated))
	for _, idx := range j.Allocated.List() {
		out = append(out, cluster.NodeIndex(idx))
	}
	return out
}
