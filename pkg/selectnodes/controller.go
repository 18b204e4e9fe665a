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

// Package selectnodes is the top-level entry point: Controller wires
// C1-C8 behind a single SelectNodes(job) call, guarded by one coarse
// controller mutex (teacher precedent: cpuallocator's sysfsSingleton
// uses sync.Once / implicit single-writer discovery; this extends that
// pattern to a full controller lock, per spec.md §5).
package selectnodes

import (
	"context"
	"sync"
	"time"

	"github.com/clusterctl/nodeselect/pkg/alloc"
	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/log"
	"github.com/clusterctl/nodeselect/pkg/metrics/selection"
	"github.com/clusterctl/nodeselect/pkg/nodeset"
	"github.com/clusterctl/nodeselect/pkg/oracle"
	"github.com/clusterctl/nodeselect/pkg/partition"
	"github.com/clusterctl/nodeselect/pkg/reservation"
	selectpkg "github.com/clusterctl/nodeselect/pkg/select"
	"github.com/clusterctl/nodeselect/pkg/selecterr"
	"github.com/clusterctl/nodeselect/pkg/sharing"
	"github.com/clusterctl/nodeselect/pkg/telemetry"
)

var logger = log.NewLogger("selectnodes")

// Result is what a successful SelectNodes call hands back to the
// caller.
type Result struct {
	Selected bitmap.Set
	Detail   cluster.NodeDetail
}

// Controller owns the cluster state and every collaborator a
// selection call needs.
type Controller struct {
	mu sync.Mutex

	State       *clusterstate.State
	Partitions  map[string]*partition.Partition
	Jobs        map[job.ID]*job.Job
	Prober      reservation.Prober
	Oracle      oracle.Oracle
	FastSchedule bool
	PreemptEnabled bool
	Alloc       *alloc.Driver
}

// SelectNodes runs the full C1-C8 pipeline for j under the controller
// lock, synchronously, matching spec.md §5's "no suspension points
// within a single selection call."
func (c *Controller) SelectNodes(ctx context.Context, j *job.Job, testOnly bool) (result Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "SelectNodes")
	defer span.End()

	defer func() {
		if err != nil && !testOnly {
			stampStateReason(j, err)
		}
	}()

	part, ok := c.Partitions[j.Partition]
	if !ok || !part.IsUp() {
		selection.Selections.WithLabelValues("infeasible").Inc()
		return Result{}, selecterr.New(selecterr.PartDown, "partition %q is not up", j.Partition)
	}
	if j.MinNodes > part.MaxNodes || j.MaxNodes > part.MaxNodes {
		selection.Selections.WithLabelValues("infeasible").Inc()
		return Result{}, selecterr.New(selecterr.PartNodeLimit, "job node bounds exceed partition %q limits", j.Partition)
	}

	restore, err := reservation.Overlay(c.State, j, c.Prober)
	defer restore()
	if err != nil {
		selection.Selections.WithLabelValues(resultLabel(err)).Inc()
		return Result{}, err
	}

	usable := c.State.Avail
	if j.HasExcluded {
		usable = bitmap.Not(usable, j.ExcludedNodes)
	}

	cr, _ := c.Oracle.GetInfo(ctx, oracle.CRPluginQuery)
	consumableResources, _ := cr.(bool)
	sharingMode := sharing.Resolve(part.Sharing, j.Sharing, consumableResources)

	buildStart := timeNow()
	cfgs := make([]*cluster.ConfigRecord, 0, len(c.State.Configs))
	for _, cfg := range c.State.Configs {
		cfgs = append(cfgs, cfg)
	}
	builder := &nodeset.Builder{}
	sets, err := builder.Build(cfgs, j, part, c.State.Features, usable, c.State.PoweredDown, c.FastSchedule)
	selection.NodeSetBuildDuration.Observe(timeNow().Sub(buildStart).Seconds())
	if err != nil {
		selection.Selections.WithLabelValues(resultLabel(err)).Inc()
		return Result{}, err
	}

	res, err := selectpkg.RunFeatureCounts(ctx, sets, j, c.State, sharingMode, c.PreemptEnabled, testOnly, nil, c.Oracle)
	if err != nil {
		selection.Selections.WithLabelValues(resultLabel(err)).Inc()
		return Result{}, err
	}

	if testOnly {
		selection.Selections.WithLabelValues("success").Inc()
		return Result{Selected: res.Selected}, nil
	}

	if len(res.Preemptees) > 0 {
		if err := c.Alloc.Preempt(ctx, res.Preemptees, func(id job.ID) *job.Job { return c.Jobs[id] }); err != nil {
			selection.Selections.WithLabelValues("busy").Inc()
			return Result{}, err
		}
	}

	if err := c.Alloc.Commit(ctx, j, res.Selected, 0, 0); err != nil {
		selection.Selections.WithLabelValues(resultLabel(err)).Inc()
		return Result{}, err
	}

	selection.Selections.WithLabelValues("success").Inc()
	detail := cluster.BuildNodeDetails(c.State.Nodes, res.Selected)
	return Result{Selected: res.Selected, Detail: detail}, nil
}

func resultLabel(err error) string {
	code, ok := selecterr.CodeOf(err)
	if !ok {
		return "infeasible"
	}
	switch code {
	case selecterr.NodesBusy, selecterr.PartDown, selecterr.JobHeld, selecterr.QoSThreshold, selecterr.AccountingPolicy:
		return "busy"
	default:
		return "infeasible"
	}
}

// timeNow is a seam so the build-duration instrumentation doesn't call
// time.Now() directly in a place that would be awkward to stub in
// tests; it just forwards to the standard library in production.
func timeNow() time.Time { return time.Now() }

// stampStateReason implements spec.md §7's user-visible behavior: on
// permanent failure the job's state_reason is stamped and its
// priority floored to 1 to move it to the end of the queue (unless
// already held, in which case priority is kept at 0); on transient
// failure only the reason is updated and priority is preserved.
func stampStateReason(j *job.Job, err error) {
	se, ok := err.(*selecterr.Error)
	if !ok {
		return
	}
	j.StateReason = se.Code.String()
	if !se.Permanent() {
		return
	}
	if j.Held {
		j.Priority = 0
		return
	}
	if j.Priority > 1 || j.Priority == 0 {
		j.Priority = 1
	}
}
