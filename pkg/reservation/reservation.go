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

// Package reservation implements the reservation overlay (C4): it
// narrows the available population to what a job's reservation (named
// or implicit) permits, for the duration of one selection call.
package reservation

import (
	"time"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/selecterr"
)

// Prober is the reservation module's probe contract (spec.md §6):
// job_test_resv. KeepFuture asks the prober to also report
// reservations that start in the near future, used by the BUSY
// diagnosis of spec.md §4.4.
type Prober interface {
	JobTestResv(j *job.Job, keepFuture bool) (start time.Time, usable bitmap.Set, err error)
}

// AlwaysUsable is a Prober reporting every node as usable, with no
// start-time floor; it stands in for the reservation subsystem
// (out of scope, spec.md §1) when a deployment runs without one.
type AlwaysUsable struct {
	// All is the node population reported usable.
	All bitmap.Set
}

func (p AlwaysUsable) JobTestResv(j *job.Job, keepFuture bool) (time.Time, bitmap.Set, error) {
	return time.Time{}, p.All, nil
}

// Overlay implements spec.md §4.4: if the job names no reservation, it
// probes for the smallest usable bitmap and temporarily narrows
// state.Avail to avail∩usable, returning a restore func the caller
// must invoke on every exit path (or, preferably, defer). If the job
// names a reservation, the reservation module supplies the usable mask
// up front and failures are terminal (nothing is overlaid, so the
// returned restore is a no-op); on success Avail is narrowed and
// restored the same way as in the unnamed case.
func Overlay(state *clusterstate.State, j *job.Job, probe Prober) (restore func(), err error) {
	if j.Reservation == "" {
		start, usable, perr := probe.JobTestResv(j, true)
		if perr != nil {
			return func() {}, perr
		}
		if bitmap.Count(usable) < j.MinNodes {
			return func() {}, selecterr.New(selecterr.NodesBusy,
				"reservation window leaves only %d usable nodes, need %d (next window %s)",
				bitmap.Count(usable), j.MinNodes, start)
		}
		if j.HasRequired && !bitmap.Superset(usable, j.RequiredNodes) {
			return func() {}, selecterr.New(selecterr.NodesBusy,
				"required nodes are not within the usable reservation window")
		}
		saved := state.Avail
		state.Avail = bitmap.And(state.Avail, usable)
		return func() { state.Avail = saved }, nil
	}

	_, usable, perr := probe.JobTestResv(j, false)
	if perr != nil {
		if code, ok := selecterr.CodeOf(perr); ok {
			return func() {}, selecterr.New(code, "reservation %q: %v", j.Reservation, perr)
		}
		return func() {}, selecterr.New(selecterr.ReservationNotUsable, "reservation %q: %v", j.Reservation, perr)
	}
	if j.HasRequired && !bitmap.Superset(usable, j.RequiredNodes) {
		return func() {}, selecterr.New(selecterr.InfeasibleConfig,
			"required nodes fall outside reservation %q", j.Reservation)
	}
	saved := state.Avail
	state.Avail = bitmap.And(state.Avail, usable)
	return func() { state.Avail = saved }, nil
}
