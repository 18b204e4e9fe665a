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

// Package picker implements the best-node picker (C6): a
// weight-ordered accumulate-and-probe loop that invokes the placement
// oracle on growing candidate bitmaps and distinguishes
// now/eventually/never-feasible.
package picker

import (
	"context"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/log"
	"github.com/clusterctl/nodeselect/pkg/nodeset"
	"github.com/clusterctl/nodeselect/pkg/oracle"
	"github.com/clusterctl/nodeselect/pkg/selecterr"
	"github.com/clusterctl/nodeselect/pkg/sharing"
)

var logger = log.NewLogger("picker")

// Bounds is the (min, max, req) node-count triple a pick is evaluated
// against.
type Bounds struct {
	Min int
	Max int
	Req int
}

// Result is the picker's outcome.
type Result struct {
	Status     selecterr.Code
	Selected   bitmap.Set
	Possible   bitmap.Set
	Preemptees []job.ID
	Layout     oracle.Layout
}

// Pick implements spec.md §4.6 in full.
func Pick(ctx context.Context, sets []nodeset.Set, j *job.Job, state *clusterstate.State, bounds Bounds, sharingMode sharing.Mode, preemptEnabled, testOnly bool, preemptCandidates []job.ID, orc oracle.Oracle) (Result, error) {
	if j.HasRequired {
		if res, err := checkRequired(j, state, bounds, sharingMode, preemptEnabled); err != nil {
			return res, err
		}
	}

	alts := alternativeIndices(sets)

	mode := oracle.RunNow
	if testOnly {
		mode = oracle.TestOnly
	}

	var possible bitmap.Set
	havePossible := false
	runnableAvailable := false
	runnableEver := false

	for _, alt := range alts {
		total, matching := bucketByAlternative(sets, alt)

		res, outcome, err := tryAlternative(ctx, matching, j, state, bounds, sharingMode, preemptEnabled, mode, preemptCandidates, orc)
		if err != nil {
			return Result{}, err
		}
		switch outcome {
		case outcomeSuccess:
			return res, nil
		case outcomeAbandon:
			// spec.md §4.6 step 3.d: the oracle over-selected past max
			// for this alternative; abandon it entirely (no possible/
			// runnable probing for it either) and move to the next j.
			continue
		}

		probeAvail := bitmap.And(total, state.Avail)
		if probeSucceeds(ctx, orc, j, probeAvail, bounds, preemptCandidates) {
			runnableAvailable = true
			if !havePossible {
				possible = probeAvail
				havePossible = true
			}
		}
		if probeSucceeds(ctx, orc, j, total, bounds, preemptCandidates) {
			runnableEver = true
			if !havePossible {
				possible = total
				havePossible = true
			}
		}
	}

	switch {
	case runnableAvailable:
		return Result{Status: selecterr.NodesBusy, Possible: possible},
			selecterr.New(selecterr.NodesBusy, "matching nodes exist but are not currently available")
	case runnableEver:
		return Result{Status: selecterr.PartConfigUnavailable, Possible: possible},
			selecterr.New(selecterr.PartConfigUnavailable, "request can only ever run on a subset of configured nodes")
	default:
		return Result{Status: selecterr.InfeasibleConfig},
			selecterr.New(selecterr.InfeasibleConfig, "no alternative can ever satisfy this request")
	}
}

func checkRequired(j *job.Job, state *clusterstate.State, bounds Bounds, sharingMode sharing.Mode, preemptEnabled bool) (Result, error) {
	if !bitmap.Superset(state.Avail, j.RequiredNodes) {
		// A required node merely busy-but-up would still be a member of
		// Avail (only Idle/Sharable exclude it) and would fail the
		// NODES_BUSY checks further down instead. Reaching here means at
		// least one required node is down, failed, not responding, or
		// was never registered at all -- none of which clear up on
		// their own, so this is always the permanent diagnosis.
		e := selecterr.New(selecterr.NodeNotAvail, "required node(s) are not available")
		e.RequiredDrained = true
		return Result{Status: selecterr.NodeNotAvail}, e
	}
	if bitmap.Count(j.RequiredNodes) > bounds.Max {
		return Result{Status: selecterr.InfeasibleConfig},
			selecterr.New(selecterr.InfeasibleConfig, "required node count exceeds max_nodes")
	}
	if !preemptEnabled {
		if sharingMode != sharing.NoShare {
			if !bitmap.Superset(state.Sharable, j.RequiredNodes) || bitmap.Overlap(j.RequiredNodes, state.Completing) {
				return Result{Status: selecterr.NodesBusy},
					selecterr.New(selecterr.NodesBusy, "required node(s) not currently sharable")
			}
		} else if !bitmap.Superset(state.Idle, j.RequiredNodes) {
			return Result{Status: selecterr.NodesBusy},
				selecterr.New(selecterr.NodesBusy, "required node(s) not currently idle")
		}
	}
	return Result{}, nil
}

// alternativeIndices returns the sorted set of XOR-alternative bit
// indices used by any of sets.
func alternativeIndices(sets []nodeset.Set) []int {
	seen := map[int]bool{}
	for _, s := range sets {
		for bit := 0; bit < 64; bit++ {
			if s.FeatureBits&(1<<uint(bit)) != 0 {
				seen[bit] = true
			}
		}
	}
	if len(seen) == 0 {
		return []int{0}
	}
	out := make([]int, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	// sets are already weight-sorted; alternative bit order doesn't need
	// to be anything but stable, so a simple insertion sort over a small
	// slice is enough.
	for i := 1; i < len(out); i++ {
		for k := i; k > 0 && out[k] < out[k-1]; k-- {
			out[k], out[k-1] = out[k-1], out[k]
		}
	}
	return out
}

func bucketByAlternative(sets []nodeset.Set, alt int) (total bitmap.Set, matching []nodeset.Set) {
	total = bitmap.Empty()
	for _, s := range sets {
		if s.FeatureBits&(1<<uint(alt)) != 0 {
			total = bitmap.Or(total, s.Members)
			matching = append(matching, s)
		}
	}
	return total, matching
}

// outcome distinguishes tryAlternative's three terminal states for one
// XOR alternative: a genuine success, an over-selection abandonment
// (spec.md §4.6 step 3.d: "break to next j" without falling through to
// the possible/runnable-ever probes), or "nothing decided yet" so the
// caller runs those probes itself.
type outcome int

const (
	outcomeNone outcome = iota
	outcomeSuccess
	outcomeAbandon
)

// tryAlternative runs steps 3b-3e of spec.md §4.6 for one XOR
// alternative.
func tryAlternative(ctx context.Context, matching []nodeset.Set, j *job.Job, state *clusterstate.State, bounds Bounds, sharingMode sharing.Mode, preemptEnabled bool, mode oracle.Mode, preemptCandidates []job.ID, orc oracle.Oracle) (Result, outcome, error) {
	availBitmap := bitmap.Empty()
	i := 0
	for i < len(matching) {
		k := i
		for {
			s := matching[k]
			m := bitmap.And(s.Members, state.Avail)
			if !preemptEnabled {
				if sharingMode != sharing.NoShare {
					m = bitmap.And(m, state.Sharable)
				} else {
					m = bitmap.And(m, state.Idle)
				}
			}
			m = bitmap.Not(m, state.Completing)
			availBitmap = bitmap.Or(availBitmap, m)

			nextEqual := k+1 < len(matching) && matching[k+1].Weight == s.Weight
			if nextEqual && (sharingMode != sharing.NoShare || preemptEnabled) {
				k++
				continue
			}
			break
		}

		nextEqual := k+1 < len(matching) && matching[k+1].Weight == matching[k].Weight
		if bitmap.Count(availBitmap) > bounds.Req || !nextEqual {
			backup := bitmap.Copy(availBitmap)
			res, err := orc.SelectJobTest(ctx, j, backup, bounds.Min, bounds.Max, bounds.Req, mode, preemptCandidates)
			if err == nil {
				if bitmap.Count(res.Selected) <= bounds.Max {
					return Result{
						Status:     selecterr.Success,
						Selected:   res.Selected,
						Layout:     res.Layout,
						Preemptees: res.Preemptees,
					}, outcomeSuccess, nil
				}
				logger.Debug("oracle over-selected %d nodes (max %d), abandoning alternative", bitmap.Count(res.Selected), bounds.Max)
				return Result{}, outcomeAbandon, nil
			}
		}
		i = k + 1
	}

	if bitmap.Count(availBitmap) >= bounds.Min && (!j.HasRequired || bitmap.Superset(availBitmap, j.RequiredNodes)) {
		backup := bitmap.Copy(availBitmap)
		res, err := orc.SelectJobTest(ctx, j, backup, bounds.Min, bounds.Max, bounds.Req, mode, preemptCandidates)
		if err == nil {
			if bitmap.Count(res.Selected) <= bounds.Max {
				return Result{
					Status:     selecterr.Success,
					Selected:   res.Selected,
					Layout:     res.Layout,
					Preemptees: res.Preemptees,
				}, outcomeSuccess, nil
			}
			logger.Debug("oracle over-selected %d nodes (max %d), abandoning alternative", bitmap.Count(res.Selected), bounds.Max)
			return Result{}, outcomeAbandon, nil
		}
	}
	return Result{}, outcomeNone, nil
}

func probeSucceeds(ctx context.Context, orc oracle.Oracle, j *job.Job, candidate bitmap.Set, bounds Bounds, preemptCandidates []job.ID) bool {
	backup := bitmap.Copy(candidate)
	_, err := orc.SelectJobTest(ctx, j, backup, bounds.Min, bounds.Max, bounds.Req, oracle.TestOnly, preemptCandidates)
	return err == nil
}
