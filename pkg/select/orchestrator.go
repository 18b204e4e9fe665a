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

// Package selectpkg implements the feature-count orchestrator (C7):
// for each feature term carrying a count, it runs the picker against
// the subset of node sets matching that feature and unions the
// results into the job's required set, then invokes the picker once
// more over the full list to place any remaining nodes.
package selectpkg

import (
	"context"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/log"
	"github.com/clusterctl/nodeselect/pkg/nodeset"
	"github.com/clusterctl/nodeselect/pkg/oracle"
	"github.com/clusterctl/nodeselect/pkg/select/picker"
	"github.com/clusterctl/nodeselect/pkg/sharing"
)

var logger = log.NewLogger("select")

// RunFeatureCounts implements spec.md §4.7. Restoration of
// (MinNodes, ReqNodes, MinCPUsPerNode, RequiredNodes) is unconditional
// via defer, satisfying §8 property 5 on every exit path including
// error returns.
func RunFeatureCounts(ctx context.Context, sets []nodeset.Set, j *job.Job, state *clusterstate.State, sharingMode sharing.Mode, preemptEnabled, testOnly bool, preemptCandidates []job.ID, orc oracle.Oracle) (picker.Result, error) {
	snap := j.Snap()
	defer j.Restore(snap)

	if !j.HasFeatureCounts() {
		return picker.Pick(ctx, sets, j, state, picker.Bounds{Min: j.MinNodes, Max: j.MaxNodes, Req: reqNodes(j)}, sharingMode, preemptEnabled, testOnly, preemptCandidates, orc)
	}

	accumulator := bitmap.Empty()

	for _, term := range j.Features {
		if term.Count == 0 {
			continue
		}

		var restricted []nodeset.Set
		for _, s := range sets {
			if containsFeature(s.FeaturesString, term.Name) {
				restricted = append(restricted, s)
			}
		}

		j.MinNodes = term.Count
		j.ReqNodes = term.Count
		j.MinCPUsPerNode = term.Count
		j.HasRequired = false
		j.RequiredNodes = bitmap.Empty()

		res, err := picker.Pick(ctx, restricted, j, state, picker.Bounds{Min: term.Count, Max: snap.RequiredNodes.Size() + snap.MinNodes + term.Count, Req: term.Count}, sharingMode, preemptEnabled, testOnly, preemptCandidates, orc)
		if err != nil {
			return picker.Result{}, err
		}

		accumulator = bitmap.Or(accumulator, res.Selected)
		j.RequiredNodes = accumulator
		j.HasRequired = true
	}

	j.MinNodes = snap.MinNodes
	j.ReqNodes = snap.ReqNodes
	j.MinCPUsPerNode = snap.MinCPUsPerNode

	have := bitmap.Count(accumulator)
	if have > j.MinNodes {
		j.MinNodes = have
	}
	if have > j.ReqNodes {
		j.ReqNodes = have
	}
	j.RequiredNodes = accumulator
	j.HasRequired = have > 0

	return picker.Pick(ctx, sets, j, state, picker.Bounds{Min: j.MinNodes, Max: j.MaxNodes, Req: reqNodes(j)}, sharingMode, preemptEnabled, testOnly, preemptCandidates, orc)
}

// reqNodes implements the open-question heuristic documented in
// spec.md §9: req_nodes is max_nodes when the caller didn't pin
// limit_set_max_nodes and max_nodes was user-specified; otherwise it's
// min_nodes. This module has no separate "limit_set_max_nodes" input,
// so it uses the job's own ReqNodes when set (non-zero), else MaxNodes
// when positive, else MinNodes.
func reqNodes(j *job.Job) int {
	if j.ReqNodes > 0 {
		return j.ReqNodes
	}
	if j.MaxNodes > 0 {
		return j.MaxNodes
	}
	return j.MinNodes
}

func containsFeature(featuresString, name string) bool {
	start := 0
	for i := 0; i <= len(featuresString); i++ {
		if i == len(featuresString) || featuresString[i] == ',' {
			if featuresString[start:i] == name {
				return true
			}
			start = i + 1
		}
	}
	return false
}
