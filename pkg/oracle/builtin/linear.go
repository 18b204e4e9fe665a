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

// Package builtin ships a reference "linear" placement oracle: plain
// first-fit over the candidate bitmap respecting min/max/req, so the
// module is runnable end-to-end without an external plugin.
package builtin

import (
	"context"

	pkgerrors "github.com/pkg/errors"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/oracle"
)

const Name = "linear"

func init() {
	if err := oracle.Register(Name, "first-fit placement over the candidate bitmap", create); err != nil {
		panic(err)
	}
}

type linear struct {
	consumableResources bool
}

func create(opts oracle.Options) (oracle.Oracle, error) {
	cr, _ := opts["consumable_resources"].(bool)
	return &linear{consumableResources: cr}, nil
}

// SelectJobTest mutates candidate in place (per the destructive-oracle
// contract): it trims candidate down to the first req members in
// index order, or fails if fewer than min are available.
func (l *linear) SelectJobTest(ctx context.Context, j *job.Job, candidate bitmap.Set, min, max, req int, mode oracle.Mode, preemptCandidates []job.ID) (oracle.Result, error) {
	members := candidate.List()
	if len(members) < min {
		return oracle.Result{}, pkgerrors.Errorf("linear: only %d candidates, need at least %d", len(members), min)
	}

	want := req
	if want <= 0 || want > len(members) {
		want = len(members)
	}
	if want > max {
		want = max
	}
	chosen := members[:want]

	layout := oracle.Layout{PerNode: make(map[int]int, len(chosen))}
	for _, idx := range chosen {
		cpus := j.MinCPUsPerNode
		if cpus <= 0 {
			cpus = 1
		}
		layout.PerNode[idx] = cpus
		layout.CPUCount += cpus
	}

	return oracle.Result{
		Selected: bitmap.New(chosen...),
		Layout:   layout,
	}, nil
}

func (l *linear) SelectJobBegin(ctx context.Context, j *job.Job) error { return nil }

func (l *linear) SelectJobFini(ctx context.Context, j *job.Job) error { return nil }

func (l *linear) GetInfo(ctx context.Context, q oracle.Query) (interface{}, error) {
	switch q {
	case oracle.CRPluginQuery:
		return l.consumableResources, nil
	default:
		return nil, pkgerrors.Errorf("linear: unknown query %d", q)
	}
}
