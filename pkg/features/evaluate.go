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

// Package features evaluates a job's feature expression (C2): an
// ordered list of (name, combinator, count) terms against a feature
// registry, producing a candidate bitmap and reporting whether the
// expression carries XOR alternatives.
package features

import (
	"github.com/clusterctl/nodeselect/pkg/bitmap"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/selecterr"
)

// Term is the evaluator's input shape, a local alias of job.FeatureTerm
// so this package doesn't need to re-derive the tagged-variant type.
type Term = job.FeatureTerm

// Evaluate runs the two-pass algorithm of spec.md §4.2 over terms,
// starting from start. It reports the resulting bitmap and whether
// any term used XOR (hasXOR); callers use hasXOR to decide whether
// the per-alternative split of §4.3 applies.
func Evaluate(reg *cluster.FeatureRegistry, start bitmap.Set, terms []Term) (result bitmap.Set, hasXOR bool, err error) {
	if reg == nil {
		reg = cluster.NewFeatureRegistry()
	}
	result = bitmap.Copy(start)
	anyCount := false

	for _, t := range terms {
		featBits, known := reg.Lookup(t.Name)
		if !known {
			featBits = bitmap.Empty()
		}
		switch t.Op {
		case job.And:
			result = bitmap.And(result, featBits)
		case job.Or:
			result = bitmap.Or(result, featBits)
		case job.Xor:
			result = bitmap.Or(result, featBits)
			hasXOR = true
		}
		if t.Count > 0 {
			anyCount = true
		}
	}

	if !anyCount {
		result = bitmap.And(start, result)
		return result, hasXOR, nil
	}

	for _, t := range terms {
		if t.Count == 0 {
			continue
		}
		featBits, known := reg.Lookup(t.Name)
		if !known {
			featBits = bitmap.Empty()
		}
		have := bitmap.Count(bitmap.And(featBits, result))
		if have < t.Count {
			return bitmap.Empty(), hasXOR, selecterr.New(selecterr.InfeasibleFeatures,
				"feature %q requires %d matching nodes, only %d available", t.Name, t.Count, have)
		}
	}

	result = bitmap.And(start, result)
	return result, hasXOR, nil
}
