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

package features

import (
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/job"
)

// group is one maximal run of terms belonging to the same XOR
// alternative: a leading XOR term (or the expression's first term)
// followed by any AND/OR terms until the next XOR boundary.
type group struct {
	terms []Term
}

// groupTerms partitions terms into alternative groups. A term with
// Op == job.Xor always starts a new group; the first term starts
// group 0 regardless of its own Op, since there is no accumulator yet
// for it to diverge from.
func groupTerms(terms []Term) []group {
	if len(terms) == 0 {
		return []group{{}}
	}
	var groups []group
	cur := group{terms: []Term{terms[0]}}
	for _, t := range terms[1:] {
		if t.Op == job.Xor {
			groups = append(groups, cur)
			cur = group{terms: []Term{t}}
			continue
		}
		cur.terms = append(cur.terms, t)
	}
	groups = append(groups, cur)
	return groups
}

// Width returns the number of XOR alternatives named by terms: 1 if
// the expression contains no XOR.
func Width(terms []Term) int {
	return len(groupTerms(terms))
}

// ValidFeatures returns a bitmask of width Width(terms) with bit k set
// iff cfg satisfies the k-th XOR alternative of terms: every AND term
// in that alternative's group is present on cfg, and every OR term's
// absence doesn't by itself disqualify the group (OR only needs one
// member of the group to hold). A group with no terms (the
// no-XOR, no-feature case) is trivially satisfied.
func ValidFeatures(terms []Term, cfg *cluster.ConfigRecord) uint64 {
	groups := groupTerms(terms)
	var bits uint64
	for k, g := range groups {
		if validGroup(g, cfg) {
			bits |= 1 << uint(k)
		}
	}
	return bits
}

func validGroup(g group, cfg *cluster.ConfigRecord) bool {
	if len(g.terms) == 0 {
		return true
	}
	satisfied := true
	anyOr := false
	orHit := false
	for _, t := range g.terms {
		has := cfg.HasFeature(t.Name)
		switch t.Op {
		case job.And:
			if !has {
				satisfied = false
			}
		case job.Or, job.Xor:
			anyOr = true
			if has {
				orHit = true
			}
		}
	}
	if anyOr && !orHit {
		satisfied = false
	}
	return satisfied
}
