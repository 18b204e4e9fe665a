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

// Package bitmap provides the node-index population bitmap used
// throughout the selection core: the avail/idle/sharable/completing/
// powered-down bitmaps of pkg/clusterstate, node-set member bitmaps in
// pkg/nodeset, and the candidate bitmap handed to the placement oracle.
//
// It is a thin, semantically-named wrapper around the teacher's own
// pkg/utils/cpuset wrapper (itself wrapping k8s.io/utils/cpuset), the
// same immutable-set type the teacher codebase uses for physical CPUs
// one layer down (pkg/cpuallocator); here the set domain is node
// indices instead of CPU indices.
package bitmap

import (
	cpuset "github.com/clusterctl/nodeselect/pkg/utils/cpuset"
)

// Set is an immutable set of node indices.
type Set = cpuset.CPUSet

// New builds a Set containing the given node indices.
func New(indices ...int) Set {
	return cpuset.New(indices...)
}

// Short renders s the way log lines should: a compact range form
// ("0-3,7" rather than "0,1,2,3,7") via the teacher's ShortCPUSet.
func Short(s Set) string {
	return cpuset.ShortCPUSet(s)
}

// Empty returns the empty set.
func Empty() Set {
	return cpuset.New()
}

// Copy returns a Set equal to s. CPUSet values are immutable so this is
// a cheap identity; it exists to make call sites that duplicate a
// bitmap before handing it to a destructive collaborator (the
// placement oracle) self-documenting.
func Copy(s Set) Set {
	return s
}

// And returns the intersection of a and b.
func And(a, b Set) Set {
	return a.Intersection(b)
}

// Or returns the union of a and b.
func Or(a, b Set) Set {
	return a.Union(b)
}

// Not returns the complement of s with respect to universe.
func Not(universe, s Set) Set {
	return universe.Difference(s)
}

// Overlap reports whether a and b share at least one member.
func Overlap(a, b Set) bool {
	return !a.Intersection(b).IsEmpty()
}

// Superset reports whether every member of b is also a member of a.
func Superset(a, b Set) bool {
	return b.IsSubsetOf(a)
}

// Count returns the number of members of s.
func Count(s Set) int {
	return s.Size()
}

// FirstSet returns the lowest member index in s, or -1 if s is empty.
func FirstSet(s Set) int {
	list := s.List()
	if len(list) == 0 {
		return -1
	}
	return list[0]
}

// LastSet returns the highest member index in s, or -1 if s is empty.
func LastSet(s Set) int {
	list := s.List()
	if len(list) == 0 {
		return -1
	}
	return list[len(list)-1]
}
