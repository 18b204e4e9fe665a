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

package cluster

import (
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/clusterctl/nodeselect/pkg/bitmap"
)

// FeatureRegistry maps a feature name to the union bitmap of every
// configuration record that declares it. The original scans a linked
// list of feature records on every lookup (_list_find_feature); a map
// gives the same answer in O(1) and is the intentional Go-idiomatic
// deviation noted for this component.
type FeatureRegistry struct {
	byName map[string]bitmap.Set
}

// NewFeatureRegistry returns an empty registry.
func NewFeatureRegistry() *FeatureRegistry {
	return &FeatureRegistry{byName: make(map[string]bitmap.Set)}
}

// Add unions nodes into the bitmap recorded for name, creating the
// entry if it doesn't yet exist.
func (r *FeatureRegistry) Add(name string, nodes bitmap.Set) {
	if cur, ok := r.byName[name]; ok {
		r.byName[name] = bitmap.Or(cur, nodes)
		return
	}
	r.byName[name] = nodes
}

// Lookup returns the bitmap of nodes carrying name, and whether the
// feature is known at all.
func (r *FeatureRegistry) Lookup(name string) (bitmap.Set, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// NodeDetail is the human-readable per-job allocated-node summary
// produced by BuildNodeDetails (original_source's build_node_details):
// useful for a caller's UI/accounting layer without being part of the
// selection core itself.
type NodeDetail struct {
	NodeCount    int
	TotalCPUs    int
	TotalRealMem resource.Quantity
}

// BuildNodeDetails summarizes the nodes named by allocated, looking up
// each member's actual counts in the given table.
func BuildNodeDetails(table map[NodeIndex]*Node, allocated bitmap.Set) NodeDetail {
	var d NodeDetail
	for _, idx := range allocated.List() {
		n, ok := table[NodeIndex(idx)]
		if !ok {
			continue
		}
		d.NodeCount++
		d.TotalCPUs += n.Actual.CPUs
		d.TotalRealMem.Add(n.Actual.RealMemory)
	}
	return d
}
