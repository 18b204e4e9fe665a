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

// Package partition holds partition admission bounds and sharing
// policy.
package partition

import "github.com/clusterctl/nodeselect/pkg/bitmap"

// PolicyKind is the partition's sharing policy kind.
type PolicyKind int

const (
	// Exclusive forbids sharing outright.
	Exclusive PolicyKind = iota
	// No forbids sharing by default; user-requested share is honored
	// unless forced by consumable resources (see pkg/sharing).
	No
	// Yes permits user-requested sharing, n > 1 jobs per node.
	Yes
	// Force mandates sharing regardless of user request, n > 1 jobs
	// per node.
	Force
)

// SharingPolicy is the partition's full sharing configuration.
type SharingPolicy struct {
	Kind PolicyKind
	// N is the max jobs per node for Yes/Force; unused for
	// Exclusive/No.
	N int
}

// State is the partition's administrative state.
type State int

const (
	Up State = iota
	Down
	Inactive
)

// Partition is the admission-control and sharing-policy scope a job
// is submitted into.
type Partition struct {
	Name string

	MinNodes int
	MaxNodes int
	MaxTime  int
	DefaultTime int

	State   State
	Sharing SharingPolicy

	Members bitmap.Set
}

// IsUp reports whether the partition accepts new selections.
func (p *Partition) IsUp() bool {
	return p.State == Up
}
