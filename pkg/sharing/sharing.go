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

// Package sharing resolves the sharing-policy decision table (C5):
// (partition policy, user request, consumable-resources flag) -> mode.
package sharing

import (
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/partition"
)

// Mode is the resolved sharing mode for a job's placement.
type Mode int

const (
	NoShare Mode = iota
	UserShare
	ForcedShare
)

func (m Mode) String() string {
	switch m {
	case NoShare:
		return "no-share"
	case UserShare:
		return "user-share"
	case ForcedShare:
		return "forced-share"
	default:
		return "?"
	}
}

// Resolve implements the decision table of spec.md §4.5 cell-for-cell.
// consumableResources reflects whether the cluster has consumable
// resources (CR) enabled, queried from the placement oracle via
// GetInfo(CRPluginQuery).
func Resolve(partitionPolicy partition.SharingPolicy, userRequest job.SharingRequest, consumableResources bool) Mode {
	switch partitionPolicy.Kind {
	case partition.Exclusive:
		return NoShare

	case partition.No:
		if userRequest == job.SharingShare {
			if consumableResources {
				return ForcedShare
			}
			return UserShare
		}
		return NoShare

	case partition.Yes:
		if userRequest == job.SharingExclusive {
			return NoShare
		}
		if userRequest == job.SharingShare {
			if consumableResources {
				return ForcedShare
			}
			return UserShare
		}
		// default/indifferent
		if consumableResources {
			return ForcedShare
		}
		return NoShare

	case partition.Force:
		return ForcedShare

	default:
		return NoShare
	}
}
