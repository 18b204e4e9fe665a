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

// Package licensing declares the narrow predicate collaborator C8
// consults to claim and release per-job licenses; the licensing
// subsystem itself is out of scope (spec.md §1).
package licensing

import "github.com/clusterctl/nodeselect/pkg/job"

// Licenser claims and releases licenses on a job's behalf.
type Licenser interface {
	Claim(j *job.Job) error
	Release(j *job.Job) error
}

// NoOp is a Licenser that always succeeds, usable when no license
// subsystem is configured.
type NoOp struct{}

func (NoOp) Claim(*job.Job) error   { return nil }
func (NoOp) Release(*job.Job) error { return nil }
