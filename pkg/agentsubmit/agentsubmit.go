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

// Package agentsubmit declares the produced interface the selection
// core uses to enqueue kill/terminate requests (spec.md §6 "Agent
// submission"); the RPC/agent wire machinery itself is out of scope
// (spec.md §1).
package agentsubmit

import "github.com/clusterctl/nodeselect/pkg/cluster"

// MessageType is the kind of agent request enqueued.
type MessageType int

const (
	TerminateJob MessageType = iota
	KillTimelimit
	KillPreempted
)

// Submitter enqueues a message addressed to hosts, carrying an
// arbitrary payload (e.g. a checkpoint mode string).
type Submitter interface {
	Submit(msgType MessageType, hosts []cluster.NodeIndex, payload interface{}) error
}
