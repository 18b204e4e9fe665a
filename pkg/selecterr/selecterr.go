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

// Package selecterr defines the closed set of outcomes the selection
// core can report, and which of them are permanent versus transient.
package selecterr

import "fmt"

// Code is one of the outcomes select_nodes() can report.
type Code int

const (
	// Success means the request was satisfied.
	Success Code = iota
	// AccountingPolicy means an accounting/QoS predicate rejected the job. Transient.
	AccountingPolicy
	// PartConfigUnavailable means the request could run on the configured
	// nodes matching it, but not on the currently available ones (for
	// example because they are down). Permanent.
	PartConfigUnavailable
	// PartNodeLimit means the request exceeds the partition's node bounds. Permanent.
	PartNodeLimit
	// PartDown means the partition is down. Transient.
	PartDown
	// NodeNotAvail means a required node is unavailable (down, drained, or
	// outside the avail population). Permanent when required nodes are
	// drained; see Permanent.
	NodeNotAvail
	// ReservationNotUsable means the job named a reservation that cannot
	// satisfy the request. Permanent.
	ReservationNotUsable
	// InfeasibleFeatures means a feature-count term's population is below
	// its required count. Permanent.
	InfeasibleFeatures
	// InfeasibleConfig means no built node set, even fully available,
	// could satisfy the request. Permanent.
	InfeasibleConfig
	// NodesBusy means matching nodes exist but are not currently available. Transient.
	NodesBusy
	// JobHeld means the job is administratively held. Transient.
	JobHeld
	// QoSThreshold means a QoS predicate deferred the job. Transient.
	QoSThreshold
)

var names = map[Code]string{
	Success:                "SUCCESS",
	AccountingPolicy:       "ACCOUNTING_POLICY",
	PartConfigUnavailable:  "PART_CONFIG_UNAVAILABLE",
	PartNodeLimit:          "PART_NODE_LIMIT",
	PartDown:               "PART_DOWN",
	NodeNotAvail:           "NODE_NOT_AVAIL",
	ReservationNotUsable:   "RESERVATION_NOT_USABLE",
	InfeasibleFeatures:     "INFEASIBLE_FEATURES",
	InfeasibleConfig:       "INFEASIBLE_CONFIG",
	NodesBusy:              "NODES_BUSY",
	JobHeld:                "JOB_HELD",
	QoSThreshold:           "QOS_THRES",
}

// String returns the error code's wire name.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// permanent holds Code -> classification; a Code absent from the map
// defaults to transient. NodeNotAvail is context-dependent (spec.md §7)
// and is handled specially by Permanent.
var permanent = map[Code]bool{
	PartConfigUnavailable: true,
	PartNodeLimit:         true,
	ReservationNotUsable:  true,
	InfeasibleFeatures:    true,
	InfeasibleConfig:      true,
}

// Permanent reports whether the code should stop the caller from
// retrying until the cluster or job configuration changes. NodeNotAvail
// is treated as permanent only when requiredNodesDrained is true: a
// required node that's merely busy is transient, one that's drained or
// down never becomes available on its own.
func (c Code) Permanent(requiredNodesDrained ...bool) bool {
	if c == NodeNotAvail {
		return len(requiredNodesDrained) > 0 && requiredNodesDrained[0]
	}
	return permanent[c]
}

// Transient is the negation of Permanent, for callers that only care
// about the retry decision and don't carry the required-nodes-drained
// context (select_nodes always does, via Error.RequiredDrained).
func (c Code) Transient() bool {
	return !c.Permanent()
}

// Error wraps a Code with an optional underlying cause and context.
type Error struct {
	Code Code
	// RequiredDrained records whether NodeNotAvail was triggered by a
	// drained/down required node, needed by Code.Permanent.
	RequiredDrained bool
	msg             string
	cause           error
}

// New creates an Error for the given code with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error for the given code, preserving cause for Unwrap.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Permanent reports whether this specific error instance should be
// treated as permanent, honoring RequiredDrained for NodeNotAvail.
func (e *Error) Permanent() bool {
	return e.Code.Permanent(e.RequiredDrained)
}

// CodeOf extracts the Code from err if it (or something it wraps) is a
// *Error, otherwise returns Success/false.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Success, false
}
