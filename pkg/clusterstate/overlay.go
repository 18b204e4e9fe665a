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

package clusterstate

import "github.com/clusterctl/nodeselect/pkg/bitmap"

// WithAvailOverlay temporarily replaces Avail with avail∩mask for the
// duration of fn, then restores the original Avail unconditionally —
// even if fn panics. This is the scoped swap/restore discipline C4
// requires (spec.md §4.4, §5, §9): a reservation probe narrows the
// available population for one call without leaking the narrowing
// into any other concurrent or subsequent view of the state.
func (s *State) WithAvailOverlay(mask bitmap.Set, fn func() error) (err error) {
	saved := s.Avail
	s.Avail = bitmap.And(s.Avail, mask)
	defer func() {
		s.Avail = saved
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	return fn()
}
