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

package oracle

import (
	"fmt"
	"sync"
)

// CreateFn instantiates a named Oracle backend.
type CreateFn func(opts Options) (Oracle, error)

// Options carries backend-specific configuration, mirroring the
// teacher's policy.BackendOptions free-form pass-through.
type Options map[string]interface{}

type backend struct {
	name        string
	description string
	create      CreateFn
}

var (
	backendsLock sync.Mutex
	backends     = make(map[string]*backend)
)

// Register adds a named oracle backend to the registry, grounded on
// the teacher's policy.Register/backends pattern.
func Register(name, description string, create CreateFn) error {
	backendsLock.Lock()
	defer backendsLock.Unlock()
	if _, ok := backends[name]; ok {
		return fmt.Errorf("oracle: backend %q already registered", name)
	}
	backends[name] = &backend{name: name, description: description, create: create}
	return nil
}

// New instantiates the named backend.
func New(name string, opts Options) (Oracle, error) {
	backendsLock.Lock()
	b, ok := backends[name]
	backendsLock.Unlock()
	if !ok {
		return nil, fmt.Errorf("oracle: no backend registered as %q", name)
	}
	return b.create(opts)
}

// Names lists registered backend names.
func Names() []string {
	backendsLock.Lock()
	defer backendsLock.Unlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	return names
}
