// Copyright 2025 Tom Barlow
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

// Package capability defines the abstract interface through which skills
// invoke external operations, plus the registry and invoker that resolve
// capability names to backend implementations.
//
// Capabilities are idempotent by convention: the engine may retry an
// invocation after auto-healing, so backends must tolerate repeated calls
// with the same arguments.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Outcome is the canonical return shape of a capability invocation.
type Outcome struct {
	// Success indicates whether the invocation succeeded.
	// A success outcome may still be demoted by soft-failure detection.
	Success bool `json:"success"`

	// Result is the textual result payload.
	Result string `json:"result"`

	// Duration is the wall time of the invocation.
	Duration time.Duration `json:"duration"`

	// Error is the error message when Success is false.
	Error string `json:"error,omitempty"`
}

// Capability is an external, named operation invoked with an argument map.
type Capability interface {
	// Name returns the capability identifier (e.g., "jira_search").
	Name() string

	// Description returns what the capability does.
	Description() string

	// Invoke executes the capability. Implementations should honour ctx
	// cancellation; the invoker bounds every call with a timeout.
	Invoke(ctx context.Context, args map[string]interface{}) (*Outcome, error)
}

// Registry maps capability names to backend implementations.
// It is populated at process start; lookups are concurrency-safe.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability to the registry.
// Registering a duplicate name is an error.
func (r *Registry) Register(c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("capability name cannot be empty")
	}
	if _, exists := r.caps[name]; exists {
		return fmt.Errorf("capability %s already registered", name)
	}

	r.caps[name] = c
	return nil
}

// Get retrieves a capability by name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.caps[name]
	return c, ok
}

// List returns the registered capability names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function to the Capability interface.
// Useful for tests and small inline capabilities.
type Func struct {
	// CapabilityName is the registered name.
	CapabilityName string

	// CapabilityDescription describes the capability.
	CapabilityDescription string

	// Fn is the invocation body.
	Fn func(ctx context.Context, args map[string]interface{}) (*Outcome, error)
}

// Name implements Capability.
func (f *Func) Name() string { return f.CapabilityName }

// Description implements Capability.
func (f *Func) Description() string { return f.CapabilityDescription }

// Invoke implements Capability.
func (f *Func) Invoke(ctx context.Context, args map[string]interface{}) (*Outcome, error) {
	return f.Fn(ctx, args)
}
