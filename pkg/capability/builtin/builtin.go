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

// Package builtin provides the capabilities shipped with the engine:
// shell execution, HTTP requests, and small utilities. Real deployments
// register additional backends alongside these.
package builtin

import (
	"github.com/tombee/skillrunner/pkg/capability"
)

// RegisterAll registers every builtin capability into the registry.
func RegisterAll(reg *capability.Registry) error {
	caps := []capability.Capability{
		NewShellRun(nil),
		NewHTTPGet(nil),
		NewHTTPPost(nil),
		NewEcho(),
		NewSleep(),
	}

	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
