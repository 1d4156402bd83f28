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

package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/skillrunner/pkg/capability"
)

// MaxSleepDuration caps util.sleep so a skill cannot stall a run for long.
const MaxSleepDuration = 60 * time.Second

// Echo returns its "message" argument. Registered as "util.echo".
type Echo struct{}

// NewEcho creates the echo capability.
func NewEcho() *Echo { return &Echo{} }

// Name implements capability.Capability.
func (e *Echo) Name() string { return "util.echo" }

// Description implements capability.Capability.
func (e *Echo) Description() string { return "Returns the message argument unchanged" }

// Invoke implements capability.Capability.
func (e *Echo) Invoke(ctx context.Context, args map[string]interface{}) (*capability.Outcome, error) {
	start := time.Now()
	msg := ""
	if m, ok := args["message"]; ok {
		msg = fmt.Sprintf("%v", m)
	}
	return &capability.Outcome{
		Success:  true,
		Result:   msg,
		Duration: time.Since(start),
	}, nil
}

// Sleep pauses for a duration. Registered as "util.sleep".
type Sleep struct{}

// NewSleep creates the sleep capability.
func NewSleep() *Sleep { return &Sleep{} }

// Name implements capability.Capability.
func (s *Sleep) Name() string { return "util.sleep" }

// Description implements capability.Capability.
func (s *Sleep) Description() string { return "Sleeps for the given duration (e.g. \"2s\"), capped at 60s" }

// Invoke implements capability.Capability.
func (s *Sleep) Invoke(ctx context.Context, args map[string]interface{}) (*capability.Outcome, error) {
	start := time.Now()

	raw, ok := args["duration"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("duration is required")
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if d < 0 {
		return nil, fmt.Errorf("duration must be non-negative")
	}
	if d > MaxSleepDuration {
		d = MaxSleepDuration
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
		return &capability.Outcome{
			Success:  false,
			Duration: time.Since(start),
			Error:    ctx.Err().Error(),
		}, nil
	}

	return &capability.Outcome{
		Success:  true,
		Result:   fmt.Sprintf("slept %s", d),
		Duration: time.Since(start),
	}, nil
}
