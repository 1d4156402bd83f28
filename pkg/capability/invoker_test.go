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

package capability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoCapability(name string, outcome *Outcome, err error) Capability {
	return &Func{
		CapabilityName: name,
		Fn: func(ctx context.Context, args map[string]interface{}) (*Outcome, error) {
			return outcome, err
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoCapability("git_status", &Outcome{Success: true}, nil)))

	c, ok := reg.Get("git_status")
	require.True(t, ok)
	assert.Equal(t, "git_status", c.Name())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoCapability("a", nil, nil)))
	assert.Error(t, reg.Register(echoCapability("a", nil, nil)))
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoCapability("b", nil, nil)))
	require.NoError(t, reg.Register(echoCapability("a", nil, nil)))
	assert.Equal(t, []string{"a", "b"}, reg.List())
}

func TestInvokeSuccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoCapability("git_status", &Outcome{Success: true, Result: "clean"}, nil)))

	inv := NewInvoker(reg, nil)
	outcome := inv.Invoke(context.Background(), "git_status", nil)

	require.NotNil(t, outcome)
	assert.True(t, outcome.Success)
	assert.Equal(t, "clean", outcome.Result)
	assert.GreaterOrEqual(t, outcome.Duration, time.Duration(0))
}

func TestInvokeUnknownCapability(t *testing.T) {
	inv := NewInvoker(NewRegistry(), nil)
	outcome := inv.Invoke(context.Background(), "nope", nil)

	require.NotNil(t, outcome)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "capability not found: nope")
}

func TestInvokeBackendError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoCapability("boom", nil, fmt.Errorf("backend exploded"))))

	inv := NewInvoker(reg, nil)
	outcome := inv.Invoke(context.Background(), "boom", nil)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "backend exploded")
}

func TestInvokeNilOutcomeContractViolation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoCapability("empty", nil, nil)))

	inv := NewInvoker(reg, nil)
	outcome := inv.Invoke(context.Background(), "empty", nil)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "returned no outcome")
}

func TestInvokeSoftFailureDemotion(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoCapability("kubectl_get",
		&Outcome{Success: true, Result: "error: You must be logged in to the server (Unauthorized)"}, nil)))

	inv := NewInvoker(reg, nil)
	outcome := inv.Invoke(context.Background(), "kubectl_get", nil)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "soft failure")
}

func TestInvokeTimeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Func{
		CapabilityName: "slow",
		Fn: func(ctx context.Context, args map[string]interface{}) (*Outcome, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &Outcome{Success: true}, nil
			}
		},
	}))

	inv := NewInvoker(reg, nil).WithTimeout(20 * time.Millisecond)
	outcome := inv.Invoke(context.Background(), "slow", nil)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "timed out")
}

func TestDetectSoftFailure(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		matched bool
	}{
		{"clean output", "3 issues found, all triaged", false},
		{"empty", "", false},
		{"explicit error", "ERROR: could not fetch board", true},
		{"dns failure", "dial tcp: lookup jira.internal: no such host", true},
		{"http auth", "server returned 401 Unauthorized", true},
		{"k8s credentials", "You must be logged in to the server", true},
		{"python traceback", "Traceback (most recent call last):\n  File ...", true},
		// Known heuristic false positive: "timeout" in benign prose still
		// trips the detector. Documented behavior, not a bug to fix here.
		{"benign timeout prose", "increased the session i/o timeout to 30s", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, snippet := DetectSoftFailure(tt.text)
			assert.Equal(t, tt.matched, matched)
			if matched {
				assert.NotEmpty(t, snippet)
			}
		})
	}
}

func TestExtractSnippetTrimsNewlines(t *testing.T) {
	matched, snippet := DetectSoftFailure("line one\nerror: something broke\nline three")
	require.True(t, matched)
	assert.NotContains(t, snippet, "\n")
	assert.Contains(t, snippet, "something broke")
}
