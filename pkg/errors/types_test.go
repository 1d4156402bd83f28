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

package errors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "with field",
			err:  &ValidationError{Field: "guard", Message: "not a boolean"},
			want: "validation failed on guard: not a boolean",
		},
		{
			name: "without field",
			err:  &ValidationError{Message: "bad input"},
			want: "validation failed: bad input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "capability", ID: "git_status"}
	assert.Equal(t, "capability not found: git_status", err.Error())
}

func TestCapabilityError(t *testing.T) {
	t.Run("hard failure", func(t *testing.T) {
		err := &CapabilityError{Capability: "jira_search", Message: "connection refused"}
		assert.Equal(t, "capability jira_search failed: connection refused", err.Error())
	})

	t.Run("soft failure with snippet", func(t *testing.T) {
		err := &CapabilityError{
			Capability: "kubectl_get",
			Message:    "failure signature in output",
			Snippet:    "Unauthorized",
			Soft:       true,
		}
		assert.Contains(t, err.Error(), "soft failure")
		assert.Contains(t, err.Error(), "Unauthorized")
	})

	t.Run("unwrap", func(t *testing.T) {
		cause := New("boom")
		err := &CapabilityError{Capability: "x", Cause: cause}
		assert.Equal(t, cause, Unwrap(err))
	})
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Key: "poll.tick", Reason: "must be positive"}
	assert.Equal(t, "config error at poll.tick: must be positive", err.Error())
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Operation: "capability invocation", Duration: 5 * time.Second}
	assert.Equal(t, "capability invocation operation timed out after 5s", err.Error())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))

	inner := &NotFoundError{Resource: "skill", ID: "deploy"}
	wrapped := Wrap(inner, "loading skill")
	require.Error(t, wrapped)
	assert.Contains(t, wrapped.Error(), "loading skill")

	var nf *NotFoundError
	assert.True(t, As(wrapped, &nf))
	assert.Equal(t, "deploy", nf.ID)
}
