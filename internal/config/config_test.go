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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateXDG(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func TestConfigDirRespectsXDG(t *testing.T) {
	base := isolateXDG(t)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "config", "skillrunner"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDataDirRespectsXDG(t *testing.T) {
	base := isolateXDG(t)

	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data", "skillrunner"), dir)
}

func TestLoadSettingsDefaults(t *testing.T) {
	isolateXDG(t)

	settings, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "60s", settings.PollTick)
	assert.Equal(t, 256, settings.EventBuffer)
	assert.NotEmpty(t, settings.SkillsDir)
	assert.Contains(t, settings.PatternsPath, "patterns.yaml")
	assert.Contains(t, settings.FailureLogPath, "failures.yaml")
	assert.Contains(t, settings.TriggerStatePath, "trigger-state.db")
}

func TestLoadSettingsFile(t *testing.T) {
	isolateXDG(t)

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workspace: prod-east
poll_tick: 30s
jira_base_url: https://jira.internal/browse
globals:
  region: us-east-1
`), 0o644))

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "prod-east", settings.Workspace)
	assert.Equal(t, "30s", settings.PollTick)
	assert.Equal(t, "https://jira.internal/browse", settings.JiraBaseURL)
	assert.Equal(t, "us-east-1", settings.Globals["region"])
	// Unset fields still get defaults
	assert.Equal(t, 256, settings.EventBuffer)
}

func TestLoadSettingsInvalidYAML(t *testing.T) {
	isolateXDG(t)

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_tick: [broken"), 0o644))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func writePollConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poll.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPollConfig(t *testing.T) {
	path := writePollConfig(t, `
sources:
  - name: review-queue
    type: jira.search
    args:
      query: "status = 'Needs Review'"
    condition: count > 3
jobs:
  - name: triage
    condition: review-queue
    skill: triage-reviews
    poll_interval: 5min
`)

	cfg, err := LoadPollConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 1)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "review-queue", cfg.Jobs[0].Condition)
}

func TestLoadPollConfigMissingFile(t *testing.T) {
	_, err := LoadPollConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPollConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "unknown source reference",
			body: `
sources:
  - name: a
    type: t
jobs:
  - name: j
    condition: nowhere
    skill: s
`,
		},
		{
			name: "duplicate source",
			body: `
sources:
  - name: a
    type: t
  - name: a
    type: t
`,
		},
		{
			name: "bad condition",
			body: `
sources:
  - name: a
    type: t
    condition: "count >"
`,
		},
		{
			name: "bad interval",
			body: `
sources:
  - name: a
    type: t
jobs:
  - name: j
    condition: a
    skill: s
    poll_interval: soon
`,
		},
		{
			name: "missing skill",
			body: `
sources:
  - name: a
    type: t
jobs:
  - name: j
    condition: a
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePollConfig(t, tt.body)
			_, err := LoadPollConfig(path)
			assert.Error(t, err)
		})
	}
}
