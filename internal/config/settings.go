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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds engine configuration loaded from settings.yaml.
type Settings struct {
	// Workspace identifies this installation in run contexts and events
	Workspace string `yaml:"workspace,omitempty"`

	// SkillsDir is the skill store root (default: <config>/skills)
	SkillsDir string `yaml:"skills_dir,omitempty"`

	// PollTick is the poll loop cadence as a duration string (default 60s)
	PollTick string `yaml:"poll_tick,omitempty"`

	// EventBuffer is the lifecycle event channel capacity
	EventBuffer int `yaml:"event_buffer,omitempty"`

	// JiraBaseURL backs the jira_link template filter
	JiraBaseURL string `yaml:"jira_base_url,omitempty"`

	// MRBaseURL backs the mr_link template filter
	MRBaseURL string `yaml:"mr_base_url,omitempty"`

	// PatternsPath is the learned pattern library file
	// (default: <data>/patterns.yaml)
	PatternsPath string `yaml:"patterns_path,omitempty"`

	// FailureLogPath is the bounded heal history file
	// (default: <data>/failures.yaml)
	FailureLogPath string `yaml:"failure_log_path,omitempty"`

	// TriggerStatePath is the poll dedup database
	// (default: <data>/trigger-state.db)
	TriggerStatePath string `yaml:"trigger_state_path,omitempty"`

	// MetricsAddr is the poll daemon's /metrics listen address
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// Globals are seeded into every run context
	Globals map[string]interface{} `yaml:"globals,omitempty"`
}

// LoadSettings reads settings from path, falling back to defaults for a
// missing file. An empty path resolves the XDG settings location.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		resolved, err := SettingsPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}

	settings := &Settings{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading settings %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}

	if err := settings.applyDefaults(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Settings) applyDefaults() error {
	if s.PollTick == "" {
		s.PollTick = "60s"
	}
	if s.EventBuffer <= 0 {
		s.EventBuffer = 256
	}
	if s.MetricsAddr == "" {
		s.MetricsAddr = "127.0.0.1:9464"
	}

	if s.SkillsDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		s.SkillsDir = filepath.Join(dir, "skills")
	}

	if s.PatternsPath == "" || s.FailureLogPath == "" || s.TriggerStatePath == "" {
		dataDir, err := DataDir()
		if err != nil {
			return err
		}
		if s.PatternsPath == "" {
			s.PatternsPath = filepath.Join(dataDir, "patterns.yaml")
		}
		if s.FailureLogPath == "" {
			s.FailureLogPath = filepath.Join(dataDir, "failures.yaml")
		}
		if s.TriggerStatePath == "" {
			s.TriggerStatePath = filepath.Join(dataDir, "trigger-state.db")
		}
	}

	return nil
}
