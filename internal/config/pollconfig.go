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

	"gopkg.in/yaml.v3"

	"github.com/tombee/skillrunner/internal/poll"
	"github.com/tombee/skillrunner/pkg/errors"
)

// PollConfig is the poll configuration document: named sources plus the
// jobs bound to them.
type PollConfig struct {
	Sources []poll.SourceConfig `yaml:"sources"`
	Jobs    []poll.JobConfig    `yaml:"jobs"`
}

// LoadPollConfig reads and validates the poll document at path. An empty
// path resolves the XDG location.
func LoadPollConfig(path string) (*PollConfig, error) {
	if path == "" {
		resolved, err := PollConfigPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "poll configuration", ID: path}
		}
		return nil, fmt.Errorf("reading poll configuration %s: %w", path, err)
	}

	var cfg PollConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid poll configuration %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("in %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks cross-references and condition syntax so bad documents
// are rejected before the loop starts.
func (c *PollConfig) Validate() error {
	sourceNames := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("sources[%d].name", i),
				Message: "source name is required",
			}
		}
		if src.Type == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("sources[%d].type", i),
				Message: fmt.Sprintf("source %q declares no type", src.Name),
			}
		}
		if sourceNames[src.Name] {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("sources[%d].name", i),
				Message: fmt.Sprintf("duplicate source name %q", src.Name),
			}
		}
		sourceNames[src.Name] = true

		if _, err := poll.ParseCondition(src.Condition); err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
	}

	for i, job := range c.Jobs {
		if job.Name == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("jobs[%d].name", i),
				Message: "job name is required",
			}
		}
		if job.Skill == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("jobs[%d].skill", i),
				Message: fmt.Sprintf("job %q declares no target skill", job.Name),
			}
		}
		if !sourceNames[job.Condition] {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("jobs[%d].condition", i),
				Message:    fmt.Sprintf("job %q references unknown source %q", job.Name, job.Condition),
				Suggestion: "declare the source in the sources section",
			}
		}
		if job.PollInterval != "" {
			if _, err := poll.ParseInterval(job.PollInterval); err != nil {
				return fmt.Errorf("job %s: %w", job.Name, err)
			}
		}
	}

	return nil
}
