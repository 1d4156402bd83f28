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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tombee/skillrunner/pkg/capability"
)

// ShellConfig holds configuration for the shell capability.
type ShellConfig struct {
	// WorkingDir is the working directory for shell commands
	WorkingDir string

	// Timeout is the default timeout for commands (default: 30s)
	Timeout time.Duration
}

// ShellRun executes shell commands. Registered as "shell.run".
type ShellRun struct {
	config *ShellConfig
}

// NewShellRun creates the shell capability.
func NewShellRun(config *ShellConfig) *ShellRun {
	if config == nil {
		config = &ShellConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &ShellRun{config: config}
}

// Name implements capability.Capability.
func (s *ShellRun) Name() string { return "shell.run" }

// Description implements capability.Capability.
func (s *ShellRun) Description() string {
	return "Runs a shell command and returns combined stdout/stderr"
}

// Invoke implements capability.Capability.
func (s *ShellRun) Invoke(ctx context.Context, args map[string]interface{}) (*capability.Outcome, error) {
	start := time.Now()

	var cmd *exec.Cmd

	command, ok := args["command"]
	if !ok {
		return nil, fmt.Errorf("command is required")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	switch v := command.(type) {
	case string:
		// String command: run via shell
		cmd = exec.CommandContext(runCtx, "sh", "-c", v)
	case []interface{}:
		// Array command: run directly
		parts := make([]string, len(v))
		for i, arg := range v {
			parts[i] = fmt.Sprintf("%v", arg)
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("command array is empty")
		}
		cmd = exec.CommandContext(runCtx, parts[0], parts[1:]...)
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("command array is empty")
		}
		cmd = exec.CommandContext(runCtx, v[0], v[1:]...)
	default:
		return nil, fmt.Errorf("command must be string or array, got %T", command)
	}

	if s.config.WorkingDir != "" {
		cmd.Dir = s.config.WorkingDir
	}
	if dir, ok := args["dir"].(string); ok && dir != "" {
		cmd.Dir = dir
	}

	if env, ok := args["env"].(map[string]interface{}); ok {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := strings.TrimRight(buf.String(), "\n")

	if err != nil {
		return &capability.Outcome{
			Success:  false,
			Result:   output,
			Duration: time.Since(start),
			Error:    err.Error(),
		}, nil
	}

	return &capability.Outcome{
		Success:  true,
		Result:   output,
		Duration: time.Since(start),
	}, nil
}
