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

// Package commands implements the skillrunner CLI.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/skillrunner/internal/config"
	"github.com/tombee/skillrunner/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion records build-time version metadata.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// Persistent flags shared by every command.
var (
	flagSettings  string
	flagLogLevel  string
	flagLogFormat string
	flagJSON      bool
)

// NewRootCommand creates the skillrunner root command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skillrunner",
		Short: "Run declarative skills and poll conditions that trigger them",
		Long: `Skillrunner executes declarative YAML skills step by step, with
templated arguments, guarded steps, compute expressions, and automatic
healing of transient capability failures.

The poll daemon evaluates condition expressions against data sources on
a timer and starts skill runs when they fire.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagSettings, "settings", "", "Settings file path (default: XDG config)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (json, text)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output results as JSON")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newSkillsCommand())
	cmd.AddCommand(newPollCommand())
	cmd.AddCommand(newPollNowCommand())
	cmd.AddCommand(newPatternsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// newLogger builds a logger from the environment, with flags taking
// precedence.
func newLogger() *slog.Logger {
	cfg := log.FromEnv()
	if flagLogLevel != "" {
		cfg.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Format = log.Format(flagLogFormat)
	}
	return log.New(cfg)
}

func loadSettings() (*config.Settings, error) {
	return config.LoadSettings(flagSettings)
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
