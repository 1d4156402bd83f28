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

package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tombee/skillrunner/internal/heal"
)

func newPatternsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect the learned failure pattern library",
	}
	cmd.AddCommand(newPatternsListCommand())
	cmd.AddCommand(newFailuresCommand())
	return cmd
}

func newPatternsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known failure patterns and their fix rates",
		RunE:  runPatternsList,
	}
}

func runPatternsList(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	patterns, err := heal.NewLibrary(settings.PatternsPath).Load()
	if err != nil {
		return err
	}

	if flagJSON {
		data, merr := json.MarshalIndent(patterns, "", "  ")
		if merr != nil {
			return merr
		}
		cmd.Println(string(data))
		return nil
	}

	if len(patterns) == 0 {
		cmd.Println("No failure patterns recorded yet.")
		return nil
	}
	for _, p := range patterns {
		cmd.Printf("%-10s %-16s matched=%d fixed=%d rate=%.2f  %s\n",
			p.Category, p.Remediation, p.Matched, p.Fixed, p.SuccessRate, p.Pattern)
	}
	return nil
}

func newFailuresCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "failures",
		Short: "Show recent heal attempts",
		RunE:  runFailures,
	}
}

func runFailures(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	entries, err := heal.NewFailureLog(settings.FailureLogPath).Load()
	if err != nil {
		return err
	}

	if flagJSON {
		data, merr := json.MarshalIndent(entries, "", "  ")
		if merr != nil {
			return merr
		}
		cmd.Println(string(data))
		return nil
	}

	if len(entries) == 0 {
		cmd.Println("No heal attempts recorded yet.")
		return nil
	}
	for _, e := range entries {
		outcome := "not healed"
		if e.Healed {
			outcome = "healed"
		}
		cmd.Printf("%s  %-20s %-8s %-10s %s\n",
			e.Time.Format("2006-01-02 15:04:05"), e.Capability, e.HealType, outcome, e.Error)
	}
	return nil
}
