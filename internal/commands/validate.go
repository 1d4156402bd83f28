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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/skillrunner/internal/examples"
	"github.com/tombee/skillrunner/pkg/skill"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate skill files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	var failed int
	for _, path := range args {
		def, err := skill.LoadFile(path)
		if err != nil {
			cmd.Printf("%s: %v\n", path, err)
			failed++
			continue
		}
		cmd.Printf("%s: ok (%s, %d steps)\n", path, def.Name, len(def.Steps))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(args))
	}
	return nil
}

func newSkillsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List skills in the store",
		RunE:  runSkills,
	}
	cmd.Flags().StringVar(&runSkillsDir, "skills-dir", "", "Skill store directory (default from settings)")
	cmd.AddCommand(newSkillsExamplesCommand())
	cmd.AddCommand(newSkillsInitCommand())
	return cmd
}

func newSkillsExamplesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "List example skills shipped with the binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := examples.List()
			if err != nil {
				return err
			}
			for _, ex := range list {
				cmd.Printf("%-16s %s\n", ex.Name, ex.Description)
			}
			return nil
		},
	}
}

func newSkillsInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init <example>",
		Short: "Copy an example skill into the skill store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			dir := runSkillsDir
			if dir == "" {
				dir = settings.SkillsDir
			}

			name := args[0]
			if !examples.Exists(name) {
				return fmt.Errorf("unknown example %q, see: skillrunner skills examples", name)
			}
			dest := filepath.Join(dir, name+".yaml")
			if err := examples.CopyTo(name, dest); err != nil {
				return err
			}
			cmd.Printf("Wrote %s\n", dest)
			return nil
		},
	}
}

func runSkills(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	dir := runSkillsDir
	if dir == "" {
		dir = settings.SkillsDir
	}

	store := skill.NewStore(dir, newLogger())
	if err := store.Load(); err != nil {
		return err
	}

	names := store.List()
	if len(names) == 0 {
		cmd.Printf("No skills found in %s\n", dir)
		return nil
	}
	for _, name := range names {
		def, err := store.Get(name)
		if err != nil {
			continue
		}
		if def.Description != "" {
			cmd.Printf("%s  %s\n", name, def.Description)
		} else {
			cmd.Println(name)
		}
	}
	return nil
}
