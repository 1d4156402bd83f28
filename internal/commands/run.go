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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/tombee/skillrunner/internal/config"
	"github.com/tombee/skillrunner/internal/heal"
	"github.com/tombee/skillrunner/pkg/capability"
	"github.com/tombee/skillrunner/pkg/capability/builtin"
	"github.com/tombee/skillrunner/pkg/skill"
)

var (
	runInputs        []string
	runInputFile     string
	runSkillsDir     string
	runNoHeal        bool
	runNoInteractive bool
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <skill>",
		Short: "Execute a skill",
		Long: `Execute a skill by file path or by name from the skill store.

Inputs are provided as key=value pairs or as a JSON document via
--input-file. Command-line inputs override file inputs.`,
		Example: `  # Run a skill file with inputs
  skillrunner run triage.yaml --input issue=PROJ-123

  # Run a stored skill with inputs from stdin
  echo '{"issue": "PROJ-123"}' | skillrunner run triage-issue --input-file -`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}

	cmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Skill input as key=value (repeatable)")
	cmd.Flags().StringVar(&runInputFile, "input-file", "", "JSON file with inputs, or - for stdin")
	cmd.Flags().StringVar(&runSkillsDir, "skills-dir", "", "Skill store directory (default from settings)")
	cmd.Flags().BoolVar(&runNoHeal, "no-heal", false, "Disable automatic healing of failed steps")
	cmd.Flags().BoolVar(&runNoInteractive, "no-interactive", false, "Disable interactive failure recovery")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	def, err := resolveSkill(args[0], settings)
	if err != nil {
		return err
	}

	inputs, err := parseInputs(runInputs, runInputFile)
	if err != nil {
		return err
	}

	executor, emitter := buildExecutor(settings, logger)
	defer emitter.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logEvents(emitter, logger)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := executor.Run(ctx, def, inputs)

	emitter.Close()
	wg.Wait()

	if err != nil {
		return err
	}

	if flagJSON {
		data, merr := json.MarshalIndent(result, "", "  ")
		if merr != nil {
			return merr
		}
		cmd.Println(string(data))
	} else {
		printRunSummary(cmd.OutOrStdout(), result)
	}

	if !result.Success {
		return fmt.Errorf("skill %s failed at step %s", result.Skill, result.StoppedAt)
	}
	return nil
}

// resolveSkill loads a skill by file path when the argument points at an
// existing file, otherwise by name from the store.
func resolveSkill(ref string, settings *config.Settings) (*skill.Definition, error) {
	if _, err := os.Stat(ref); err == nil {
		return skill.LoadFile(ref)
	}
	if strings.HasSuffix(ref, ".yaml") || strings.HasSuffix(ref, ".yml") {
		return skill.LoadFile(ref)
	}

	dir := runSkillsDir
	if dir == "" {
		dir = settings.SkillsDir
	}
	store := skill.NewStore(dir, nil)
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store.Get(ref)
}

// buildExecutor assembles the executor stack: builtin capabilities, the
// template resolver, the healer, and an event emitter.
func buildExecutor(settings *config.Settings, logger *slog.Logger) (*skill.Executor, *skill.ChannelEmitter) {
	reg := capability.NewRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		logger.Warn("registering builtin capabilities", "error", err)
	}
	invoker := newInvoker(reg, logger)

	var resolverOpts []skill.ResolverOption
	resolverOpts = append(resolverOpts, skill.WithResolverLogger(logger))
	if settings.JiraBaseURL != "" || settings.MRBaseURL != "" {
		resolverOpts = append(resolverOpts, skill.WithLinkBases(settings.JiraBaseURL, settings.MRBaseURL))
	}
	resolver := skill.NewResolver(resolverOpts...)

	emitter := skill.NewChannelEmitter(settings.EventBuffer)

	opts := []skill.ExecutorOption{
		skill.WithResolver(resolver),
		skill.WithEmitter(emitter),
		skill.WithLogger(logger),
		skill.WithGlobalConfig(settings.Globals),
		skill.WithWorkspace(settings.Workspace),
	}

	if !runNoHeal {
		opts = append(opts, skill.WithHealer(newHealer(settings, invoker, logger)))
	}

	if interactiveAllowed(runNoInteractive) {
		opts = append(opts, skill.WithRecoverer(&skill.SurveyRecoverer{}))
	}

	return skill.NewExecutor(invoker, opts...), emitter
}

// newInvoker builds the capability invoker with call statistics reported
// through the global meter provider.
func newInvoker(reg *capability.Registry, logger *slog.Logger) *capability.Invoker {
	invoker := capability.NewInvoker(reg, logger)
	if mc, err := capability.NewMetricsCollector(otel.GetMeterProvider()); err == nil {
		invoker = invoker.WithMetrics(mc)
	} else {
		logger.Warn("capability metrics disabled", "error", err)
	}
	return invoker
}

// newHealer wires the healer to the learned pattern library and the
// failure log configured in settings.
func newHealer(settings *config.Settings, invoker *capability.Invoker, logger *slog.Logger) *heal.Healer {
	return heal.New(invoker, logger,
		heal.WithLibrary(heal.NewLibrary(settings.PatternsPath)),
		heal.WithFailureLog(heal.NewFailureLog(settings.FailureLogPath)))
}

// interactiveAllowed reports whether failure recovery may prompt. Prompts
// are disabled by flag, by SKILLRUNNER_NO_INTERACTIVE, in CI, and when
// stdin is not a terminal.
func interactiveAllowed(noInteractive bool) bool {
	if noInteractive {
		return false
	}

	switch strings.ToLower(os.Getenv("SKILLRUNNER_NO_INTERACTIVE")) {
	case "true", "1", "yes":
		return false
	}

	for _, envVar := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_HOME"} {
		if os.Getenv(envVar) != "" {
			return false
		}
	}

	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// logEvents drains the emitter, surfacing run progress through the logger.
func logEvents(emitter *skill.ChannelEmitter, logger *slog.Logger) {
	for ev := range emitter.Events() {
		switch ev.Type {
		case skill.EventStepFailed, skill.EventRunFailed:
			logger.Warn(string(ev.Type),
				"skill", ev.Skill, "step", ev.Step, "error", ev.Error)
		default:
			logger.Debug(string(ev.Type),
				"skill", ev.Skill, "step", ev.Step)
		}
	}
}

func printRunSummary(w io.Writer, result *skill.RunResult) {
	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "%s %s in %s (run %s)\n", result.Skill, status, result.Elapsed.Round(time.Millisecond), result.RunID)

	for _, step := range result.Steps {
		marker := "ok"
		switch step.Status {
		case skill.StepFailed:
			marker = "failed"
		case skill.StepSkipped:
			marker = "skipped"
		}
		line := fmt.Sprintf("  %-8s %s", marker, step.Name)
		if step.AutoHealed {
			line += " (healed: " + step.HealType + ")"
		}
		if step.Error != "" {
			line += ": " + step.Error
		}
		fmt.Fprintln(w, line)
	}

	if result.EarlyReturn && result.Output != "" {
		fmt.Fprintf(w, "\n%s\n", result.Output)
	}
	if len(result.Outputs) > 0 {
		fmt.Fprintln(w, "\nOutputs:")
		for k, v := range result.Outputs {
			fmt.Fprintf(w, "  %s: %v\n", k, v)
		}
	}
}

// parseInputs parses key=value arguments, optionally merged over a JSON
// input file. Command-line values win.
func parseInputs(inputArgs []string, inputFile string) (map[string]interface{}, error) {
	var inputs map[string]interface{}
	if inputFile != "" {
		var err error
		inputs, err = loadInputFile(inputFile)
		if err != nil {
			return nil, err
		}
	} else {
		inputs = make(map[string]interface{})
	}

	for _, arg := range inputArgs {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid input format %q (expected key=value)", arg)
		}
		inputs[parts[0]] = parts[1]
	}

	return inputs, nil
}

// loadInputFile reads a JSON input document from a file or stdin.
func loadInputFile(path string) (map[string]interface{}, error) {
	var data []byte
	var err error

	if path == "-" {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return nil, fmt.Errorf("--input-file - requires input on stdin (pipe or redirect)")
		}
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}

	var inputs map[string]interface{}
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse JSON input: %w", err)
	}

	return inputs, nil
}
