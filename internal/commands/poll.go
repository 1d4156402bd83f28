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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/tombee/skillrunner/internal/config"
	"github.com/tombee/skillrunner/internal/log"
	"github.com/tombee/skillrunner/internal/poll"
	"github.com/tombee/skillrunner/internal/telemetry"
	"github.com/tombee/skillrunner/pkg/capability"
	"github.com/tombee/skillrunner/pkg/capability/builtin"
	"github.com/tombee/skillrunner/pkg/skill"
)

var (
	pollConfigPath  string
	pollMetricsAddr string
)

func newPollCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the condition-poll daemon",
		Long: `Run the poll daemon. Sources are fetched on a timer, their
conditions evaluated, and matching items trigger skill runs. Prometheus
metrics are served on /metrics.`,
		RunE: runPoll,
	}

	cmd.Flags().StringVar(&pollConfigPath, "config", "", "Poll configuration file (default: XDG config)")
	cmd.Flags().StringVar(&pollMetricsAddr, "metrics-addr", "", "Metrics listen address (default from settings)")

	return cmd
}

func runPoll(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	pollCfg, err := config.LoadPollConfig(pollConfigPath)
	if err != nil {
		return err
	}

	tick, err := time.ParseDuration(settings.PollTick)
	if err != nil {
		return fmt.Errorf("invalid poll_tick %q: %w", settings.PollTick, err)
	}

	provider, err := telemetry.Setup("skillrunner", version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Capability surface shared by skill runs and poll sources.
	reg := capability.NewRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		return err
	}
	invoker := newInvoker(reg, logger)

	store := skill.NewStore(settings.SkillsDir, logger)
	if err := store.Load(); err != nil {
		return err
	}
	go func() {
		if err := store.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("skill store watch stopped", "error", err)
		}
	}()

	triggered, err := poll.OpenPersistent(ctx, settings.TriggerStatePath)
	if err != nil {
		return fmt.Errorf("opening trigger state: %w", err)
	}
	defer triggered.Close()

	executor, emitter := buildDaemonExecutor(settings, invoker, logger)
	defer emitter.Close()
	go logEvents(emitter, logger)

	metrics, err := poll.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}

	engine, err := poll.NewEngine(poll.Config{
		Tick:      tick,
		Sources:   pollCfg.Sources,
		Jobs:      pollCfg.Jobs,
		Registry:  sourceRegistry(invoker),
		Triggered: triggered,
		Limiter:   poll.NewSourceLimiter(0, 0),
		Metrics:   metrics,
		Callback:  runCallback(store, executor, logger),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	addr := pollMetricsAddr
	if addr == "" {
		addr = settings.MetricsAddr
	}
	metricsSrv := serveMetrics(addr, provider, logger)

	logger.Info("skillrunner poll daemon starting",
		"version", version,
		"tick", tick,
		"skills", len(store.List()),
		"metrics_addr", addr)

	runErr := engine.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("poll daemon stopped")
	return nil
}

// buildDaemonExecutor assembles the executor used for triggered runs.
// Daemon runs are never interactive.
func buildDaemonExecutor(settings *config.Settings, invoker *capability.Invoker, logger *slog.Logger) (*skill.Executor, *skill.ChannelEmitter) {
	resolver := skill.NewResolver(
		skill.WithResolverLogger(logger),
		skill.WithLinkBases(settings.JiraBaseURL, settings.MRBaseURL))

	emitter := skill.NewChannelEmitter(settings.EventBuffer)

	executor := skill.NewExecutor(invoker,
		skill.WithResolver(resolver),
		skill.WithEmitter(emitter),
		skill.WithLogger(logger),
		skill.WithGlobalConfig(settings.Globals),
		skill.WithWorkspace(settings.Workspace),
		skill.WithHealer(newHealer(settings, invoker, logger)))

	return executor, emitter
}

// sourceRegistry exposes every registered capability as a poll source
// type, so a source's type names the capability that fetches its items.
func sourceRegistry(invoker *capability.Invoker) *poll.SourceRegistry {
	reg := poll.NewSourceRegistry()
	for _, name := range invoker.Registry().List() {
		// Registration only fails on duplicates, which List precludes.
		_ = reg.Register(name, poll.NewCapabilitySource(invoker, name))
	}
	return reg
}

// runCallback starts the job's target skill with the trigger inputs.
func runCallback(store *skill.Store, executor *skill.Executor, logger *slog.Logger) poll.Callback {
	return func(ctx context.Context, job poll.JobConfig, inputs map[string]interface{}) error {
		def, err := store.Get(job.Skill)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}

		result, err := executor.Run(ctx, def, inputs)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		if !result.Success {
			logger.Warn("triggered run failed",
				log.JobKey, job.Name,
				log.SkillKey, job.Skill,
				log.RunIDKey, result.RunID,
				"stopped_at", result.StoppedAt)
		}
		return nil
	}
}

func serveMetrics(addr string, provider *telemetry.Provider, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func newPollNowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll-now <source>",
		Short: "Fetch one source immediately and evaluate its condition",
		Args:  cobra.ExactArgs(1),
		RunE:  runPollNow,
	}
	cmd.Flags().StringVar(&pollConfigPath, "config", "", "Poll configuration file (default: XDG config)")
	return cmd
}

func runPollNow(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	pollCfg, err := config.LoadPollConfig(pollConfigPath)
	if err != nil {
		return err
	}

	reg := capability.NewRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		return err
	}
	invoker := newInvoker(reg, logger)

	// No jobs and a no-op callback: poll-now only inspects sources.
	engine, err := poll.NewEngine(poll.Config{
		Sources:  pollCfg.Sources,
		Registry: sourceRegistry(invoker),
		Callback: func(context.Context, poll.JobConfig, map[string]interface{}) error { return nil },
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	result, err := engine.PollNow(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		data, merr := json.MarshalIndent(result, "", "  ")
		if merr != nil {
			return merr
		}
		cmd.Println(string(data))
		return nil
	}

	state := "not met"
	if result.Met {
		state = "met"
	}
	cmd.Printf("source %s: condition %s (%d items, %s)\n",
		result.Source, state, result.Total, result.Elapsed.Round(time.Millisecond))
	for _, item := range result.Items {
		line, _ := json.Marshal(item)
		cmd.Printf("  %s\n", line)
	}
	if result.Total > len(result.Items) {
		cmd.Printf("  ... %d more\n", result.Total-len(result.Items))
	}
	return nil
}
