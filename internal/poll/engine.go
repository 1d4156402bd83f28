package poll

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tombee/skillrunner/internal/log"
	"github.com/tombee/skillrunner/pkg/errors"
)

// Reserved input keys attached to job callbacks.
const (
	TriggeredItemsKey = "_triggered_items"
	TriggeredCountKey = "_triggered_count"
)

// DefaultTick is the poll loop cadence.
const DefaultTick = 60 * time.Second

// PollNowMaxItems caps the item list returned by a manual poll.
const PollNowMaxItems = 10

// SourceConfig declares a named poll source.
type SourceConfig struct {
	Name      string                 `yaml:"name"`
	Type      string                 `yaml:"type"`
	Args      map[string]interface{} `yaml:"args,omitempty"`
	Condition string                 `yaml:"condition,omitempty"`
}

// JobConfig binds a source to a target skill.
type JobConfig struct {
	Name string `yaml:"name"`

	// Condition names the source whose condition gates this job
	Condition string `yaml:"condition"`

	// Skill is the target skill started when the condition fires
	Skill string `yaml:"skill"`

	// Inputs are static inputs merged with the reserved trigger keys
	Inputs map[string]interface{} `yaml:"inputs,omitempty"`

	// Notify lists notification channels for run results
	Notify []string `yaml:"notify,omitempty"`

	// PollInterval is a duration string (60s, 5min, 2h); defaults to the
	// engine tick
	PollInterval string `yaml:"poll_interval,omitempty"`

	// Schedule is an optional cron expression; scheduled jobs fire on
	// their cron cadence instead of the interval
	Schedule string `yaml:"schedule,omitempty"`
}

// Callback starts a skill run for a triggered job. Errors and panics are
// logged and never stop the poll loop.
type Callback func(ctx context.Context, job JobConfig, inputs map[string]interface{}) error

type boundSource struct {
	cfg       SourceConfig
	fetcher   Source
	condition *Condition

	mu        sync.Mutex
	lastPoll  time.Time
	lastItems []map[string]interface{}
}

type boundJob struct {
	cfg      JobConfig
	source   *boundSource
	interval time.Duration
	nextDue  time.Time
	running  atomic.Bool
}

// Config assembles an Engine.
type Config struct {
	Tick      time.Duration
	Sources   []SourceConfig
	Jobs      []JobConfig
	Registry  *SourceRegistry
	Triggered *TriggeredSet
	Limiter   *SourceLimiter
	Metrics   *Metrics
	Callback  Callback
	Logger    *slog.Logger
}

// Engine owns the long-lived poll loop.
type Engine struct {
	tick      time.Duration
	sources   map[string]*boundSource
	jobs      []*boundJob
	triggered *TriggeredSet
	limiter   *SourceLimiter
	metrics   *Metrics
	callback  Callback
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewEngine validates the configuration and binds jobs to sources.
// Definition errors (unknown source type, bad condition or interval) are
// reported here, before the loop starts.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Callback == nil {
		return nil, fmt.Errorf("poll engine requires a callback")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewSourceRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Triggered == nil {
		cfg.Triggered = NewTriggeredSet(0, 0)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSourceLimiter(0, 0)
	}

	e := &Engine{
		tick:      cfg.Tick,
		sources:   make(map[string]*boundSource, len(cfg.Sources)),
		triggered: cfg.Triggered,
		limiter:   cfg.Limiter,
		metrics:   cfg.Metrics,
		callback:  cfg.Callback,
		logger:    cfg.Logger,
	}

	for _, sc := range cfg.Sources {
		if sc.Name == "" {
			return nil, &errors.ValidationError{
				Field:   "sources",
				Message: "source name is required",
			}
		}
		fetcher, err := cfg.Registry.Get(sc.Type)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		condition, err := ParseCondition(sc.Condition)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		e.sources[sc.Name] = &boundSource{cfg: sc, fetcher: fetcher, condition: condition}
	}

	now := time.Now()
	for _, jc := range cfg.Jobs {
		src, ok := e.sources[jc.Condition]
		if !ok {
			return nil, &errors.ValidationError{
				Field:      "jobs." + jc.Name,
				Message:    fmt.Sprintf("job references unknown source %q", jc.Condition),
				Suggestion: "declare the source in the sources section",
			}
		}
		interval := cfg.Tick
		if jc.PollInterval != "" {
			parsed, err := ParseInterval(jc.PollInterval)
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", jc.Name, err)
			}
			interval = parsed
		}
		e.jobs = append(e.jobs, &boundJob{
			cfg:      jc,
			source:   src,
			interval: interval,
			nextDue:  now,
		})
	}

	return e, nil
}

// ParseInterval parses a duration string, accepting both Go syntax (90s,
// 5m) and the condition DSL units (5min, 2hr, 1day).
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	unit, ok := durationUnits[s[i:]]
	if !ok {
		return 0, fmt.Errorf("invalid interval %q: unknown unit %q", s, s[i:])
	}
	return time.Duration(n) * unit, nil
}

// Run drives the poll loop until the context is cancelled. Cron-scheduled
// jobs are registered with their own scheduler and fire the same poll
// path; interval jobs are checked every tick. A job whose previous poll is
// still running is skipped, not stacked.
func (e *Engine) Run(ctx context.Context) error {
	e.cron = cron.New()
	for _, j := range e.jobs {
		if j.cfg.Schedule == "" {
			continue
		}
		job := j
		if _, err := e.cron.AddFunc(j.cfg.Schedule, func() {
			e.runJob(ctx, job)
		}); err != nil {
			return fmt.Errorf("job %s: invalid cron schedule %q: %w", j.cfg.Name, j.cfg.Schedule, err)
		}
	}
	e.cron.Start()
	defer e.cron.Stop()

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	e.logger.Info("poll engine started",
		"tick", e.tick,
		"sources", len(e.sources),
		"jobs", len(e.jobs))

	// First pass immediately so a fresh daemon does not wait a full tick.
	e.pollDue(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("poll engine stopping")
			return ctx.Err()
		case now := <-ticker.C:
			e.pollDue(ctx, now)
		}
	}
}

func (e *Engine) pollDue(ctx context.Context, now time.Time) {
	for _, j := range e.jobs {
		if j.cfg.Schedule != "" {
			continue
		}
		if now.Before(j.nextDue) {
			continue
		}
		j.nextDue = now.Add(j.interval)
		go e.runJob(ctx, j)
	}
}

// runJob performs one fetch-evaluate-dedup-fire cycle for a job.
func (e *Engine) runJob(ctx context.Context, j *boundJob) {
	if !j.running.CompareAndSwap(false, true) {
		e.logger.Debug("previous poll still running, skipping",
			log.JobKey, j.cfg.Name)
		return
	}
	defer j.running.Store(false)

	logger := e.logger.With(log.JobKey, j.cfg.Name, log.SourceKey, j.source.cfg.Name)

	if err := e.limiter.Wait(ctx, j.source.cfg.Name); err != nil {
		return
	}

	start := time.Now()
	items, err := j.source.fetcher.Fetch(ctx, j.source.cfg.Args)
	e.metrics.RecordPoll(ctx, j.source.cfg.Name, err, time.Since(start))
	if err != nil {
		logger.Warn("poll fetch failed", "error", err)
		return
	}

	j.source.mu.Lock()
	j.source.lastPoll = time.Now()
	j.source.lastItems = items
	j.source.mu.Unlock()

	met, matching := j.source.condition.Evaluate(items, time.Now())
	if !met {
		return
	}

	fresh := e.triggered.FilterTriggered(ctx, j.cfg.Name, matching)
	if len(fresh) == 0 {
		return
	}

	inputs := make(map[string]interface{}, len(j.cfg.Inputs)+2)
	for k, v := range j.cfg.Inputs {
		inputs[k] = v
	}
	inputs[TriggeredItemsKey] = fresh
	inputs[TriggeredCountKey] = len(fresh)

	e.metrics.RecordTrigger(ctx, j.cfg.Name, len(fresh))
	logger.Info("condition met, triggering job",
		log.SkillKey, j.cfg.Skill,
		"items", len(fresh))

	e.fireCallback(ctx, j.cfg, inputs, logger)
}

// fireCallback isolates the callback: a panic or error is logged and the
// loop survives.
func (e *Engine) fireCallback(ctx context.Context, job JobConfig, inputs map[string]interface{}, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job callback panicked", "panic", r)
		}
	}()
	if err := e.callback(ctx, job, inputs); err != nil {
		logger.Error("job callback failed", "error", err)
	}
}

// PollNowResult is the outcome of a manual single-source poll.
type PollNowResult struct {
	Source  string                   `json:"source"`
	Met     bool                     `json:"met"`
	Total   int                      `json:"total"`
	Items   []map[string]interface{} `json:"items"`
	Elapsed time.Duration            `json:"elapsed"`
}

// PollNow fetches one source immediately and evaluates its condition,
// for diagnostics. The returned item list is capped at PollNowMaxItems.
func (e *Engine) PollNow(ctx context.Context, sourceName string) (*PollNowResult, error) {
	src, ok := e.sources[sourceName]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "source", ID: sourceName}
	}

	start := time.Now()
	items, err := src.fetcher.Fetch(ctx, src.cfg.Args)
	e.metrics.RecordPoll(ctx, sourceName, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	met, matching := src.condition.Evaluate(items, time.Now())
	if len(matching) > PollNowMaxItems {
		matching = matching[:PollNowMaxItems]
	}

	return &PollNowResult{
		Source:  sourceName,
		Met:     met,
		Total:   len(items),
		Items:   matching,
		Elapsed: time.Since(start),
	}, nil
}

// Sources returns the configured source names.
func (e *Engine) Sources() []string {
	names := make([]string, 0, len(e.sources))
	for name := range e.sources {
		names = append(names, name)
	}
	return names
}
