package skill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/skillrunner/internal/log"
	"github.com/tombee/skillrunner/pkg/capability"
	"github.com/tombee/skillrunner/pkg/errors"
)

// StepStatus is the terminal state of an executed step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records the outcome of one step. Results are appended exactly
// once per executed step, in execution order, and never mutated afterwards.
type StepResult struct {
	Name       string        `json:"name"`
	Capability string        `json:"capability,omitempty"`
	Status     StepStatus    `json:"status"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	AutoHealed bool          `json:"auto_healed,omitempty"`
	HealType   string        `json:"heal_type,omitempty"`
}

// RunResult is the final report of a skill run. The run always completes;
// failures are recorded per step, never swallowed.
type RunResult struct {
	RunID       string                 `json:"run_id"`
	Skill       string                 `json:"skill"`
	Success     bool                   `json:"success"`
	Steps       []StepResult           `json:"steps"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	Output      string                 `json:"output,omitempty"`
	EarlyReturn bool                   `json:"early_return,omitempty"`
	StoppedAt   string                 `json:"stopped_at,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	Elapsed     time.Duration          `json:"elapsed"`
}

// Succeeded returns the count of successful steps.
func (r *RunResult) Succeeded() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StepSucceeded {
			n++
		}
	}
	return n
}

// Failed returns the count of failed steps.
func (r *RunResult) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			n++
		}
	}
	return n
}

// HealResult reports a remediation attempt.
type HealResult struct {
	// Healed is true when remediation ran and the retried invocation
	// succeeded.
	Healed bool
	// HealType is the failure classification: auth, network, or none.
	HealType string
	// Outcome is the retried invocation's outcome, when a retry happened.
	Outcome *capability.Outcome
}

// Healer attempts automatic remediation of a failed capability invocation.
// Implementations classify the error, run the matching fix capability, and
// retry the original invocation exactly once.
type Healer interface {
	Heal(ctx context.Context, errText, capabilityName string, args map[string]interface{}) (*HealResult, error)
}

// Executor walks a skill's step list sequentially, threading a single
// mutable context map through every step. One Executor may serve many
// concurrent runs; each run owns an independent context.
type Executor struct {
	invoker   *capability.Invoker
	resolver  *Resolver
	compute   *Compute
	healer    Healer
	emitter   Emitter
	recoverer Recoverer
	logger    *slog.Logger
	tracer    trace.Tracer

	config    map[string]interface{}
	workspace string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithResolver replaces the default template resolver.
func WithResolver(r *Resolver) ExecutorOption {
	return func(e *Executor) { e.resolver = r }
}

// WithHealer enables auto-heal for capability steps with on_error: auto_heal.
func WithHealer(h Healer) ExecutorOption {
	return func(e *Executor) { e.healer = h }
}

// WithEmitter sets the lifecycle event sink.
func WithEmitter(em Emitter) ExecutorOption {
	return func(e *Executor) { e.emitter = em }
}

// WithRecoverer enables interactive recovery for failed compute steps.
func WithRecoverer(r Recoverer) ExecutorOption {
	return func(e *Executor) { e.recoverer = r }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithGlobalConfig seeds every run context with the given config map.
func WithGlobalConfig(config map[string]interface{}) ExecutorOption {
	return func(e *Executor) { e.config = config }
}

// WithWorkspace seeds every run context with a workspace identifier.
func WithWorkspace(id string) ExecutorOption {
	return func(e *Executor) { e.workspace = id }
}

// NewExecutor creates a skill executor backed by the given invoker.
func NewExecutor(invoker *capability.Invoker, opts ...ExecutorOption) *Executor {
	e := &Executor{
		invoker:  invoker,
		resolver: NewResolver(),
		compute:  NewCompute(0),
		emitter:  NopEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("skillrunner/skill"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes a skill with the given inputs. Only definition-level errors
// (invalid document, missing required input) return an error before any
// step runs; everything a step throws is converted to a recorded
// StepResult and handled by the step's on_error policy.
func (e *Executor) Run(ctx context.Context, def *Definition, inputs map[string]interface{}) (*RunResult, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := checkRequiredInputs(def, inputs); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := e.logger.With(log.RunIDKey, runID, log.SkillKey, def.Name)

	result := &RunResult{
		RunID:     runID,
		Skill:     def.Name,
		Steps:     make([]StepResult, 0, len(def.Steps)),
		Outputs:   make(map[string]interface{}),
		StartedAt: time.Now(),
	}

	ectx := NewRunContext(inputs, e.config, e.workspace)
	e.applyDefaults(def, inputs, ectx)

	ctx, span := e.tracer.Start(ctx, "skill.run",
		trace.WithAttributes(
			attribute.String("skill.name", def.Name),
			attribute.String("skill.run_id", runID),
		))
	defer span.End()

	e.emitter.Emit(Event{Type: EventRunStarted, RunID: runID, Skill: def.Name})
	logger.Info("run started", "steps", len(def.Steps))

	aborted := false

	for i := range def.Steps {
		step := &def.Steps[i]
		name := def.StepName(i)

		if step.Guard != "" && !e.resolver.EvalCondition(step.Guard, ectx) {
			result.Steps = append(result.Steps, StepResult{
				Name:       name,
				Capability: step.Capability,
				Status:     StepSkipped,
				Success:    true,
			})
			e.emitter.Emit(Event{
				Type: EventStepSkipped, RunID: runID, Skill: def.Name,
				Step: name, StepIndex: i, Reason: "guard evaluated false",
			})
			logger.Debug("step skipped", log.StepKey, name, "guard", step.Guard)
			continue
		}

		if step.Then != "" {
			result.Output = e.resolver.Render(step.Then, ectx)
			result.EarlyReturn = true
			result.Steps = append(result.Steps, StepResult{
				Name: name, Status: StepSucceeded, Success: true,
			})
			e.emitter.Emit(Event{
				Type: EventStepCompleted, RunID: runID, Skill: def.Name,
				Step: name, StepIndex: i, Success: true,
			})
			logger.Info("early return", log.StepKey, name)
			break
		}

		e.emitter.Emit(Event{
			Type: EventStepStarted, RunID: runID, Skill: def.Name,
			Step: name, StepIndex: i,
		})

		stepCtx, stepSpan := e.tracer.Start(ctx, "skill.step",
			trace.WithAttributes(
				attribute.String("step.name", name),
				attribute.String("step.kind", step.Kind()),
			))

		var sr StepResult
		var stop bool

		switch step.Kind() {
		case "capability":
			sr, stop = e.runCapabilityStep(stepCtx, step, name, i, runID, def.Name, ectx, logger)
		case "compute":
			sr, stop = e.runComputeStep(stepCtx, step, name, ectx, logger)
		case "manual":
			sr = StepResult{Name: name, Status: StepSucceeded, Success: true}
			logger.Info("manual step", log.StepKey, name, "description", step.Manual)
		}

		if sr.Status == StepFailed {
			stepSpan.SetStatus(codes.Error, sr.Error)
		}
		stepSpan.End()

		result.Steps = append(result.Steps, sr)

		eventType := EventStepCompleted
		if sr.Status == StepFailed {
			eventType = EventStepFailed
		}
		e.emitter.Emit(Event{
			Type: eventType, RunID: runID, Skill: def.Name,
			Step: name, StepIndex: i, Success: sr.Success,
			Duration: sr.Duration, Error: sr.Error,
		})

		if stop {
			result.StoppedAt = name
			aborted = true
			break
		}
	}

	if !aborted && !result.EarlyReturn {
		e.renderOutputs(ctx, def, ectx, result, logger)
	}

	result.Elapsed = time.Since(result.StartedAt)
	result.Success = result.Failed() == 0

	if result.Success {
		e.emitter.Emit(Event{Type: EventRunCompleted, RunID: runID, Skill: def.Name, Success: true, Duration: result.Elapsed})
		logger.Info("run completed",
			"succeeded", result.Succeeded(),
			"failed", result.Failed(),
			log.DurationKey, result.Elapsed.Milliseconds())
	} else {
		e.emitter.Emit(Event{Type: EventRunFailed, RunID: runID, Skill: def.Name, Duration: result.Elapsed})
		logger.Warn("run failed",
			"succeeded", result.Succeeded(),
			"failed", result.Failed(),
			"stopped_at", result.StoppedAt,
			log.DurationKey, result.Elapsed.Milliseconds())
	}

	return result, nil
}

func checkRequiredInputs(def *Definition, inputs map[string]interface{}) error {
	for _, in := range def.Inputs {
		if !in.Required || in.Default != nil {
			continue
		}
		if _, ok := inputs[in.Name]; !ok {
			return &errors.ValidationError{
				Field:      "inputs." + in.Name,
				Message:    fmt.Sprintf("required input %q not provided", in.Name),
				Suggestion: fmt.Sprintf("pass --input %s=<value>", in.Name),
			}
		}
	}
	return nil
}

// applyDefaults renders declared input defaults and skill-level defaults
// into the context before the first step. Caller-supplied inputs win.
func (e *Executor) applyDefaults(def *Definition, inputs map[string]interface{}, ectx map[string]interface{}) {
	for _, in := range def.Inputs {
		if _, provided := inputs[in.Name]; provided || in.Default == nil {
			continue
		}
		ectx[in.Name] = e.resolver.RenderValue(in.Default, ectx)
	}
	for k, v := range def.Defaults {
		if _, provided := ectx[k]; provided {
			continue
		}
		ectx[k] = e.resolver.RenderValue(v, ectx)
	}
}

func (e *Executor) runCapabilityStep(ctx context.Context, step *StepDefinition, name string, index int, runID, skillName string, ectx map[string]interface{}, logger *slog.Logger) (StepResult, bool) {
	sr := StepResult{Name: name, Capability: step.Capability}

	ctx, span := e.tracer.Start(ctx, "capability.invoke",
		trace.WithAttributes(
			attribute.String("step.name", name),
			attribute.String("step.capability", step.Capability),
		))
	defer span.End()

	args, unresolved := e.renderArgs(step.Args, ectx)
	if unresolved != "" {
		sr.Status = StepFailed
		sr.Error = fmt.Sprintf("argument template %q resolved to empty string", unresolved)
		logger.Error("unresolved step argument",
			log.StepKey, name,
			"variable", unresolved)
		return sr, step.ErrorPolicy() == OnErrorFail
	}

	outcome := e.invoker.Invoke(ctx, step.Capability, args)
	sr.Duration = outcome.Duration

	if outcome.Success {
		sr.Status = StepSucceeded
		sr.Success = true
		e.bindOutput(step, outcome.Result, ectx)
		return sr, false
	}

	errText := outcome.Error
	if errText == "" {
		errText = "capability failed"
	}

	switch step.ErrorPolicy() {
	case OnErrorAutoHeal:
		if e.healer != nil {
			healed := e.attemptHeal(ctx, step, name, index, runID, skillName, errText, args, ectx, &sr, logger)
			if healed {
				return sr, false
			}
		}
		// Heal failure is non-fatal: record and continue.
		sr.Status = StepFailed
		sr.Error = errText
		return sr, false
	case OnErrorContinue:
		sr.Status = StepFailed
		sr.Error = errText
		return sr, false
	default:
		sr.Status = StepFailed
		sr.Error = errText
		return sr, true
	}
}

// attemptHeal runs the healer and, on success, rewrites the step result as
// an auto-healed success. Returns true when the retried outcome succeeded.
func (e *Executor) attemptHeal(ctx context.Context, step *StepDefinition, name string, index int, runID, skillName, errText string, args map[string]interface{}, ectx map[string]interface{}, sr *StepResult, logger *slog.Logger) bool {
	e.emitter.Emit(Event{
		Type: EventHealTriggered, RunID: runID, Skill: skillName,
		Step: name, StepIndex: index, Error: errText,
	})

	hres, err := e.healer.Heal(ctx, errText, step.Capability, args)
	if err != nil || hres == nil {
		logger.Warn("heal attempt errored", log.StepKey, name, "error", err)
		e.emitter.Emit(Event{
			Type: EventHealCompleted, RunID: runID, Skill: skillName,
			Step: name, StepIndex: index, Success: false,
		})
		return false
	}

	sr.HealType = hres.HealType

	if hres.Healed && hres.Outcome != nil && hres.Outcome.Success {
		sr.Status = StepSucceeded
		sr.Success = true
		sr.AutoHealed = true
		sr.Duration += hres.Outcome.Duration
		e.bindOutput(step, hres.Outcome.Result, ectx)
		e.emitter.Emit(Event{
			Type: EventHealCompleted, RunID: runID, Skill: skillName,
			Step: name, StepIndex: index, Success: true,
		})
		logger.Info("step auto-healed", log.StepKey, name, "heal_type", hres.HealType)
		return true
	}

	e.emitter.Emit(Event{
		Type: EventHealCompleted, RunID: runID, Skill: skillName,
		Step: name, StepIndex: index, Success: false,
	})
	return false
}

func (e *Executor) runComputeStep(ctx context.Context, step *StepDefinition, name string, ectx map[string]interface{}, logger *slog.Logger) (StepResult, bool) {
	sr := StepResult{Name: name}
	start := time.Now()

	value, err := e.compute.Evaluate(ctx, step.Compute, ectx)
	sr.Duration = time.Since(start)

	if err != nil && e.recoverer != nil {
		action, replacement, rerr := e.recoverer.Recover(name, step.Compute, err.Error())
		if rerr == nil {
			switch action {
			case RecoveryApplyFix, RecoveryEditRetry:
				value, err = e.compute.Evaluate(ctx, replacement, ectx)
			case RecoveryAbort:
				sr.Status = StepFailed
				sr.Error = Sentinel(err)
				ectx[step.Output] = sr.Error
				ectx[step.Output+"_error"] = err.Error()
				return sr, true
			}
		}
	}

	if err != nil {
		// Compute failures never stop the run: the sentinel goes into the
		// context so dependent steps can branch on it.
		sr.Status = StepFailed
		sr.Error = Sentinel(err)
		ectx[step.Output] = sr.Error
		ectx[step.Output+"_error"] = err.Error()
		logger.Warn("compute step failed", log.StepKey, name, "error", err)
		return sr, false
	}

	sr.Status = StepSucceeded
	sr.Success = true
	ectx[step.Output] = value
	return sr, false
}

// renderArgs renders a step's argument map. When an argument that contained
// a template expression renders to empty string, the first placeholder path
// is returned as the unresolved variable for the diagnostic.
func (e *Executor) renderArgs(args map[string]interface{}, ectx map[string]interface{}) (map[string]interface{}, string) {
	if len(args) == 0 {
		return map[string]interface{}{}, ""
	}

	rendered := make(map[string]interface{}, len(args))
	for key, raw := range args {
		value := e.resolver.RenderValue(raw, ectx)
		if rawStr, ok := raw.(string); ok && templatePattern.MatchString(rawStr) {
			if valStr, isStr := value.(string); (isStr && valStr == "") || value == nil {
				if m := templatePattern.FindStringSubmatch(rawStr); m != nil {
					return nil, m[1]
				}
				return nil, key
			}
		}
		rendered[key] = value
	}
	return rendered, ""
}

// bindOutput stores a capability result under the step's output key and
// parses key:value lines into <output>_parsed.
func (e *Executor) bindOutput(step *StepDefinition, result string, ectx map[string]interface{}) {
	if step.Output == "" {
		return
	}
	ectx[step.Output] = result
	if parsed := ParseKeyValues(result); parsed != nil {
		ectx[step.Output+"_parsed"] = parsed
	}
}

// renderOutputs resolves declared outputs into the context and the report.
func (e *Executor) renderOutputs(ctx context.Context, def *Definition, ectx map[string]interface{}, result *RunResult, logger *slog.Logger) {
	for _, out := range def.Outputs {
		var value interface{}
		if out.Compute != "" {
			computed, err := e.compute.Evaluate(ctx, out.Compute, ectx)
			if err != nil {
				value = Sentinel(err)
				logger.Warn("output compute failed", "output", out.Name, "error", err)
			} else {
				value = computed
			}
		} else {
			value = e.resolver.RenderValue(out.Value, ectx)
		}
		ectx[out.Name] = value
		result.Outputs[out.Name] = value
	}
}
