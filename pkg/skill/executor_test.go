package skill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/skillrunner/pkg/capability"
)

type scriptedCapability struct {
	name     string
	outcomes []*capability.Outcome
	calls    int
	lastArgs map[string]interface{}
}

func (s *scriptedCapability) Name() string        { return s.name }
func (s *scriptedCapability) Description() string { return "scripted test capability" }

func (s *scriptedCapability) Invoke(_ context.Context, args map[string]interface{}) (*capability.Outcome, error) {
	s.lastArgs = args
	idx := s.calls
	s.calls++
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	return s.outcomes[idx], nil
}

func newTestInvoker(t *testing.T, caps ...*scriptedCapability) *capability.Invoker {
	t.Helper()
	reg := capability.NewRegistry()
	for _, c := range caps {
		require.NoError(t, reg.Register(c))
	}
	return capability.NewInvoker(reg, nil)
}

type fakeHealer struct {
	result *HealResult
	calls  int
}

func (f *fakeHealer) Heal(_ context.Context, _, _ string, _ map[string]interface{}) (*HealResult, error) {
	f.calls++
	return f.result, nil
}

func TestRunSingleSuccessfulStep(t *testing.T) {
	git := &scriptedCapability{
		name:     "git_status",
		outcomes: []*capability.Outcome{{Success: true, Result: "clean"}},
	}
	exec := NewExecutor(newTestInvoker(t, git))

	def := &Definition{
		Name: "status",
		Steps: []StepDefinition{
			{Name: "check", Capability: "git_status", Output: "status"},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, StepSucceeded, result.Steps[0].Status)
	assert.False(t, result.Steps[0].AutoHealed)
	assert.Equal(t, 1, git.calls)
}

func TestRunAutoHealRetrySucceeds(t *testing.T) {
	pull := &scriptedCapability{
		name: "git_pull",
		outcomes: []*capability.Outcome{
			{Success: false, Error: "401 Unauthorized"},
		},
	}
	healer := &fakeHealer{result: &HealResult{
		Healed:   true,
		HealType: "auth",
		Outcome:  &capability.Outcome{Success: true, Result: "pulled"},
	}}

	emitter := NewChannelEmitter(32)
	exec := NewExecutor(newTestInvoker(t, pull),
		WithHealer(healer),
		WithEmitter(emitter))

	def := &Definition{
		Name: "sync",
		Steps: []StepDefinition{
			{Name: "pull", Capability: "git_pull", Output: "out", OnError: OnErrorAutoHeal},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].AutoHealed)
	assert.Equal(t, "auth", result.Steps[0].HealType)
	assert.Equal(t, 1, healer.calls)

	emitter.Close()
	var types []EventType
	for ev := range emitter.Events() {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, EventHealTriggered)
	assert.Contains(t, types, EventHealCompleted)
}

func TestRunAutoHealFailureIsNonFatal(t *testing.T) {
	flaky := &scriptedCapability{
		name:     "flaky",
		outcomes: []*capability.Outcome{{Success: false, Error: "connection refused"}},
	}
	after := &scriptedCapability{
		name:     "after",
		outcomes: []*capability.Outcome{{Success: true, Result: "ran"}},
	}
	healer := &fakeHealer{result: &HealResult{Healed: false, HealType: "network"}}

	exec := NewExecutor(newTestInvoker(t, flaky, after), WithHealer(healer))

	def := &Definition{
		Name: "resilient",
		Steps: []StepDefinition{
			{Name: "first", Capability: "flaky", OnError: OnErrorAutoHeal},
			{Name: "second", Capability: "after"},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepFailed, result.Steps[0].Status)
	assert.Equal(t, StepSucceeded, result.Steps[1].Status)
	assert.Equal(t, 1, healer.calls, "heal attempted exactly once")
}

func TestRunOnErrorFailStopsRun(t *testing.T) {
	broken := &scriptedCapability{
		name:     "broken",
		outcomes: []*capability.Outcome{{Success: false, Error: "boom"}},
	}
	never := &scriptedCapability{
		name:     "never",
		outcomes: []*capability.Outcome{{Success: true}},
	}

	exec := NewExecutor(newTestInvoker(t, broken, never))

	def := &Definition{
		Name: "halt",
		Steps: []StepDefinition{
			{Name: "first", Capability: "broken"},
			{Name: "second", Capability: "never"},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "first", result.StoppedAt)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 0, never.calls)
}

func TestRunComputeErrorContinues(t *testing.T) {
	exec := NewExecutor(newTestInvoker(t))

	def := &Definition{
		Name: "calc",
		Steps: []StepDefinition{
			{Name: "bad math", Compute: "1/0", Output: "ratio"},
			{Name: "note", Manual: "carry on"},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.GreaterOrEqual(t, result.Failed(), 1)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepFailed, result.Steps[0].Status)
	assert.Contains(t, result.Steps[0].Error, "<compute error:")
	assert.Equal(t, StepSucceeded, result.Steps[1].Status)
}

func TestRunGuardSkipsStep(t *testing.T) {
	skipped := &scriptedCapability{
		name:     "skipped",
		outcomes: []*capability.Outcome{{Success: true}},
	}
	exec := NewExecutor(newTestInvoker(t, skipped))

	def := &Definition{
		Name: "guarded",
		Steps: []StepDefinition{
			{Name: "gate", Capability: "skipped", Guard: "count > 5"},
		},
	}

	result, err := exec.Run(context.Background(), def, map[string]interface{}{"count": 1})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StepSkipped, result.Steps[0].Status)
	assert.Equal(t, 0, skipped.calls)
}

func TestRunEarlyReturn(t *testing.T) {
	never := &scriptedCapability{
		name:     "never",
		outcomes: []*capability.Outcome{{Success: true}},
	}
	exec := NewExecutor(newTestInvoker(t, never))

	def := &Definition{
		Name: "short-circuit",
		Steps: []StepDefinition{
			{Name: "answer", Then: "done: {{ reason }}"},
			{Name: "unreached", Capability: "never"},
		},
	}

	result, err := exec.Run(context.Background(), def, map[string]interface{}{"reason": "cached"})
	require.NoError(t, err)

	assert.True(t, result.EarlyReturn)
	assert.Equal(t, "done: cached", result.Output)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 0, never.calls)
}

func TestRunUnresolvedArgumentFailsStep(t *testing.T) {
	echo := &scriptedCapability{
		name:     "echo",
		outcomes: []*capability.Outcome{{Success: true}},
	}
	exec := NewExecutor(newTestInvoker(t, echo))

	def := &Definition{
		Name: "strict-args",
		Steps: []StepDefinition{
			{
				Name:       "send",
				Capability: "echo",
				Args:       map[string]interface{}{"message": "{{ not_defined }}"},
			},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Steps[0].Error, "not_defined")
	assert.Equal(t, 0, echo.calls, "capability never invoked with empty required args")
}

func TestRunOutputBindingAndParsing(t *testing.T) {
	status := &scriptedCapability{
		name: "status",
		outcomes: []*capability.Outcome{{
			Success: true,
			Result:  "branch: main\nstate: clean\n",
		}},
	}
	echo := &scriptedCapability{
		name:     "echo",
		outcomes: []*capability.Outcome{{Success: true, Result: "ok"}},
	}
	exec := NewExecutor(newTestInvoker(t, status, echo))

	def := &Definition{
		Name: "pipeline",
		Steps: []StepDefinition{
			{Name: "read", Capability: "status", Output: "st"},
			{
				Name:       "use",
				Capability: "echo",
				Args:       map[string]interface{}{"message": "on {{ st_parsed.branch }}"},
			},
		},
		Outputs: []OutputDefinition{
			{Name: "branch", Value: "{{ st_parsed.branch }}"},
			{Name: "summary", Compute: `str.upper("done")`},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"message": "on main"}, echo.lastArgs)
	assert.Equal(t, "main", result.Outputs["branch"])
	assert.Equal(t, "DONE", result.Outputs["summary"])
}

func TestRunRequiredInputMissing(t *testing.T) {
	exec := NewExecutor(newTestInvoker(t))
	def := &Definition{
		Name:   "needs-input",
		Inputs: []InputDefinition{{Name: "target", Required: true}},
		Steps:  []StepDefinition{{Manual: "noop"}},
	}

	_, err := exec.Run(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestRunInputDefaultsRendered(t *testing.T) {
	echo := &scriptedCapability{
		name:     "echo",
		outcomes: []*capability.Outcome{{Success: true, Result: "ok"}},
	}
	exec := NewExecutor(newTestInvoker(t, echo))

	def := &Definition{
		Name: "defaults",
		Inputs: []InputDefinition{
			{Name: "env", Default: "staging"},
			{Name: "greeting", Default: "hello {{ env }}"},
		},
		Steps: []StepDefinition{
			{
				Name:       "say",
				Capability: "echo",
				Args:       map[string]interface{}{"message": "{{ greeting }}"},
			},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"message": "hello staging"}, echo.lastArgs)
}

// Step ordering: later steps see earlier outputs, never the reverse.
func TestRunSequentialContextVisibility(t *testing.T) {
	first := &scriptedCapability{
		name:     "first",
		outcomes: []*capability.Outcome{{Success: true, Result: "alpha"}},
	}
	second := &scriptedCapability{
		name:     "second",
		outcomes: []*capability.Outcome{{Success: true, Result: "beta"}},
	}
	exec := NewExecutor(newTestInvoker(t, first, second))

	def := &Definition{
		Name: "ordered",
		Steps: []StepDefinition{
			{
				Name:       "a",
				Capability: "first",
				Output:     "out_a",
				// out_b does not exist yet; rendering it must fail the step
				Args: map[string]interface{}{"peek": "{{ out_b }}"},
			},
			{Name: "b", Capability: "second", Output: "out_b"},
		},
	}

	result, err := exec.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StepFailed, result.Steps[0].Status)
	assert.Equal(t, 0, first.calls)
}
