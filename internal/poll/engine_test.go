package poll

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type recordedCall struct {
	job    JobConfig
	inputs map[string]interface{}
}

type callbackRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (c *callbackRecorder) callback(_ context.Context, job JobConfig, inputs map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedCall{job: job, inputs: inputs})
	return nil
}

func (c *callbackRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func staticSource(items ...map[string]interface{}) Source {
	return SourceFunc(func(context.Context, map[string]interface{}) ([]map[string]interface{}, error) {
		return items, nil
	})
}

func newTestEngine(t *testing.T, src Source, condition string, cb Callback) *Engine {
	t.Helper()
	reg := NewSourceRegistry()
	require.NoError(t, reg.Register("static", src))

	engine, err := NewEngine(Config{
		Sources: []SourceConfig{
			{Name: "inbox", Type: "static", Condition: condition},
		},
		Jobs: []JobConfig{
			{Name: "triage", Condition: "inbox", Skill: "triage-issue",
				Inputs: map[string]interface{}{"env": "staging"}},
		},
		Registry: reg,
		Limiter:  NewSourceLimiter(rate.Inf, 1),
		Callback: cb,
	})
	require.NoError(t, err)
	return engine
}

func TestEngineTriggersCallback(t *testing.T) {
	rec := &callbackRecorder{}
	engine := newTestEngine(t, staticSource(map[string]interface{}{"id": "a"}), "count > 0", rec.callback)

	engine.runJob(context.Background(), engine.jobs[0])

	require.Equal(t, 1, rec.count())
	call := rec.calls[0]
	assert.Equal(t, "triage-issue", call.job.Skill)
	assert.Equal(t, "staging", call.inputs["env"])
	assert.Equal(t, 1, call.inputs[TriggeredCountKey])
	items, ok := call.inputs[TriggeredItemsKey].([]map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a", items[0]["id"])
}

func TestEngineDeduplicatesAcrossPolls(t *testing.T) {
	rec := &callbackRecorder{}
	engine := newTestEngine(t, staticSource(map[string]interface{}{"id": "a"}), "any", rec.callback)

	engine.runJob(context.Background(), engine.jobs[0])
	engine.runJob(context.Background(), engine.jobs[0])

	assert.Equal(t, 1, rec.count(), "unchanged item must not re-trigger")
}

func TestEngineConditionNotMet(t *testing.T) {
	rec := &callbackRecorder{}
	engine := newTestEngine(t, staticSource(), "count > 0", rec.callback)

	engine.runJob(context.Background(), engine.jobs[0])
	assert.Equal(t, 0, rec.count())
}

func TestEngineFetchErrorKeepsLoopAlive(t *testing.T) {
	rec := &callbackRecorder{}
	failing := SourceFunc(func(context.Context, map[string]interface{}) ([]map[string]interface{}, error) {
		return nil, fmt.Errorf("upstream down")
	})
	engine := newTestEngine(t, failing, "any", rec.callback)

	engine.runJob(context.Background(), engine.jobs[0])
	assert.Equal(t, 0, rec.count())
}

func TestEngineCallbackPanicRecovered(t *testing.T) {
	engine := newTestEngine(t, staticSource(map[string]interface{}{"id": "a"}), "any",
		func(context.Context, JobConfig, map[string]interface{}) error {
			panic("callback exploded")
		})

	assert.NotPanics(t, func() {
		engine.runJob(context.Background(), engine.jobs[0])
	})
}

func TestEngineSkipsWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rec := &callbackRecorder{}

	slow := SourceFunc(func(context.Context, map[string]interface{}) ([]map[string]interface{}, error) {
		close(started)
		<-release
		return []map[string]interface{}{{"id": "a"}}, nil
	})
	engine := newTestEngine(t, slow, "any", rec.callback)

	go engine.runJob(context.Background(), engine.jobs[0])
	<-started

	// Second invocation while the first poll is in flight must be skipped.
	engine.runJob(context.Background(), engine.jobs[0])
	close(release)

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestEngineUnknownSourceType(t *testing.T) {
	_, err := NewEngine(Config{
		Sources:  []SourceConfig{{Name: "s", Type: "missing"}},
		Callback: func(context.Context, JobConfig, map[string]interface{}) error { return nil },
	})
	assert.Error(t, err)
}

func TestEngineJobReferencesUnknownSource(t *testing.T) {
	_, err := NewEngine(Config{
		Jobs:     []JobConfig{{Name: "j", Condition: "nowhere", Skill: "s"}},
		Callback: func(context.Context, JobConfig, map[string]interface{}) error { return nil },
	})
	assert.Error(t, err)
}

func TestPollNow(t *testing.T) {
	items := make([]map[string]interface{}, 25)
	for i := range items {
		items[i] = map[string]interface{}{"id": i}
	}
	rec := &callbackRecorder{}
	engine := newTestEngine(t, staticSource(items...), "any", rec.callback)

	result, err := engine.PollNow(context.Background(), "inbox")
	require.NoError(t, err)

	assert.True(t, result.Met)
	assert.Equal(t, 25, result.Total)
	assert.Len(t, result.Items, PollNowMaxItems)

	_, err = engine.PollNow(context.Background(), "unknown")
	assert.Error(t, err)
}
