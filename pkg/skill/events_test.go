package skill

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEmitterDelivery(t *testing.T) {
	e := NewChannelEmitter(4)
	e.Emit(Event{Type: EventRunStarted, RunID: "r1"})

	ev := <-e.Events()
	assert.Equal(t, EventRunStarted, ev.Type)
	assert.Equal(t, "r1", ev.RunID)
	assert.False(t, ev.Time.IsZero())
}

func TestChannelEmitterDropsWhenFull(t *testing.T) {
	e := NewChannelEmitter(2)
	for i := 0; i < 5; i++ {
		e.Emit(Event{Type: EventStepStarted})
	}
	assert.Equal(t, int64(3), e.Dropped())
}

func TestChannelEmitterTruncatesError(t *testing.T) {
	e := NewChannelEmitter(1)
	e.Emit(Event{Type: EventStepFailed, Error: strings.Repeat("x", 2000)})

	ev := <-e.Events()
	require.LessOrEqual(t, len(ev.Error), maxEventErrorLen+3)
	assert.True(t, strings.HasSuffix(ev.Error, "..."))
}

func TestChannelEmitterEmitAfterClose(t *testing.T) {
	e := NewChannelEmitter(1)
	e.Close()
	// Must not panic
	e.Emit(Event{Type: EventRunCompleted})
	assert.Equal(t, int64(1), e.Dropped())
}
