package services

import (
	"testing"
	"time"

	"github.com/soochol/nodeflow/internal/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBuffer_ReplayFromSequence(t *testing.T) {
	b := NewEventBuffer(time.Minute)
	defer b.Stop()

	b.Register("exec-1")
	b.Append("exec-1", flow.NewEvent(flow.EventExecutionStarted, nil))
	b.Append("exec-1", flow.NewEvent(flow.EventExecutionProgress, map[string]any{"progress": 50}))

	events, _, done, found := b.Subscribe("exec-1", 0)
	require.True(t, found)
	assert.False(t, done)
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].Seq)
	assert.Equal(t, flow.EventExecutionProgress, events[1].Event.Type)

	events, _, _, _ = b.Subscribe("exec-1", 1)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Seq)

	events, _, _, _ = b.Subscribe("exec-1", 5)
	assert.Empty(t, events)
}

func TestEventBuffer_NotifiesSubscribers(t *testing.T) {
	b := NewEventBuffer(time.Minute)
	defer b.Stop()
	b.Register("exec-1")

	_, notify, _, _ := b.Subscribe("exec-1", 0)
	select {
	case <-notify:
		t.Fatal("notified before any event")
	default:
	}

	b.Append("exec-1", flow.NewEvent(flow.EventExecutionProgress, nil))
	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("append did not wake subscriber")
	}

	_, notify, _, _ = b.Subscribe("exec-1", 1)
	b.Complete("exec-1")
	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("complete did not wake subscriber")
	}
	_, _, done, _ := b.Subscribe("exec-1", 1)
	assert.True(t, done)
}

func TestEventBuffer_UnknownExecution(t *testing.T) {
	b := NewEventBuffer(time.Minute)
	defer b.Stop()

	b.Append("ghost", flow.NewEvent(flow.EventExecutionProgress, nil))
	b.Complete("ghost")
	_, _, _, found := b.Subscribe("ghost", 0)
	assert.False(t, found)
}

func TestEventBuffer_CollectsExpired(t *testing.T) {
	b := NewEventBuffer(time.Minute)
	defer b.Stop()

	b.Register("finished")
	b.Register("running")
	b.Complete("finished")

	b.collectExpired(time.Now())
	_, _, _, found := b.Subscribe("finished", 0)
	assert.True(t, found, "kept within ttl")

	b.collectExpired(time.Now().Add(2 * time.Minute))
	_, _, _, found = b.Subscribe("finished", 0)
	assert.False(t, found)
	_, _, _, found = b.Subscribe("running", 0)
	assert.True(t, found, "running executions are never collected")
}
