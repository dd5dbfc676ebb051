package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_PublishSubscribe(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	runID := "run-1"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 10)
	go func() {
		_ = m.Subscribe(ctx, runID, 0, events)
	}()
	time.Sleep(50 * time.Millisecond)

	m.Publish(runID, Event{Type: "thinking", Message: "Searching knowledge base"})
	m.Publish(runID, Event{Type: "thinking", Message: "Evaluating evidence"})

	e1 := recvEvent(t, events)
	assert.Equal(t, "thinking", e1.Type)
	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, runID, e1.RunID)

	e2 := recvEvent(t, events)
	assert.Equal(t, uint64(2), e2.Seq)
}

func TestManager_SequenceIsMonotonicPerRun(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	for i := 0; i < 5; i++ {
		m.Publish("run-a", Event{Type: "thinking"})
	}
	m.Publish("run-b", Event{Type: "thinking"})

	a := m.ReplaySince("run-a", 0)
	require.Len(t, a, 5)
	for i, ev := range a {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	b := m.ReplaySince("run-b", 0)
	require.Len(t, b, 1)
	assert.Equal(t, uint64(1), b[0].Seq)
}

func TestManager_ReplaySinceSkipsDelivered(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	for i := 0; i < 10; i++ {
		m.Publish("run-r", Event{Type: "thinking"})
	}

	events := m.ReplaySince("run-r", 7)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(8), events[0].Seq)
}

func TestManager_SubscribeReplaysBacklog(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	runID := "run-backlog"

	m.Publish(runID, Event{Type: "thinking", Message: "first"})
	m.Publish(runID, Event{Type: "warning", Message: "second"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 10)
	go func() {
		_ = m.Subscribe(ctx, runID, 0, events)
	}()

	e1 := recvEvent(t, events)
	assert.Equal(t, "first", e1.Message)
	e2 := recvEvent(t, events)
	assert.Equal(t, "warning", e2.Type)
}

func TestManager_RedisMirror(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	m := NewManager(client, zap.NewNop())
	runID := "run-redis"

	for i := 1; i <= 5; i++ {
		m.Publish(runID, Event{Type: "thinking", Data: map[string]interface{}{"index": i}})
	}

	// Replay goes through Redis and preserves order and payloads.
	events := m.ReplaySince(runID, 0)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, float64(i+1), ev.Data["index"])
	}

	events = m.ReplaySince(runID, 3)
	require.Len(t, events, 2)

	m.CloseStreams(runID)
	assert.False(t, mr.Exists(streamKey(runID)))
}

func TestManager_ConfigureSubscriberBuffer(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	assert.Equal(t, 256, m.SubscriberBuffer())

	m.Configure(128, 64, time.Minute)
	assert.Equal(t, 64, m.SubscriberBuffer())

	// Zero values leave the current setting untouched.
	m.Configure(0, 0, 0)
	assert.Equal(t, 64, m.SubscriberBuffer())
}

func TestManager_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	runID := "run-slow"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Unbuffered channel that nobody drains.
	events := make(chan Event)
	go func() {
		_ = m.Subscribe(ctx, runID, 0, events)
	}()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Publish(runID, Event{Type: "thinking"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on slow subscriber")
	}
}

func recvEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}
