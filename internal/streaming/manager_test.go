package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
)

func TestPublishSubscribe(t *testing.T) {
	m := NewManager(8, nil, zaptest.NewLogger(t))
	ch := m.Subscribe("run-1", 4)
	defer m.Unsubscribe("run-1", ch)

	m.Publish(context.Background(), "run-1", Event{Type: EventProgress, Progress: 0.1, Message: "Analyzing"})
	m.Publish(context.Background(), "run-2", Event{Type: EventProgress, Progress: 0.5})

	select {
	case e := <-ch:
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, uint64(1), e.Seq)
		assert.Equal(t, "Analyzing", e.Message)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event for other run: %+v", e)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	m := NewManager(8, nil, zaptest.NewLogger(t))
	ch := m.Subscribe("run", 1)
	defer m.Unsubscribe("run", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			m.Publish(context.Background(), "run", Event{Type: EventProgress})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestReplaySinceRingBuffer(t *testing.T) {
	m := NewManager(3, nil, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		m.Publish(context.Background(), "run", Event{Type: EventProgress, Progress: float64(i) / 10})
	}

	events, err := m.ReplaySince(context.Background(), "run", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []uint64{3, 4, 5}, seqs(events))

	events, err = m.ReplaySince(context.Background(), "run", 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, seqs(events))
	assert.Equal(t, uint64(5), m.LastSeq("run"))

	events, err = m.ReplaySince(context.Background(), "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	m := NewManager(4, nil, zaptest.NewLogger(t))
	ch := m.Subscribe("run", 1)
	m.Unsubscribe("run", ch)
	m.Unsubscribe("run", ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestRedisMirrorAndReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	wrapper := circuitbreaker.NewRedisWrapper(client, circuitbreaker.Settings{}, zaptest.NewLogger(t))

	writer := NewManager(16, wrapper, zaptest.NewLogger(t))
	ctx := context.Background()
	writer.Publish(ctx, "run-r", Event{Type: EventProgress, Progress: 0.1, Message: "split"})
	writer.Publish(ctx, "run-r", Event{Type: EventProgress, Progress: 0.7, Message: "synth"})
	writer.Publish(ctx, "run-r", Event{Type: EventCompleted, Progress: 1, Message: "done"})

	msgs, err := client.XRange(ctx, StreamKey("run-r"), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "1", msgs[0].Values["seq"])
	assert.Greater(t, mr.TTL(StreamKey("run-r")), time.Duration(0))

	// a fresh process has no in-memory history and falls back to the stream
	reader := NewManager(16, wrapper, zaptest.NewLogger(t))
	events, err := reader.ReplaySince(ctx, "run-r", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "synth", events[0].Message)
	assert.True(t, events[1].Terminal())
}

func TestRedisFailureDoesNotBreakPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	wrapper := circuitbreaker.NewRedisWrapper(client, circuitbreaker.Settings{}, zaptest.NewLogger(t))
	mr.Close()

	m := NewManager(4, wrapper, zaptest.NewLogger(t))
	evt := m.Publish(context.Background(), "run", Event{Type: EventProgress})
	assert.Equal(t, uint64(1), evt.Seq)

	events, err := m.ReplaySince(context.Background(), "run", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func seqs(events []Event) []uint64 {
	out := make([]uint64, 0, len(events))
	for _, e := range events {
		out = append(out, e.Seq)
	}
	return out
}
