package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
)

// Event types
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

const (
	DefaultCapacity = 256
	streamKeyPrefix = "research:events:"
	streamTTL       = 24 * time.Hour
)

// Event is one progress notification of a research run.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Terminal reports whether no further events follow for the run.
func (e Event) Terminal() bool { return e.Type == EventCompleted || e.Type == EventFailed }

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// StreamKey is the Redis stream mirroring a run's events.
func StreamKey(runID string) string { return streamKeyPrefix + runID }

// Manager provides in-memory pub/sub for run events with a per-run ring
// buffer. With a Redis client every event is also appended to a Redis stream
// so other replicas and restarted processes can replay it.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int

	redis  *circuitbreaker.RedisWrapper
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a manager. rdb may be nil.
func NewManager(capacity int, rdb *circuitbreaker.RedisWrapper, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		redis:       rdb,
		logger:      logger,
		now:         time.Now,
	}
}

// Subscribe adds a subscriber channel for runID; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns the next sequence number (starting at 1), records the event
// and fans it out without blocking. Slow subscribers lose events.
func (m *Manager) Publish(ctx context.Context, runID string, evt Event) Event {
	evt.RunID = runID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = m.now().UTC()
	}

	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	// deliver under the lock so Unsubscribe cannot close a channel mid-send
	for ch := range m.subscribers[runID] {
		select {
		case ch <- evt:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
	m.mu.Unlock()

	m.mirror(ctx, evt)
	return evt
}

func (m *Manager) mirror(ctx context.Context, evt Event) {
	if m.redis == nil {
		return
	}
	key := StreamKey(evt.RunID)
	_, err := m.redis.XAdd(ctx, key, int64(m.capacity), map[string]interface{}{
		"seq":     strconv.FormatUint(evt.Seq, 10),
		"payload": string(evt.Marshal()),
	})
	if err != nil {
		m.logger.Warn("Failed to mirror event to Redis stream",
			zap.String("run_id", evt.RunID),
			zap.Uint64("seq", evt.Seq),
			zap.Error(err),
		)
		return
	}
	if evt.Terminal() {
		_ = m.redis.Expire(ctx, key, streamTTL)
	}
}

// ReplaySince returns events with Seq > since, from memory when available and
// otherwise from the Redis stream.
func (m *Manager) ReplaySince(ctx context.Context, runID string, since uint64) ([]Event, error) {
	m.mu.RLock()
	rg := m.history[runID]
	var out []Event
	if rg != nil {
		out = rg.since(since)
	}
	m.mu.RUnlock()
	if rg != nil || m.redis == nil {
		return out, nil
	}
	return m.replayFromRedis(ctx, runID, since)
}

func (m *Manager) replayFromRedis(ctx context.Context, runID string, since uint64) ([]Event, error) {
	msgs, err := m.redis.XRange(ctx, StreamKey(runID))
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		payload, _ := msg.Values["payload"].(string)
		var evt Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			m.logger.Warn("Skipping undecodable stream entry", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// LastSeq is the highest sequence number published for runID in this process.
func (m *Manager) LastSeq(runID string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rg := m.history[runID]; rg != nil {
		return rg.nextSeq
	}
	return 0
}

// Forget drops in-memory history for a finished run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
