package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	ometrics "github.com/BothRocks/hari2-sub000/internal/metrics"
)

// Event is one typed progress event for a run. The terminal event
// (answer or error) is always last for a given run.
type Event struct {
	Seq       uint64                 `json:"seq"`
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Marshal returns JSON for event payloads in SSE frames or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides per-run pub/sub for progress events with bounded
// in-memory history. When a Redis client is supplied, events are mirrored
// to a Redis Stream so history survives process-local subscribers.
type Manager struct {
	redis  *redis.Client
	logger *zap.Logger

	mu            sync.RWMutex
	subscribers   map[string]map[chan Event]struct{}
	history       map[string]*ring
	capacity      int
	subscriberBuf int
	ttl           time.Duration
}

// NewManager creates an event manager. redisClient may be nil for
// in-memory-only operation (tests, single-node dev).
func NewManager(redisClient *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{
		redis:         redisClient,
		logger:        logger,
		subscribers:   make(map[string]map[chan Event]struct{}),
		history:       make(map[string]*ring),
		capacity:      256,
		subscriberBuf: 256,
		ttl:           30 * time.Minute,
	}
}

// Configure adjusts history capacity, subscriber channel buffering, and
// Redis stream TTL for future runs.
func (m *Manager) Configure(capacity, subscriberBuf int, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if capacity > 0 {
		m.capacity = capacity
	}
	if subscriberBuf > 0 {
		m.subscriberBuf = subscriberBuf
	}
	if ttl > 0 {
		m.ttl = ttl
	}
}

// SubscriberBuffer is the channel capacity transports should use when
// subscribing, so a briefly stalled client does not drop events.
func (m *Manager) SubscriberBuffer() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscriberBuf
}

func streamKey(runID string) string { return "run:events:" + runID }

// Publish assigns the next sequence number and delivers the event to all
// subscribers of runID (non-blocking) and to the Redis mirror (best-effort).
func (m *Manager) Publish(runID string, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.RunID = runID

	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	subs := m.subscribers[runID]
	m.mu.Unlock()

	ometrics.EventsPublished.WithLabelValues(evt.Type).Inc()

	if m.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := m.redis.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey(runID),
			MaxLen: int64(m.capacity),
			Approx: true,
			Values: map[string]interface{}{
				"seq":     strconv.FormatUint(evt.Seq, 10),
				"payload": string(evt.Marshal()),
			},
		}).Err()
		if err != nil {
			m.logger.Warn("Failed to mirror event to Redis",
				zap.String("run_id", runID), zap.Error(err))
		} else {
			m.redis.Expire(ctx, streamKey(runID), m.ttl)
		}
	}

	for ch := range subs {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe replays events with Seq > fromSeq into ch, then forwards live
// events until ctx is done. It blocks; run it in its own goroutine. The
// channel is not closed on return so publishers never race a closed channel.
func (m *Manager) Subscribe(ctx context.Context, runID string, fromSeq uint64, ch chan Event) error {
	if ch == nil {
		return fmt.Errorf("subscribe: nil channel")
	}

	ometrics.StreamSubscribers.Inc()
	defer ometrics.StreamSubscribers.Dec()

	m.mu.Lock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if subs, ok := m.subscribers[runID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(m.subscribers, runID)
			}
		}
		m.mu.Unlock()
	}()

	for _, ev := range m.ReplaySince(runID, fromSeq) {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	<-ctx.Done()
	return nil
}

// ReplaySince returns buffered events with Seq > since. The Redis mirror is
// consulted first so replays work after the in-memory ring has wrapped.
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	if m.redis != nil {
		if events, err := m.replayFromRedis(runID, since); err == nil {
			return events
		} else {
			m.logger.Warn("Redis replay failed, using in-memory history",
				zap.String("run_id", runID), zap.Error(err))
		}
	}

	m.mu.RLock()
	rg := m.history[runID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

func (m *Manager) replayFromRedis(runID string, since uint64) ([]Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := m.redis.XRange(ctx, streamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

// CloseStreams drops the history for a finished run. Live subscribers keep
// their channels; they simply receive nothing further.
func (m *Manager) CloseStreams(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()

	if m.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.redis.Del(ctx, streamKey(runID)).Err(); err != nil {
			m.logger.Warn("Failed to delete Redis stream",
				zap.String("run_id", runID), zap.Error(err))
		}
	}
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
		idx := (r.start + i) % len(r.buf)
		ev := r.buf[idx]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
