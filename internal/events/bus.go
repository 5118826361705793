// Package events carries tool lifecycle notifications out of the
// dispatcher. Publishing is fire-and-forget: a slow or absent consumer
// never blocks or fails a tool call.
package events

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies the lifecycle stage an event reports.
type Type string

const (
	// TypeToolCallStarted fires when a call enters the executor.
	TypeToolCallStarted Type = "tool_call_started"

	// TypeToolCallCompleted fires when a call's result is final.
	TypeToolCallCompleted Type = "tool_call_completed"
)

// Event is one lifecycle notification. Seq gives a process-wide total
// order across sessions.
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
}

// Sink is the outbound publishing interface the dispatcher writes to.
// Implementations must be safe for concurrent use and must not block.
type Sink interface {
	Publish(event Event)
}

// Bus dispatches events to subscriber channels, keyed by session. A
// subscriber registered with an empty session id receives every event.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event

	enabled  atomic.Bool
	sequence atomic.Uint64
}

// NewBus creates an enabled event bus.
func NewBus() *Bus {
	b := &Bus{subs: make(map[string][]chan Event)}
	b.enabled.Store(true)
	return b
}

// Enable activates the bus.
func (b *Bus) Enable() { b.enabled.Store(true) }

// Disable deactivates the bus; publishes become no-ops.
func (b *Bus) Disable() { b.enabled.Store(false) }

// Subscribe returns a buffered channel receiving events for the given
// session. An empty sessionID subscribes to all sessions.
func (b *Bus) Subscribe(sessionID string) <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, subs := range b.subs {
		for i, sub := range subs {
			if reflect.ValueOf(sub).Pointer() == target {
				b.subs[key] = append(subs[:i], subs[i+1:]...)
				close(sub)
				return
			}
		}
	}
}

// Publish stamps the event and delivers it to the session's subscribers
// and the global subscribers. Full channels drop the event rather than
// block the publisher.
func (b *Bus) Publish(event Event) {
	if !b.enabled.Load() {
		return
	}

	event.Seq = b.sequence.Add(1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	// Deliver from the map-held slices directly. Appending session subs
	// onto the global slice would write into its spare capacity, racing
	// concurrent publishers.
	deliver(b.subs[""], event)
	if event.SessionID != "" {
		deliver(b.subs[event.SessionID], event)
	}
}

func deliver(subs []chan Event, event Event) {
	for _, sub := range subs {
		select {
		case sub <- event:
		default: // Drop if channel full
		}
	}
}

// Close shuts down the bus and all subscriber channels.
func (b *Bus) Close() {
	b.Disable()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub)
		}
	}
	b.subs = make(map[string][]chan Event)
}

// Stats reports current bus state.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subs {
		count += len(subs)
	}
	return BusStats{
		Enabled:         b.enabled.Load(),
		SubscriberCount: count,
		TotalPublished:  b.sequence.Load(),
	}
}

// BusStats holds event bus statistics.
type BusStats struct {
	Enabled         bool
	SubscriberCount int
	TotalPublished  uint64
}

// NopSink discards every event. Used when no observer layer is wired.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}

// RecordingSink captures published events in memory for inspection in
// tests.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Sink.
func (s *RecordingSink) Publish(event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
