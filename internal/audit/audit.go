// Package audit records every tool invocation attempt that reaches the
// security gate. Entries carry a one-way fingerprint of the arguments, never
// the raw values. The in-memory trail is a fixed-capacity ring buffer; an
// optional SQLite sink mirrors appends for review across restarts.
package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"toolgate/internal/logging"
)

// Status classifies the outcome of an invocation attempt.
type Status string

const (
	StatusOk       Status = "ok"
	StatusError    Status = "error"
	StatusDenied   Status = "denied"
	StatusTimeout  Status = "timeout"
	StatusCrashed  Status = "crashed"
	StatusRejected Status = "rejected" // failed validation before the gate
)

// Entry is one audit record.
type Entry struct {
	ID              string
	Timestamp       time.Time
	SessionID       string
	ToolName        string
	ArgsFingerprint string
	Status          Status
	Duration        time.Duration
}

// DefaultCapacity bounds the in-memory trail.
const DefaultCapacity = 10000

// Sink receives a copy of every appended entry. Append must not block;
// failures are logged, never propagated to the caller.
type Sink interface {
	Append(e Entry) error
	Close() error
}

// Log is the process-wide audit trail. Constructed once at startup and
// passed by handle to the dispatcher.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	next     int // next write position
	filled   bool
	capacity int
	sink     Sink
}

// NewLog creates a ring-buffer audit log. capacity <= 0 uses DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// SetSink attaches a persistent sink. Pass nil to detach.
func (l *Log) SetSink(sink Sink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// Fingerprint computes a one-way hash of tool arguments. Keys are sorted so
// logically equal argument maps produce equal fingerprints.
func Fingerprint(args map[string]any) string {
	if len(args) == 0 {
		return "empty"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h, _ := blake2b.New256(nil)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		v, err := json.Marshal(args[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", args[k]))
		}
		h.Write(v)
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:32]
}

// Record appends an entry, overwriting the oldest once capacity is reached.
func (l *Log) Record(sessionID, toolName string, args map[string]any, status Status, duration time.Duration) Entry {
	entry := Entry{
		ID:              uuid.NewString(),
		Timestamp:       time.Now(),
		SessionID:       sessionID,
		ToolName:        toolName,
		ArgsFingerprint: Fingerprint(args),
		Status:          status,
		Duration:        duration,
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next++
	if l.next == l.capacity {
		l.next = 0
		l.filled = true
	}
	sink := l.sink
	l.mu.Unlock()

	fp := entry.ArgsFingerprint
	if len(fp) > 8 {
		fp = fp[:8]
	}
	logging.Audit("%s %s session=%s status=%s duration=%v fp=%s",
		entry.ID[:8], toolName, sessionID, status, duration, fp)

	if sink != nil {
		if err := sink.Append(entry); err != nil {
			logging.Get(logging.CategoryAudit).Error("sink append failed: %v", err)
		}
	}
	return entry
}

// snapshot returns entries oldest-first.
func (l *Log) snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.filled {
		out := make([]Entry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]Entry, 0, l.capacity)
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// Query returns the session's entries, oldest first. An empty session id
// returns the whole trail.
func (l *Log) Query(sessionID string) []Entry {
	all := l.snapshot()
	if sessionID == "" {
		return all
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many entries are currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.filled {
		return l.capacity
	}
	return l.next
}

// Stats summarizes the retained trail.
type Stats struct {
	Total        int
	ByStatus     map[Status]int
	MeanDuration time.Duration
}

// Summarize computes statistics over the retained entries, optionally
// filtered by session.
func (l *Log) Summarize(sessionID string) Stats {
	entries := l.Query(sessionID)

	stats := Stats{
		Total:    len(entries),
		ByStatus: make(map[Status]int),
	}
	var total time.Duration
	for _, e := range entries {
		stats.ByStatus[e.Status]++
		total += e.Duration
	}
	if stats.Total > 0 {
		stats.MeanDuration = total / time.Duration(stats.Total)
	}
	return stats
}
