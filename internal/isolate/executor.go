// Package isolate runs tool handlers in their own goroutine with a
// wall-clock timeout, panic containment, and an output-size ceiling. A
// handler crash or hang is converted into a typed outcome; it never
// propagates to the caller's goroutine.
package isolate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toolgate/internal/logging"
	"toolgate/internal/sanitize"
	"toolgate/internal/tools"
)

var (
	// ErrTimeout is returned when a handler exceeds its wall-clock budget.
	ErrTimeout = errors.New("tool execution timed out")

	// ErrHandlerCrash is returned when a handler panics.
	ErrHandlerCrash = errors.New("tool handler crashed")

	// ErrOutputTooLarge is returned when a handler's result exceeds the
	// output ceiling.
	ErrOutputTooLarge = errors.New("tool output exceeds size ceiling")
)

// DefaultTimeout is the per-call wall-clock budget when none is configured.
const DefaultTimeout = 30 * time.Second

// DefaultMaxOutputBytes caps how much result data a single call may
// return. Keeps one runaway handler from ballooning dispatcher memory.
const DefaultMaxOutputBytes = 4 << 20 // 4 MiB

// Outcome is the terminal state of one isolated handler run. Exactly one
// of the three conditions holds: Value is usable (Err nil, TimedOut
// false), Err is set, or TimedOut is true.
type Outcome struct {
	Value    any
	Err      error
	TimedOut bool
	Duration time.Duration
}

// Executor runs handlers inside supervised goroutines. Stateless;
// a single instance is shared by all concurrent calls.
type Executor struct {
	sanitizer      *sanitize.Sanitizer
	maxOutputBytes int
}

// NewExecutor builds an executor. The sanitizer scrubs crash messages,
// which may echo sensitive handler inputs.
func NewExecutor(sanitizer *sanitize.Sanitizer, maxOutputBytes int) *Executor {
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return &Executor{sanitizer: sanitizer, maxOutputBytes: maxOutputBytes}
}

// Run executes fn in its own goroutine with the given timeout. The
// handler's context is cancelled at the deadline, which terminates any
// subprocess it started; a handler blocked on uninterruptible I/O is
// abandoned and its eventual result discarded. The caller always gets an
// Outcome within timeout plus scheduling slack.
func (e *Executor) Run(parent context.Context, name string, fn tools.ExecuteFunc, args map[string]any, ec tools.ExecutionContext) Outcome {
	timeout := ec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type handlerResult struct {
		value any
		err   error
	}

	// Buffered so an abandoned handler can still deliver and exit
	// instead of leaking on a blocked send.
	done := make(chan handlerResult, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				msg := e.sanitizer.SanitizeString(fmt.Sprint(r))
				logging.ExecutorWarn("Handler %s panicked: %s", name, msg)
				done <- handlerResult{err: fmt.Errorf("%w: %s", ErrHandlerCrash, msg)}
			}
		}()
		value, err := fn(ctx, args, ec)
		done <- handlerResult{value: value, err: err}
	}()

	select {
	case res := <-done:
		duration := time.Since(start)
		if res.err != nil {
			logging.ExecutorDebug("Handler %s failed after %v: %v", name, duration, res.err)
			return Outcome{Err: res.err, Duration: duration}
		}
		if size, ok := oversized(res.value, e.maxOutputBytes); ok {
			logging.ExecutorWarn("Handler %s produced %d bytes, ceiling %d", name, size, e.maxOutputBytes)
			return Outcome{Err: fmt.Errorf("%w: %d bytes", ErrOutputTooLarge, size), Duration: duration}
		}
		logging.ExecutorDebug("Handler %s completed in %v", name, duration)
		return Outcome{Value: res.value, Duration: duration}

	case <-ctx.Done():
		duration := time.Since(start)
		if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
			// Caller cancelled; report it as the handler error rather
			// than a timeout.
			return Outcome{Err: parent.Err(), Duration: duration}
		}
		logging.ExecutorWarn("Handler %s abandoned after %v timeout", name, timeout)
		return Outcome{TimedOut: true, Err: ErrTimeout, Duration: duration}
	}
}

// oversized reports whether a result value exceeds the byte ceiling.
// Only string-shaped payloads are measured; structured values are assumed
// small relative to file and command output.
func oversized(value any, limit int) (int, bool) {
	switch v := value.(type) {
	case string:
		return len(v), len(v) > limit
	case []byte:
		return len(v), len(v) > limit
	case map[string]any:
		total := 0
		for _, item := range v {
			if s, ok := item.(string); ok {
				total += len(s)
			}
		}
		return total, total > limit
	default:
		return 0, false
	}
}
