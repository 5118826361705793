package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"toolgate/internal/audit"
	"toolgate/internal/events"
	"toolgate/internal/isolate"
	"toolgate/internal/logging"
	"toolgate/internal/sanitize"
	"toolgate/internal/security"
	"toolgate/internal/session"
	"toolgate/internal/tools"
)

// DefaultMaxParallel bounds in-flight calls in parallel batch mode.
const DefaultMaxParallel = 8

// ceilingSlack is added to the per-call timeout for the batch-level
// supervisor. The executor should always report a timeout first; the
// supervisor ceiling only fires if the executor itself is wedged.
const ceilingSlack = time.Second

// Options controls batch execution.
type Options struct {
	// Parallel runs the batch concurrently; sequential mode executes
	// calls in input order, each fully awaited before the next starts.
	Parallel bool

	// MaxParallel caps in-flight calls in parallel mode (default 8).
	MaxParallel int
}

// Dispatcher wires the pipeline together. All dependencies are shared
// process-wide instances constructed once at startup.
type Dispatcher struct {
	registry  *tools.Registry
	gate      *security.Gate
	executor  *isolate.Executor
	sanitizer *sanitize.Sanitizer
	auditLog  *audit.Log
	sink      events.Sink
	sessions  session.Provider

	// defaultTimeout applies when the caller's ExecutionContext has none.
	defaultTimeout time.Duration
}

// NewDispatcher builds a dispatcher. sink and sessions may be nil, in
// which case events are dropped and session enrichment is skipped.
func NewDispatcher(
	registry *tools.Registry,
	gate *security.Gate,
	executor *isolate.Executor,
	sanitizer *sanitize.Sanitizer,
	auditLog *audit.Log,
	sink events.Sink,
	sessions session.Provider,
) *Dispatcher {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Dispatcher{
		registry:       registry,
		gate:           gate,
		executor:       executor,
		sanitizer:      sanitizer,
		auditLog:       auditLog,
		sink:           sink,
		sessions:       sessions,
		defaultTimeout: isolate.DefaultTimeout,
	}
}

// SetDefaultTimeout overrides the per-call budget used when the
// ExecutionContext carries none.
func (d *Dispatcher) SetDefaultTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.defaultTimeout = timeout
	}
}

// enrich fills in derived ExecutionContext fields once per batch: the
// project root from the session provider and the default timeout. The
// returned snapshot is what every call in the batch sees.
func (d *Dispatcher) enrich(ec tools.ExecutionContext) tools.ExecutionContext {
	if ec.Timeout <= 0 {
		ec.Timeout = d.defaultTimeout
	}
	if ec.ProjectRoot == "" && ec.SessionID != "" && d.sessions != nil {
		root, err := d.sessions.ProjectRootOf(ec.SessionID)
		if err != nil {
			logging.DispatchWarn("No project root for session %s: %v", ec.SessionID, err)
		} else {
			ec.ProjectRoot = root
		}
	}
	return ec
}

// outcomeClaim ensures a call gets exactly one terminal audit entry and
// completion event, even when the supervisor ceiling and a late handler
// race to report.
type outcomeClaim struct {
	claimed atomic.Bool
}

func (c *outcomeClaim) claim() bool {
	return c.claimed.CompareAndSwap(false, true)
}

// ExecuteOne runs a single call through the full pipeline. It always
// returns a Result; no failure below this point escapes as an error.
// Every call emits a started event on entry and exactly one completed
// event carrying its Result, rejections and denials included.
func (d *Dispatcher) ExecuteOne(ctx context.Context, call ToolCall, ec tools.ExecutionContext) Result {
	return d.executeOne(ctx, call, ec, &outcomeClaim{})
}

func (d *Dispatcher) executeOne(ctx context.Context, call ToolCall, ec tools.ExecutionContext, oc *outcomeClaim) Result {
	start := time.Now()

	d.sink.Publish(events.Event{
		Type:      events.TypeToolCallStarted,
		SessionID: ec.SessionID,
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
	})

	finish := func(status audit.Status, duration time.Duration, result Result) Result {
		if !oc.claim() {
			// Supervisor already reported this call; late outcome is
			// discarded without a second audit entry or event.
			return result
		}
		d.auditLog.Record(ec.SessionID, call.Name, call.Arguments, status, duration)
		d.sink.Publish(events.Event{
			Type:      events.TypeToolCallCompleted,
			SessionID: ec.SessionID,
			CallID:    call.ID,
			ToolName:  call.Name,
			Result:    result,
		})
		return result
	}

	tool := d.registry.Get(call.Name)
	if tool == nil {
		logging.DispatchWarn("Unknown tool requested: %s", call.Name)
		return finish(audit.StatusRejected, time.Since(start),
			errorResult(call, start, fmt.Sprintf("tool not found: %s", call.Name)))
	}

	if err := d.registry.ValidateArgs(call.Name, call.Arguments); err != nil {
		logging.DispatchWarn("Schema rejection for %s: %v", call.Name, err)
		return finish(audit.StatusRejected, time.Since(start),
			errorResult(call, start, fmt.Sprintf("invalid arguments: %v", err)))
	}

	decision := d.gate.Check(ec.SessionID, call.Name, ec.GrantedTier, ec.ConsentedTools)
	if !decision.Allowed {
		msg := string(decision.Reason)
		if decision.RetryAfter > 0 {
			msg = fmt.Sprintf("%s: retry after %dms", msg, decision.RetryAfter.Milliseconds())
		}
		return finish(audit.StatusDenied, time.Since(start), errorResult(call, start, msg))
	}

	outcome := d.executor.Run(ctx, call.Name, tool.Execute, call.Arguments, ec)

	switch {
	case outcome.TimedOut:
		return finish(audit.StatusTimeout, outcome.Duration,
			Result{ID: call.ID, Name: call.Name, Status: StatusTimeout,
				Error: outcome.Err.Error(), DurationMs: outcome.Duration.Milliseconds()})

	case outcome.Err != nil:
		status := audit.StatusError
		if errors.Is(outcome.Err, isolate.ErrHandlerCrash) {
			status = audit.StatusCrashed
		}
		return finish(status, outcome.Duration,
			Result{ID: call.ID, Name: call.Name, Status: StatusError,
				Error:      d.sanitizer.SanitizeString(outcome.Err.Error()),
				DurationMs: outcome.Duration.Milliseconds()})

	default:
		return finish(audit.StatusOk, outcome.Duration,
			Result{ID: call.ID, Name: call.Name, Status: StatusOk,
				Value:      d.sanitizer.Sanitize(outcome.Value),
				DurationMs: outcome.Duration.Milliseconds()})
	}
}

// ExecuteBatch runs a batch of calls. Result order always matches input
// order, in both modes. In parallel mode each call runs in its own
// executor unit under a global concurrency cap; one call timing out or
// failing never cancels its siblings.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, calls []ToolCall, ec tools.ExecutionContext, opts Options) []Result {
	ec = d.enrich(ec)
	results := make([]Result, len(calls))

	if !opts.Parallel {
		for i, call := range calls {
			results[i] = d.ExecuteOne(ctx, call, ec)
		}
		return results
	}

	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	sem := semaphore.NewWeighted(int64(maxParallel))
	ceiling := ec.Timeout + ceilingSlack

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = errorResult(call, time.Now(), fmt.Sprintf("batch cancelled: %v", err))
				return
			}
			defer sem.Release(1)
			results[i] = d.executeSupervised(ctx, call, ec, ceiling)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeSupervised enforces the absolute per-call ceiling above the
// executor's own timeout. A call that exceeds even the ceiling is
// abandoned and recorded as a timeout; the claim guarantees the
// abandoned goroutine cannot add a second terminal entry later.
func (d *Dispatcher) executeSupervised(ctx context.Context, call ToolCall, ec tools.ExecutionContext, ceiling time.Duration) Result {
	oc := &outcomeClaim{}
	done := make(chan Result, 1)
	start := time.Now()

	go func() {
		done <- d.executeOne(ctx, call, ec, oc)
	}()

	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	select {
	case result := <-done:
		return result
	case <-timer.C:
		if !oc.claim() {
			// The call reported in the instant the ceiling fired; its
			// result is on the channel.
			return <-done
		}
		logging.DispatchWarn("Call %s (%s) exceeded supervisor ceiling %v", call.ID, call.Name, ceiling)
		d.auditLog.Record(ec.SessionID, call.Name, call.Arguments, audit.StatusTimeout, time.Since(start))
		result := Result{ID: call.ID, Name: call.Name, Status: StatusTimeout,
			Error: "exceeded supervisor ceiling", DurationMs: time.Since(start).Milliseconds()}
		d.sink.Publish(events.Event{
			Type:      events.TypeToolCallCompleted,
			SessionID: ec.SessionID,
			CallID:    call.ID,
			ToolName:  call.Name,
			Result:    result,
		})
		return result
	}
}

// Dispatch parses a raw payload and executes the batch. Parse failures
// are the only errors this returns; execution failures are Results.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, ec tools.ExecutionContext, opts Options) ([]Result, error) {
	calls, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return d.ExecuteBatch(ctx, calls, ec, opts), nil
}

func errorResult(call ToolCall, start time.Time, msg string) Result {
	return Result{
		ID:         call.ID,
		Name:       call.Name,
		Status:     StatusError,
		Error:      msg,
		DurationMs: time.Since(start).Milliseconds(),
	}
}
