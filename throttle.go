package logthrottle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// DefaultDelay is the quiet period used when no WithDelay option is given.
const DefaultDelay = 5 * time.Second

var (
	// ErrInvalidDelay is returned by New when the configured delay is not positive.
	ErrInvalidDelay = errors.New("logthrottle: delay must be positive")
	// ErrNilDiff is returned by New when WithDiff is given a nil function.
	ErrNilDiff = errors.New("logthrottle: diff function is nil")
	// ErrNilReport is returned by New when WithReport is given a nil function.
	ErrNilReport = errors.New("logthrottle: report function is nil")
	// ErrNilClock is returned by New when WithClock is given a nil clock.
	ErrNilClock = errors.New("logthrottle: clock is nil")
)

// Envelope wraps an accepted record with the metadata of its window.
type Envelope[T any] struct {
	// AddedAt is when the record was accepted by Add.
	AddedAt time.Time
	// ReportedAt is when the envelope was flushed. Zero until then.
	ReportedAt time.Time
	// RepeatCount is the number of records folded into this envelope, at least 1.
	RepeatCount int
	// Payload is the record exactly as it was passed to Add.
	Payload T
}

// Span returns how long the envelope waited between being added and being
// reported, or zero if it has not been reported yet.
func (e *Envelope[T]) Span() time.Duration {
	if e.ReportedAt.IsZero() {
		return 0
	}
	return e.ReportedAt.Sub(e.AddedAt)
}

// DiffFunc reports whether next is a duplicate of prev.
type DiffFunc[T any] func(prev, next T) bool

// ReportFunc receives every flushed envelope.
type ReportFunc[T any] func(env *Envelope[T])

// TraceFunc is the debug write function used for trace output. Its signature
// matches Printf-style loggers such as zap's SugaredLogger.Debugf or
// testing.T.Logf.
type TraceFunc func(format string, args ...any)

// AlwaysDuplicate treats every pair of records as duplicates. It is the
// default DiffFunc, which means that without WithDiff any two records that
// arrive within the quiet period are merged regardless of content. Supply
// Equal or a domain-specific predicate for real deduplication.
func AlwaysDuplicate[T any](prev, next T) bool {
	return true
}

// Equal is a DiffFunc for comparable payloads.
func Equal[T comparable](prev, next T) bool {
	return prev == next
}

func noTrace(string, ...any) {}

// config holds the configurable parameters for a Throttle.
type config[T any] struct {
	delay  time.Duration
	diff   DiffFunc[T]
	report ReportFunc[T]
	tracef TraceFunc
	clock  clock.WithDelayedExecution

	// err is the first invalid option seen; New returns it.
	err error
}

func (c *config[T]) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Option configures a Throttle using the functional options pattern.
type Option[T any] func(*config[T])

// WithDelay sets the quiet period. A window is reported once this much time
// passes without it being superseded, and a run of duplicates is force
// flushed once it spans more than this.
func WithDelay[T any](d time.Duration) Option[T] {
	return func(c *config[T]) {
		if d <= 0 {
			c.fail(fmt.Errorf("%w: got %v", ErrInvalidDelay, d))
			return
		}
		c.delay = d
	}
}

// WithDiff sets the duplicate predicate.
func WithDiff[T any](fn DiffFunc[T]) Option[T] {
	return func(c *config[T]) {
		if fn == nil {
			c.fail(ErrNilDiff)
			return
		}
		c.diff = fn
	}
}

// WithReport sets the sink that receives flushed envelopes. Without it,
// envelopes are only written to the trace function.
func WithReport[T any](fn ReportFunc[T]) Option[T] {
	return func(c *config[T]) {
		if fn == nil {
			c.fail(ErrNilReport)
			return
		}
		c.report = fn
	}
}

// WithTracef sets the debug write function. A nil function disables tracing.
func WithTracef[T any](fn TraceFunc) Option[T] {
	return func(c *config[T]) {
		if fn == nil {
			fn = noTrace
		}
		c.tracef = fn
	}
}

// WithClock replaces the wall clock and timer facility, mostly for tests.
func WithClock[T any](clk clock.WithDelayedExecution) Option[T] {
	return func(c *config[T]) {
		if clk == nil {
			c.fail(ErrNilClock)
			return
		}
		c.clock = clk
	}
}

// Throttle folds bursts of duplicate records into single reports.
//
// It keeps exactly one pending window: the most recent record together with
// the number of duplicates merged into it. The window is reported through the
// sink once the quiet period elapses without another record superseding it.
// A Throttle is safe for concurrent use, although the window model assumes a
// single logical producer.
type Throttle[T any] struct {
	delay  time.Duration
	diff   DiffFunc[T]
	report ReportFunc[T]
	tracef TraceFunc
	clock  clock.WithDelayedExecution

	reported atomic.Uint64

	// flushing tracks timer flushes whose sink call is still running, so
	// Stop can wait for them.
	flushing sync.WaitGroup

	// mu protects the window state below, which is shared between Add and
	// the flush timer callback.
	mu              sync.Mutex
	pending         *Envelope[T]
	timer           clock.Timer
	repeating       bool
	repeatStartedAt time.Time
	stopped         bool
}

// New creates a Throttle for records of type T. It fails if any option is
// invalid.
func New[T any](opts ...Option[T]) (*Throttle[T], error) {
	cfg := &config[T]{
		delay:  DefaultDelay,
		diff:   AlwaysDuplicate[T],
		tracef: noTrace,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.err != nil {
		return nil, cfg.err
	}

	t := &Throttle[T]{
		delay:  cfg.delay,
		diff:   cfg.diff,
		report: cfg.report,
		tracef: cfg.tracef,
		clock:  cfg.clock,
	}
	if t.report == nil {
		t.report = t.traceReport
	}
	return t, nil
}

// Add accepts one record and returns the Throttle so calls can be chained.
//
// The record either opens a new window, replaces the pending one, or is
// merged into it as a repeat. Whenever the window changes the previously
// scheduled flush is canceled and a new one is scheduled one delay from now.
// A pending window that is abandoned because its quiet period already ran
// out, or because its duplicate run grew longer than the delay, is reported
// before Add returns.
//
// A panic in the DiffFunc propagates to the caller and leaves the pending
// window unchanged.
func (t *Throttle[T]) Add(record T) *Throttle[T] {
	if due := t.add(record); due != nil {
		t.report(due)
	}
	return t
}

func (t *Throttle[T]) add(record T) *Envelope[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		t.tracef("logthrottle: dropping record added after stop: %+v", record)
		return nil
	}

	n := &Envelope[T]{
		AddedAt:     t.clock.Now(),
		RepeatCount: 1,
		Payload:     record,
	}
	t.tracef("logthrottle: add %+v", record)

	var due *Envelope[T]
	p := t.pending
	switch {
	case p == nil:
		t.tracef("logthrottle: opening window")
	case n.AddedAt.Sub(p.AddedAt) >= t.delay:
		t.tracef("logthrottle: %v since last record, reporting window and opening a new one", n.AddedAt.Sub(p.AddedAt))
		due = t.take(n.AddedAt)
	case !t.diff(p.Payload, n.Payload):
		t.tracef("logthrottle: not a duplicate, replacing window")
		t.resetRun()
	default:
		if !t.repeating {
			t.repeatStartedAt = p.AddedAt
			t.repeating = true
			t.tracef("logthrottle: duplicate run started at %v", t.repeatStartedAt)
		}
		if n.AddedAt.Sub(t.repeatStartedAt) > t.delay {
			t.tracef("logthrottle: duplicate run exceeded %v, reporting window", t.delay)
			due = t.take(n.AddedAt)
		} else {
			n.RepeatCount = p.RepeatCount + 1
			t.tracef("logthrottle: duplicate merged, repeat count %d", n.RepeatCount)
		}
	}
	t.open(n)
	return due
}

// open makes n the pending window and schedules its flush. t.mu must be held.
func (t *Throttle[T]) open(n *Envelope[T]) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.pending = n
	t.timer = t.clock.AfterFunc(t.delay, func() {
		// Fake clocks run this while holding their own lock, and flush
		// reads the clock.
		go t.flush(n)
	})
}

// take detaches the pending window, cancels its timer and stamps it as
// reported. t.mu must be held and t.pending must be set.
func (t *Throttle[T]) take(now time.Time) *Envelope[T] {
	env := t.pending
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.resetRun()

	env.ReportedAt = now
	t.reported.Add(1)
	return env
}

func (t *Throttle[T]) resetRun() {
	t.repeating = false
	t.repeatStartedAt = time.Time{}
}

// flush is the timer callback for env.
func (t *Throttle[T]) flush(env *Envelope[T]) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.pending != env {
		// The window was replaced after this timer had already fired.
		t.mu.Unlock()
		t.tracef("logthrottle: ignoring flush of superseded window")
		return
	}
	t.take(t.clock.Now())
	t.flushing.Add(1)
	t.mu.Unlock()

	defer t.flushing.Done()
	t.report(env)
}

// Report hands env to the configured sink. It is what the flush timer calls
// and is exported so tests and callers can route envelopes through the same
// sink. It does not touch the throttle's state.
func (t *Throttle[T]) Report(env *Envelope[T]) {
	t.report(env)
}

func (t *Throttle[T]) traceReport(env *Envelope[T]) {
	t.tracef("logthrottle: report %+v repeat=%d added=%v reported=%v total=%d",
		env.Payload, env.RepeatCount, env.AddedAt, env.ReportedAt, t.TotalReported())
}

// Flush reports the pending window immediately instead of waiting for its
// quiet period. It returns false if there was nothing to report.
func (t *Throttle[T]) Flush() bool {
	t.mu.Lock()
	if t.pending == nil {
		t.mu.Unlock()
		return false
	}
	env := t.take(t.clock.Now())
	t.mu.Unlock()

	t.report(env)
	return true
}

// Stop cancels the scheduled flush and discards the pending window, which is
// returned (nil if there was none) so the caller may still report it. If a
// timer flush is already handing its envelope to the sink, Stop waits for the
// sink to return, so it must not be called from inside the sink. Records
// added after Stop are dropped. Stop is idempotent.
func (t *Throttle[T]) Stop() *Envelope[T] {
	t.mu.Lock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	env := t.pending
	t.pending = nil
	t.resetRun()
	t.mu.Unlock()

	t.flushing.Wait()
	return env
}

// Pending returns a copy of the current window, if any.
func (t *Throttle[T]) Pending() (Envelope[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return Envelope[T]{}, false
	}
	return *t.pending, true
}

// TotalReported returns how many envelopes have been flushed so far.
func (t *Throttle[T]) TotalReported() uint64 {
	return t.reported.Load()
}

// Delay returns the configured quiet period.
func (t *Throttle[T]) Delay() time.Duration {
	return t.delay
}
