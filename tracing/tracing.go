// Package tracing implements the structured tracing subsystem from spec
// §4.2: per-thread call stacks, nestable spans, leveled event dispatch to
// subscribers. Go has no real thread-local storage, so the "thread" of the
// spec maps to an explicit *Thread handle that the caller owns and threads
// through its own goroutine — the functional equivalent of the C source's
// thread-local active-stack slot, without relying on goroutine identity
// (which Go deliberately does not expose).
package tracing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fimoengine/fimo-sub001/config"
	errs "github.com/fimoengine/fimo-sub001/errors"
)

// Level re-exports config.Level so callers don't need to import config
// just to compare against an event's level.
type Level = config.Level

const (
	LevelOff   = config.LevelOff
	LevelError = config.LevelError
	LevelWarn  = config.LevelWarn
	LevelInfo  = config.LevelInfo
	LevelDebug = config.LevelDebug
	LevelTrace = config.LevelTrace
)

// Metadata describes a span or event: name, target, level, and an optional
// source location, matching FimoTracingMetadata.
type Metadata struct {
	Name   string
	Target string
	Level  Level
	File   string
	Line   int
}

// EventKind distinguishes the extra fields carried by "start" and
// "exit-unwinding" records, per spec §4.2 "Span/event dispatch".
type EventKind int

const (
	KindLog EventKind = iota
	KindSpanStart
	KindSpanExit
	KindSpanExitUnwinding
	KindCallStackCreate
	KindCallStackDestroy
	KindCallStackSuspend
	KindCallStackResume
	KindCallStackUnblock
)

// Event is the record dispatched to every subscriber. Every event carries a
// monotonic Timestamp; Message is the formatted, buffer-bounded text.
type Event struct {
	Kind      EventKind
	Metadata  Metadata
	Message   string
	Timestamp time.Time
	// Blocked distinguishes a blocked suspension from a plain one on a
	// KindCallStackSuspend record. The operations in this package dispatch
	// only KindLog, KindSpanStart, KindSpanExit and KindSpanExitUnwinding
	// events, so Blocked is always false on events they produce.
	Blocked bool
}

// Subscriber receives dispatched events. Subscribers are trusted: a
// subscriber that panics is undefined behavior from the subsystem's point
// of view, matching spec §4.2 "Failure model" ("subscribers are trusted").
// Subscribers are invoked in registration order (spec §5 "Ordering
// guarantees"), serialized per subscriber per event.
type Subscriber interface {
	OnEvent(ev Event)
	// Flush asks the subscriber to write out any buffered data.
	Flush()
}

// Formatter renders a custom message into buf, returning the number of
// bytes written. It mirrors FimoTracingFormat's (buffer, len, data) ->
// bytes_written contract exactly (spec §9 Design Notes, "Printf formatter").
type Formatter func(buf []byte) (n int)

// State is the tracing subsystem owned exclusively by one Context (spec §3
// "Context... owns... one tracing state").
type State struct {
	subscribers      []Subscriber
	maxLevel         Level
	formatBufferSize int
	threadCount      atomic.Int64
}

// NewState builds a tracing state from the resolved config. Ownership of
// the subscriber slice transfers to the State, matching spec §4.2
// "Enablement".
func NewState(cfg config.TracingConfig, subscribers []Subscriber) *State {
	return &State{
		subscribers:      subscribers,
		maxLevel:         cfg.ResolvedLevel,
		formatBufferSize: cfg.FormatBufferSize,
	}
}

// Enabled reports whether the subsystem is anything other than a no-op:
// at least one subscriber and a non-off max level.
func (s *State) Enabled() bool {
	return len(s.subscribers) > 0 && s.maxLevel != LevelOff
}

// IsLevelEnabled lets callers early-check before doing formatting work,
// per spec §4.2 "Level filtering".
func (s *State) IsLevelEnabled(l Level) bool {
	return s.Enabled() && l <= s.maxLevel
}

// ThreadCount returns the number of currently registered threads.
func (s *State) ThreadCount() int64 { return s.threadCount.Load() }

// Thread is the per-goroutine handle a caller obtains from RegisterThread.
// It owns the currently-installed call stack, the Go equivalent of the
// thread-local active-stack slot. A Thread must not be shared across
// goroutines concurrently — exactly like real TLS, it is implicitly
// single-owner.
type Thread struct {
	state   *State
	current *CallStack
}

// RegisterThread installs a fresh, empty call stack as the active stack for
// the returned Thread handle and increments the registered-thread count
// (spec §4.2 "Thread registration").
func (s *State) RegisterThread() *Thread {
	cs := newCallStack()
	cs.state = csActive
	s.threadCount.Add(1)
	return &Thread{state: s, current: cs}
}

// Unregister requires the active stack to be empty and not active... it is
// always active by construction, so the only real check is emptiness;
// fails with Busy otherwise (spec §4.2 "Thread registration").
func (t *Thread) Unregister() error {
	cs := t.current
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.spans) != 0 {
		return errs.New(errs.Busy, "call stack is not empty")
	}
	t.state.threadCount.Add(-1)
	t.current = nil
	return nil
}

// CallStack creates a new, empty, suspended-unblocked call stack not owned
// by any thread (spec §4.2 "Initial" state).
func (s *State) CallStack() *CallStack {
	return newCallStack()
}

// csState is the three-state call-stack state machine from spec §4.2.
type csState int

const (
	csSuspendedUnblocked csState = iota
	csSuspendedBlocked
	csActive
)

type spanEntry struct {
	meta    Metadata
	message string
}

// CallStack is a per-thread stack of entered spans, plus the suspend/block
// state machine from spec §4.2.
type CallStack struct {
	mu    sync.Mutex
	state csState
	spans []spanEntry
}

func newCallStack() *CallStack {
	return &CallStack{state: csSuspendedUnblocked}
}

// Len reports the current span nesting depth.
func (cs *CallStack) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.spans)
}

// SwapActive installs newStack as t's active stack, returning the
// previously-installed stack. Requires t's current stack to be suspended
// (possibly blocked) and newStack to be suspended-unblocked and not active
// (spec §4.2 "swap_active").
func (t *Thread) SwapActive(newStack *CallStack) (*CallStack, error) {
	old := t.current
	old.mu.Lock()
	if old.state == csActive {
		old.mu.Unlock()
		return nil, errs.New(errs.InvalidArgument, "current call stack must be suspended before swapping")
	}
	old.mu.Unlock()

	newStack.mu.Lock()
	if newStack.state != csSuspendedUnblocked {
		newStack.mu.Unlock()
		return nil, errs.New(errs.InvalidArgument, "replacement call stack must be suspended and unblocked")
	}
	newStack.state = csActive
	newStack.mu.Unlock()

	t.current = newStack
	return old, nil
}

// SuspendCurrent transitions the active stack to suspended, optionally
// marking it blocked (spec §4.2 "suspend_current").
func (t *Thread) SuspendCurrent(markBlocked bool) error {
	cs := t.current
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != csActive {
		return errs.New(errs.InvalidArgument, "call stack is not active")
	}
	if markBlocked {
		cs.state = csSuspendedBlocked
	} else {
		cs.state = csSuspendedUnblocked
	}
	return nil
}

// ResumeCurrent transitions a suspended-unblocked stack back to active
// (spec §4.2 "resume_current").
func (t *Thread) ResumeCurrent() error {
	cs := t.current
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != csSuspendedUnblocked {
		return errs.New(errs.InvalidArgument, "call stack is not suspended-unblocked")
	}
	cs.state = csActive
	return nil
}

// Unblock transitions a suspended-blocked, non-active stack back to
// suspended-unblocked (spec §4.2 "unblock"). Any goroutine may call this on
// any stack it holds a reference to — that is the whole point of blocking.
func Unblock(cs *CallStack) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != csSuspendedBlocked {
		return errs.New(errs.InvalidArgument, "call stack is not suspended-blocked")
	}
	cs.state = csSuspendedUnblocked
	return nil
}

// Destroy requires cs to be suspended and not active; destroying an active
// stack is a programming error and calls fatal. If empty, it is
// simply dropped. If non-empty and abort is true, every entered span is
// unwound (exited as "unwinding"); if non-empty and abort is false, it
// fails (spec §4.2 "destroy").
func Destroy(s *State, cs *CallStack, abort bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state == csActive {
		fatal("cannot destroy an active call stack")
	}
	if len(cs.spans) == 0 {
		return nil
	}
	if !abort {
		return errs.New(errs.InvalidArgument, "cannot destroy a non-empty call stack without abort")
	}
	for i := len(cs.spans) - 1; i >= 0; i-- {
		se := cs.spans[i]
		s.dispatch(Event{
			Kind:      KindSpanExitUnwinding,
			Metadata:  se.meta,
			Timestamp: now(),
		})
	}
	cs.spans = nil
	return nil
}

// Span is a handle to an entered span; the caller must pass it back to
// ExitSpan in LIFO order (spec §8 invariant 7). pushed records whether
// EnterSpan actually pushed an entry onto the call stack — a span whose
// level was above the configured max never gets pushed, and ExitSpan must
// know that so it doesn't pop an unrelated entry.
type Span struct {
	meta   Metadata
	pushed bool
}

// EnterSpan pushes a new span, formatted via format (bounded by the
// subsystem's format buffer size — truncation is silent), and notifies
// every subscriber. When the subsystem is disabled, or meta's level is
// above the configured max, this is a cheap no-op that still returns a
// usable Span so call sites don't need to branch (spec §4.2 "Level
// filtering" applies per-span, same as per-event).
func (s *State) EnterSpan(t *Thread, meta Metadata, format Formatter) Span {
	if !s.Enabled() || meta.Level > s.maxLevel {
		return Span{meta: meta}
	}
	msg := s.formatMessage(format)
	cs := t.current
	cs.mu.Lock()
	cs.spans = append(cs.spans, spanEntry{meta: meta, message: msg})
	cs.mu.Unlock()
	s.dispatch(Event{Kind: KindSpanStart, Metadata: meta, Message: msg, Timestamp: now()})
	return Span{meta: meta, pushed: true}
}

// ExitSpan pops the top span of t's active stack, but only if the matching
// EnterSpan actually pushed one (a level-filtered span was never pushed, so
// there is nothing to pop). The popped span's metadata must match sp (a
// mismatch is a programming error and calls fatal, spec §4.2 "exit_span
// pops... mismatch is fatal").
func (s *State) ExitSpan(t *Thread, sp Span) {
	if !sp.pushed {
		return
	}
	cs := t.current
	cs.mu.Lock()
	n := len(cs.spans)
	if n == 0 {
		cs.mu.Unlock()
		fatal("exit_span called with an empty call stack")
	}
	top := cs.spans[n-1]
	cs.spans = cs.spans[:n-1]
	cs.mu.Unlock()

	if top.meta != sp.meta {
		fatal(fmt.Sprintf("exit_span mismatch: expected %+v, got %+v", top.meta, sp.meta))
	}
	s.dispatch(Event{Kind: KindSpanExit, Metadata: top.meta, Timestamp: now()})
}

// LogMessage emits a one-shot event (spec §4.2 "log_message"). The event
// carries only meta and the formatted message; it holds no reference to
// the spans on t's active stack, and t is not read.
func (s *State) LogMessage(t *Thread, meta Metadata, format Formatter) {
	if !s.Enabled() || meta.Level > s.maxLevel {
		return
	}
	msg := s.formatMessage(format)
	s.dispatch(Event{Kind: KindLog, Metadata: meta, Message: msg, Timestamp: now()})
}

func (s *State) formatMessage(format Formatter) string {
	if format == nil || s.formatBufferSize <= 0 {
		return ""
	}
	buf := make([]byte, s.formatBufferSize)
	n := format(buf)
	if n > len(buf) {
		n = len(buf)
	}
	if n < 0 {
		n = 0
	}
	return string(buf[:n])
}

// dispatch delivers ev to every subscriber in registration order (spec §5
// "a single event is delivered in subscriber-registration order").
func (s *State) dispatch(ev Event) {
	for _, sub := range s.subscribers {
		sub.OnEvent(ev)
	}
}

// Flush asks every subscriber to flush buffered output.
func (s *State) Flush() {
	for _, sub := range s.subscribers {
		sub.Flush()
	}
}

func now() time.Time { return time.Now() }

// fatal panics with a diagnostic (spec §4.2 "Failure model": misuse of the
// tracing API is a programming error). Unless recovered, the panic
// terminates the process; a test harness can recover() from it.
func fatal(msg string) {
	panic("fimo/tracing: " + msg)
}
