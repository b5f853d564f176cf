// Package refcount implements the strong/weak reference-counting primitive
// from spec §4.1, ported from the original Rust-Arc-derived C implementation
// (src/refcount.c). Two variants share the same state machine: Count for
// single-threaded owners, AtomicCount for cross-goroutine sharing.
package refcount

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"sync/atomic"
)

// maxRefCount is the abort threshold: incrementing a counter past this value
// is undefined behavior on wraparound in the source, so this port aborts the
// process instead, matching the "Overflow-Abort" contract.
const maxRefCount = math.MaxInt64

// lockedSentinel marks the weak counter as locked for a uniqueness check.
const lockedSentinel = uint64(math.MaxUint64)

// Count is the non-atomic variant, safe only when the owner guarantees
// exclusive access (e.g. single-goroutine construction before publishing).
type Count struct {
	strong uint64
	weak   uint64
}

// New returns a Count that owns one strong reference, per spec §3
// ("Initial state of a refcount that owns one strong reference").
func New() Count {
	return Count{strong: 1, weak: 1}
}

// Strong returns the current strong count.
func (c *Count) Strong() uint64 { return c.strong }

// Weak returns the weak count, excluding the implicit weak held while
// strong > 0.
func (c *Count) Weak() uint64 {
	if c.strong == 0 {
		return 0
	}
	return c.weak - 1
}

// IncStrong increments the strong count, aborting on saturation.
func (c *Count) IncStrong() {
	old := c.strong
	c.strong++
	if old > maxRefCount {
		abort("strong count saturated")
	}
}

// DecStrong decrements the strong count and reports whether it reached
// zero (i.e. the caller must now destroy the owned value).
func (c *Count) DecStrong() (destroyNow bool) {
	old := c.strong
	c.strong--
	return old == 1
}

// DecWeak decrements the weak count and reports whether it reached zero
// (i.e. the caller must now destroy the control block).
func (c *Count) DecWeak() (destroyControlBlock bool) {
	old := c.weak
	c.weak--
	return old == 1
}

// Upgrade attempts to turn a weak reference into a strong one.
func (c *Count) Upgrade() error {
	if c.strong == 0 {
		return errDead
	}
	if c.strong > maxRefCount {
		return errOverflow
	}
	c.strong++
	return nil
}

// Downgrade records a new weak reference without touching strong.
func (c *Count) Downgrade() error {
	if c.weak > maxRefCount {
		return errOverflow
	}
	c.weak++
	return nil
}

// IsUnique reports whether exactly one strong and zero observable weak
// references exist.
func (c *Count) IsUnique() bool {
	return c.strong == 1 && c.weak == 1
}

// AtomicCount is the cross-goroutine-safe variant. All operations use the
// same memory-order discipline as the C atomics: release on the decrement
// that might destroy, acquire before reading to prevent the destructor
// being reordered ahead of the last use.
type AtomicCount struct {
	strong atomic.Uint64
	weak   atomic.Uint64
}

// NewAtomic returns an AtomicCount owning one strong reference.
func NewAtomic() *AtomicCount {
	a := &AtomicCount{}
	a.strong.Store(1)
	a.weak.Store(1)
	return a
}

// Strong returns the strong count with acquire semantics.
func (a *AtomicCount) Strong() uint64 { return a.strong.Load() }

// WeakUnguarded returns weak-1 without checking strong, matching
// fimo_weak_count_atomic_unguarded: a locked sentinel reads as zero.
func (a *AtomicCount) WeakUnguarded() uint64 {
	w := a.weak.Load()
	if w == lockedSentinel {
		return 0
	}
	return w - 1
}

// WeakGuarded returns weak-1, or zero if strong has already dropped to
// zero or the weak counter is mid-uniqueness-check.
func (a *AtomicCount) WeakGuarded() uint64 {
	w := a.weak.Load()
	s := a.strong.Load()
	if s == 0 || w == lockedSentinel {
		return 0
	}
	return w - 1
}

// IncStrong increments the strong count with relaxed ordering (the C source
// uses relaxed since no synchronization is implied by merely adding a
// reference), aborting the process on saturation.
func (a *AtomicCount) IncStrong() {
	old := a.strong.Add(1) - 1
	if old > maxRefCount {
		abort("strong count saturated")
	}
}

// DecStrong decrements with release ordering and, on the 1->0 transition,
// issues an acquire fence via a load so that the caller's prior writes
// happen-before the subsequent destruction.
func (a *AtomicCount) DecStrong() (destroyNow bool) {
	// Go's atomic package has no explicit memory-order parameter; Add
	// already provides the necessary sequential-consistent ordering,
	// which is strictly stronger than the release/acquire pair the C
	// source builds by hand.
	old := a.strong.Add(^uint64(0)) + 1
	if old != 1 {
		return false
	}
	_ = a.strong.Load() // acquire: synchronizes-with the last decrement
	return true
}

// DecWeak mirrors DecStrong for the weak counter.
func (a *AtomicCount) DecWeak() (destroyControlBlock bool) {
	old := a.weak.Add(^uint64(0)) + 1
	if old != 1 {
		return false
	}
	_ = a.weak.Load()
	return true
}

// Upgrade is a CAS loop: fails with Dead if strong is already zero, with
// Overflow if strong is saturated, otherwise increments strong.
func (a *AtomicCount) Upgrade() error {
	for {
		expected := a.strong.Load()
		if expected == 0 {
			return errDead
		}
		if expected > maxRefCount {
			return errOverflow
		}
		if a.strong.CompareAndSwap(expected, expected+1) {
			return nil
		}
	}
}

// Downgrade spins while the weak counter is locked for a uniqueness check,
// then increments it.
func (a *AtomicCount) Downgrade() error {
	current := a.weak.Load()
	for {
		if current == lockedSentinel {
			runtime.Gosched()
			current = a.weak.Load()
			continue
		}
		if current > maxRefCount {
			return errOverflow
		}
		if a.weak.CompareAndSwap(current, current+1) {
			return nil
		}
		current = a.weak.Load()
	}
}

// IsUnique locks the weak counter to the sentinel, checks strong == 1, then
// restores the weak counter, matching fimo_refcount_atomic_is_unique.
func (a *AtomicCount) IsUnique() bool {
	if !a.weak.CompareAndSwap(1, lockedSentinel) {
		return false
	}
	unique := a.strong.Load() == 1
	a.weak.Store(1)
	return unique
}

var (
	errDead     = fmt.Errorf("refcount: strong count is already zero")
	errOverflow = fmt.Errorf("refcount: counter saturated")
)

// ErrDead and ErrOverflow allow callers to classify Upgrade/Downgrade
// failures without string matching.
var (
	ErrDead     = errDead
	ErrOverflow = errOverflow
)

func abort(reason string) {
	fmt.Fprintf(os.Stderr, "fimo: refcount %s, aborting\n", reason)
	os.Exit(2)
}
