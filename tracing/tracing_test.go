package tracing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fimoengine/fimo-sub001/config"
)

type recordingSubscriber struct {
	events []Event
}

func (r *recordingSubscriber) OnEvent(ev Event) { r.events = append(r.events, ev) }
func (r *recordingSubscriber) Flush()           {}

func enabledState(rec Subscriber) *State {
	cfg := config.TracingConfig{FormatBufferSize: 64, ResolvedLevel: LevelTrace}
	return NewState(cfg, []Subscriber{rec})
}

func TestDisabledStateIsNoOp(t *testing.T) {
	s := NewState(config.TracingConfig{ResolvedLevel: LevelOff}, nil)
	require.False(t, s.Enabled())
	require.False(t, s.IsLevelEnabled(LevelError))
}

func TestEnterExitSpanLIFO(t *testing.T) {
	rec := &recordingSubscriber{}
	s := enabledState(rec)
	th := s.RegisterThread()

	sp1 := s.EnterSpan(th, Metadata{Name: "outer", Level: LevelInfo}, nil)
	sp2 := s.EnterSpan(th, Metadata{Name: "inner", Level: LevelInfo}, nil)
	require.Equal(t, 2, th.current.Len())

	s.ExitSpan(th, sp2)
	s.ExitSpan(th, sp1)
	require.Equal(t, 0, th.current.Len())

	require.NoError(t, th.Unregister())

	var kinds []EventKind
	for _, ev := range rec.events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []EventKind{KindSpanStart, KindSpanStart, KindSpanExit, KindSpanExit}, kinds)
}

func TestExitSpanMismatchAborts(t *testing.T) {
	rec := &recordingSubscriber{}
	s := enabledState(rec)
	th := s.RegisterThread()
	sp1 := s.EnterSpan(th, Metadata{Name: "a", Level: LevelInfo}, nil)
	_ = s.EnterSpan(th, Metadata{Name: "b", Level: LevelInfo}, nil)

	require.Panics(t, func() {
		s.ExitSpan(th, sp1) // wrong order: b is on top, not a
	})
}

func TestUnregisterNonEmptyFailsBusy(t *testing.T) {
	rec := &recordingSubscriber{}
	s := enabledState(rec)
	th := s.RegisterThread()
	s.EnterSpan(th, Metadata{Name: "a", Level: LevelInfo}, nil)

	err := th.Unregister()
	require.Error(t, err)
}

func TestSwapActiveRoundTrip(t *testing.T) {
	rec := &recordingSubscriber{}
	s := enabledState(rec)
	th := s.RegisterThread()
	original := th.current

	fresh := s.CallStack()
	require.NoError(t, th.SuspendCurrent(false))
	old, err := th.SwapActive(fresh)
	require.NoError(t, err)
	require.Same(t, original, old)
	require.Same(t, fresh, th.current)

	require.NoError(t, th.SuspendCurrent(false))
	back, err := th.SwapActive(old)
	require.NoError(t, err)
	require.Same(t, fresh, back)
	require.Same(t, original, th.current)
}

func TestUnblockRequiresBlockedState(t *testing.T) {
	s := enabledState(&recordingSubscriber{})
	cs := s.CallStack()
	require.Error(t, Unblock(cs)) // not blocked yet

	cs.state = csSuspendedBlocked
	require.NoError(t, Unblock(cs))
	require.Equal(t, csSuspendedUnblocked, cs.state)
}

func TestDestroyUnwindsOnAbort(t *testing.T) {
	rec := &recordingSubscriber{}
	s := enabledState(rec)
	th := s.RegisterThread()
	s.EnterSpan(th, Metadata{Name: "leaked", Level: LevelInfo}, nil)

	require.NoError(t, th.SuspendCurrent(false))
	require.Error(t, Destroy(s, th.current, false))
	require.NoError(t, Destroy(s, th.current, true))
	require.Equal(t, 0, th.current.Len())
}

func TestLevelFiltering(t *testing.T) {
	rec := &recordingSubscriber{}
	cfg := config.TracingConfig{FormatBufferSize: 64, ResolvedLevel: LevelWarn}
	s := NewState(cfg, []Subscriber{rec})
	th := s.RegisterThread()

	s.LogMessage(th, Metadata{Name: "debug-msg", Level: LevelDebug}, nil)
	require.Empty(t, rec.events)

	s.LogMessage(th, Metadata{Name: "warn-msg", Level: LevelWarn}, nil)
	require.Len(t, rec.events, 1)
}

func TestLevelFilteredSpanIsNotPushedOrPopped(t *testing.T) {
	rec := &recordingSubscriber{}
	cfg := config.TracingConfig{FormatBufferSize: 64, ResolvedLevel: LevelWarn}
	s := NewState(cfg, []Subscriber{rec})
	th := s.RegisterThread()

	outer := s.EnterSpan(th, Metadata{Name: "outer", Level: LevelWarn}, nil)
	// "inner" is below the configured max level: EnterSpan must not push it,
	// so the matching ExitSpan must not pop "outer" in its place.
	inner := s.EnterSpan(th, Metadata{Name: "inner", Level: LevelDebug}, nil)
	require.Equal(t, 1, th.current.Len())

	s.ExitSpan(th, inner)
	require.Equal(t, 1, th.current.Len())

	s.ExitSpan(th, outer)
	require.Equal(t, 0, th.current.Len())

	var kinds []EventKind
	for _, ev := range rec.events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []EventKind{KindSpanStart, KindSpanExit}, kinds)
}

func TestFormatTruncation(t *testing.T) {
	rec := &recordingSubscriber{}
	cfg := config.TracingConfig{FormatBufferSize: 4, ResolvedLevel: LevelTrace}
	s := NewState(cfg, []Subscriber{rec})
	th := s.RegisterThread()

	s.LogMessage(th, Metadata{Name: "long", Level: LevelInfo}, func(buf []byte) int {
		return copy(buf, "this message is way too long")
	})
	require.Len(t, rec.events, 1)
	require.Len(t, rec.events[0].Message, 4)
}
