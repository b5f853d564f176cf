package tracing

import (
	"github.com/getsentry/sentry-go"
)

// SentrySubscriber adds every event as a Sentry breadcrumb (with its level
// mapped to Sentry's) and additionally captures Error-level events as
// messages, giving production deployments an off-process
// sink in addition to ZerologSubscriber — demonstrating the multi-
// subscriber fan-out spec §4.2 describes ("ordered list of subscribers").
type SentrySubscriber struct {
	hub *sentry.Hub
}

// NewSentrySubscriber wraps an already-initialized Sentry hub. Callers are
// expected to have called sentry.Init themselves; this subscriber does not
// own Sentry's lifecycle.
func NewSentrySubscriber(hub *sentry.Hub) *SentrySubscriber {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentrySubscriber{hub: hub}
}

func (s *SentrySubscriber) OnEvent(ev Event) {
	s.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: ev.Metadata.Target,
		Message:  ev.Message,
		Level:    sentryLevel(ev.Metadata.Level),
	}, nil)

	if ev.Metadata.Level == LevelError {
		s.hub.CaptureMessage(ev.Metadata.Name + ": " + ev.Message)
	}
}

func (s *SentrySubscriber) Flush() {
	s.hub.Flush(0)
}

func sentryLevel(l Level) sentry.Level {
	switch l {
	case LevelError:
		return sentry.LevelError
	case LevelWarn:
		return sentry.LevelWarning
	case LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}

var _ Subscriber = (*SentrySubscriber)(nil)
