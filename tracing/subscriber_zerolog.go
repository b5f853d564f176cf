package tracing

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologSubscriber is the default production Subscriber, grounded on the
// teacher's logging idiom (github.com/projecteru2/core/log.WithFunc(op)) —
// since that wrapper isn't fetchable here, this subscriber talks to its
// underlying library, github.com/rs/zerolog, directly. Every dispatched
// Event becomes one structured zerolog record with "target" and "name"
// fields standing in for the teacher's WithFunc(op) tag.
type ZerologSubscriber struct {
	logger zerolog.Logger
}

// NewZerologSubscriber builds a subscriber writing to w (os.Stderr if nil).
func NewZerologSubscriber(w io.Writer) *ZerologSubscriber {
	if w == nil {
		w = os.Stderr
	}
	return &ZerologSubscriber{logger: zerolog.New(w).With().Timestamp().Logger()}
}

func (z *ZerologSubscriber) OnEvent(ev Event) {
	var e *zerolog.Event
	switch ev.Metadata.Level {
	case LevelError:
		e = z.logger.Error()
	case LevelWarn:
		e = z.logger.Warn()
	case LevelInfo:
		e = z.logger.Info()
	case LevelDebug:
		e = z.logger.Debug()
	default:
		e = z.logger.Trace()
	}

	e = e.Str("target", ev.Metadata.Target).Str("name", ev.Metadata.Name).Int("kind", int(ev.Kind))
	if ev.Metadata.File != "" {
		e = e.Str("file", ev.Metadata.File).Int("line", ev.Metadata.Line)
	}
	e.Msg(ev.Message)
}

func (z *ZerologSubscriber) Flush() {}

var _ Subscriber = (*ZerologSubscriber)(nil)
