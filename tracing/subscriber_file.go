package tracing

import (
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewFileSubscriber builds a ZerologSubscriber backed by a rotating log
// file, using the teacher's transitive log-rotation dependency
// (gopkg.in/natefinch/lumberjack.v2, pulled in via projecteru2/core's
// ServerLogConfig) directly instead of through that unreachable wrapper.
func NewFileSubscriber(path string, maxSizeMB, maxBackups, maxAgeDays int) *ZerologSubscriber {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return &ZerologSubscriber{logger: zerolog.New(lj).With().Timestamp().Logger()}
}
