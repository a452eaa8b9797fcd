package logr

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-logr/logr"
)

// logSink adapts a slog handler to logr, mapping logr verbosity onto slog
// levels: V(0) is info, V(1) is debug, and each further V lowers the level by
// one.
type logSink struct {
	handler slog.Handler
}

var _ logr.LogSink = (*logSink)(nil)

func newLogSink(h slog.Handler) *logSink {
	return &logSink{handler: h}
}

func (s *logSink) Init(logr.RuntimeInfo) {}

func (s *logSink) Enabled(level int) bool {
	return s.handler.Enabled(context.Background(), vToSlogLevel(level))
}

func (s *logSink) Info(level int, msg string, keysAndValues ...any) {
	r := slog.NewRecord(time.Now(), vToSlogLevel(level), msg, 0)
	r.Add(keysAndValues...)
	_ = s.handler.Handle(context.Background(), r)
}

func (s *logSink) Error(err error, msg string, keysAndValues ...any) {
	r := slog.NewRecord(time.Now(), slog.LevelError, msg, 0)
	if err != nil {
		r.AddAttrs(slog.Any("error", err))
	}
	r.Add(keysAndValues...)
	_ = s.handler.Handle(context.Background(), r)
}

func (s *logSink) WithValues(keysAndValues ...any) logr.LogSink {
	r := slog.NewRecord(time.Time{}, 0, "", 0)
	r.Add(keysAndValues...)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return &logSink{handler: s.handler.WithAttrs(attrs)}
}

func (s *logSink) WithName(name string) logr.LogSink {
	return &logSink{handler: s.handler.WithAttrs([]slog.Attr{slog.String("logger", name)})}
}

func vToSlogLevel(v int) slog.Level {
	if v <= 0 {
		return slog.LevelInfo
	}
	return toSlogLevel(v)
}
