package logx

import (
	"context"
	"log"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/rs/zerolog"
)

// WithDlog attaches a dlog.Logger backed by the given zerolog logger to ctx,
// so that dexec subprocess logging flows through the process logger.
func WithDlog(ctx context.Context, logger zerolog.Logger) context.Context {
	return dlog.WithLogger(ctx, &dlogAdapter{log: logger})
}

type dlogAdapter struct {
	log zerolog.Logger
}

func (a *dlogAdapter) Helper() {}

func (a *dlogAdapter) WithField(key string, value interface{}) dlog.Logger {
	return &dlogAdapter{log: a.log.With().Interface(key, value).Logger()}
}

func (a *dlogAdapter) StdLogger(level dlog.LogLevel) *log.Logger {
	return log.New(levelWriter{a: a, level: level}, "", 0)
}

func (a *dlogAdapter) Log(level dlog.LogLevel, msg string) {
	a.log.WithLevel(zerologLevel(level)).Msg(msg)
}

type levelWriter struct {
	a     *dlogAdapter
	level dlog.LogLevel
}

func (w levelWriter) Write(p []byte) (int, error) {
	w.a.Log(w.level, strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func zerologLevel(level dlog.LogLevel) zerolog.Level {
	switch level {
	case dlog.LogLevelError:
		return zerolog.ErrorLevel
	case dlog.LogLevelWarn:
		return zerolog.WarnLevel
	case dlog.LogLevelInfo:
		return zerolog.InfoLevel
	case dlog.LogLevelDebug:
		return zerolog.DebugLevel
	case dlog.LogLevelTrace:
		return zerolog.TraceLevel
	}
	return zerolog.InfoLevel
}
