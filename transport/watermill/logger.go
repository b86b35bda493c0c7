package watermill

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/casualjim/eva/pkg/slogx"
)

// LevelTrace is the slog level watermill trace messages are logged at.
const LevelTrace = slog.LevelDebug - 4

// Logger adapts l to the watermill logging interface.
func Logger(l *slog.Logger) watermill.LoggerAdapter {
	if l == nil {
		l = slog.Default()
	}
	return &slogAdapter{log: l}
}

type slogAdapter struct {
	log *slog.Logger
}

func (a *slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.LogAttrs(context.Background(), slog.LevelError, msg, append(attrs(fields), slogx.Error(err))...)
}

func (a *slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs(fields)...)
}

func (a *slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs(fields)...)
}

func (a *slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.LogAttrs(context.Background(), LevelTrace, msg, attrs(fields)...)
}

func (a *slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	args := make([]any, 0, len(fields))
	for _, attr := range attrs(fields) {
		args = append(args, attr)
	}
	return &slogAdapter{log: a.log.With(args...)}
}

func attrs(fields watermill.LogFields) []slog.Attr {
	out := make([]slog.Attr, 0, len(fields)+1)
	for k, v := range fields {
		out = append(out, slog.Any(k, v))
	}
	return out
}
