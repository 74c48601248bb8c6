package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogBridge adapts slog records onto a zerolog logger and lifts the
// request-scoped context fields (device id, protocol, cache key) into every
// event, so call sites only thread a context instead of repeating attrs.
type slogBridge struct {
	zl   *zerolog.Logger
	attr []slog.Attr
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&slogBridge{zl: zl})
}

func (h *slogBridge) Enabled(_ context.Context, l slog.Level) bool {
	switch zerolog.GlobalLevel() {
	case zerolog.DebugLevel:
		return true
	case zerolog.WarnLevel:
		return l >= slog.LevelWarn
	case zerolog.ErrorLevel:
		return l >= slog.LevelError
	default:
		return l >= slog.LevelInfo
	}
}

func (h *slogBridge) Handle(ctx context.Context, r slog.Record) error {
	var ev *zerolog.Event
	switch {
	case r.Level <= slog.LevelDebug:
		ev = h.zl.Debug()
	case r.Level >= slog.LevelError:
		ev = h.zl.Error()
	case r.Level >= slog.LevelWarn:
		ev = h.zl.Warn()
	default:
		ev = h.zl.Info()
	}

	for _, k := range ctxFields {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			ev = ev.Str(string(k), v)
		}
	}
	for _, a := range h.attr {
		ev = addAttr(ev, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = addAttr(ev, a)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

func (h *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attr = append(cp.attr, attrs...)
	return &cp
}

func (h *slogBridge) WithGroup(_ string) slog.Handler { return h }

func addAttr(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(a.Key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(a.Key, a.Value.Int64())
	case slog.KindFloat64:
		return ev.Float64(a.Key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(a.Key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(a.Key, a.Value.Duration())
	default:
		return ev.Interface(a.Key, a.Value.Any())
	}
}
