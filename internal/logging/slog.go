// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewSlogLogger returns an *slog.Logger backed by the global zerolog
// logger, for libraries that speak log/slog. Records flow through the
// same output and level filtering as direct zerolog calls.
func NewSlogLogger() *slog.Logger {
	return slog.New(&slogBridge{})
}

type slogBridge struct {
	attrs []slog.Attr
	group string
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return slogLevel(level) >= zerolog.GlobalLevel()
}

func (b *slogBridge) Handle(_ context.Context, rec slog.Record) error {
	logger := Logger()
	ev := logger.WithLevel(slogLevel(rec.Level))
	for _, a := range b.attrs {
		ev = appendAttr(ev, b.group, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, b.group, a)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	nb := &slogBridge{group: b.group}
	nb.attrs = append(append([]slog.Attr(nil), b.attrs...), attrs...)
	return nb
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	prefix := name
	if b.group != "" {
		prefix = b.group + "." + name
	}
	return &slogBridge{attrs: b.attrs, group: prefix}
}

func appendAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			ev = appendAttr(ev, key, ga)
		}
		return ev
	}
	return ev.Interface(key, v.Any())
}

func slogLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	case level >= slog.LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
