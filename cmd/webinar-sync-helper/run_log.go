// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/lmittmann/tint"
)

// runLog captures the log of one pass in two tiers: the brief log holds
// warnings and errors and goes in the notification body, the full log holds
// everything from info up and is attached as a file.
type runLog struct {
	brief bytes.Buffer
	full  bytes.Buffer
}

// newRunLog returns the capture buffers and a logger writing to them and to
// console.
func newRunLog(console slog.Handler) (*runLog, *slog.Logger) {
	rl := &runLog{}
	handler := &tieredHandler{
		handlers: []slog.Handler{
			newCaptureHandler(&rl.brief, slog.LevelWarn, false),
			newCaptureHandler(&rl.full, slog.LevelInfo, true),
		},
	}
	if console != nil {
		handler.handlers = append(handler.handlers, console)
	}
	return rl, slog.New(handler)
}

// Brief returns the warning-level log text.
func (rl *runLog) Brief() string { return rl.brief.String() }

// Full returns the info-level log text.
func (rl *runLog) Full() []byte { return bytes.Clone(rl.full.Bytes()) }

// newCaptureHandler renders uncoloured text lines into buf.
func newCaptureHandler(buf *bytes.Buffer, level slog.Level, withTime bool) slog.Handler {
	return tint.NewHandler(buf, &tint.Options{
		Level:      level,
		NoColor:    true,
		TimeFormat: "15:04:05",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if !withTime && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
}

// tieredHandler fans records out to every handler enabled for their level.
type tieredHandler struct {
	handlers []slog.Handler
}

func (h *tieredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *tieredHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *tieredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &tieredHandler{handlers: make([]slog.Handler, 0, len(h.handlers))}
	for _, handler := range h.handlers {
		next.handlers = append(next.handlers, handler.WithAttrs(attrs))
	}
	return next
}

func (h *tieredHandler) WithGroup(name string) slog.Handler {
	next := &tieredHandler{handlers: make([]slog.Handler, 0, len(h.handlers))}
	for _, handler := range h.handlers {
		next.handlers = append(next.handlers, handler.WithGroup(name))
	}
	return next
}
