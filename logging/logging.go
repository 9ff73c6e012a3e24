// Package logging provides the module's shared slog loggers. Library code
// takes a *slog.Logger from the caller and falls back to DisabledLogger, so
// nothing is written unless logging is explicitly requested.
package logging

import (
	"context"
	"log/slog"
	"os"
)

var (
	level    slog.LevelVar
	stderr   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	disabled = slog.New(noopHandler{})
)

// DefaultLogger returns a logger that writes text records to stderr at the
// level set with SetDefaultLevel (info by default).
func DefaultLogger() *slog.Logger {
	return stderr
}

// SetDefaultLevel adjusts the level of the logger returned by DefaultLogger.
func SetDefaultLevel(l slog.Level) {
	level.Set(l)
}

// DisabledLogger returns a logger that discards all records at every level.
func DisabledLogger() *slog.Logger {
	return disabled
}

// noopHandler rejects every record
type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (noopHandler) WithAttrs([]slog.Attr) slog.Handler        { return noopHandler{} }
func (noopHandler) WithGroup(string) slog.Handler             { return noopHandler{} }
