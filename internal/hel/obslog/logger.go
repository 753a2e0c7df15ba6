// Package obslog configures the process-wide log/slog default logger
// (spec §1 ambient logging). Most of Hel's packages call slog's package
// functions directly; the ones that take a *slog.Logger are handed
// slog.Default() by cmd/hel.
//
// Adapted from the teacher's internal/gitai/observability.Setup: same
// level/format-string dispatch into a slog.HandlerOptions and a
// slog.SetDefault call. Gitai's trace-ID propagation and per-turn
// logger helpers have no analog here (a poll tick has no conversational
// turn to tag), so only Setup is carried over.
package obslog

import (
	"log/slog"
	"os"
)

// Setup configures the global slog logger according to level ("debug",
// "info", "warn", "error") and format ("text" or "json"). Unrecognized
// values fall back to info/text.
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
