// Package logging configures relaybot's slog level handling and gates the
// two independent trace-forensics toggles (log_raw, log_api) that sit
// below the configured log level.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is a custom log level below Debug, used for wire-level and
// LLM-payload forensics that are too noisy to enable via log_level alone.
const LevelTrace = slog.Level(-8)

// ParseLevel converts a string to a slog.Level.
// Supported values: trace, debug, info, warn, error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLevelNames customizes the level name for Trace in log output.
func ReplaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// TraceRaw logs a single wire protocol line at LevelTrace, gated by the
// log_raw config toggle independently of the configured log level — so
// turning it on for a live debugging session doesn't also require
// dropping to trace everywhere else and drowning in LLM payload dumps.
func TraceRaw(logger *slog.Logger, enabled bool, direction, line string) {
	if !enabled || logger == nil {
		return
	}
	logger.Log(context.Background(), LevelTrace, "raw line", "dir", direction, "line", line)
}

// TraceAPI logs an LLM request or response body at LevelTrace, gated by
// the log_api config toggle.
func TraceAPI(logger *slog.Logger, enabled bool, what, body string) {
	if !enabled || logger == nil {
		return
	}
	logger.Log(context.Background(), LevelTrace, "api body", "what", what, "body", body)
}
