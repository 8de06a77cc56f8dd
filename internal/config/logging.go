package config

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SetupLogging configures the process-wide loggers from the environment
// knobs: RUST_LOG selects the minimum slog level (error|warn|info|debug,
// default info), LOG_DIR redirects output to a per-binary log file, and
// TRACING_SPAN_EVENTS adds source locations to every record. Returns a
// cleanup function closing the log file, if one was opened.
func SetupLogging(cfg *Config, binary string) (func(), error) {
	var out io.Writer = os.Stderr
	cleanup := func() {}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("config: creating log dir %s: %w", cfg.LogDir, err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, binary+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("config: opening log file: %w", err)
		}
		out = f
		cleanup = func() { _ = f.Close() }
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:     parseLevel(cfg.LogFilter),
		AddSource: cfg.TracingSpanEvents,
	})
	slog.SetDefault(slog.New(handler))
	log.SetOutput(out)
	return cleanup, nil
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug", "trace":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
