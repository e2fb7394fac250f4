// Package logging configures the process-wide structured logger and
// keeps provider credentials out of log output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Setup builds the root logger and installs it as slog.Default.
// level is debug|info|warn|error; format is json|text.
func Setup(level, format string, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stdout
	}

	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := slog.New(NewRedactingHandler(handler))
	slog.SetDefault(logger)
	return logger, nil
}
