// Package logger configures the process-wide slog logger once at startup.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler.
type Options struct {
	Level   string    // debug|info|warn|error, default info
	Format  string    // text|json, default text
	Verbose bool      // forces debug
	Writer  io.Writer // default stderr
}

// Setup installs and returns the default logger.
func Setup(opts Options) *slog.Logger {
	lvl := ParseLevel(opts.Level)
	if opts.Verbose {
		lvl = slog.LevelDebug
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.ToLower(opts.Format) == "json" {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
