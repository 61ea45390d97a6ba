// Package logger builds the slog loggers used across the client.
package logger

import (
	"io"
	"log/slog"
	"path/filepath"
)

// New returns a text logger writing to w. Source locations are included
// with the directory stripped, so log lines stay one-screen wide.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

// Discard returns a logger that drops everything. Handy as a default for
// components whose caller passed no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
