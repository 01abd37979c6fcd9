package config

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// log_format values.
const (
	logFormatAuto = "auto"
	logFormatText = "text"
	logFormatJSON = "json"
)

// BuildLogger returns a logger writing to w at level. "auto" uses the text
// handler when w is a terminal and JSON otherwise.
func BuildLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if useText(w, format) {
		return slog.New(slog.NewTextHandler(w, opts))
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}

// Logger builds the logger s describes, writing to stderr.
func (s *Settings) Logger() *slog.Logger {
	return BuildLogger(os.Stderr, s.LogLevel, s.LogFormat)
}

func useText(w io.Writer, format string) bool {
	switch format {
	case logFormatText:
		return true
	case logFormatJSON:
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
