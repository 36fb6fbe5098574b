// Package logging builds the console slog handler shared by the CLI and the
// engine client.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// TimeFormat is time.TimeOnly with milliseconds.
const TimeFormat = "15:04:05.000"

// ParseLevel accepts debug, info, warn or error, case-insensitively, with
// an optional offset such as "debug-2".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// New returns a logger writing to f, colored when f is a terminal.
func New(f *os.File, level slog.Leveler) *slog.Logger {
	color := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return slog.New(NewHandler(colorable.NewColorable(f), level, color))
}

// NewHandler returns a tint handler on w. Empty attributes are dropped and
// timestamps are omitted under systemd, which adds its own.
func NewHandler(w io.Writer, level slog.Leveler, color bool) slog.Handler {
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: TimeFormat,
		NoColor:    !color,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if underSystemd {
					return slog.Attr{}
				}
				return a
			}
			if isEmpty(a.Value) {
				return slog.Attr{}
			}
			return a
		},
	})
}

func isEmpty(v slog.Value) bool {
	switch t := v.Any().(type) {
	case nil:
		return true
	case string:
		return t == ""
	case time.Duration:
		return t == 0
	case time.Time:
		return t.IsZero()
	}
	return false
}
