// Package logging builds the slog handler used by the sysclip binary.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Format selects the log output format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat maps a flag value to a Format. Unknown values mean FormatAuto.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "tint", "human":
		return FormatText
	case "json":
		return FormatJSON
	}
	return FormatAuto
}

// ParseLevel maps a flag value to a slog.Level. An empty or unknown value
// yields def.
func ParseLevel(s string, def slog.Level) slog.Level {
	if s == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return def
	}
	return l
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Options configures New.
type Options struct {
	Format Format
	// Level is the minimum level. The zero value is Info.
	Level slog.Level
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// New returns a logger writing to opts.Writer: tinter when the format is
// text, or auto on a terminal; JSON otherwise.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	if opts.Format == FormatText || (opts.Format != FormatJSON && IsTTY(w)) {
		h = tinter.NewHandler(w, &tinter.Options{
			Level:      opts.Level,
			TimeFormat: "15:04:05.000",
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	}
	return slog.New(h)
}

// Setup installs New(opts) as the slog default.
func Setup(opts Options) {
	slog.SetDefault(New(opts))
}
