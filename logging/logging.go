// Package logging builds the zerolog loggers used by the binaries.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Format selects how log events are rendered.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
	// FormatPretty prints each event as indented JSON.
	FormatPretty Format = "pretty"
)

type Options struct {
	Level  string
	Format Format
	Out    io.Writer
}

// New returns a root logger with a timestamp on every event. It also sets
// the global level, which gates debug tree dumps in the engine.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = l
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer
	switch opts.Format {
	case "", FormatJSON:
		w = out
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case FormatPretty:
		w = NewPrettyJSONWriter(out)
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}

	zerolog.SetGlobalLevel(level)
	zerolog.DurationFieldUnit = time.Millisecond
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// PrettyJSONWriter re-indents every JSON log line written to it. Lines that
// are not valid JSON pass through unchanged.
type PrettyJSONWriter struct {
	mu  sync.Mutex
	out io.Writer
	buf bytes.Buffer
}

func NewPrettyJSONWriter(out io.Writer) *PrettyJSONWriter {
	return &PrettyJSONWriter{out: out}
}

func (w *PrettyJSONWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Reset()
	if err := json.Indent(&w.buf, bytes.TrimRight(p, "\n"), "", "  "); err != nil {
		if _, err := w.out.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	w.buf.WriteByte('\n')
	if _, err := w.out.Write(w.buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
