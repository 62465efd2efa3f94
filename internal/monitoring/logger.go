package monitoring

import (
	"bytes"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Options configures the process logger.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
	Writer io.Writer
}

// New builds a zerolog logger from o. Unknown levels select info.
func New(o Options) zerolog.Logger {
	var w io.Writer = os.Stderr
	if o.Writer != nil {
		w = o.Writer
	}
	if o.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(ParseLevel(o.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// UseZerolog routes Logf through l at info level.
func UseZerolog(l zerolog.Logger) {
	SetLogger(func(format string, v ...interface{}) { l.Info().Msgf(format, v...) })
}

// Streams returns writers for the per-package ops, diag and trace log
// streams. Each line written is re-emitted on l at warn, info and debug
// level respectively, with the "[pkg] " prefix lifted into a component
// field. Writers for streams below l's level are nil, which disables them.
func Streams(l zerolog.Logger) (ops, diag, trace io.Writer) {
	mk := func(level zerolog.Level) io.Writer {
		if level < l.GetLevel() {
			return nil
		}
		return &levelWriter{l: l, level: level}
	}
	return mk(zerolog.WarnLevel), mk(zerolog.InfoLevel), mk(zerolog.DebugLevel)
}

type levelWriter struct {
	l     zerolog.Logger
	level zerolog.Level
}

// Write handles one log.Logger line per call.
func (w *levelWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		component, msg := splitLine(string(line))
		ev := w.l.WithLevel(w.level)
		if component != "" {
			ev = ev.Str("component", component)
		}
		ev.Msg(msg)
	}
	return len(p), nil
}

// splitLine separates "[pkg] 2006/01/02 15:04:05.000000 msg" into the
// package name and message. The stdlib timestamp is dropped; zerolog
// stamps its own.
func splitLine(s string) (component, msg string) {
	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "] "); end > 0 {
			component, s = s[1:end], s[end+2:]
		}
	}
	fields := strings.SplitN(s, " ", 3)
	if len(fields) == 3 {
		if _, err := time.Parse("2006/01/02 15:04:05.000000", fields[0]+" "+fields[1]); err == nil {
			return component, fields[2]
		}
		if _, err := time.Parse("2006/01/02 15:04:05", fields[0]+" "+fields[1]); err == nil {
			return component, fields[2]
		}
	}
	return component, s
}
