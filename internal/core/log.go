package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Level mirrors the teacher's std/log level set: a signed integer scale
// compatible with slog's, with two daemon-specific ends (Trace below Debug,
// Fatal above Error) so one handler can serve both without re-deriving a
// mapping per call site.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
	LevelFatal Level = 12
)

func (l Level) slog() slog.Level { return slog.Level(l) }

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses CCND_DEBUG-style level names.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level: %s", s)
}

// Subject is anything loggable as the first positional argument, matching
// the teacher's convention of logging against the component that raised
// the event (a face, a prefix entry, the loop itself).
type Subject interface {
	String() string
}

// Logger is a small leveled wrapper over log/slog used uniformly across the
// daemon so that every component logs with the same subject+kv shape the
// teacher's fw/core.Log does.
type Logger struct {
	h     *slog.Logger
	level Level
}

// NewLogger builds a Logger writing text-handler output to stderr at the given level.
func NewLogger(level Level) *Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		// The handler passes everything; l.level does the filtering, so
		// SetLevel can lower the level after construction.
		Level: LevelTrace.slog(),
	})
	return &Logger{h: slog.New(h), level: level}
}

// Log is the process-wide logger, analogous to the teacher's core.Log.
var Log = NewLogger(LevelInfo)

func (l *Logger) SetLevel(level Level) { l.level = level }

func (l *Logger) log(level Level, subject Subject, msg string, kv ...any) {
	if level < l.level {
		return
	}
	args := make([]any, 0, len(kv)+2)
	args = append(args, "subject", subject.String())
	args = append(args, kv...)
	l.h.Log(context.Background(), level.slog(), msg, args...)
}

func (l *Logger) Trace(s Subject, msg string, kv ...any) { l.log(LevelTrace, s, msg, kv...) }
func (l *Logger) Debug(s Subject, msg string, kv ...any) { l.log(LevelDebug, s, msg, kv...) }
func (l *Logger) Info(s Subject, msg string, kv ...any)  { l.log(LevelInfo, s, msg, kv...) }
func (l *Logger) Warn(s Subject, msg string, kv ...any)  { l.log(LevelWarn, s, msg, kv...) }
func (l *Logger) Error(s Subject, msg string, kv ...any) { l.log(LevelError, s, msg, kv...) }

// OnFatal is invoked after a Fatal-level message is logged. It defaults to
// exiting the process; a test can replace it with one that panics, so a
// violated invariant fails the test loudly rather than killing the test
// binary outright.
var OnFatal = func() { os.Exit(1) }

// Fatal logs then exits; reserved for the handful of truly unrecoverable
// states in spec §7 ("signal received, local socket disappears").
func (l *Logger) Fatal(s Subject, msg string, kv ...any) {
	l.log(LevelFatal, s, msg, kv...)
	OnFatal()
}

// strSubject lets plain strings be logged as a Subject without every caller
// needing a named type.
type strSubject string

func (s strSubject) String() string { return string(s) }

// Str wraps a bare string as a loggable Subject.
func Str(s string) Subject { return strSubject(s) }
