package log

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options controls how the global logger is built.
type Options struct {
	// Level is the minimum level written. Empty means INFO.
	Level Level
	// Console switches from JSON lines to a human-readable console writer.
	Console bool
	// Output defaults to stderr.
	Output io.Writer
}

var (
	mu         sync.RWMutex
	logger     zerolog.Logger
	loggerOnce sync.Once
)

// initLogger builds the default JSON logger on first use.
func initLogger() {
	loggerOnce.Do(func() {
		mu.Lock()
		logger = build(Options{})
		mu.Unlock()
	})
}

// Init replaces the global logger. Safe to call more than once.
func Init(opts Options) {
	initLogger()
	mu.Lock()
	logger = build(opts)
	mu.Unlock()
}

func build(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		With().
		Timestamp().
		Str("service", "agialcal").
		Logger().
		Level(toZerolog(opts.Level))
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	logger = logger.Level(toZerolog(l))
	mu.Unlock()
}

// ParseLevel maps config/env strings ("debug", "warn", ...) to a Level.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() *zerolog.Logger {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()
	return &l
}

func Debug(msg string, kv ...any) {
	write(current().Debug(), msg, kv...)
}

func Info(msg string, kv ...any) {
	write(current().Info(), msg, kv...)
}

func Warn(msg string, kv ...any) {
	write(current().Warn(), msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	write(current().Error().Err(err), msg, kv...)
}

// ErrorCtx is Error plus the trace/span ids of the active span, if any.
func ErrorCtx(ctx context.Context, msg string, err error, kv ...any) {
	evt := current().Error().Err(err)
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	write(evt, msg, kv...)
}

func write(evt *zerolog.Event, msg string, kv ...any) {
	if evt == nil {
		return
	}
	// Expect kv as pairs: key, value, key, value, ...
	// Non-string keys are skipped; a trailing odd value is ignored.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			evt = evt.AnErr(key, v)
		case string:
			evt = evt.Str(key, v)
		default:
			evt = evt.Interface(key, v)
		}
	}
	evt.Msg(msg)
}
