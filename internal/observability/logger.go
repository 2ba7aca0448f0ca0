// Package observability provides structured logging for the deck processor.
package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is the zerolog-backed logger handed to every component. Child
// loggers scope output to an operation, a job or a request.
type Logger struct {
	zl zerolog.Logger
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string
	Format      string // json or console
	Output      io.Writer
	ServiceName string
}

// NewLogger creates a Logger. Unknown levels fall back to info.
func NewLogger(cfg LogConfig) *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	ctx := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	return &Logger{zl: ctx.Logger()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) at(level zerolog.Level) *LogEvent {
	return &LogEvent{evt: l.zl.WithLevel(level)}
}

func (l *Logger) Debug() *LogEvent { return l.at(zerolog.DebugLevel) }
func (l *Logger) Info() *LogEvent { return l.at(zerolog.InfoLevel) }
func (l *Logger) Warn() *LogEvent { return l.at(zerolog.WarnLevel) }
func (l *Logger) Error() *LogEvent { return l.at(zerolog.ErrorLevel) }

// Fatal logs at fatal level and exits the process once the event is sent.
func (l *Logger) Fatal() *LogEvent {
	return &LogEvent{evt: l.zl.Fatal()}
}

func (l *Logger) child(key, val string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, val).Logger()}
}

// WithOperation names the component emitting the logs.
func (l *Logger) WithOperation(op string) *Logger {
	return l.child("operation", op)
}

// WithJob scopes the logger to one conversion job.
func (l *Logger) WithJob(jobID, sessionID string) *Logger {
	return &Logger{zl: l.zl.With().
		Str("job_id", jobID).
		Str("session_id", sessionID).
		Logger()}
}

// WithContext adds the request trace ID carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := TraceIDFromContext(ctx); id != "" {
		return l.child("trace_id", id)
	}
	return l
}

// LogEvent is a log line under construction. A nil underlying event
// (level filtered out) turns every call into a no-op.
type LogEvent struct {
	evt *zerolog.Event
}

func (e *LogEvent) Str(key, val string) *LogEvent {
	e.evt = e.evt.Str(key, val)
	return e
}

func (e *LogEvent) Int(key string, val int) *LogEvent {
	e.evt = e.evt.Int(key, val)
	return e
}

func (e *LogEvent) Float64(key string, val float64) *LogEvent {
	e.evt = e.evt.Float64(key, val)
	return e
}

func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	e.evt = e.evt.Bool(key, val)
	return e
}

func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	e.evt = e.evt.Dur(key, val)
	return e
}

func (e *LogEvent) Err(err error) *LogEvent {
	e.evt = e.evt.Err(err)
	return e
}

// Slide tags the line with a 1-based slide number.
func (e *LogEvent) Slide(n int) *LogEvent {
	e.evt = e.evt.Int("slide", n)
	return e
}

// Elapsed records the time since start as "duration".
func (e *LogEvent) Elapsed(start time.Time) *LogEvent {
	e.evt = e.evt.Dur("duration", time.Since(start))
	return e
}

func (e *LogEvent) Msg(msg string) {
	e.evt.Msg(msg)
}

func (e *LogEvent) Msgf(format string, args ...any) {
	e.evt.Msgf(format, args...)
}

func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

type traceIDKey struct{}

// ContextWithTraceID stores the request trace ID on ctx.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace ID stored on ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
