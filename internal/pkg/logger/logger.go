// Package logger wraps log/slog with the request, render and socket scopes
// used across the API and the worker.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	RenderIDKey  contextKey = "render_id"
	// SocketIDKey holds the browser connection that owns a render.
	SocketIDKey contextKey = "socket_id"
)

// scopedKeys are copied from a context onto a logger, in this order.
var scopedKeys = []contextKey{RequestIDKey, RenderIDKey, SocketIDKey}

type Logger struct {
	*slog.Logger
}

// Config selects level, format and destination.
type Config struct {
	Level       string // debug, info, warn or error
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	ServiceName string
}

func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stdout,
		ServiceName: "scenerender",
	}
}

// New builds a logger. Timestamps are always written in UTC.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: utcTime,
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}
	if cfg.ServiceName != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}
	return &Logger{Logger: slog.New(h)}
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
	}
	return a
}

func NewDefault() *Logger {
	return New(DefaultConfig())
}

// Discard drops everything below error and writes nothing.
func Discard() *Logger {
	return New(Config{Output: io.Discard, Level: "error"})
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String(key, value))}
}

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with(string(RequestIDKey), requestID)
}

func (l *Logger) WithRenderID(renderID string) *Logger {
	return l.with(string(RenderIDKey), renderID)
}

func (l *Logger) WithSocketID(socketID string) *Logger {
	return l.with(string(SocketIDKey), socketID)
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithError attaches err; a nil error returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// FromContext scopes l by whichever request, render and socket IDs ctx
// carries. With none set it returns l itself.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	out := l
	for _, key := range scopedKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			out = out.with(string(key), v)
		}
	}
	return out
}

// LogError logs err at error level with the caller's position.
func (l *Logger) LogError(ctx context.Context, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		args = append(args, "source", slog.GroupValue(
			slog.String("file", file),
			slog.Int("line", line),
		))
	}
	args = append(args, "error", err.Error())
	l.FromContext(ctx).Error(msg, args...)
}

// LogFatal logs at error level and exits the process.
func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithRenderID(ctx context.Context, renderID string) context.Context {
	return context.WithValue(ctx, RenderIDKey, renderID)
}

func ContextWithSocketID(ctx context.Context, socketID string) context.Context {
	return context.WithValue(ctx, SocketIDKey, socketID)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
