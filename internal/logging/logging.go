package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeySessionID  = "sessionId"
	KeyMonitorID  = "monitorId"
	KeyClientID   = "clientId"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// switchableHandler lets package-level loggers created before Init()
// pick up the configured handler once Init runs.
type switchableHandler struct {
	current *atomic.Pointer[handlerBox]
	attrs   []slog.Attr
	groups  []string
}

// handlerBox gives the pointer one concrete type whatever handler it holds.
type handlerBox struct {
	h slog.Handler
}

func newSwitchableHandler(h slog.Handler) *switchableHandler {
	p := &atomic.Pointer[handlerBox]{}
	p.Store(&handlerBox{h: h})
	return &switchableHandler{current: p}
}

func (h *switchableHandler) set(handler slog.Handler) {
	h.current.Store(&handlerBox{h: handler})
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.current.Load().h
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.materialize().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.materialize().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &switchableHandler{
		current: h.current,
		attrs:   merged,
		groups:  append([]string(nil), h.groups...),
	}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &switchableHandler{
		current: h.current,
		attrs:   append([]slog.Attr(nil), h.attrs...),
		groups:  groups,
	}
}

var (
	level         = new(slog.LevelVar)
	rootHandler   = newSwitchableHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	defaultLogger = slog.New(rootHandler)
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init configures the global logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stdout)
func Init(format, lvl string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}
	level.Set(ParseLevel(lvl))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	rootHandler.set(handler)
	slog.SetDefault(defaultLogger)
}

// SetLevel changes the minimum level without rebuilding the handler.
// Used by config hot reload.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// Level returns the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithSession returns a child logger carrying capture session correlation fields.
func WithSession(logger *slog.Logger, sessionID string, monitorID int) *slog.Logger {
	return logger.With(
		slog.String(KeySessionID, sessionID),
		slog.Int(KeyMonitorID, monitorID),
	)
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// ParseLevel maps a config string to a slog level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
