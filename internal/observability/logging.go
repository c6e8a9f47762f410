package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/haasonsaas/teller/internal/redact"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	// JSON format is recommended for production; text for development
	Format string

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// ConversationIDKey is the context key for conversation IDs.
	ConversationIDKey ContextKey = "conversation_id"

	// ChannelKey is the context key for channel type.
	ChannelKey ContextKey = "channel"
)

var contextKeys = []ContextKey{RequestIDKey, ConversationIDKey, ChannelKey}

// identifierKeys are never masked; chat and conversation IDs are long digit
// runs that would otherwise look like card numbers.
var identifierKeys = map[string]bool{
	"request_id":      true,
	"conversation_id": true,
	"chat_id":         true,
	"tool_call_id":    true,
	"interrupt_id":    true,
	"user_id":         true,
}

// sensitiveKeys are replaced outright regardless of value.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"bot_token":     true,
}

// NewLogger creates a structured logger whose handler redacts secrets and
// card numbers from the message and every string attribute, and adds
// request_id, conversation_id and channel from the context.
//
// Example:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "debug",
//	    Format: "text",
//	})
//	logger.InfoContext(ctx, "turn finished", "status", "done")
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	return slog.New(&redactingHandler{
		next:     handler,
		redactor: redact.New(config.RedactPatterns...),
	})
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

type redactingHandler struct {
	next     slog.Handler
	redactor *redact.Redactor
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.String(r.Message), r.PC)

	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			out.AddAttrs(slog.String(string(key), v))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))
	if sensitiveKeys[key] {
		return slog.String(a.Key, redact.Placeholder)
	}
	if identifierKeys[key] {
		return a
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactor.String(v.String()))
	case slog.KindGroup:
		group := v.Group()
		redacted := make([]any, len(group))
		for i, ga := range group {
			redacted[i] = h.redactAttr(ga)
		}
		return slog.Group(a.Key, redacted...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok && err != nil {
			return slog.String(a.Key, h.redactor.String(err.Error()))
		}
		return slog.Attr{Key: a.Key, Value: v}
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}
}

// AddRequestID adds a request ID to the context.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// AddConversationID adds a conversation ID to the context.
func AddConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// AddChannel adds a channel name to the context.
func AddChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}

// GetConversationID returns the conversation ID from the context.
func GetConversationID(ctx context.Context) string {
	v, _ := ctx.Value(ConversationIDKey).(string)
	return v
}
