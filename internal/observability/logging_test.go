package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/haasonsaas/teller/internal/redact"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	NewLogger(LogConfig{Output: &jsonBuf}).Info("hello", "k", "v")
	NewLogger(LogConfig{Output: &textBuf, Format: "text"}).Info("hello", "k", "v")

	entry := decodeLine(t, &jsonBuf)
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Errorf("json entry = %v", entry)
	}
	if !strings.Contains(textBuf.String(), "msg=hello") {
		t.Errorf("text output = %q", textBuf.String())
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Level: "warn"})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn record missing: %q", buf.String())
	}
}

func TestRedactingHandler(t *testing.T) {
	tests := []struct {
		name   string
		log    func(*slog.Logger)
		absent string
		want   string
	}{
		{
			name:   "card in message",
			log:    func(l *slog.Logger) { l.Info("card 4111111111111111 issued") },
			absent: "4111111111111111",
			want:   "************1111",
		},
		{
			name:   "card in attribute",
			log:    func(l *slog.Logger) { l.Info("issued", "answer", "your card is 5105-1051-0510-5100") },
			absent: "5105-1051-0510-5100",
			want:   "****-****-****-5100",
		},
		{
			name:   "sensitive key",
			log:    func(l *slog.Logger) { l.Info("configured", "bot_token", "short") },
			absent: "short",
			want:   redact.Placeholder,
		},
		{
			name:   "secret in error",
			log:    func(l *slog.Logger) { l.Error("call failed", "error", errors.New("bad key sk-abcdefghijklmnopqrstuvwxyz0123456789ABCD")) },
			absent: "sk-abcdef",
			want:   redact.Placeholder,
		},
		{
			name:   "group",
			log:    func(l *slog.Logger) { l.Info("tool", slog.Group("result", "content", "4111111111111111")) },
			absent: "4111111111111111",
			want:   "************1111",
		},
		{
			name:   "identifier kept",
			log:    func(l *slog.Logger) { l.Info("message", "chat_id", "1234567890123") },
			absent: "*********0123",
			want:   "1234567890123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewLogger(LogConfig{Output: &buf}))
			out := buf.String()
			if strings.Contains(out, tt.absent) {
				t.Errorf("output %q should not contain %q", out, tt.absent)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q should contain %q", out, tt.want)
			}
		})
	}
}

func TestRedactingHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf}).With("api_key", "abc", "note", "4111111111111111")
	logger.Info("hi")

	entry := decodeLine(t, &buf)
	if entry["api_key"] != redact.Placeholder {
		t.Errorf("api_key = %v", entry["api_key"])
	}
	if entry["note"] != "************1111" {
		t.Errorf("note = %v", entry["note"])
	}
}

func TestRedactingHandler_CustomPattern(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(LogConfig{Output: &buf, RedactPatterns: []string{`acct-[0-9]+`}}).Info("lookup acct-991")
	if strings.Contains(buf.String(), "acct-991") {
		t.Errorf("custom pattern not applied: %q", buf.String())
	}
}

func TestContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddConversationID(ctx, "telegram:42")
	ctx = AddChannel(ctx, "telegram")
	logger.InfoContext(ctx, "turn")

	entry := decodeLine(t, &buf)
	for key, want := range map[string]string{
		"request_id":      "req-1",
		"conversation_id": "telegram:42",
		"channel":         "telegram",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
	if got := GetConversationID(ctx); got != "telegram:42" {
		t.Errorf("GetConversationID() = %q", got)
	}
	if got := GetConversationID(context.Background()); got != "" {
		t.Errorf("GetConversationID(empty) = %q", got)
	}
}
