package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "teller.yaml", `
engine:
  max_steps: 20
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "teller.yaml", `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d", cfg.Version)
	}
	if cfg.Engine.MaxModelCalls != 10 || cfg.Engine.MaxToolCalls != 10 || cfg.Engine.MaxSteps != 50 {
		t.Errorf("engine limits = %+v", cfg.Engine)
	}
	if len(cfg.Engine.ApprovalTools) != 2 {
		t.Errorf("ApprovalTools = %v", cfg.Engine.ApprovalTools)
	}
	if cfg.Engine.ToolTimeout != 30*time.Second {
		t.Errorf("ToolTimeout = %v", cfg.Engine.ToolTimeout)
	}
	if cfg.Session.Backend != BackendMemory {
		t.Errorf("Backend = %q", cfg.Session.Backend)
	}
	if cfg.Channels.Telegram.Mode != TelegramModePolling {
		t.Errorf("Telegram.Mode = %q", cfg.Channels.Telegram.Mode)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	voice := cfg.Channels.Telegram.Voice
	if voice.APIKey != "sk-test" || voice.Model != "whisper-1" || voice.MaxDuration != 5*time.Minute {
		t.Errorf("Voice = %+v", voice)
	}
}

func TestLoadEmptyApprovalListDisables(t *testing.T) {
	path := writeConfig(t, "teller.yaml", `
engine:
  approval_tools: []
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.ApprovalTools == nil || len(cfg.Engine.ApprovalTools) != 0 {
		t.Errorf("ApprovalTools = %#v, want empty non-nil", cfg.Engine.ApprovalTools)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TELLER_TEST_KEY", "sk-from-env")
	path := writeConfig(t, "teller.yaml", `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${TELLER_TEST_KEY}
      default_model: ${TELLER_TEST_MISSING:-claude-sonnet-4-20250514}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	provider, ok := cfg.LLM.Provider("anthropic")
	if !ok {
		t.Fatal("anthropic provider missing")
	}
	if provider.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", provider.APIKey)
	}
	if provider.DefaultModel != "claude-sonnet-4-20250514" {
		t.Errorf("DefaultModel = %q", provider.DefaultModel)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, dir, "base.yaml", `
engine:
  max_steps: 20
  max_tool_calls: 4
logging:
  level: debug
`)
	path := writeFileAt(t, dir, "teller.yaml", `
$include: base.yaml
engine:
  max_steps: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxSteps != 30 {
		t.Errorf("MaxSteps = %d, including file should win", cfg.Engine.MaxSteps)
	}
	if cfg.Engine.MaxToolCalls != 4 {
		t.Errorf("MaxToolCalls = %d, want included value", cfg.Engine.MaxToolCalls)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFileAt(t, dir, "b.yaml", "$include: a.yaml\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("Load() error = %v, want include cycle", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "teller.json5", `{
  // comments and trailing commas are allowed
  session: {backend: "sqlite", dsn: "/tmp/teller.db",},
  engine: {max_model_calls: 3, tool_timeout: "5s"},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Backend != BackendSQLite || cfg.Session.DSN != "/tmp/teller.db" {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Engine.MaxModelCalls != 3 || cfg.Engine.ToolTimeout != 5*time.Second {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "unknown default provider",
			content: `
llm:
  default_provider: gemini
`,
			want: "default_provider",
		},
		{
			name: "default provider not configured",
			content: `
llm:
  default_provider: anthropic
  providers:
    openai: {}
`,
			want: "not configured",
		},
		{
			name: "unsupported provider key",
			content: `
llm:
  default_provider: openai
  providers:
    openai: {}
    ollama: {}
`,
			want: "llm.providers.ollama",
		},
		{
			name: "postgres without dsn",
			content: `
session:
  backend: postgres
`,
			want: "session.dsn",
		},
		{
			name: "redis without url",
			content: `
session:
  backend: redis
`,
			want: "session.redis.url",
		},
		{
			name: "unknown backend",
			content: `
session:
  backend: mongo
`,
			want: "session.backend",
		},
		{
			name: "bad prune schedule",
			content: `
session:
  prune:
    enabled: true
    schedule: "every tuesday"
`,
			want: "session.prune.schedule",
		},
		{
			name: "telegram without token",
			content: `
channels:
  telegram:
    enabled: true
`,
			want: "bot_token",
		},
		{
			name: "webhook without https url",
			content: `
channels:
  telegram:
    enabled: true
    bot_token: abc
    mode: webhook
    webhook_url: http://example.com/hook
`,
			want: "webhook_url",
		},
		{
			name: "voice without api key",
			content: `
channels:
  telegram:
    enabled: true
    bot_token: abc
    voice:
      enabled: true
`,
			want: "channels.telegram.voice",
		},
		{
			name: "bad log level",
			content: `
logging:
  level: loud
`,
			want: "logging.level",
		},
		{
			name: "sampling out of range",
			content: `
tracing:
  sampling_rate: 2
`,
			want: "sampling_rate",
		},
		{
			name: "newer version",
			content: `
version: 7
`,
			want: "newer than this build",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "teller.yaml", tt.content))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, "teller.yaml", `
version: 1
engine:
  max_model_calls: 6
  system_prompt_file: prompts/system.md
llm:
  default_provider: openrouter
  providers:
    openrouter:
      api_key: or-key
      default_model: openai/gpt-4o-mini
      app_name: teller
session:
  backend: postgres
  dsn: postgres://teller@localhost/teller?sslmode=disable
  prune:
    enabled: true
    schedule: "0 3 * * *"
    retention: 720h
rag:
  path: s3://bank-docs/corpus.json
  region: eu-central-1
channels:
  telegram:
    enabled: true
    bot_token: "123:abc"
    mode: webhook
    webhook_url: https://bot.example.com/telegram
    show_sources: true
server:
  metrics_addr: ":9090"
tracing:
  endpoint: localhost:4317
  insecure: true
  sampling_rate: 0.25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Session.Prune.Retention != 720*time.Hour {
		t.Errorf("Retention = %v", cfg.Session.Prune.Retention)
	}
	if !cfg.Channels.Telegram.ShowSources {
		t.Error("ShowSources not decoded")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if !strings.Contains(string(data), "approval_tools") {
		t.Error("schema does not use yaml field names")
	}
	if doc["title"] != "teller configuration" {
		t.Errorf("title = %v", doc["title"])
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TELLER_A", "alpha")
	tests := []struct {
		in   string
		want string
	}{
		{"${TELLER_A}", "alpha"},
		{"x-${TELLER_A}-y", "x-alpha-y"},
		{"${TELLER_UNSET_VAR}", ""},
		{"${TELLER_UNSET_VAR:-fallback}", "fallback"},
		{"$include: a.yaml", "$include: a.yaml"},
		{"$TELLER_A", "$TELLER_A"},
	}
	for _, tt := range tests {
		got, err := expandEnv(tt.in)
		if err != nil {
			t.Errorf("expandEnv(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnvRequired(t *testing.T) {
	t.Setenv("TELLER_BOT_TOKEN", "123:abc")
	t.Setenv("TELLER_EMPTY", "")

	got, err := expandEnv("token: ${TELLER_BOT_TOKEN:?telegram bot token}")
	if err != nil || got != "token: 123:abc" {
		t.Fatalf("expandEnv() = %q, %v", got, err)
	}

	_, err = expandEnv("a: ${TELLER_EMPTY:?}\nb: ${TELLER_UNSET_KEY:?openai key}\nc: ${TELLER_UNSET_KEY:?again}\n")
	var missing *MissingEnvError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *MissingEnvError", err)
	}
	if strings.Join(missing.Names, ",") != "TELLER_EMPTY,TELLER_UNSET_KEY" {
		t.Errorf("Names = %v", missing.Names)
	}
	if !strings.Contains(err.Error(), "TELLER_UNSET_KEY (openai key)") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestLoadRequiredEnvNamesFile(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, dir, "secrets.yaml", `
channels:
  telegram:
    bot_token: ${TELLER_TEST_UNSET_TOKEN:?bot token}
`)
	path := writeFileAt(t, dir, "teller.yaml", "$include: secrets.yaml\n")

	_, err := Load(path)
	var missing *MissingEnvError
	if !errors.As(err, &missing) {
		t.Fatalf("Load() error = %v, want *MissingEnvError", err)
	}
	if !strings.Contains(err.Error(), "teller.yaml -> secrets.yaml: ") {
		t.Errorf("error %q does not name the include trail", err.Error())
	}
}

func TestLoadIncludeErrors(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < maxIncludeDepth+1; i++ {
		writeFileAt(t, dir, fmt.Sprintf("deep%d.yaml", i), fmt.Sprintf("$include: deep%d.yaml\n", i+1))
	}
	writeFileAt(t, dir, "bad-entry.yaml", "$include: [base.yaml, 3]\n")
	writeFileAt(t, dir, "missing.yaml", "$include: nowhere.yaml\n")
	writeFileAt(t, dir, "two-docs.yaml", "engine: {}\n---\nengine: {}\n")

	tests := []struct {
		file string
		want string
	}{
		{"deep0.yaml", "nested deeper than 8 files"},
		{"bad-entry.yaml", "$include entries must be strings"},
		{"missing.yaml", "missing.yaml -> nowhere.yaml: "},
		{"two-docs.yaml", "single YAML document"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			_, err := LoadRaw(filepath.Join(dir, tt.file))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadRaw() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeConfig(t, "teller.yaml", "# nothing here\n")
	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("raw = %v, want empty", raw)
	}
}

func TestLoadIncludeListMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, dir, "one.yaml", "engine:\n  max_steps: 11\n  max_tool_calls: 3\nlogging:\n  level: debug\n")
	writeFileAt(t, dir, "two.yaml", "engine:\n  max_steps: 22\n")
	path := writeFileAt(t, dir, "teller.yaml", "$include:\n  - one.yaml\n  - two.yaml\nlogging:\n  format: json\n")

	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	engine := raw["engine"].(map[string]any)
	if engine["max_steps"] != 22 || engine["max_tool_calls"] != 3 {
		t.Errorf("engine = %v, later include should win per key", engine)
	}
	logging := raw["logging"].(map[string]any)
	if logging["level"] != "debug" || logging["format"] != "json" {
		t.Errorf("logging = %v", logging)
	}
	if _, ok := raw[includeKey]; ok {
		t.Error("$include key leaked into the merged map")
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	return writeFileAt(t, t.TempDir(), name, contents)
}

func writeFileAt(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
