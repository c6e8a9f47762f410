// Package config loads the teller configuration file.
//
// Files are YAML, or JSON5 when the extension is .json or .json5.
// Environment references are expanded before parsing: ${VAR} and
// ${VAR:-default} may resolve to anything, while ${VAR:?hint} fails the load
// when VAR is unset or empty. A top-level $include (string or list) merges
// other files underneath the including one, up to eight files deep, and load
// errors name the include trail. Unknown fields are rejected.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for teller.
type Config struct {
	Version  int            `yaml:"version"`
	Engine   EngineConfig   `yaml:"engine"`
	LLM      LLMConfig      `yaml:"llm"`
	Session  SessionConfig  `yaml:"session"`
	RAG      RAGConfig      `yaml:"rag"`
	Channels ChannelsConfig `yaml:"channels"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// EngineConfig bounds and shapes each turn.
type EngineConfig struct {
	MaxModelCalls int `yaml:"max_model_calls"`
	MaxToolCalls  int `yaml:"max_tool_calls"`
	MaxSteps      int `yaml:"max_steps"`
	MaxTokens     int `yaml:"max_tokens"`

	// ApprovalTools lists tool names or patterns that pause for the user.
	// Omitted selects the banking tools; an empty list disables approvals.
	ApprovalTools []string `yaml:"approval_tools"`

	DocumentTool string        `yaml:"document_tool"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"`

	// SystemPromptFile is watched and reloaded on change. It takes
	// precedence over SystemPrompt.
	SystemPromptFile string `yaml:"system_prompt_file"`
	SystemPrompt     string `yaml:"system_prompt"`
}

// Supported provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	BaseURL      string        `yaml:"base_url"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`

	// AppName and SiteURL are sent to OpenRouter for attribution.
	AppName string `yaml:"app_name"`
	SiteURL string `yaml:"site_url"`
}

// Session backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// SessionConfig selects where conversations and interrupts are kept.
type SessionConfig struct {
	Backend string `yaml:"backend"`

	// DSN is the SQLite path or PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	MaxOpenConns int `yaml:"max_open_conns"`

	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate"`

	Redis RedisConfig `yaml:"redis"`
	Lock  LockConfig  `yaml:"lock"`
	Prune PruneConfig `yaml:"prune"`
}

type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// LockConfig configures the cross-process conversation lock used by the
// postgres and redis backends.
type LockConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

type PruneConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Schedule  string        `yaml:"schedule"`
	Retention time.Duration `yaml:"retention"`
}

// RAGConfig locates the document corpus.
type RAGConfig struct {
	// Path is a local file or directory, or an s3://bucket/key URI.
	Path     string `yaml:"path"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	Limit            int `yaml:"limit"`
	ChunkSize        int `yaml:"chunk_size"`
	ChunkOverlap     int `yaml:"chunk_overlap"`
	MaxContentLength int `yaml:"max_content_length"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// Telegram update modes.
const (
	TelegramModePolling = "polling"
	TelegramModeWebhook = "webhook"
)

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	Mode     string `yaml:"mode"`

	// Webhook settings, used when Mode is webhook.
	WebhookURL    string `yaml:"webhook_url"`
	WebhookListen string `yaml:"webhook_listen"`
	WebhookSecret string `yaml:"webhook_secret"`

	// RateLimit is outbound messages per second; RateBurst the bucket size.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	ShowSources bool `yaml:"show_sources"`
	MaxSources  int  `yaml:"max_sources"`

	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// AdminChats may run /index. Empty lets every chat reindex.
	AdminChats []int64 `yaml:"admin_chats"`

	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig controls transcription of Telegram voice messages.
type VoiceConfig struct {
	Enabled bool `yaml:"enabled"`

	// APIKey and BaseURL default to llm.providers.openai.
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`

	// MaxDuration rejects longer voice messages before downloading them.
	MaxDuration time.Duration `yaml:"max_duration"`
}

type ServerConfig struct {
	// MetricsAddr serves /metrics and /healthz. Empty disables the server.
	MetricsAddr string `yaml:"metrics_addr"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, as if loaded
// from an empty file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Engine.MaxModelCalls == 0 {
		cfg.Engine.MaxModelCalls = 10
	}
	if cfg.Engine.MaxToolCalls == 0 {
		cfg.Engine.MaxToolCalls = 10
	}
	if cfg.Engine.MaxSteps == 0 {
		cfg.Engine.MaxSteps = 50
	}
	if cfg.Engine.MaxTokens == 0 {
		cfg.Engine.MaxTokens = 1024
	}
	if cfg.Engine.ApprovalTools == nil {
		cfg.Engine.ApprovalTools = []string{"open_credit_card", "open_deposit"}
	}
	if cfg.Engine.DocumentTool == "" {
		cfg.Engine.DocumentTool = "rag_search"
	}
	if cfg.Engine.ToolTimeout == 0 {
		cfg.Engine.ToolTimeout = 30 * time.Second
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = ProviderOpenAI
	}
	cfg.LLM.DefaultProvider = strings.ToLower(cfg.LLM.DefaultProvider)

	if cfg.Session.Backend == "" {
		cfg.Session.Backend = BackendMemory
	}
	cfg.Session.Backend = strings.ToLower(cfg.Session.Backend)
	if cfg.Session.Backend == BackendSQLite && cfg.Session.DSN == "" {
		cfg.Session.DSN = "teller.db"
	}
	if cfg.Session.Redis.Prefix == "" {
		cfg.Session.Redis.Prefix = "teller:"
	}
	if cfg.Session.Lock.TTL == 0 {
		cfg.Session.Lock.TTL = 2 * time.Minute
	}
	if cfg.Session.Lock.AcquireTimeout == 0 {
		cfg.Session.Lock.AcquireTimeout = 30 * time.Second
	}
	if cfg.Session.Prune.Schedule == "" {
		cfg.Session.Prune.Schedule = "@hourly"
	}
	if cfg.Session.Prune.Retention == 0 {
		cfg.Session.Prune.Retention = 30 * 24 * time.Hour
	}

	if cfg.RAG.Limit == 0 {
		cfg.RAG.Limit = 4
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 500
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 50
	}

	tg := &cfg.Channels.Telegram
	if tg.Mode == "" {
		tg.Mode = TelegramModePolling
	}
	tg.Mode = strings.ToLower(tg.Mode)
	if tg.WebhookListen == "" {
		tg.WebhookListen = ":8443"
	}
	if tg.RateLimit == 0 {
		tg.RateLimit = 25
	}
	if tg.RateBurst == 0 {
		tg.RateBurst = 5
	}
	if tg.MaxSources == 0 {
		tg.MaxSources = 3
	}
	if tg.TurnTimeout == 0 {
		tg.TurnTimeout = 2 * time.Minute
	}
	if tg.Voice.Model == "" {
		tg.Voice.Model = "whisper-1"
	}
	if tg.Voice.Language == "" {
		tg.Voice.Language = "ru"
	}
	if tg.Voice.MaxDuration == 0 {
		tg.Voice.MaxDuration = 5 * time.Minute
	}
	if tg.Voice.APIKey == "" {
		if openai, ok := cfg.LLM.Provider(ProviderOpenAI); ok {
			tg.Voice.APIKey = openai.APIKey
			if tg.Voice.BaseURL == "" {
				tg.Voice.BaseURL = openai.BaseURL
			}
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "teller"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}
