package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Validate checks cross-field constraints. It expects defaults to be
// applied.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}

	if c.Engine.MaxModelCalls < 0 || c.Engine.MaxToolCalls < 0 || c.Engine.MaxSteps < 0 {
		add("engine: limits must not be negative")
	}
	if c.Engine.MaxTokens < 0 {
		add("engine.max_tokens must not be negative")
	}
	if c.Engine.ToolTimeout < 0 {
		add("engine.tool_timeout must not be negative")
	}
	for _, pattern := range c.Engine.ApprovalTools {
		if strings.TrimSpace(pattern) == "" {
			add("engine.approval_tools must not contain blank entries")
			break
		}
	}

	known := map[string]bool{ProviderOpenAI: true, ProviderOpenRouter: true, ProviderAnthropic: true}
	names := make([]string, 0, len(c.LLM.Providers))
	for name := range c.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !known[strings.ToLower(name)] {
			add("llm.providers.%s: unsupported provider (want openai, openrouter or anthropic)", name)
		}
		if c.LLM.Providers[name].MaxRetries < 0 {
			add("llm.providers.%s.max_retries must not be negative", name)
		}
	}
	if !known[c.LLM.DefaultProvider] {
		add("llm.default_provider %q is not supported", c.LLM.DefaultProvider)
	} else if len(c.LLM.Providers) > 0 {
		if _, ok := c.LLM.Provider(c.LLM.DefaultProvider); !ok {
			add("llm.default_provider %q is not configured under llm.providers", c.LLM.DefaultProvider)
		}
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if strings.TrimSpace(c.Session.DSN) == "" {
			add("session.dsn is required for the %s backend", c.Session.Backend)
		}
	case BackendRedis:
		if strings.TrimSpace(c.Session.Redis.URL) == "" {
			add("session.redis.url is required for the redis backend")
		}
	default:
		add("session.backend %q must be memory, sqlite, postgres or redis", c.Session.Backend)
	}
	if c.Session.Prune.Enabled {
		if c.Session.Prune.Retention <= 0 {
			add("session.prune.retention must be positive")
		}
		if _, err := cron.ParseStandard(c.Session.Prune.Schedule); err != nil {
			add("session.prune.schedule: %v", err)
		}
	}
	if c.Session.Lock.TTL < 0 || c.Session.Lock.AcquireTimeout < 0 {
		add("session.lock durations must not be negative")
	}

	if c.RAG.Limit < 0 {
		add("rag.limit must not be negative")
	}
	if c.RAG.ChunkSize < 0 || c.RAG.ChunkOverlap < 0 {
		add("rag.chunk_size and rag.chunk_overlap must not be negative")
	}
	if strings.HasPrefix(c.RAG.Path, "s3://") && strings.Trim(strings.TrimPrefix(c.RAG.Path, "s3://"), "/") == "" {
		add("rag.path %q names no bucket", c.RAG.Path)
	}

	tg := c.Channels.Telegram
	if tg.Enabled {
		if strings.TrimSpace(tg.BotToken) == "" {
			add("channels.telegram.bot_token is required when telegram is enabled")
		}
		switch tg.Mode {
		case TelegramModePolling:
		case TelegramModeWebhook:
			u, err := url.Parse(tg.WebhookURL)
			if err != nil || u.Scheme != "https" || u.Host == "" {
				add("channels.telegram.webhook_url must be an https URL in webhook mode")
			}
		default:
			add("channels.telegram.mode %q must be polling or webhook", tg.Mode)
		}
		if tg.RateLimit < 0 || tg.RateBurst < 0 {
			add("channels.telegram rate limits must not be negative")
		}
		if tg.Voice.Enabled && strings.TrimSpace(tg.Voice.APIKey) == "" {
			add("channels.telegram.voice needs api_key or llm.providers.openai.api_key")
		}
		if tg.Voice.MaxDuration < 0 {
			add("channels.telegram.voice.max_duration must not be negative")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format %q must be json or text", c.Logging.Format)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Provider returns the named provider settings, matched case-insensitively.
func (c LLMConfig) Provider(name string) (LLMProviderConfig, bool) {
	for key, value := range c.Providers {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return LLMProviderConfig{}, false
}
