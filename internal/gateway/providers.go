package gateway

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/agent/providers"
	"github.com/haasonsaas/teller/internal/config"
)

// NewProvider builds the configured default LLM provider.
func NewProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	if name == "" {
		name = config.ProviderOpenAI
	}
	pc, ok := cfg.Provider(name)
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not configured", name)
	}

	switch name {
	case config.ProviderOpenAI:
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   pc.RetryDelay,
		})
	case config.ProviderOpenRouter:
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       pc.APIKey,
			DefaultModel: pc.DefaultModel,
			AppName:      pc.AppName,
			SiteURL:      pc.SiteURL,
			BaseURL:      pc.BaseURL,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   pc.RetryDelay,
		})
	case config.ProviderAnthropic:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   pc.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}
