package providers

import (
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/teller/internal/agent"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig holds configuration for the OpenRouter provider.
type OpenRouterConfig struct {
	// APIKey is the OpenRouter API key (required)
	APIKey string

	// DefaultModel uses provider/model ids, e.g. "openai/gpt-4o-mini".
	DefaultModel string

	// AppName and SiteURL are sent as X-Title and HTTP-Referer for the
	// OpenRouter dashboard.
	AppName string
	SiteURL string

	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

var openRouterModels = []agent.Model{
	{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000},
	{ID: "openai/gpt-4o", Name: "GPT-4o", ContextSize: 128000},
	{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4", ContextSize: 200000},
	{ID: "google/gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextSize: 1048576},
	{ID: "meta-llama/llama-3.3-70b-instruct", Name: "Llama 3.3 70B", ContextSize: 131072},
}

// NewOpenRouterProvider returns an OpenAI-compatible provider pointed at
// OpenRouter.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenAIProvider, error) {
	baseURL := cfg.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = openRouterBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "openai/gpt-4o-mini"
	}

	headers := http.Header{}
	if cfg.AppName != "" {
		headers.Set("X-Title", cfg.AppName)
	}
	if cfg.SiteURL != "" {
		headers.Set("HTTP-Referer", cfg.SiteURL)
	}

	var client *http.Client
	if len(headers) > 0 {
		client = &http.Client{Transport: &headerTransport{headers: headers, next: http.DefaultTransport}}
	}

	return newOpenAICompatible("openrouter", OpenAIConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      baseURL,
		DefaultModel: model,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		HTTPClient:   client,
	}, openRouterModels)
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	headers http.Header
	next    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for key, values := range t.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return t.next.RoundTrip(req)
}
