package unifiedllm

import (
	"net/http"

	"github.com/teilomillet/gollm"
)

// AdapterOption configures a provider adapter.
type AdapterOption func(*adapterConfig)

type adapterConfig struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
	httpClient  *http.Client
	// promptSchema sends structured output schemas as prompt text even when
	// the back-end advertises native support.
	promptSchema bool
	gollmOpts    []gollm.ConfigOption
}

func newAdapterConfig(opts []AdapterOption) *adapterConfig {
	cfg := &adapterConfig{maxTokens: 4096}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) AdapterOption {
	return func(c *adapterConfig) {
		c.apiKey = key
	}
}

// WithBaseURL points the adapter at a non-default endpoint, such as an
// OpenAI-compatible server or a remote Ollama host.
func WithBaseURL(url string) AdapterOption {
	return func(c *adapterConfig) {
		c.baseURL = url
	}
}

// WithModel sets the model used when a request leaves Model empty.
func WithModel(model string) AdapterOption {
	return func(c *adapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default output token limit.
func WithMaxTokens(n int) AdapterOption {
	return func(c *adapterConfig) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) AdapterOption {
	return func(c *adapterConfig) {
		c.temperature = &t
	}
}

// WithHTTPClient overrides the HTTP client used by SDK-backed adapters.
func WithHTTPClient(hc *http.Client) AdapterOption {
	return func(c *adapterConfig) {
		c.httpClient = hc
	}
}

// WithPromptSchema disables native structured output.
func WithPromptSchema() AdapterOption {
	return func(c *adapterConfig) {
		c.promptSchema = true
	}
}

// WithGollmOptions adds extra gollm configuration options. Only the gollm
// adapter reads them.
func WithGollmOptions(opts ...gollm.ConfigOption) AdapterOption {
	return func(c *adapterConfig) {
		c.gollmOpts = append(c.gollmOpts, opts...)
	}
}

func (c *adapterConfig) modelFor(req Request) string {
	if req.Model != "" {
		return ResolveModelID(req.Model)
	}
	return c.model
}

func (c *adapterConfig) maxTokensFor(req Request) int {
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		return *req.MaxTokens
	}
	return c.maxTokens
}

func (c *adapterConfig) temperatureFor(req Request) *float64 {
	if req.Temperature != nil {
		return req.Temperature
	}
	return c.temperature
}
