// Package config loads autollama settings from defaults, an optional YAML
// file and AUTOLLAMA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/martinemde/autollama/agentloop"
	"github.com/martinemde/autollama/unifiedllm"
)

// Config is the complete runtime configuration.
type Config struct {
	Objective           string         `koanf:"objective"`
	SandboxDir          string         `koanf:"sandbox_dir"`
	MaxIterations       int            `koanf:"max_iterations"`
	Model               string         `koanf:"model"`
	Provider            ProviderConfig `koanf:"provider"`
	MaxTokens           int            `koanf:"max_tokens"`
	Temperature         *float64       `koanf:"temperature"`
	CallTimeout         Duration       `koanf:"call_timeout"`
	RequireToolCall     bool           `koanf:"require_tool_call"`
	StopOnApproval      bool           `koanf:"stop_on_approval"`
	ApprovalToken       string         `koanf:"approval_token"`
	PlanGuidelines      string         `koanf:"plan_guidelines"`
	LoopDetectionWindow int            `koanf:"loop_detection_window"`
	Retry               RetryConfig    `koanf:"retry"`
	RequestsPerMinute   int            `koanf:"requests_per_minute"` // 0 = unlimited
	Log                 LogConfig      `koanf:"log"`
	Metrics             MetricsConfig  `koanf:"metrics"`
}

// ProviderConfig selects the inference back-end.
type ProviderConfig struct {
	Name      string `koanf:"name"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	APIKeyEnv string `koanf:"api_key_env"`

	// PromptSchema sends structured-output schemas as a system instruction
	// for servers without native json_schema support.
	PromptSchema bool `koanf:"prompt_schema"`
}

// RetryConfig holds the transport retry policy.
type RetryConfig struct {
	MaxRetries int      `koanf:"max_retries"`
	BaseDelay  Duration `koanf:"base_delay"`
	MaxDelay   Duration `koanf:"max_delay"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // console or json
}

// MetricsConfig holds the Prometheus endpoint settings. An empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Provider names with a dedicated adapter or a gollm fallback.
const (
	ProviderOpenAI     = "openai"
	ProviderFireworks  = "fireworks"
	ProviderLlamaStack = "llama-stack"
	ProviderAnthropic  = "anthropic"
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
)

// providerDefaults holds the base URL and key variable for each provider.
var providerDefaults = map[string]struct {
	baseURL string
	keyEnv  string
}{
	ProviderOpenAI:     {keyEnv: "OPENAI_API_KEY"},
	ProviderFireworks:  {baseURL: "https://api.fireworks.ai/inference/v1", keyEnv: "FIREWORKS_API_KEY"},
	ProviderLlamaStack: {baseURL: "http://localhost:8321/v1/openai/v1", keyEnv: "LLAMA_STACK_API_KEY"},
	ProviderAnthropic:  {keyEnv: "ANTHROPIC_API_KEY"},
	ProviderOllama:     {baseURL: unifiedllm.DefaultOllamaURL},
	ProviderGemini:     {keyEnv: "GEMINI_API_KEY"},
	"groq":             {keyEnv: "GROQ_API_KEY"},
	"mistral":          {keyEnv: "MISTRAL_API_KEY"},
	"deepseek":         {keyEnv: "DEEPSEEK_API_KEY"},
	"openrouter":       {keyEnv: "OPENROUTER_API_KEY"},
	"cohere":           {keyEnv: "COHERE_API_KEY"},
}

// KnownProvider reports whether name can be wired to an adapter.
func KnownProvider(name string) bool {
	_, ok := providerDefaults[name]
	return ok
}

// applyDefaults fills values that depend on other settings.
func applyDefaults(cfg *Config) {
	cfg.Provider.Name = strings.ToLower(strings.TrimSpace(cfg.Provider.Name))
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = ProviderOpenAI
	}
	d := providerDefaults[cfg.Provider.Name]
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = d.baseURL
	}
	if cfg.Provider.APIKeyEnv == "" {
		cfg.Provider.APIKeyEnv = d.keyEnv
	}
	if cfg.Model == "" {
		cfg.Model = unifiedllm.DefaultModel(cfg.Provider.Name)
	}
	if cfg.ApprovalToken == "" {
		cfg.ApprovalToken = agentloop.DefaultApprovalToken
	}
	if cfg.PlanGuidelines == "" {
		cfg.PlanGuidelines = agentloop.DefaultPlanGuidelines
	}
}

// Overrides holds command-line values. Zero values leave the loaded
// configuration untouched.
type Overrides struct {
	Objective       string
	SandboxDir      string
	MaxIterations   int
	Provider        string
	Model           string
	BaseURL         string
	StopOnApproval  bool
	RequireToolCall bool
	LogLevel        string
	LogFormat       string
	MetricsAddr     string
}

// Apply merges o into c, re-derives provider defaults when the provider
// changes, and validates the result.
func (c *Config) Apply(o Overrides) error {
	if o.Objective != "" {
		c.Objective = o.Objective
	}
	if o.SandboxDir != "" {
		c.SandboxDir = o.SandboxDir
	}
	if o.MaxIterations != 0 {
		c.MaxIterations = o.MaxIterations
	}
	if p := strings.ToLower(strings.TrimSpace(o.Provider)); p != "" && p != c.Provider.Name {
		c.Provider = ProviderConfig{Name: p, PromptSchema: c.Provider.PromptSchema}
		c.Model = ""
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.BaseURL != "" {
		c.Provider.BaseURL = o.BaseURL
	}
	if o.StopOnApproval {
		c.StopOnApproval = true
	}
	if o.RequireToolCall {
		c.RequireToolCall = true
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Log.Format = o.LogFormat
	}
	if o.MetricsAddr != "" {
		c.Metrics.Addr = o.MetricsAddr
	}
	applyDefaults(c)
	return c.Validate()
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations))
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if strings.TrimSpace(c.SandboxDir) == "" {
		errs = append(errs, errors.New("sandbox_dir is required"))
	}
	if !KnownProvider(c.Provider.Name) {
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Name))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("max_tokens must not be negative"))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2, got %v", *c.Temperature))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests_per_minute must not be negative"))
	}
	if c.LoopDetectionWindow < 0 {
		errs = append(errs, errors.New("loop_detection_window must not be negative"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// APIKey returns the configured key, or the value of the provider's key
// variable when none is set inline.
func (c *Config) APIKey() string {
	if c.Provider.APIKey.IsSet() {
		return c.Provider.APIKey.Value()
	}
	if c.Provider.APIKeyEnv != "" {
		return os.Getenv(c.Provider.APIKeyEnv)
	}
	return ""
}

// AgentConfig converts to the loop's construction-time configuration.
func (c *Config) AgentConfig() agentloop.Config {
	return agentloop.Config{
		SandboxDir:          c.SandboxDir,
		MaxIterations:       c.MaxIterations,
		Model:               c.Model,
		Provider:            c.Provider.Name,
		CallTimeout:         c.CallTimeout.Duration(),
		MaxTokens:           c.MaxTokens,
		Temperature:         c.Temperature,
		RequireToolCall:     c.RequireToolCall,
		StopOnApproval:      c.StopOnApproval,
		ApprovalToken:       c.ApprovalToken,
		PlanGuidelines:      c.PlanGuidelines,
		LoopDetectionWindow: c.LoopDetectionWindow,
	}
}

// RetryPolicy converts to the transport retry policy.
func (c *Config) RetryPolicy() unifiedllm.RetryPolicy {
	p := unifiedllm.DefaultRetryPolicy()
	p.MaxRetries = c.Retry.MaxRetries
	if c.Retry.BaseDelay > 0 {
		p.BaseDelay = c.Retry.BaseDelay.Duration()
	}
	if c.Retry.MaxDelay > 0 {
		p.MaxDelay = c.Retry.MaxDelay.Duration()
	}
	return p
}
