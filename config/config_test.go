package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./sandbox", cfg.SandboxDir)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 8192, cfg.MaxTokens)
	assert.Equal(t, 5*time.Minute, cfg.CallTimeout.Duration())
	assert.Equal(t, "LGTM", cfg.ApprovalToken)
	assert.Equal(t, 10, cfg.LoopDetectionWindow)
	assert.Equal(t, ProviderOpenAI, cfg.Provider.Name)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Provider.APIKeyEnv)
	assert.NotEmpty(t, cfg.Model, "model should default from the catalog")
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Duration())
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay.Duration())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Nil(t, cfg.Temperature)
	assert.False(t, cfg.StopOnApproval)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autollama.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
objective: Build a calculator CLI
sandbox_dir: /tmp/work
max_iterations: 3
model: accounts/fireworks/models/llama-v3p1-405b-instruct
temperature: 0.2
stop_on_approval: true
provider:
  name: fireworks
retry:
  base_delay: 250ms
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Build a calculator CLI", cfg.Objective)
	assert.Equal(t, "/tmp/work", cfg.SandboxDir)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, ProviderFireworks, cfg.Provider.Name)
	assert.Equal(t, "https://api.fireworks.ai/inference/v1", cfg.Provider.BaseURL)
	assert.Equal(t, "FIREWORKS_API_KEY", cfg.Provider.APIKeyEnv)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-9)
	assert.True(t, cfg.StopOnApproval)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay.Duration())
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay.Duration(), "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTOLLAMA_MAX_ITERATIONS", "7")
	t.Setenv("AUTOLLAMA_SANDBOX_DIR", "/srv/sandbox")
	t.Setenv("AUTOLLAMA_PROVIDER__NAME", "ollama")
	t.Setenv("AUTOLLAMA_RETRY__MAX_DELAY", "5s")
	t.Setenv("AUTOLLAMA_LOG__FORMAT", "json")

	cfg, err := LoadBytes([]byte("max_iterations: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxIterations, "env overrides file")
	assert.Equal(t, "/srv/sandbox", cfg.SandboxDir)
	assert.Equal(t, ProviderOllama, cfg.Provider.Name)
	assert.Equal(t, "http://localhost:11434", cfg.Provider.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxDelay.Duration())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "max_iterations", envKey("AUTOLLAMA_MAX_ITERATIONS"))
	assert.Equal(t, "provider.api_key_env", envKey("AUTOLLAMA_PROVIDER__API_KEY_ENV"))
	assert.Equal(t, "log.level", envKey("AUTOLLAMA_LOG__LEVEL"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero iterations", "max_iterations: 0", "max_iterations must be at least 1"},
		{"empty sandbox", "sandbox_dir: \"\"", "sandbox_dir is required"},
		{"unknown provider", "provider:\n  name: nope", `unknown provider "nope"`},
		{"bad temperature", "temperature: 3.5", "temperature must be between 0 and 2"},
		{"bad log format", "log:\n  format: xml", "log.format must be console or json"},
		{"negative window", "loop_detection_window: -1", "loop_detection_window must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRequiresModel(t *testing.T) {
	cfg := &Config{MaxIterations: 1, SandboxDir: "x", Provider: ProviderConfig{Name: "openai"}, Log: LogConfig{Format: "console"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
}

func TestAPIKey(t *testing.T) {
	t.Setenv("MY_KEY", "from-env")

	cfg := &Config{Provider: ProviderConfig{APIKeyEnv: "MY_KEY"}}
	assert.Equal(t, "from-env", cfg.APIKey())

	cfg.Provider.APIKey = "inline"
	assert.Equal(t, "inline", cfg.APIKey())
}

func TestAgentConfig(t *testing.T) {
	cfg, err := LoadBytes([]byte("max_iterations: 4\nrequire_tool_call: true\ncall_timeout: 30s\n"))
	require.NoError(t, err)

	ac := cfg.AgentConfig()
	assert.Equal(t, 4, ac.MaxIterations)
	assert.True(t, ac.RequireToolCall)
	assert.Equal(t, 30*time.Second, ac.CallTimeout)
	assert.Equal(t, cfg.Model, ac.Model)
	assert.Equal(t, "openai", ac.Provider)
	assert.NoError(t, ac.Validate())
}

func TestRetryPolicy(t *testing.T) {
	cfg, err := LoadBytes([]byte("retry:\n  max_retries: 4\n  base_delay: 2s\n"))
	require.NoError(t, err)

	p := cfg.RetryPolicy()
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 2*time.Second, p.BaseDelay)
	assert.Equal(t, time.Minute, p.MaxDelay)
	assert.True(t, p.Jitter)
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("soon")))
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-123", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"[REDACTED]"`, string(b))

	assert.Equal(t, "", Secret("").String())
}

func TestApplyOverrides(t *testing.T) {
	cfg, err := LoadBytes([]byte("model: gpt-4o\nmax_iterations: 2\n"))
	require.NoError(t, err)

	err = cfg.Apply(Overrides{
		Objective:      "Write a haiku generator",
		MaxIterations:  4,
		Provider:       "Ollama",
		StopOnApproval: true,
		LogLevel:       "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "Write a haiku generator", cfg.Objective)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, ProviderOllama, cfg.Provider.Name)
	assert.Equal(t, "http://localhost:11434", cfg.Provider.BaseURL)
	assert.NotEqual(t, "gpt-4o", cfg.Model, "switching provider drops the old model")
	assert.True(t, cfg.StopOnApproval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyOverridesKeepsProvider(t *testing.T) {
	cfg, err := LoadBytes([]byte("model: gpt-4o\n"))
	require.NoError(t, err)

	require.NoError(t, cfg.Apply(Overrides{Provider: "openai", BaseURL: "http://proxy:8080/v1"}))
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "http://proxy:8080/v1", cfg.Provider.BaseURL)
}

func TestApplyOverridesValidates(t *testing.T) {
	cfg, err := LoadBytes(nil)
	require.NoError(t, err)
	assert.Error(t, cfg.Apply(Overrides{Provider: "mystery"}))
}
