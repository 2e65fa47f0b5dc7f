package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use a
// double underscore: AUTOLLAMA_PROVIDER__NAME sets provider.name.
const EnvPrefix = "AUTOLLAMA_"

// defaultYAML is loaded before any file or environment override.
const defaultYAML = `
sandbox_dir: ./sandbox
max_iterations: 5
max_tokens: 8192
call_timeout: 5m
require_tool_call: false
stop_on_approval: false
approval_token: LGTM
loop_detection_window: 10
provider:
  name: openai
retry:
  max_retries: 2
  base_delay: 1s
  max_delay: 60s
requests_per_minute: 0
log:
  level: info
  format: console
`

// Load reads configuration from the defaults, the YAML file at path (when
// path is non-empty) and AUTOLLAMA_* environment variables, in that order.
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		content = b
	}
	return load(content)
}

// LoadBytes is Load for an in-memory YAML document.
func LoadBytes(content []byte) (*Config, error) {
	return load(content)
}

func load(content []byte) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// AUTOLLAMA_MAX_ITERATIONS -> max_iterations
	// AUTOLLAMA_RETRY__BASE_DELAY -> retry.base_delay
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
