package main

import (
	"context"

	"github.com/martinemde/autollama/config"
	"github.com/martinemde/autollama/unifiedllm"
	"github.com/teilomillet/gollm"
)

// newAdapter builds the adapter for the configured provider. Providers
// without a dedicated adapter go through gollm.
func newAdapter(ctx context.Context, cfg *config.Config) (unifiedllm.ProviderAdapter, error) {
	opts := adapterOptions(cfg)
	switch cfg.Provider.Name {
	case config.ProviderOpenAI, config.ProviderFireworks, config.ProviderLlamaStack:
		return unifiedllm.NewOpenAIAdapter(cfg.Provider.Name, opts...), nil
	case config.ProviderAnthropic:
		return unifiedllm.NewAnthropicAdapter(opts...), nil
	case config.ProviderOllama:
		a, err := unifiedllm.NewOllamaAdapter(opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.ProviderGemini:
		a, err := unifiedllm.NewGeminiAdapter(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		opts = append(opts, unifiedllm.WithGollmOptions(gollmOptions(cfg)...))
		a, err := unifiedllm.NewGollmAdapter(cfg.Provider.Name, opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

func adapterOptions(cfg *config.Config) []unifiedllm.AdapterOption {
	opts := []unifiedllm.AdapterOption{unifiedllm.WithModel(cfg.Model)}
	if key := cfg.APIKey(); key != "" {
		opts = append(opts, unifiedllm.WithAPIKey(key))
	}
	if cfg.Provider.BaseURL != "" {
		opts = append(opts, unifiedllm.WithBaseURL(cfg.Provider.BaseURL))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, unifiedllm.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Temperature != nil {
		opts = append(opts, unifiedllm.WithTemperature(*cfg.Temperature))
	}
	if cfg.Provider.PromptSchema {
		opts = append(opts, unifiedllm.WithPromptSchema())
	}
	return opts
}

// gollmOptions bounds gollm's own HTTP timeout by the per-call timeout.
func gollmOptions(cfg *config.Config) []gollm.ConfigOption {
	var opts []gollm.ConfigOption
	if d := cfg.CallTimeout.Duration(); d > 0 {
		opts = append(opts, gollm.SetTimeout(d))
	}
	return opts
}
