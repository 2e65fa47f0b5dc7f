package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                       string   `json:"id"`
	Provider                 string   `json:"provider"`
	DisplayName              string   `json:"display_name"`
	ContextWindow            int      `json:"context_window"`
	MaxOutput                int      `json:"max_output,omitempty"`
	SupportsTools            bool     `json:"supports_tools"`
	SupportsStructuredOutput bool     `json:"supports_structured_output"`
	Aliases                  []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. The first entry per provider is the
// default for that provider.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, MaxOutput: 16384,
		SupportsTools: true, SupportsStructuredOutput: true,
		Aliases: []string{"4o-mini"},
	},
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: 16384,
		SupportsTools: true, SupportsStructuredOutput: true,
		Aliases: []string{"4o"},
	},

	// Fireworks and llama-stack speak the OpenAI wire protocol.
	{
		ID: "accounts/fireworks/models/llama-v3p3-70b-instruct", Provider: "fireworks", DisplayName: "Llama 3.3 70B Instruct (Fireworks)",
		ContextWindow: 131072, MaxOutput: 16384,
		SupportsTools: true, SupportsStructuredOutput: true,
		Aliases: []string{"fireworks-llama-3.3-70b"},
	},
	{
		ID: "meta-llama/Llama-3.3-70B-Instruct", Provider: "llama-stack", DisplayName: "Llama 3.3 70B Instruct",
		ContextWindow: 131072, MaxOutput: 8192,
		SupportsTools: true, SupportsStructuredOutput: true,
		Aliases: []string{"llama-3.3-70b"},
	},

	// Ollama
	{
		ID: "llama3.3", Provider: "ollama", DisplayName: "Llama 3.3 (local)",
		ContextWindow: 131072, MaxOutput: 8192,
		SupportsTools: true, SupportsStructuredOutput: true,
		Aliases: []string{"llama3.3:70b"},
	},
	{
		ID: "llama3.1", Provider: "ollama", DisplayName: "Llama 3.1 (local)",
		ContextWindow: 131072, MaxOutput: 8192,
		SupportsTools: true, SupportsStructuredOutput: true,
		Aliases: []string{"llama3.1:8b"},
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384,
		SupportsTools: true,
		Aliases:       []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: 8192,
		SupportsTools: true,
		Aliases:       []string{"haiku"},
	},

	// Gemini
	{
		ID: "gemini-2.5-flash", Provider: "gemini", DisplayName: "Gemini 2.5 Flash",
		ContextWindow: 1048576, MaxOutput: 65536,
		SupportsTools: true, SupportsStructuredOutput: true,
		Aliases: []string{"gemini-flash"},
	},
	{
		ID: "gemini-2.5-pro", Provider: "gemini", DisplayName: "Gemini 2.5 Pro",
		ContextWindow: 1048576, MaxOutput: 65536,
		SupportsTools: true, SupportsStructuredOutput: true,
		Aliases: []string{"gemini-pro"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ResolveModelID maps an alias to its catalog ID. Unknown names pass
// through so any model the back-end serves can be used.
func ResolveModelID(model string) string {
	if info := GetModelInfo(model); info != nil {
		return info.ID
	}
	return model
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModel returns the default model ID for a provider, or "" when the
// catalog has none.
func DefaultModel(provider string) string {
	for _, m := range Models {
		if m.Provider == provider {
			return m.ID
		}
	}
	return ""
}
