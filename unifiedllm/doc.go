// Package unifiedllm presents one provider-agnostic interface over the
// inference back-ends the agent loop can drive: OpenAI and
// OpenAI-compatible servers (Fireworks, llama-stack), Anthropic, Ollama,
// Gemini, and anything else gollm reaches.
//
// # Architecture
//
//   - ProviderAdapter: one implementation per back-end, translating
//     Request and Response to the wire format and mapping failures onto the
//     error hierarchy in errors.go.
//   - Client: routes requests to adapters and applies middleware (logging,
//     rate limiting, metrics).
//   - Completer: the three capabilities the agent loop uses. Structured
//     completions return a JSON document, tool completions return tool
//     calls, streaming completions return text deltas. Transport retries
//     live here and nowhere else.
//
// # Quick Start
//
//	adapter := unifiedllm.NewOpenAIAdapter("openai", unifiedllm.WithAPIKey(key))
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("openai", adapter))
//
//	plan, _ := client.CompleteStructured(ctx, unifiedllm.Request{
//	    Model:    "gpt-4o-mini",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Plan the work")},
//	}, schema)
//
// Back-ends without native JSON schema support receive the schema as a
// system instruction, and the JSON object is extracted from the reply text.
package unifiedllm
