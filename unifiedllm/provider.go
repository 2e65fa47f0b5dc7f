package unifiedllm

import "context"

// ProviderAdapter is the interface every back-end implements.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "ollama").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events. The
	// channel is closed after a StreamFinish or StreamError event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// StructuredOutputSupporter is implemented by adapters whose back-end can
// constrain output to a JSON schema natively. Adapters without it receive
// the schema as a system prompt instruction instead.
type StructuredOutputSupporter interface {
	SupportsStructuredOutput() bool
}

func supportsStructuredOutput(a ProviderAdapter) bool {
	s, ok := a.(StructuredOutputSupporter)
	return ok && s.SupportsStructuredOutput()
}
