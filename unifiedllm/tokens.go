package unifiedllm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// CountTokens returns the cl100k token count of text. Non-OpenAI models
// tokenize differently, so treat the result as an estimate. Falls back to
// four characters per token when the codec is unavailable.
func CountTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			codec = c
		}
	})
	if codec == nil {
		return len(text) / 4
	}
	n, err := codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// countMessageTokens estimates the prompt size of a request.
func countMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += CountTokens(m.TextContent())
	}
	return total
}
