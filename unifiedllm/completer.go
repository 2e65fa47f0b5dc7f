package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Completer is the capability set the agent loop is written against. Each
// method is a single logical round trip; transport retries happen inside.
type Completer interface {
	// CompleteStructured returns a JSON document constrained to schema.
	CompleteStructured(ctx context.Context, req Request, schema Schema) (json.RawMessage, error)

	// CompleteWithTools offers req.ToolDefs to the model. The response holds
	// either text or one or more ToolCalls.
	CompleteWithTools(ctx context.Context, req Request) (*Response, error)

	// CompleteStreaming returns a finite event stream that can be consumed
	// once.
	CompleteStreaming(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

var _ Completer = (*Client)(nil)

// CompleteStructured asks for output matching schema. Adapters with native
// JSON schema support get a response_format; the others receive the schema
// as a system instruction. Output that is not a JSON object yields a
// NoObjectGeneratedError.
func (c *Client) CompleteStructured(ctx context.Context, req Request, schema Schema) (json.RawMessage, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	req.ResponseFormat = &ResponseFormat{Type: "json_schema", Schema: &schema}
	if !supportsStructuredOutput(adapter) {
		req.Messages = withSchemaInstruction(req.Messages, schema)
	}
	req.ToolDefs = nil
	req.ToolChoice = nil

	resp, err := Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		return c.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	raw, err := extractJSON(resp.Text())
	if err != nil {
		return nil, &NoObjectGeneratedError{SDKError: SDKError{
			Message: fmt.Sprintf("failed to parse structured output for %s", schema.Name),
			Cause:   err,
		}}
	}
	return raw, nil
}

// CompleteWithTools runs a function-calling completion.
func (c *Client) CompleteWithTools(ctx context.Context, req Request) (*Response, error) {
	if len(req.ToolDefs) == 0 {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "no tools offered to the model"}}
	}
	if req.ToolChoice == nil {
		req.ToolChoice = &ToolChoice{Mode: ToolChoiceAuto}
	}
	return Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		return c.Complete(ctx, req)
	})
}

// CompleteStreaming opens a text stream. Opening is retried, including an
// error the server reports before any text arrives; a failure after the
// first delta surfaces as a StreamError event.
func (c *Client) CompleteStreaming(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	req.ToolDefs = nil
	req.ToolChoice = nil
	return Retry(ctx, c.retry, func(ctx context.Context) (<-chan StreamEvent, error) {
		return c.Stream(ctx, req)
	})
}

// withSchemaInstruction appends the schema to the system prompt, or adds a
// system message when there is none.
func withSchemaInstruction(messages []Message, schema Schema) []Message {
	schemaJSON, _ := json.MarshalIndent(schema.Definition, "", "  ")
	instruction := fmt.Sprintf(
		"You must respond with valid JSON matching this schema:\n```json\n%s\n```\nRespond ONLY with the JSON object, no other text.",
		string(schemaJSON),
	)

	out := make([]Message, len(messages))
	copy(out, messages)
	for i, m := range out {
		if m.Role == RoleSystem {
			out[i] = SystemMessage(m.TextContent() + "\n" + instruction)
			return out
		}
	}
	return append([]Message{SystemMessage(instruction)}, out...)
}

// extractJSON pulls a JSON object out of model text, tolerating markdown
// fences and leading or trailing prose.
func extractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start < 0 || end < start {
			return nil, fmt.Errorf("no JSON object in output")
		}
		s = s[start : end+1]
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("output is not valid JSON")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}
