package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter talks to the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	cfg    *adapterConfig
}

// NewAnthropicAdapter creates an adapter. An empty API key lets the SDK
// read ANTHROPIC_API_KEY.
func NewAnthropicAdapter(opts ...AdapterOption) *AnthropicAdapter {
	cfg := newAdapterConfig(opts)
	if cfg.model == "" {
		cfg.model = DefaultModel("anthropic")
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &AnthropicAdapter{client: anthropic.NewClient(reqOpts...), cfg: cfg}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// SupportsStructuredOutput is false; the Messages API has no response
// format parameter.
func (a *AnthropicAdapter) SupportsStructuredOutput() bool { return false }

// Complete sends a blocking Messages request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(msg), nil
}

// Stream sends a streaming Messages request.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		msg := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: &StreamFailedError{SDKError: SDKError{Message: "accumulate stream event", Cause: err}}})
				return
			}
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: text.Text}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
			return
		}
		send(ctx, ch, StreamEvent{Type: StreamFinish, Response: a.buildResponse(&msg)})
	}()
	return ch, nil
}

func (a *AnthropicAdapter) buildParams(req Request) anthropic.MessageNewParams {
	system, rest := splitSystem(req.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.TextContent())
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.modelFor(req)),
		MaxTokens: int64(a.cfg.maxTokensFor(req)),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if t := a.cfg.temperatureFor(req); t != nil {
		params.Temperature = anthropic.Float(*t)
	}

	if len(req.ToolDefs) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.ToolDefs))
		for _, td := range req.ToolDefs {
			tool := anthropic.ToolParam{
				Name:        td.Name,
				Description: anthropic.String(td.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties:  td.Parameters["properties"],
					Required:    requiredFields(td.Parameters),
					ExtraFields: schemaExtras(td.Parameters),
				},
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
		}
		params.Tools = tools

		mode := ToolChoiceAuto
		if req.ToolChoice != nil && req.ToolChoice.Mode != "" {
			mode = req.ToolChoice.Mode
		}
		switch mode {
		case ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}
	return params
}

// requiredFields reads the "required" list of a JSON Schema object held as
// either []string or []any.
// schemaExtras returns the schema keywords ToolInputSchemaParam has no field
// for, such as additionalProperties, so they reach the wire unchanged.
func schemaExtras(schema map[string]any) map[string]any {
	var extras map[string]any
	for k, v := range schema {
		switch k {
		case "type", "properties", "required":
			continue
		}
		if extras == nil {
			extras = make(map[string]any)
		}
		extras[k] = v
	}
	return extras
}

func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (a *AnthropicAdapter) buildResponse(msg *anthropic.Message) *Response {
	out := &Response{
		ID:       msg.ID,
		Model:    string(msg.Model),
		Provider: "anthropic",
		Message:  Message{Role: RoleAssistant},
		Usage:    newUsage(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)),
	}

	var text strings.Builder
	for i := range msg.Content {
		block := &msg.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			args := json.RawMessage(use.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.Message.Content = append(out.Message.Content, ToolCallPart(use.ID, use.Name, args))
		}
	}
	if text.Len() > 0 {
		out.Message.Content = append([]ContentPart{TextPart(text.String())}, out.Message.Content...)
	}

	raw := string(msg.StopReason)
	switch raw {
	case "end_turn", "stop_sequence":
		out.FinishReason = FinishReason{Reason: "stop", Raw: raw}
	case "max_tokens":
		out.FinishReason = FinishReason{Reason: "length", Raw: raw}
	case "tool_use":
		out.FinishReason = FinishReason{Reason: "tool_calls", Raw: raw}
	default:
		out.FinishReason = FinishReason{Reason: "other", Raw: raw}
	}
	return out
}

func (a *AnthropicAdapter) translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), "anthropic", err, retryAfter(apiErr.Response))
	}
	return classifyError("anthropic", err)
}
