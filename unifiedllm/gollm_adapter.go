package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter serves providers that have no native adapter here (groq,
// mistral, deepseek, openrouter) through a gollm.LLM.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// NewGollmAdapter creates a GollmAdapter for the given gollm provider name.
// An empty API key lets gollm read it from the environment.
func NewGollmAdapter(provider string, opts ...AdapterOption) (*GollmAdapter, error) {
	cfg := newAdapterConfig(opts)
	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("no model configured for provider %q", provider),
		}}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.temperature != nil {
		gollmOpts = append(gollmOpts, gollm.SetTemperature(*cfg.temperature))
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.gollmOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm LLM for provider %s: %w", provider, err)
	}
	return &GollmAdapter{provider: provider, llm: llm, model: model}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{provider: provider, llm: llm}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string { return a.provider }

// SupportsStructuredOutput is false; the Client sends the schema as a
// system instruction instead.
func (a *GollmAdapter) SupportsStructuredOutput() bool { return false }

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, classifyError(a.provider, err)
	}
	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request. Back-ends gollm cannot stream from are
// served as a single delta.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	if !a.llm.SupportsStreaming() {
		return singleShotStream(ctx, func(ctx context.Context) (*Response, error) {
			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				return nil, classifyError(a.provider, err)
			}
			return a.buildResponse(req, text), nil
		}), nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, classifyError(a.provider, err)
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		var fullText strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: classifyError(a.provider, err)})
				return
			}
			if token == nil || token.Text == "" {
				continue
			}
			fullText.WriteString(token.Text)
			if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: token.Text}) {
				return
			}
		}

		send(ctx, ch, StreamEvent{Type: StreamFinish, Response: a.buildResponse(req, fullText.String())})
	}()
	return ch, nil
}

// translateRequest folds the conversation into a single gollm Prompt. gollm
// takes one user turn, so earlier assistant turns become labelled context.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	system, rest := splitSystem(req.Messages)

	var userParts []string
	for _, msg := range rest {
		text := msg.TextContent()
		if text == "" {
			continue
		}
		if msg.Role == RoleAssistant {
			text = "[Assistant]: " + text
		}
		userParts = append(userParts, text)
	}

	var promptOpts []gollm.PromptOption
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
		if req.ToolChoice != nil {
			promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
		}
	}

	return gollm.NewPrompt(strings.Join(userParts, "\n"), promptOpts...)
}

// applyRequestOptions pushes request-level parameters onto the shared LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", ResolveModelID(req.Model))
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls := parseInlineToolCalls(text)
	var parts []ContentPart
	if cleaned := stripInlineToolCalls(text, calls); cleaned != "" {
		parts = append(parts, TextPart(cleaned))
	}
	for _, tc := range calls {
		parts = append(parts, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	return &Response{
		ID:           "resp_" + uuid.NewString()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      Message{Role: RoleAssistant, Content: parts},
		FinishReason: finish,
		// gollm does not report usage.
		Usage: newUsage(countMessageTokens(req.Messages), CountTokens(text)),
	}
}

var inlineToolCallMarkers = []string{`{"tool_calls"`, `[{"name"`}

// parseInlineToolCalls extracts tool calls gollm returns as JSON text,
// either a bare array of {name, arguments} or an object wrapping one.
func parseInlineToolCalls(text string) []ToolCall {
	type rawCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var raw []rawCall
	if idx := strings.Index(text, inlineToolCallMarkers[0]); idx >= 0 {
		var wrapper struct {
			ToolCalls []struct {
				Function rawCall `json:"function"`
				rawCall
			} `json:"tool_calls"`
		}
		if err := json.NewDecoder(strings.NewReader(text[idx:])).Decode(&wrapper); err == nil {
			for _, tc := range wrapper.ToolCalls {
				if tc.Function.Name != "" {
					raw = append(raw, tc.Function)
				} else {
					raw = append(raw, tc.rawCall)
				}
			}
		}
	} else if idx := strings.Index(text, inlineToolCallMarkers[1]); idx >= 0 {
		_ = json.NewDecoder(strings.NewReader(text[idx:])).Decode(&raw)
	}

	calls := make([]ToolCall, 0, len(raw))
	for _, rc := range raw {
		if rc.Name == "" {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      rc.Name,
			Arguments: normalizeArguments(rc.Arguments),
		})
	}
	return calls
}

// normalizeArguments unwraps arguments that arrive as a JSON string holding
// an object.
func normalizeArguments(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	var s string
	if err := json.Unmarshal(args, &s); err == nil && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return args
}

func stripInlineToolCalls(text string, calls []ToolCall) string {
	if len(calls) == 0 {
		return strings.TrimSpace(text)
	}
	result := text
	for _, marker := range inlineToolCallMarkers {
		if idx := strings.Index(result, marker); idx != -1 {
			result = result[:idx]
		}
	}
	return strings.TrimSpace(result)
}
