package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is the address of a local Ollama server.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaAdapter talks to an Ollama server's /api/chat endpoint.
type OllamaAdapter struct {
	client *api.Client
	cfg    *adapterConfig
}

// NewOllamaAdapter creates an adapter for the server at the configured base
// URL, or DefaultOllamaURL.
func NewOllamaAdapter(opts ...AdapterOption) (*OllamaAdapter, error) {
	cfg := newAdapterConfig(opts)
	if cfg.model == "" {
		cfg.model = DefaultModel("ollama")
	}
	host := cfg.baseURL
	if host == "" {
		host = DefaultOllamaURL
	}
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: fmt.Sprintf("invalid ollama url %q", host), Cause: err}}
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OllamaAdapter{client: api.NewClient(parsed, hc), cfg: cfg}, nil
}

// Name returns the provider identifier.
func (a *OllamaAdapter) Name() string { return "ollama" }

// SupportsStructuredOutput reports that the format parameter accepts a
// JSON Schema.
func (a *OllamaAdapter) SupportsStructuredOutput() bool { return !a.cfg.promptSchema }

// Complete sends a non-streaming chat request.
func (a *OllamaAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	chatReq, err := a.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var last api.ChatResponse
	err = a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		last = resp
		return nil
	})
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, last, last.Message.Content)
}

// Stream sends a streaming chat request. Ollama delivers chunks through a
// callback, which runs on the producer goroutine here.
func (a *OllamaAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	chatReq, err := a.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		var text strings.Builder
		var last api.ChatResponse
		err := a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			last = resp
			if resp.Message.Content == "" {
				return nil
			}
			text.WriteString(resp.Message.Content)
			if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: resp.Message.Content}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			send(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
			return
		}
		resp, err := a.buildResponse(req, last, text.String())
		if err != nil {
			send(ctx, ch, StreamEvent{Type: StreamError, Error: err})
			return
		}
		send(ctx, ch, StreamEvent{Type: StreamFinish, Response: resp})
	}()
	return ch, nil
}

func (a *OllamaAdapter) buildRequest(req Request, stream bool) (*api.ChatRequest, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.TextContent()})
	}

	options := map[string]any{"num_predict": a.cfg.maxTokensFor(req)}
	if t := a.cfg.temperatureFor(req); t != nil {
		options["temperature"] = *t
	}

	chatReq := &api.ChatRequest{
		Model:    a.cfg.modelFor(req),
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	if len(req.ToolDefs) > 0 {
		tools, err := convertToolsToOllama(req.ToolDefs)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}

	if rf := req.ResponseFormat; rf != nil && rf.Type == "json_schema" && rf.Schema != nil && a.SupportsStructuredOutput() {
		format, err := json.Marshal(rf.Schema.Definition)
		if err != nil {
			return nil, &InvalidRequestError{ProviderError: ProviderError{
				SDKError: SDKError{Message: "marshal response schema", Cause: err}, Provider: "ollama",
			}}
		}
		chatReq.Format = format
	}
	return chatReq, nil
}

// convertToolsToOllama goes through the wire encoding so the definitions
// land in whatever property container the api package uses.
func convertToolsToOllama(defs []ToolDefinition) (api.Tools, error) {
	tools := make(api.Tools, 0, len(defs))
	for _, td := range defs {
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        td.Name,
				"description": td.Description,
				"parameters":  td.Parameters,
			},
		})
		if err != nil {
			return nil, err
		}
		var tool api.Tool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, &InvalidRequestError{ProviderError: ProviderError{
				SDKError: SDKError{Message: fmt.Sprintf("convert tool %s", td.Name), Cause: err}, Provider: "ollama",
			}}
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func (a *OllamaAdapter) buildResponse(req Request, resp api.ChatResponse, text string) (*Response, error) {
	out := &Response{
		ID:       "resp_" + uuid.NewString()[:8],
		Model:    resp.Model,
		Provider: "ollama",
		Message:  Message{Role: RoleAssistant},
		Usage:    newUsage(resp.PromptEvalCount, resp.EvalCount),
	}
	if out.Model == "" {
		out.Model = a.cfg.modelFor(req)
	}
	if text != "" {
		out.Message.Content = append(out.Message.Content, TextPart(text))
	}

	for i, tc := range resp.Message.ToolCalls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			return nil, &ProviderError{
				SDKError: SDKError{Message: fmt.Sprintf("encode arguments of %s", tc.Function.Name), Cause: err},
				Provider: "ollama",
			}
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.Message.Content = append(out.Message.Content, ToolCallPart(id, tc.Function.Name, normalizeArguments(args)))
	}

	switch {
	case len(resp.Message.ToolCalls) > 0:
		out.FinishReason = FinishReason{Reason: "tool_calls", Raw: resp.DoneReason}
	case resp.DoneReason == "length":
		out.FinishReason = FinishReason{Reason: "length", Raw: resp.DoneReason}
	case resp.DoneReason == "" || resp.DoneReason == "stop":
		out.FinishReason = FinishReason{Reason: "stop", Raw: resp.DoneReason}
	default:
		out.FinishReason = FinishReason{Reason: "other", Raw: resp.DoneReason}
	}
	return out, nil
}

func (a *OllamaAdapter) translateError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return ErrorFromStatusCode(statusErr.StatusCode, statusErr.Error(), "ollama", err, nil)
	}
	return classifyError("ollama", err)
}
