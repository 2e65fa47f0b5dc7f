package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter talks to OpenAI or any server speaking the Chat Completions
// protocol (Fireworks, llama-stack, vLLM).
type OpenAIAdapter struct {
	name   string
	client openai.Client
	cfg    *adapterConfig
}

// NewOpenAIAdapter creates an adapter registered under name. An empty API
// key lets the SDK read OPENAI_API_KEY.
func NewOpenAIAdapter(name string, opts ...AdapterOption) *OpenAIAdapter {
	cfg := newAdapterConfig(opts)
	if cfg.model == "" {
		cfg.model = DefaultModel(name)
	}

	// Retries belong to the unified Client.
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

	return &OpenAIAdapter{
		name:   name,
		client: openai.NewClient(reqOpts...),
		cfg:    cfg,
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return a.name }

// SupportsStructuredOutput reports native json_schema support.
func (a *OpenAIAdapter) SupportsStructuredOutput() bool { return !a.cfg.promptSchema }

// Complete sends a blocking chat completion.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params := a.buildParams(req)
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, resp), nil
}

// Stream sends a streaming chat completion.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params := a.buildParams(req)
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		var text strings.Builder
		finish := "stop"
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			text.WriteString(choice.Delta.Content)
			if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: choice.Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
			return
		}

		out := text.String()
		send(ctx, ch, StreamEvent{Type: StreamFinish, Response: &Response{
			ID:           "resp_" + uuid.NewString()[:8],
			Model:        a.cfg.modelFor(req),
			Provider:     a.name,
			Message:      AssistantMessage(out),
			FinishReason: mapOpenAIFinishReason(finish),
			Usage:        newUsage(countMessageTokens(req.Messages), CountTokens(out)),
		}})
	}()
	return ch, nil
}

func (a *OpenAIAdapter) buildParams(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(a.cfg.modelFor(req)),
		Messages: buildOpenAIMessages(req.Messages),
	}
	if n := a.cfg.maxTokensFor(req); n > 0 {
		params.MaxTokens = openai.Int(int64(n))
	}
	if t := a.cfg.temperatureFor(req); t != nil {
		params.Temperature = openai.Float(*t)
	}

	if len(req.ToolDefs) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.ToolDefs))
		for _, td := range req.ToolDefs {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        td.Name,
					Description: openai.String(td.Description),
					Parameters:  shared.FunctionParameters(td.Parameters),
				},
			})
		}
		params.Tools = tools
		params.ParallelToolCalls = openai.Bool(false)
		if req.ToolChoice != nil && req.ToolChoice.Mode != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(req.ToolChoice.Mode),
			}
		}
	}

	if rf := req.ResponseFormat; rf != nil && rf.Type == "json_schema" && rf.Schema != nil && a.SupportsStructuredOutput() {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        rf.Schema.Name,
					Description: openai.String(rf.Schema.Description),
					Schema:      rf.Schema.Definition,
					Strict:      openai.Bool(rf.Schema.Strict),
				},
			},
		}
	}
	return params
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		text := m.TextContent()
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

func (a *OpenAIAdapter) buildResponse(req Request, resp *openai.ChatCompletion) *Response {
	out := &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Provider:     a.name,
		Message:      Message{Role: RoleAssistant},
		FinishReason: FinishReason{Reason: "other"},
		Usage:        newUsage(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens)),
	}
	if out.Model == "" {
		out.Model = a.cfg.modelFor(req)
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.FinishReason = mapOpenAIFinishReason(choice.FinishReason)
	if choice.Message.Content != "" {
		out.Message.Content = append(out.Message.Content, TextPart(choice.Message.Content))
	}
	for i, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + strconv.Itoa(i)
		}
		args := json.RawMessage(tc.Function.Arguments)
		if len(strings.TrimSpace(tc.Function.Arguments)) == 0 {
			args = json.RawMessage("{}")
		}
		out.Message.Content = append(out.Message.Content, ToolCallPart(id, tc.Function.Name, args))
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.FinishReason = FinishReason{Reason: "tool_calls", Raw: choice.FinishReason}
	}
	return out
}

func mapOpenAIFinishReason(raw string) FinishReason {
	switch raw {
	case "stop":
		return FinishReason{Reason: "stop", Raw: raw}
	case "length":
		return FinishReason{Reason: "length", Raw: raw}
	case "tool_calls", "function_call":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

func (a *OpenAIAdapter) translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), a.name, err, retryAfter(apiErr.Response))
	}
	return classifyError(a.name, err)
}

// retryAfter reads a Retry-After header expressed in seconds.
func retryAfter(resp *http.Response) *time.Duration {
	if resp == nil {
		return nil
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs * float64(time.Second))
	return &d
}
