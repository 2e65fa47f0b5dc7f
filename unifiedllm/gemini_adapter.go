package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiAdapter talks to the Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	cfg    *adapterConfig
}

// NewGeminiAdapter creates an adapter. An empty API key lets the SDK read
// GEMINI_API_KEY or GOOGLE_API_KEY.
func NewGeminiAdapter(ctx context.Context, opts ...AdapterOption) (*GeminiAdapter, error) {
	cfg := newAdapterConfig(opts)
	if cfg.model == "" {
		cfg.model = DefaultModel("gemini")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "create gemini client", Cause: err}}
	}
	return &GeminiAdapter{client: client, cfg: cfg}, nil
}

// Name returns the provider identifier.
func (a *GeminiAdapter) Name() string { return "gemini" }

// SupportsStructuredOutput reports native response schema support.
func (a *GeminiAdapter) SupportsStructuredOutput() bool { return !a.cfg.promptSchema }

// Complete sends a blocking GenerateContent request.
func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	contents, config := a.buildRequest(req)
	result, err := a.client.Models.GenerateContent(ctx, a.cfg.modelFor(req), contents, config)
	if err != nil {
		return nil, a.translateError(err)
	}
	if result == nil {
		return nil, &ProviderError{SDKError: SDKError{Message: "empty response"}, Provider: "gemini", Retryable: true}
	}
	return a.buildResponse(req, result, candidateText(result)), nil
}

// Stream sends a streaming GenerateContent request.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	contents, config := a.buildRequest(req)
	model := a.cfg.modelFor(req)

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		var text strings.Builder
		var last *genai.GenerateContentResponse
		for chunk, err := range a.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}
			last = chunk
			delta := candidateText(chunk)
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: delta}) {
				return
			}
		}
		if last == nil {
			last = &genai.GenerateContentResponse{}
		}
		send(ctx, ch, StreamEvent{Type: StreamFinish, Response: a.buildResponse(req, last, text.String())})
	}()
	return ch, nil
}

func (a *GeminiAdapter) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := splitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.TextContent()}},
		})
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(a.cfg.maxTokensFor(req)),
	}
	if t := a.cfg.temperatureFor(req); t != nil {
		temp := float32(*t)
		config.Temperature = &temp
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	if len(req.ToolDefs) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.ToolDefs))
		for _, td := range req.ToolDefs {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  schemaFromMap(td.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		mode := genai.FunctionCallingConfigModeAuto
		if req.ToolChoice != nil {
			switch req.ToolChoice.Mode {
			case ToolChoiceRequired:
				mode = genai.FunctionCallingConfigModeAny
			case ToolChoiceNone:
				mode = genai.FunctionCallingConfigModeNone
			}
		}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	if rf := req.ResponseFormat; rf != nil && rf.Type == "json_schema" && rf.Schema != nil && a.SupportsStructuredOutput() {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schemaFromMap(rf.Schema.Definition)
	}
	return contents, config
}

// schemaFromMap converts a JSON Schema held as a map into a genai.Schema.
// Keywords Gemini does not accept, such as additionalProperties, are
// dropped.
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		switch t {
		case "object":
			s.Type = genai.TypeObject
		case "array":
			s.Type = genai.TypeArray
		case "integer":
			s.Type = genai.TypeInteger
		case "number":
			s.Type = genai.TypeNumber
		case "boolean":
			s.Type = genai.TypeBoolean
		default:
			s.Type = genai.TypeString
		}
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFromMap(items)
	}
	s.Required = requiredFields(m)
	if enum, ok := m["enum"].([]any); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	return s
}

// candidateText joins the non-thought text parts of the first candidate.
// genai's Text logs a warning whenever function calls sit beside the text.
func candidateText(r *genai.GenerateContentResponse) string {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

func (a *GeminiAdapter) buildResponse(req Request, result *genai.GenerateContentResponse, text string) *Response {
	out := &Response{
		ID:       result.ResponseID,
		Model:    result.ModelVersion,
		Provider: "gemini",
		Message:  Message{Role: RoleAssistant},
	}
	if out.ID == "" {
		out.ID = "resp_" + uuid.NewString()[:8]
	}
	if out.Model == "" {
		out.Model = a.cfg.modelFor(req)
	}
	if u := result.UsageMetadata; u != nil {
		out.Usage = newUsage(int(u.PromptTokenCount), int(u.CandidatesTokenCount))
	} else {
		out.Usage = newUsage(countMessageTokens(req.Messages), CountTokens(text))
	}
	if text != "" {
		out.Message.Content = append(out.Message.Content, TextPart(text))
	}

	calls := result.FunctionCalls()
	for i, fc := range calls {
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = []byte("{}")
		}
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.Message.Content = append(out.Message.Content, ToolCallPart(id, fc.Name, args))
	}

	raw := ""
	if len(result.Candidates) > 0 {
		raw = string(result.Candidates[0].FinishReason)
	}
	switch {
	case len(calls) > 0:
		out.FinishReason = FinishReason{Reason: "tool_calls", Raw: raw}
	case raw == "" || raw == string(genai.FinishReasonStop):
		out.FinishReason = FinishReason{Reason: "stop", Raw: raw}
	case raw == string(genai.FinishReasonMaxTokens):
		out.FinishReason = FinishReason{Reason: "length", Raw: raw}
	case raw == string(genai.FinishReasonSafety):
		out.FinishReason = FinishReason{Reason: "content_filter", Raw: raw}
	default:
		out.FinishReason = FinishReason{Reason: "other", Raw: raw}
	}
	return out
}

func (a *GeminiAdapter) translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.Code, apiErr.Error(), "gemini", err, nil)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return ErrorFromStatusCode(apiErrPtr.Code, apiErrPtr.Error(), "gemini", err, nil)
	}
	return classifyError("gemini", err)
}
