package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messagesServer(t *testing.T, handler func(w http.ResponseWriter)) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		bodies = append(bodies, body)
		handler(w)
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func TestAnthropicAdapterToolUse(t *testing.T) {
	srv, bodies := messagesServer(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [
				{"type": "text", "text": "Creating it."},
				{"type": "tool_use", "id": "toolu_1", "name": "create_file", "input": {"path": "a.py", "content": "x"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	})

	adapter := NewAnthropicAdapter(WithAPIKey("test"), WithBaseURL(srv.URL))
	assert.False(t, adapter.SupportsStructuredOutput())

	resp, err := adapter.Complete(context.Background(), Request{
		Messages:   []Message{SystemMessage("You write code."), UserMessage("make a.py")},
		ToolDefs:   []ToolDefinition{fileToolDef},
		ToolChoice: &ToolChoice{Mode: ToolChoiceRequired},
	})
	require.NoError(t, err)

	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "Creating it.", resp.Text())
	assert.Equal(t, "tool_calls", resp.FinishReason.Reason)
	assert.Equal(t, 19, resp.Usage.TotalTokens)
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.JSONEq(t, `{"path":"a.py","content":"x"}`, string(calls[0].Arguments))

	body := (*bodies)[0]
	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	choice, _ := body["tool_choice"].(map[string]any)
	assert.Equal(t, "any", choice["type"])
	system, _ := body["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "You write code.", system[0].(map[string]any)["text"])
	msgs, _ := body["messages"].([]any)
	assert.Len(t, msgs, 1)
	tools, _ := body["tools"].([]any)
	require.Len(t, tools, 1)
	schema, _ := tools[0].(map[string]any)["input_schema"].(map[string]any)
	assert.ElementsMatch(t, []any{"path", "content"}, schema["required"])
}

func TestAnthropicAdapterAuthError(t *testing.T) {
	srv, _ := messagesServer(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`)
	})

	adapter := NewAnthropicAdapter(WithAPIKey("bad"), WithBaseURL(srv.URL))
	_, err := adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr), "expected AuthenticationError, got %v", err)
	assert.False(t, IsRetryable(err))
}

func TestAnthropicAdapterStream(t *testing.T) {
	srv, _ := messagesServer(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []struct{ name, data string }{
			{"message_start", `{"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"usage":{"input_tokens":5,"output_tokens":0}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Needs tests. "}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"LGTM"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`},
			{"message_stop", `{"type":"message_stop"}`},
		}
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	})

	adapter := NewAnthropicAdapter(WithAPIKey("k"), WithBaseURL(srv.URL))
	ch, err := adapter.Stream(context.Background(), Request{Messages: []Message{UserMessage("review")}})
	require.NoError(t, err)

	var deltas []string
	var finish *Response
	for ev := range ch {
		switch ev.Type {
		case TextDelta:
			deltas = append(deltas, ev.Delta)
		case StreamFinish:
			finish = ev.Response
		case StreamError:
			t.Fatalf("unexpected stream error: %v", ev.Error)
		}
	}
	assert.Equal(t, []string{"Needs tests. ", "LGTM"}, deltas)
	require.NotNil(t, finish)
	assert.Equal(t, "Needs tests. LGTM", finish.Text())
	assert.Equal(t, "stop", finish.FinishReason.Reason)
}

func TestAnthropicAdapterKeepsClosedSchema(t *testing.T) {
	srv, bodies := messagesServer(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "msg_2", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "ok"}], "stop_reason": "end_turn",
			"usage": {"input_tokens": 1, "output_tokens": 1}}`)
	})

	closed := fileToolDef
	closed.Parameters = map[string]any{
		"type":                 "object",
		"properties":           fileToolDef.Parameters["properties"],
		"required":             []string{"path", "content"},
		"additionalProperties": false,
	}
	adapter := NewAnthropicAdapter(WithAPIKey("test"), WithBaseURL(srv.URL))
	_, err := adapter.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("make a.py")},
		ToolDefs: []ToolDefinition{closed},
	})
	require.NoError(t, err)

	tools, _ := (*bodies)[0]["tools"].([]any)
	require.Len(t, tools, 1)
	schema, _ := tools[0].(map[string]any)["input_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Contains(t, schema["properties"], "path")
}

func TestSchemaExtras(t *testing.T) {
	assert.Nil(t, schemaExtras(fileToolDef.Parameters))
	assert.Equal(t, map[string]any{"additionalProperties": false, "description": "d"},
		schemaExtras(map[string]any{"type": "object", "additionalProperties": false, "description": "d"}))
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a"}, requiredFields(map[string]any{"required": []string{"a"}}))
	assert.Equal(t, []string{"a", "b"}, requiredFields(map[string]any{"required": []any{"a", 3, "b"}}))
	assert.Nil(t, requiredFields(map[string]any{}))
}
