package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/martinemde/autollama/unifiedllm"
	"github.com/stretchr/testify/require"
)

// fakeLLM is a scripted unifiedllm.Completer. Nil functions fall back to an
// empty plan, a text answer and a short review.
type fakeLLM struct {
	structured func(req unifiedllm.Request) (json.RawMessage, error)
	tools      func(req unifiedllm.Request) (*unifiedllm.Response, error)
	stream     func(req unifiedllm.Request) ([]unifiedllm.StreamEvent, error)

	mu             sync.Mutex
	planRequests   []unifiedllm.Request
	planSchemas    []unifiedllm.Schema
	toolRequests   []unifiedllm.Request
	reviewRequests []unifiedllm.Request
}

var _ unifiedllm.Completer = (*fakeLLM)(nil)

func (f *fakeLLM) CompleteStructured(ctx context.Context, req unifiedllm.Request, schema unifiedllm.Schema) (json.RawMessage, error) {
	f.mu.Lock()
	f.planRequests = append(f.planRequests, req)
	f.planSchemas = append(f.planSchemas, schema)
	f.mu.Unlock()
	if f.structured == nil {
		return planJSON(), nil
	}
	return f.structured(req)
}

func (f *fakeLLM) CompleteWithTools(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	f.mu.Lock()
	f.toolRequests = append(f.toolRequests, req)
	f.mu.Unlock()
	if f.tools == nil {
		return textResponse("I need more details."), nil
	}
	return f.tools(req)
}

func (f *fakeLLM) CompleteStreaming(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	f.mu.Lock()
	f.reviewRequests = append(f.reviewRequests, req)
	f.mu.Unlock()
	events := reviewEvents("Looks ", "fine.")
	if f.stream != nil {
		var err error
		events, err = f.stream(req)
		if err != nil {
			return nil, err
		}
	}
	ch := make(chan unifiedllm.StreamEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) counts() (plans, tools, reviews int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.planRequests), len(f.toolRequests), len(f.reviewRequests)
}

func planJSON(steps ...string) json.RawMessage {
	if steps == nil {
		steps = []string{}
	}
	b, _ := json.Marshal(map[string][]string{"steps": steps})
	return b
}

func toolCall(name, args string) unifiedllm.ToolCall {
	return unifiedllm.ToolCall{ID: "call_" + name, Name: name, Arguments: json.RawMessage(args)}
}

func toolResponse(calls ...unifiedllm.ToolCall) *unifiedllm.Response {
	msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
	for _, c := range calls {
		msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &unifiedllm.Response{ID: "resp", Message: msg}
}

func textResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{ID: "resp", Message: unifiedllm.AssistantMessage(text)}
}

func reviewEvents(deltas ...string) []unifiedllm.StreamEvent {
	events := []unifiedllm.StreamEvent{{Type: unifiedllm.StreamStart}}
	for _, d := range deltas {
		events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.TextDelta, Delta: d})
	}
	return append(events, unifiedllm.StreamEvent{Type: unifiedllm.StreamFinish})
}

// stepOf extracts the step an executor request asks for.
func stepOf(req unifiedllm.Request) string {
	const marker = "Please perform the following operation: "
	text := req.Messages[len(req.Messages)-1].TextContent()
	i := strings.Index(text, marker)
	if i < 0 {
		return ""
	}
	rest := text[i+len(marker):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func newTestWorkspace(t *testing.T) *LocalWorkspace {
	t.Helper()
	ws, err := NewLocalWorkspace(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ws.Reset())
	return ws
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SandboxDir = t.TempDir()
	cfg.Model = "test-model"
	cfg.CallTimeout = 0
	return cfg
}

// eventRecorder collects events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
