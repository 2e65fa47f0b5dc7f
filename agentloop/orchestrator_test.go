package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/martinemde/autollama/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestOrchestrator(t *testing.T, llm unifiedllm.Completer, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(llm, cfg, opts...)
	require.NoError(t, err)
	return o
}

func TestNewOrchestratorValidates(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 0
	_, err := NewOrchestrator(&fakeLLM{}, cfg)
	assert.Error(t, err)

	_, err = NewOrchestrator(nil, testConfig(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.SandboxDir = ""
	_, err = NewOrchestrator(&fakeLLM{}, cfg)
	assert.Error(t, err, "no sandbox and no workspace")

	_, err = NewOrchestrator(&fakeLLM{}, cfg, WithWorkspace(newTestWorkspace(t)))
	assert.NoError(t, err)
}

func TestRunRejectsEmptyObjective(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{}, testConfig(t))
	_, err := o.Run(context.Background(), "  ")
	assert.Error(t, err)
}

func TestRunCountsAttemptedAndApplied(t *testing.T) {
	llm := &fakeLLM{
		structured: func(unifiedllm.Request) (json.RawMessage, error) {
			return planJSON("s1", "s2", "s3"), nil
		},
		tools: func(req unifiedllm.Request) (*unifiedllm.Response, error) {
			switch step := stepOf(req); step {
			case "s2":
				return textResponse("What should s2 contain?"), nil
			default:
				return toolResponse(toolCall("create_file", fmt.Sprintf(`{"path":"%s.py","content":"x"}`, step))), nil
			}
		},
	}
	cfg := testConfig(t)
	cfg.MaxIterations = 1
	o := newTestOrchestrator(t, llm, cfg)

	report, err := o.Run(context.Background(), "three files")
	require.NoError(t, err)
	require.Len(t, report.Iterations, 1)

	it := report.Iterations[0]
	assert.Equal(t, Plan{"s1", "s2", "s3"}, it.Plan)
	assert.Equal(t, 3, it.Attempted())
	assert.Equal(t, 2, it.Applied())
	assert.Equal(t, StatusSkipped, it.Steps[1].Status)
	assert.Equal(t, []int{1, 2, 3}, []int{it.Steps[0].Index, it.Steps[1].Index, it.Steps[2].Index})

	entries, err := o.Workspace().ListAll()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Path: "s1.py", Content: "x"}, {Path: "s3.py", Content: "x"}}, entries)
}

func TestRunReadmeCreateThenDelete(t *testing.T) {
	plans := []Plan{{"Create README.md"}, {"Delete README.md"}}
	iteration := 0
	llm := &fakeLLM{
		structured: func(unifiedllm.Request) (json.RawMessage, error) {
			p := plans[iteration]
			iteration++
			return planJSON(p...), nil
		},
		tools: func(req unifiedllm.Request) (*unifiedllm.Response, error) {
			if strings.HasPrefix(stepOf(req), "Create") {
				return toolResponse(toolCall("create_file", `{"path":"README.md","content":"# Translator\\n\\nRun: python app.py"}`)), nil
			}
			return toolResponse(toolCall("delete_file", `{"path":"README.md"}`)), nil
		},
	}
	cfg := testConfig(t)
	cfg.MaxIterations = 2
	o := newTestOrchestrator(t, llm, cfg)

	report, err := o.Run(context.Background(), "a translator")
	require.NoError(t, err)
	require.Len(t, report.Iterations, 2)
	assert.Equal(t, StatusApplied, report.Iterations[0].Steps[0].Status)
	assert.Equal(t, StatusApplied, report.Iterations[1].Steps[0].Status)

	// The second plan saw the README in its snapshot.
	secondPlan := llm.planRequests[1].Messages[1].TextContent()
	assert.Contains(t, secondPlan, "file: README.md:\n# Translator\n\nRun: python app.py")

	entries, err := o.Workspace().ListAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunEmptyPlansRunAllIterations(t *testing.T) {
	llm := &fakeLLM{}
	cfg := testConfig(t)
	cfg.MaxIterations = 3
	o := newTestOrchestrator(t, llm, cfg)

	report, err := o.Run(context.Background(), "nothing")
	require.NoError(t, err)

	plans, tools, reviews := llm.counts()
	assert.Equal(t, 3, plans)
	assert.Equal(t, 0, tools)
	assert.Equal(t, 3, reviews)
	assert.Len(t, report.Iterations, 3)
	assert.False(t, report.Approved)

	entries, err := o.Workspace().ListAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunWipesSandboxAtStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 1
	ws, err := NewLocalWorkspace(cfg.SandboxDir)
	require.NoError(t, err)
	require.NoError(t, ws.Write("leftover/old.py", "old"))

	o := newTestOrchestrator(t, &fakeLLM{}, cfg)
	_, err = o.Run(context.Background(), "fresh start")
	require.NoError(t, err)

	assert.False(t, o.Workspace().Exists("leftover"))
}

func TestRunPlanParseFailureIsEmptyPlan(t *testing.T) {
	llm := &fakeLLM{structured: func(unifiedllm.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"step":["typo"]}`), nil
	}}
	cfg := testConfig(t)
	cfg.MaxIterations = 2
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, llm, cfg, WithEventHandler(rec.handle))

	report, err := o.Run(context.Background(), "obj")
	require.NoError(t, err)
	require.Len(t, report.Iterations, 2)
	for _, it := range report.Iterations {
		assert.Empty(t, it.Plan)
		assert.Zero(t, it.Attempted())
	}
	assert.Len(t, rec.ofKind(EventWarning), 2)
}

func lgtmOnIteration(n int) func(unifiedllm.Request) ([]unifiedllm.StreamEvent, error) {
	calls := 0
	return func(unifiedllm.Request) ([]unifiedllm.StreamEvent, error) {
		calls++
		if calls == n {
			return reviewEvents("Everything works. ", "LGTM"), nil
		}
		return reviewEvents("Please add ", "error handling."), nil
	}
}

func TestRunStopsOnApprovalWhenEnabled(t *testing.T) {
	llm := &fakeLLM{stream: lgtmOnIteration(2)}
	cfg := testConfig(t)
	cfg.MaxIterations = 5
	cfg.StopOnApproval = true
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, llm, cfg, WithEventHandler(rec.handle))

	report, err := o.Run(context.Background(), "obj")
	require.NoError(t, err)
	assert.Len(t, report.Iterations, 2)
	assert.True(t, report.Approved)
	assert.True(t, report.Iterations[1].Approved)
	assert.False(t, report.Iterations[0].Approved)
	assert.Len(t, rec.ofKind(EventApproved), 1)

	plans, _, reviews := llm.counts()
	assert.Equal(t, 2, plans)
	assert.Equal(t, 2, reviews)
}

func TestRunIgnoresApprovalByDefault(t *testing.T) {
	llm := &fakeLLM{stream: lgtmOnIteration(2)}
	cfg := testConfig(t)
	cfg.MaxIterations = 5
	o := newTestOrchestrator(t, llm, cfg)

	report, err := o.Run(context.Background(), "obj")
	require.NoError(t, err)
	assert.Len(t, report.Iterations, 5)
	assert.False(t, report.Approved)
	assert.True(t, report.Iterations[1].Approved, "approval is still recorded")

	plans, _, reviews := llm.counts()
	assert.Equal(t, 5, plans)
	assert.Equal(t, 5, reviews)
}

func TestRunCarriesFeedbackIntoNextPlan(t *testing.T) {
	reviews := 0
	llm := &fakeLLM{stream: func(unifiedllm.Request) ([]unifiedllm.StreamEvent, error) {
		reviews++
		return reviewEvents(fmt.Sprintf("feedback %d", reviews)), nil
	}}
	cfg := testConfig(t)
	cfg.MaxIterations = 3
	o := newTestOrchestrator(t, llm, cfg)

	report, err := o.Run(context.Background(), "obj")
	require.NoError(t, err)
	assert.Equal(t, "feedback 3", report.LastFeedback())

	require.Len(t, llm.planRequests, 3)
	assert.NotContains(t, llm.planRequests[0].Messages[1].TextContent(), "One of your peers")
	assert.Contains(t, llm.planRequests[1].Messages[1].TextContent(), "feedback:\nfeedback 1\n")
	assert.Contains(t, llm.planRequests[2].Messages[1].TextContent(), "feedback:\nfeedback 2\n")
	assert.NotContains(t, llm.planRequests[2].Messages[1].TextContent(), "feedback 1")
}

func TestRunTransportFailureAborts(t *testing.T) {
	cause := unifiedllm.ErrorFromStatusCode(500, "boom", "openai", nil, nil)
	llm := &fakeLLM{
		structured: func(unifiedllm.Request) (json.RawMessage, error) { return planJSON("s1", "s2"), nil },
		tools: func(req unifiedllm.Request) (*unifiedllm.Response, error) {
			if stepOf(req) == "s2" {
				return nil, cause
			}
			return toolResponse(toolCall("create_file", `{"path":"a.py","content":"a"}`)), nil
		},
	}
	cfg := testConfig(t)
	cfg.MaxIterations = 3
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, llm, cfg, WithEventHandler(rec.handle))

	report, err := o.Run(context.Background(), "obj")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	require.Len(t, report.Iterations, 1)
	assert.Len(t, report.Iterations[0].Steps, 1, "the applied step is kept in the report")
	assert.Len(t, rec.ofKind(EventError), 1)
	assert.Len(t, rec.ofKind(EventRunEnd), 1)

	_, _, reviews := llm.counts()
	assert.Zero(t, reviews)
}

func TestRunCancelledBetweenPhases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &fakeLLM{structured: func(unifiedllm.Request) (json.RawMessage, error) {
		cancel()
		return planJSON("s1"), nil
	}}
	cfg := testConfig(t)
	o := newTestOrchestrator(t, llm, cfg)

	report, err := o.Run(ctx, "obj")
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Iterations, 1)
	assert.Equal(t, Plan{"s1"}, report.Iterations[0].Plan)

	_, tools, reviews := llm.counts()
	assert.Zero(t, tools)
	assert.Zero(t, reviews)
}

func TestRunEmitsEventsInOrder(t *testing.T) {
	llm := &fakeLLM{
		structured: func(unifiedllm.Request) (json.RawMessage, error) { return planJSON("s1"), nil },
		tools: func(unifiedllm.Request) (*unifiedllm.Response, error) {
			return toolResponse(toolCall("create_file", `{"path":"a.py","content":"a"}`)), nil
		},
		stream: func(unifiedllm.Request) ([]unifiedllm.StreamEvent, error) {
			return reviewEvents("ok"), nil
		},
	}
	cfg := testConfig(t)
	cfg.MaxIterations = 1
	rec := &eventRecorder{}
	var actions []ActionResult
	o := newTestOrchestrator(t, llm, cfg,
		WithEventHandler(rec.handle),
		WithActionObserver(func(r ActionResult) { actions = append(actions, r) }),
	)

	report, err := o.Run(context.Background(), "obj")
	require.NoError(t, err)

	var kinds []EventKind
	for _, e := range rec.events {
		if e.Kind != EventSnapshot {
			kinds = append(kinds, e.Kind)
		}
		assert.Equal(t, report.RunID, e.RunID)
	}
	assert.Equal(t, []EventKind{
		EventRunStart,
		EventPhaseStart, EventPlanReady,
		EventPhaseStart, EventStepStart, EventStepEnd,
		EventPhaseStart, EventReviewDelta, EventReviewEnd,
		EventRunEnd,
	}, kinds)
	assert.Len(t, rec.ofKind(EventSnapshot), 3)
	require.Len(t, actions, 1)
	assert.Equal(t, "a.py", actions[0].Path)
}

func TestRunLogsSnapshotTokens(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := testConfig(t)
	cfg.MaxIterations = 1
	o := newTestOrchestrator(t, &fakeLLM{}, cfg, WithLogger(zap.New(core)))

	_, err := o.Run(context.Background(), "obj")
	require.NoError(t, err)

	snaps := logs.FilterMessage("workspace snapshot").All()
	require.Len(t, snaps, 2, "one before planning and one before review")
	assert.Contains(t, snaps[0].ContextMap(), "tokens")
}

func TestRunWarnsOnRepeatedToolCalls(t *testing.T) {
	llm := &fakeLLM{
		structured: func(unifiedllm.Request) (json.RawMessage, error) { return planJSON("s1", "s2"), nil },
		tools: func(unifiedllm.Request) (*unifiedllm.Response, error) {
			return toolResponse(toolCall("update_file", `{"path":"a.py","content":"same"}`)), nil
		},
	}
	cfg := testConfig(t)
	cfg.MaxIterations = 2
	cfg.LoopDetectionWindow = 4
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, llm, cfg, WithEventHandler(rec.handle))

	_, err := o.Run(context.Background(), "obj")
	require.NoError(t, err)
	loops := rec.ofKind(EventLoopDetection)
	require.Len(t, loops, 1)
	assert.Equal(t, 2, loops[0].Iteration)
}
