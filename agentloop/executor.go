package agentloop

import (
	"context"
	"fmt"

	"github.com/martinemde/autollama/unifiedllm"
	"go.uber.org/zap"
)

// Executor turns one plan step into at most one workspace mutation.
type Executor struct {
	llm        unifiedllm.Completer
	tools      *ToolRegistry
	dispatcher *Dispatcher
	config     Config
	objective  string
	emitter    *EventEmitter
	logger     *zap.Logger
}

// NewExecutor creates an Executor offering the three file tools.
func NewExecutor(llm unifiedllm.Completer, dispatcher *Dispatcher, cfg Config, logger *zap.Logger, emitter *EventEmitter) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		llm:        llm,
		tools:      NewFileToolRegistry(),
		dispatcher: dispatcher,
		config:     cfg.withDefaults(),
		emitter:    emitter,
		logger:     logger.Named("executor"),
	}
}

// WithObjective returns a copy of the executor whose system prompt names
// objective.
func (e *Executor) WithObjective(objective string) *Executor {
	clone := *e
	clone.objective = objective
	return &clone
}

// Execute makes one tool completion for step. Tool calls win over text:
// the first call is applied and any others are counted and dropped. A text
// answer, an unknown tool or unusable arguments skip the step. Only
// transport failures are returned as errors.
func (e *Executor) Execute(ctx context.Context, step, snapshot string) (StepOutcome, error) {
	outcome := StepOutcome{Step: step}

	req := e.config.request("execute",
		unifiedllm.SystemMessage(CoderSystemPrompt(e.objective)),
		unifiedllm.UserMessage(ExecutePrompt(step, snapshot)),
	)
	req.ToolDefs = e.tools.Definitions()
	req.ToolChoice = &unifiedllm.ToolChoice{Mode: unifiedllm.ToolChoiceAuto}
	if e.config.RequireToolCall {
		req.ToolChoice.Mode = unifiedllm.ToolChoiceRequired
	}

	resp, err := e.llm.CompleteWithTools(ctx, req)
	if err != nil {
		return outcome, fmt.Errorf("execute step: %w", err)
	}

	calls := resp.ToolCalls()
	if len(calls) == 0 {
		preview := Preview(resp.Text(), textPreviewChars)
		outcome.Status = StatusSkipped
		outcome.Reason = "not enough information to run tool"
		e.logger.Warn("not enough information to run tool",
			zap.String("step", step),
			zap.String("preview", preview),
		)
		e.emitter.Emit(EventWarning, map[string]interface{}{
			"phase":   string(PhaseExecute),
			"message": outcome.Reason,
			"step":    step,
			"preview": preview,
		})
		return outcome, nil
	}

	if extra := len(calls) - 1; extra > 0 {
		outcome.Ignored = extra
		e.logger.Info("ignoring extra tool calls",
			zap.String("tool", calls[0].Name),
			zap.Int("ignored", extra),
		)
	}

	outcome.Tool = calls[0].Name
	outcome.Signature = toolCallSignature(calls[0].Name, calls[0].Arguments)
	call, err := e.tools.Convert(calls[0])
	if err != nil {
		outcome.Status = StatusSkipped
		outcome.Reason = err.Error()
		e.logger.Warn("skipping tool call", zap.String("step", step), zap.Error(err))
		e.emitter.Emit(EventWarning, map[string]interface{}{
			"phase":   string(PhaseExecute),
			"message": err.Error(),
			"step":    step,
		})
		return outcome, nil
	}

	res := e.dispatcher.Apply(call)
	outcome.Path = res.Path
	outcome.Status = res.Status
	outcome.Reason = res.Reason
	outcome.Action = &res
	return outcome, nil
}
