package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/autollama/unifiedllm"
	"go.uber.org/zap"
)

// Orchestrator drives the plan, execute and review cycle for a fixed number
// of iterations, or until the reviewer approves when StopOnApproval is set.
type Orchestrator struct {
	config     Config
	workspace  Workspace
	dispatcher *Dispatcher
	planner    *Planner
	executor   *Executor
	reviewer   *Reviewer
	emitter    *EventEmitter
	logger     *zap.Logger
}

type orchestratorOptions struct {
	logger    *zap.Logger
	workspace Workspace
	handlers  []EventHandler
	onAction  func(ActionResult)
}

// Option configures an Orchestrator.
type Option func(*orchestratorOptions)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *orchestratorOptions) {
		o.logger = logger
	}
}

// WithWorkspace replaces the local sandbox directory.
func WithWorkspace(ws Workspace) Option {
	return func(o *orchestratorOptions) {
		o.workspace = ws
	}
}

// WithEventHandler subscribes h to run events.
func WithEventHandler(h EventHandler) Option {
	return func(o *orchestratorOptions) {
		o.handlers = append(o.handlers, h)
	}
}

// WithActionObserver receives every Dispatcher result.
func WithActionObserver(fn func(ActionResult)) Option {
	return func(o *orchestratorOptions) {
		o.onAction = fn
	}
}

// NewOrchestrator wires the planner, executor, reviewer and dispatcher
// around llm.
func NewOrchestrator(llm unifiedllm.Completer, cfg Config, opts ...Option) (*Orchestrator, error) {
	if llm == nil {
		return nil, errors.New("agentloop: no completer")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agentloop: %w", err)
	}

	var o orchestratorOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.workspace == nil {
		ws, err := NewLocalWorkspace(cfg.SandboxDir)
		if err != nil {
			return nil, fmt.Errorf("agentloop: %w", err)
		}
		o.workspace = ws
	}

	emitter := NewEventEmitter(o.handlers...)
	var dopts []DispatcherOption
	if o.onAction != nil {
		dopts = append(dopts, WithActionHook(o.onAction))
	}
	dispatcher := NewDispatcher(o.workspace, o.logger, dopts...)

	return &Orchestrator{
		config:     cfg,
		workspace:  o.workspace,
		dispatcher: dispatcher,
		planner:    NewPlanner(llm, cfg, o.logger, emitter),
		executor:   NewExecutor(llm, dispatcher, cfg, o.logger, emitter),
		reviewer:   NewReviewer(llm, cfg, o.logger, emitter),
		emitter:    emitter,
		logger:     o.logger.Named("orchestrator"),
	}, nil
}

// Workspace returns the sandbox the run mutates.
func (o *Orchestrator) Workspace() Workspace { return o.workspace }

// Run wipes the workspace and performs up to MaxIterations cycles. The
// report holds every completed or partial iteration even when an error is
// returned. Cancelling ctx aborts between phases with the context error.
func (o *Orchestrator) Run(ctx context.Context, objective string) (*RunReport, error) {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return nil, errors.New("objective is empty")
	}

	report := &RunReport{
		RunID:     uuid.New().String(),
		Objective: objective,
		Started:   time.Now(),
	}
	o.emitter.setRun(report.RunID)
	logger := o.logger.With(zap.String("run_id", report.RunID))

	if err := o.workspace.Reset(); err != nil {
		return o.finish(report, fmt.Errorf("reset workspace: %w", err))
	}
	logger.Info("run started",
		zap.String("objective", objective),
		zap.Int("max_iterations", o.config.MaxIterations),
		zap.String("sandbox", o.workspace.Root()),
	)
	o.emitter.Emit(EventRunStart, map[string]interface{}{
		"objective":      objective,
		"max_iterations": o.config.MaxIterations,
		"sandbox":        o.workspace.Root(),
	})

	executor := o.executor.WithObjective(objective)
	feedback := ""
	for i := 1; i <= o.config.MaxIterations; i++ {
		record, err := o.iterate(ctx, logger.With(zap.Int("iteration", i)), i, objective, feedback, executor)
		report.Iterations = append(report.Iterations, record)
		if err != nil {
			return o.finish(report, err)
		}
		feedback = record.Feedback

		if DetectLoop(report.Iterations, o.config.LoopDetectionWindow) {
			logger.Warn("executor is repeating the same tool calls",
				zap.Int("iteration", i),
				zap.Int("window", o.config.LoopDetectionWindow),
			)
			o.emitter.Emit(EventLoopDetection, map[string]interface{}{
				"window": o.config.LoopDetectionWindow,
			})
		}

		if o.config.StopOnApproval && record.Approved {
			report.Approved = true
			logger.Info("reviewer approved, stopping early", zap.Int("iteration", i))
			o.emitter.Emit(EventApproved, map[string]interface{}{"token": o.config.ApprovalToken})
			break
		}
	}
	return o.finish(report, nil)
}

func (o *Orchestrator) iterate(ctx context.Context, logger *zap.Logger, i int, objective, feedback string, executor *Executor) (IterationRecord, error) {
	record := IterationRecord{Iteration: i, StartedAt: time.Now()}
	o.emitter.setIteration(i)

	// Plan.
	if err := ctx.Err(); err != nil {
		return record, err
	}
	o.emitter.Emit(EventPhaseStart, map[string]interface{}{"phase": string(PhasePlan)})
	snapshot, err := o.snapshot(logger, PhasePlan)
	if err != nil {
		return record, err
	}
	plan, err := withCallTimeout(ctx, o.config.CallTimeout, func(ctx context.Context) (Plan, error) {
		return o.planner.Plan(ctx, objective, snapshot, feedback)
	})
	if err != nil {
		return record, fmt.Errorf("iteration %d: %w", i, err)
	}
	record.Plan = plan
	o.emitter.Emit(EventPlanReady, map[string]interface{}{"steps": []string(plan)})

	// Execute.
	if err := ctx.Err(); err != nil {
		return record, err
	}
	o.emitter.Emit(EventPhaseStart, map[string]interface{}{"phase": string(PhaseExecute)})
	for idx, step := range plan {
		if err := ctx.Err(); err != nil {
			return record, err
		}
		o.emitter.Emit(EventStepStart, map[string]interface{}{"index": idx + 1, "step": step})
		snapshot, err := o.snapshot(logger, PhaseExecute)
		if err != nil {
			return record, err
		}
		outcome, err := withCallTimeout(ctx, o.config.CallTimeout, func(ctx context.Context) (StepOutcome, error) {
			return executor.Execute(ctx, step, snapshot)
		})
		outcome.Index = idx + 1
		if err != nil {
			return record, fmt.Errorf("iteration %d step %d: %w", i, idx+1, err)
		}
		record.Steps = append(record.Steps, outcome)
		o.emitter.Emit(EventStepEnd, map[string]interface{}{
			"index":  outcome.Index,
			"step":   step,
			"tool":   outcome.Tool,
			"path":   outcome.Path,
			"status": string(outcome.Status),
			"reason": outcome.Reason,
		})
	}
	logger.Info("plan executed",
		zap.Int("attempted", record.Attempted()),
		zap.Int("applied", record.Applied()),
	)

	// Review.
	if err := ctx.Err(); err != nil {
		return record, err
	}
	o.emitter.Emit(EventPhaseStart, map[string]interface{}{"phase": string(PhaseReview)})
	snapshot, err = o.snapshot(logger, PhaseReview)
	if err != nil {
		return record, err
	}
	review, err := withCallTimeout(ctx, o.config.CallTimeout, func(ctx context.Context) (string, error) {
		return o.reviewer.Review(ctx, objective, snapshot)
	})
	if err != nil {
		return record, fmt.Errorf("iteration %d: %w", i, err)
	}
	record.Feedback = review
	record.Approved = ContainsApproval(review, o.config.ApprovalToken)
	return record, nil
}

// snapshot dumps the workspace and records its size.
func (o *Orchestrator) snapshot(logger *zap.Logger, phase Phase) (string, error) {
	dump, files, err := Snapshot(o.workspace)
	if err != nil {
		return "", fmt.Errorf("snapshot workspace: %w", err)
	}
	tokens := unifiedllm.CountTokens(dump)
	logger.Debug("workspace snapshot",
		zap.String("phase", string(phase)),
		zap.Int("files", files),
		zap.Int("tokens", tokens),
	)
	o.emitter.Emit(EventSnapshot, map[string]interface{}{
		"phase":  string(phase),
		"files":  files,
		"tokens": tokens,
	})
	return dump, nil
}

func (o *Orchestrator) finish(report *RunReport, err error) (*RunReport, error) {
	report.Finished = time.Now()
	data := map[string]interface{}{
		"iterations": len(report.Iterations),
		"approved":   report.Approved,
	}
	if err != nil {
		data["error"] = err.Error()
		o.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
		o.logger.Error("run failed", zap.String("run_id", report.RunID), zap.Error(err))
	}
	o.emitter.Emit(EventRunEnd, data)
	return report, err
}

// withCallTimeout bounds one model call. A zero timeout leaves ctx as is.
func withCallTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
