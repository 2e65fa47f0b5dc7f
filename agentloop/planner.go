package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/autollama/unifiedllm"
	"go.uber.org/zap"
)

// PlanSchema is the structured output contract for the planner.
func PlanSchema(objective string) unifiedllm.Schema {
	return unifiedllm.Schema{
		Name:        "Plan",
		Description: fmt.Sprintf("A plan to complete the task of creating a codebase that will %s.", objective),
		Definition: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"steps": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required":             []string{"steps"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

// Planner asks the model for the ordered step list of one iteration.
type Planner struct {
	llm     unifiedllm.Completer
	config  Config
	emitter *EventEmitter
	logger  *zap.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(llm unifiedllm.Completer, cfg Config, logger *zap.Logger, emitter *EventEmitter) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		llm:     llm,
		config:  cfg.withDefaults(),
		emitter: emitter,
		logger:  logger.Named("planner"),
	}
}

// Plan makes exactly one structured completion. Output that does not match
// the schema yields an empty plan and a warning; only transport failures
// are returned as errors.
func (p *Planner) Plan(ctx context.Context, objective, snapshot, feedback string) (Plan, error) {
	req := p.config.request("plan",
		unifiedllm.SystemMessage(CoderSystemPrompt(objective)),
		unifiedllm.UserMessage(PlanPrompt(objective, snapshot, feedback, p.config.PlanGuidelines)),
	)

	raw, err := p.llm.CompleteStructured(ctx, req, PlanSchema(objective))
	if err != nil {
		var noObj *unifiedllm.NoObjectGeneratedError
		if errors.As(err, &noObj) {
			p.warn("plan output was not a JSON object", err)
			return Plan{}, nil
		}
		return nil, fmt.Errorf("plan: %w", err)
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		p.warn("plan output did not match the schema", err)
		return Plan{}, nil
	}
	p.logger.Info("plan created", zap.Int("steps", len(plan)))
	return plan, nil
}

func (p *Planner) warn(msg string, err error) {
	p.logger.Warn(msg, zap.Error(err))
	p.emitter.Emit(EventWarning, map[string]interface{}{
		"phase":   string(PhasePlan),
		"message": msg,
		"error":   err.Error(),
	})
}

// ParsePlan decodes {"steps": [...]} strictly: the steps key is required,
// unknown keys are refused and every step must be a string. Blank steps are
// dropped.
func ParsePlan(raw json.RawMessage) (Plan, error) {
	var doc struct {
		Steps *[]string `json:"steps"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode plan: trailing data after object")
	}
	if doc.Steps == nil {
		return nil, errors.New("decode plan: missing steps")
	}

	plan := make(Plan, 0, len(*doc.Steps))
	for _, step := range *doc.Steps {
		if s := strings.TrimSpace(step); s != "" {
			plan = append(plan, s)
		}
	}
	return plan, nil
}
