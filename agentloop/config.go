package agentloop

import (
	"errors"
	"time"

	"github.com/martinemde/autollama/unifiedllm"
)

// DefaultApprovalToken is the word the reviewer is asked to say when the
// codebase is ready to ship.
const DefaultApprovalToken = "LGTM"

// Config holds everything the loop needs at construction time.
type Config struct {
	SandboxDir      string        `json:"sandbox_dir"`
	MaxIterations   int           `json:"max_iterations"`
	Model           string        `json:"model"`
	Provider        string        `json:"provider,omitempty"`
	CallTimeout     time.Duration `json:"call_timeout"` // per planner/executor/reviewer call; 0 = none
	MaxTokens       int           `json:"max_tokens,omitempty"`
	Temperature     *float64      `json:"temperature,omitempty"`
	RequireToolCall bool          `json:"require_tool_call"`
	StopOnApproval  bool          `json:"stop_on_approval"`
	ApprovalToken   string        `json:"approval_token,omitempty"`
	PlanGuidelines  string        `json:"plan_guidelines,omitempty"`

	// LoopDetectionWindow is how many recent tool calls are checked for a
	// repeating pattern after each execute phase. 0 disables the check.
	LoopDetectionWindow int `json:"loop_detection_window"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		SandboxDir:     "./sandbox",
		MaxIterations:  5,
		CallTimeout:    5 * time.Minute,
		ApprovalToken:  DefaultApprovalToken,
		PlanGuidelines: DefaultPlanGuidelines,

		LoopDetectionWindow: 10,
	}
}

// Validate reports the first setting that makes the loop unusable.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return errors.New("max iterations must be at least 1")
	}
	if c.LoopDetectionWindow < 0 {
		return errors.New("loop detection window must not be negative")
	}
	if c.CallTimeout < 0 {
		return errors.New("call timeout must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ApprovalToken == "" {
		c.ApprovalToken = DefaultApprovalToken
	}
	if c.PlanGuidelines == "" {
		c.PlanGuidelines = DefaultPlanGuidelines
	}
	return c
}

// request builds a Request with the model settings shared by every call.
// The operation label lets middleware tell the phases apart.
func (c Config) request(operation string, messages ...unifiedllm.Message) unifiedllm.Request {
	req := unifiedllm.Request{
		Model:       c.Model,
		Provider:    c.Provider,
		Messages:    messages,
		Temperature: c.Temperature,
		Metadata:    map[string]string{"operation": operation},
	}
	if c.MaxTokens > 0 {
		n := c.MaxTokens
		req.MaxTokens = &n
	}
	return req
}
