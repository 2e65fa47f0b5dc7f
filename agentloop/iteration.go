package agentloop

import "time"

// Plan is the ordered list of steps for one iteration. It may be empty.
type Plan []string

// StepOutcome records what happened to one plan step.
type StepOutcome struct {
	Index   int           `json:"index"`
	Step    string        `json:"step"`
	Tool    string        `json:"tool,omitempty"`
	Path    string        `json:"path,omitempty"`
	Status  ActionStatus  `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Ignored int           `json:"ignored_calls,omitempty"` // extra tool calls beyond the first
	Action  *ActionResult `json:"action,omitempty"`

	// Signature identifies the tool call by name and arguments.
	Signature string `json:"signature,omitempty"`
}

// Applied reports whether the step changed the workspace.
func (o StepOutcome) Applied() bool { return o.Status == StatusApplied }

// IterationRecord is the history of one plan/execute/review cycle.
type IterationRecord struct {
	Iteration int           `json:"iteration"`
	StartedAt time.Time     `json:"started_at"`
	Plan      Plan          `json:"plan"`
	Steps     []StepOutcome `json:"steps"`
	Feedback  string        `json:"feedback"`
	Approved  bool          `json:"approved"`
}

// Attempted returns the number of steps handed to the executor.
func (r IterationRecord) Attempted() int { return len(r.Steps) }

// Applied returns the number of steps that changed the workspace.
func (r IterationRecord) Applied() int {
	n := 0
	for _, s := range r.Steps {
		if s.Applied() {
			n++
		}
	}
	return n
}

// RunReport summarizes a whole run.
type RunReport struct {
	RunID      string            `json:"run_id"`
	Objective  string            `json:"objective"`
	Iterations []IterationRecord `json:"iterations"`
	// Approved is set when the run stopped early on reviewer approval.
	Approved bool      `json:"approved"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// LastFeedback returns the most recent review, or "" before the first one.
func (r *RunReport) LastFeedback() string {
	if len(r.Iterations) == 0 {
		return ""
	}
	return r.Iterations[len(r.Iterations)-1].Feedback
}
