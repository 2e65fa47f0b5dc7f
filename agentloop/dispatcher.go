package agentloop

import (
	"errors"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

// ActionStatus is the outcome of applying one ToolCall.
type ActionStatus string

const (
	StatusApplied  ActionStatus = "applied"
	StatusRejected ActionStatus = "rejected"
	StatusSkipped  ActionStatus = "skipped"
	StatusNoop     ActionStatus = "noop"
)

// ActionResult describes what the Dispatcher did with a ToolCall.
type ActionResult struct {
	Op           FileOp       `json:"op"`
	Path         string       `json:"path"`
	Status       ActionStatus `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	Bytes        int          `json:"bytes,omitempty"`
	LinesAdded   int          `json:"lines_added,omitempty"`
	LinesRemoved int          `json:"lines_removed,omitempty"`
}

// Dispatcher applies ToolCalls to a Workspace. Every path is checked
// against the sandbox root before anything is touched, and every call
// produces exactly one audit log line.
type Dispatcher struct {
	workspace Workspace
	logger    *zap.Logger
	onAction  func(ActionResult)
	mu        sync.Mutex
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithActionHook registers fn to observe every ActionResult, after the
// audit line is written.
func WithActionHook(fn func(ActionResult)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onAction = fn
	}
}

// NewDispatcher creates a Dispatcher over ws. A nil logger discards audit
// lines.
func NewDispatcher(ws Workspace, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{workspace: ws, logger: logger.Named("dispatcher")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Apply executes call. Failures are reported in the result, never as an
// error, so one bad step cannot stop the plan.
func (d *Dispatcher) Apply(call ToolCall) ActionResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := d.apply(call)
	d.audit(res)
	if d.onAction != nil {
		d.onAction(res)
	}
	return res
}

func (d *Dispatcher) apply(call ToolCall) ActionResult {
	res := ActionResult{Op: call.Op, Path: call.Path}

	p, err := NormalizePath(call.Path)
	if err != nil {
		res.Status = StatusRejected
		var pe *PathError
		if errors.As(err, &pe) {
			res.Reason = pe.Reason
		} else {
			res.Reason = err.Error()
		}
		return res
	}
	res.Path = p

	switch call.Op {
	case OpCreateFile, OpUpdateFile:
		return d.write(res, NormalizeEscapes(call.Content))
	case OpDeleteFile:
		return d.remove(res)
	default:
		res.Status = StatusSkipped
		res.Reason = "unsupported operation"
		return res
	}
}

func (d *Dispatcher) write(res ActionResult, content string) ActionResult {
	if d.workspace.IsDir(res.Path) {
		res.Status = StatusSkipped
		res.Reason = "path is a directory"
		return res
	}

	var before string
	existed := d.workspace.Exists(res.Path)
	if existed {
		prev, err := d.workspace.Read(res.Path)
		if err == nil {
			before = prev
		}
	}

	if err := d.workspace.Write(res.Path, content); err != nil {
		res.Status = StatusSkipped
		res.Reason = err.Error()
		return res
	}

	res.Status = StatusApplied
	res.Bytes = len(content)
	if existed {
		res.LinesAdded, res.LinesRemoved = lineDiffStats(before, content)
	} else {
		res.LinesAdded = lineCount(content)
	}
	return res
}

func (d *Dispatcher) remove(res ActionResult) ActionResult {
	if !d.workspace.Exists(res.Path) {
		res.Status = StatusNoop
		res.Reason = "file does not exist"
		return res
	}
	if d.workspace.IsDir(res.Path) {
		res.Status = StatusSkipped
		res.Reason = "path is a directory"
		return res
	}

	before, _ := d.workspace.Read(res.Path)
	if err := d.workspace.Remove(res.Path); err != nil {
		res.Status = StatusSkipped
		res.Reason = err.Error()
		return res
	}
	res.Status = StatusApplied
	res.LinesRemoved = lineCount(before)
	return res
}

func (d *Dispatcher) audit(res ActionResult) {
	fields := []zap.Field{
		zap.String("op", string(res.Op)),
		zap.String("path", res.Path),
		zap.String("status", string(res.Status)),
		zap.String("reason", res.Reason),
		zap.Int("bytes", res.Bytes),
		zap.Int("lines_added", res.LinesAdded),
		zap.Int("lines_removed", res.LinesRemoved),
	}
	switch res.Status {
	case StatusRejected, StatusSkipped:
		d.logger.Warn("tool action", fields...)
	default:
		d.logger.Info("tool action", fields...)
	}
}

// lineDiffStats counts the lines inserted and deleted between two versions
// of a file.
func lineDiffStats(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += lineCount(diff.Text)
		case diffmatchpatch.DiffDelete:
			removed += lineCount(diff.Text)
		}
	}
	return added, removed
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(value, "\n"), "\n") + 1
}
