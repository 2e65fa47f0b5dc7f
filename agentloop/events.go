package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventRunStart      EventKind = "run_start"
	EventRunEnd        EventKind = "run_end"
	EventPhaseStart    EventKind = "phase_start"
	EventSnapshot      EventKind = "workspace_snapshot"
	EventPlanReady     EventKind = "plan_ready"
	EventStepStart     EventKind = "step_start"
	EventStepEnd       EventKind = "step_end"
	EventReviewDelta   EventKind = "review_delta"
	EventReviewEnd     EventKind = "review_end"
	EventApproved      EventKind = "approved"
	EventLoopDetection EventKind = "loop_detection"
	EventWarning       EventKind = "warning"
	EventError         EventKind = "error"
)

// Phase names a stage of one iteration.
type Phase string

const (
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
	PhaseReview  Phase = "review"
)

// Event is a typed event emitted by the loop.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Iteration int                    `json:"iteration"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// String returns a string field from the event data.
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// EventHandler receives events. Handlers run on the loop's goroutine, in
// emission order, and must not emit events themselves.
type EventHandler func(Event)

// EventEmitter delivers events to the registered handlers synchronously.
// Nothing is buffered, so nothing is dropped: review deltas reach a console
// handler in exactly the order the model produced them. A nil
// *EventEmitter discards everything.
type EventEmitter struct {
	runID     string
	iteration int
	handlers  []EventHandler
	mu        sync.Mutex
}

// NewEventEmitter creates an EventEmitter with the given handlers.
func NewEventEmitter(handlers ...EventHandler) *EventEmitter {
	e := &EventEmitter{}
	for _, h := range handlers {
		if h != nil {
			e.handlers = append(e.handlers, h)
		}
	}
	return e
}

// Subscribe adds a handler.
func (e *EventEmitter) Subscribe(h EventHandler) {
	if e == nil || h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

func (e *EventEmitter) setRun(runID string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runID = runID
	e.iteration = 0
}

func (e *EventEmitter) setIteration(i int) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iteration = i
}

// Emit stamps the event with the current run and iteration and hands it to
// every handler before returning.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.handlers) == 0 {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Iteration: e.iteration,
		Data:      data,
	}
	for _, h := range e.handlers {
		h(event)
	}
}
