package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/martinemde/autollama/agentloop"
)

var (
	coderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	reviewerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	stepStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Faint(true)
)

// console renders loop events for a person watching the terminal.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// Handle is an agentloop.EventHandler.
func (c *console) Handle(ev agentloop.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case agentloop.EventRunStart:
		c.printf("%s\n", dimStyle.Render(fmt.Sprintf("Objective: %s", ev.String("objective"))))
	case agentloop.EventPhaseStart:
		c.printf("\n%s\n", phaseBanner(agentloop.Phase(ev.String("phase")), ev.Iteration))
	case agentloop.EventPlanReady:
		steps, _ := ev.Data["steps"].([]string)
		if len(steps) == 0 {
			c.printf("%s\n", warnStyle.Render("No steps planned."))
		}
		for i, s := range steps {
			c.printf("%d. %s\n", i+1, s)
		}
	case agentloop.EventStepStart:
		c.printf("%s\n", stepStyle.Render(fmt.Sprintf("Step %v: %s", ev.Data["index"], ev.String("step"))))
	case agentloop.EventStepEnd:
		c.printf("  %s\n", stepSummary(ev))
	case agentloop.EventReviewDelta:
		c.printf("%s", ev.String("delta"))
	case agentloop.EventReviewEnd:
		c.printf("\n")
	case agentloop.EventWarning:
		c.printf("%s\n", warnStyle.Render("warning: "+ev.String("message")))
	case agentloop.EventLoopDetection:
		c.printf("%s\n", warnStyle.Render("warning: the same file actions keep repeating across iterations"))
	case agentloop.EventApproved:
		c.printf("%s\n", doneStyle.Render("Reviewer approved the codebase."))
	case agentloop.EventError:
		c.printf("%s\n", errorStyle.Render("error: "+ev.String("error")))
	case agentloop.EventRunEnd:
		if _, failed := ev.Data["error"]; !failed {
			c.printf("\n%s\n", doneStyle.Render(fmt.Sprintf("Done after %v iteration(s).", ev.Data["iterations"])))
		}
	}
}

func (c *console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func phaseBanner(phase agentloop.Phase, iteration int) string {
	switch phase {
	case agentloop.PhasePlan:
		return coderStyle.Render(fmt.Sprintf("Coder Agent - Creating Plan - Iteration %d", iteration))
	case agentloop.PhaseExecute:
		return coderStyle.Render(fmt.Sprintf("Coder Agent - Executing Plan - Iteration %d", iteration))
	case agentloop.PhaseReview:
		return reviewerStyle.Render(fmt.Sprintf("Reviewer Agent - Reviewing Codebase - Iteration %d", iteration))
	default:
		return string(phase)
	}
}

func stepSummary(ev agentloop.Event) string {
	status := ev.String("status")
	switch agentloop.ActionStatus(status) {
	case agentloop.StatusApplied:
		return fmt.Sprintf("%s %s", ev.String("tool"), ev.String("path"))
	case agentloop.StatusNoop:
		return dimStyle.Render(fmt.Sprintf("%s %s: %s", ev.String("tool"), ev.String("path"), ev.String("reason")))
	default:
		return warnStyle.Render(fmt.Sprintf("%s: %s", status, ev.String("reason")))
	}
}
