package agentloop

import (
	"fmt"
	"strings"
)

// DefaultPlanGuidelines are appended to every planning prompt.
const DefaultPlanGuidelines = `Please ensure there's a README.md file in the root of the codebase that describes the codebase and how to run it.
Please ensure there's a requirements.txt file in the root of the codebase that describes the dependencies of the codebase.`

const operationsSummary = "You have 3 different operations you can perform. create_file(path, content), update_file(path, content), delete_file(path)"

// CoderSystemPrompt is shared by the planner and the executor.
func CoderSystemPrompt(objective string) string {
	return fmt.Sprintf("You are a software engineer who is writing code to build a python codebase: %s.", objective)
}

// ReviewerSystemPrompt frames the reviewer as a senior engineer and asks for
// the approval token when the codebase is ready.
func ReviewerSystemPrompt(objective, approvalToken string) string {
	if approvalToken == "" {
		approvalToken = DefaultApprovalToken
	}
	return fmt.Sprintf(`You are a senior software engineer who is reviewing the codebase that was created by another software engineer.
The program is %s.
If you think the codebase is good enough to ship, please say %s.
Be pragmatic about dependencies - don't import too many.`, objective, approvalToken)
}

// PlanPrompt builds the user message for the planner.
func PlanPrompt(objective, snapshot, feedback, guidelines string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Create a step by step plan to complete the task of creating a codebase that will %s.\n", objective)
	sb.WriteString(operationsSummary + "\n")
	sb.WriteString("Limit your step by step plan to only these operations per step.\n\n")
	sb.WriteString("Here is the codebase currently:\n")
	sb.WriteString(snapshot)
	sb.WriteString("\n")
	if strings.TrimSpace(feedback) != "" {
		sb.WriteString("One of your peers has provided the following feedback:\n")
		sb.WriteString(feedback)
		sb.WriteString("\nPlease adjust the plan to address the feedback.\n\n")
	}
	if guidelines != "" {
		sb.WriteString(guidelines)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ExecutePrompt builds the user message asking for a single operation.
func ExecutePrompt(step, snapshot string) string {
	var sb strings.Builder
	sb.WriteString(operationsSummary + ".\n")
	sb.WriteString("Here is the codebase:\n")
	sb.WriteString(snapshot)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Please perform the following operation: %s\n", step)
	sb.WriteString(`Please don't escape \n or \t in file content.`)
	sb.WriteString("\n")
	return sb.String()
}

// ReviewPrompt builds the user message for the reviewer.
func ReviewPrompt(snapshot string) string {
	var sb strings.Builder
	sb.WriteString("Here is the full codebase:\n")
	sb.WriteString(snapshot)
	sb.WriteString("\n")
	sb.WriteString("Please review the codebase and make sure it is correct.\n")
	sb.WriteString("Please provide a list of changes you would like to make to the codebase.\n")
	return sb.String()
}
