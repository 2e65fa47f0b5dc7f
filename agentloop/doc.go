// Package agentloop runs an autonomous plan, execute and review loop that
// builds a small codebase inside a sandbox directory.
//
// Each iteration asks the model for a step list, turns every step into one
// file operation (create_file, update_file or delete_file) and then streams
// a review of the result. The review is fed into the next plan. Only the
// Dispatcher touches the sandbox, and it refuses any path that would leave
// the sandbox root.
//
// # Architecture
//
//   - Orchestrator: owns the iteration loop, per-call timeouts and the
//     optional early stop on reviewer approval.
//   - Planner: one structured completion per iteration. Unusable output is
//     an empty plan, not an error.
//   - Executor: one tool completion per step. The first tool call wins.
//   - Dispatcher: validates paths, repairs escaped content and applies the
//     operation to the Workspace, logging one audit line per call.
//   - Reviewer: one streaming completion per iteration. Deltas are emitted
//     as events in arrival order.
//   - EventEmitter: synchronous, ordered delivery of run events to the host.
//
// # Quick Start
//
//	cfg := agentloop.DefaultConfig()
//	cfg.Model = "gpt-4o-mini"
//	orch, err := agentloop.NewOrchestrator(client, cfg, agentloop.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := orch.Run(ctx, "a web app that translates English to French")
package agentloop
