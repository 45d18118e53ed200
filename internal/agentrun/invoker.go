// Package agentrun spawns the agent subprocess for one task in one
// worktree, collects its result, and detects timeout. The agent itself is
// a black box; the invoker only owns the process boundary.
package agentrun

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/agentio"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/logging"
)

// DefaultTimeout bounds a single agent invocation.
const DefaultTimeout = 30 * time.Minute

// ExecutionStatus is the invoker-level classification of a completed
// invocation.
type ExecutionStatus string

const (
	StatusSubTaskComplete    ExecutionStatus = "SUBTASK_COMPLETE"
	StatusVerificationFailed ExecutionStatus = "VERIFICATION_FAILED"
	StatusError              ExecutionStatus = "ERROR"
)

// ExecutionResult is what the invoker produces for one task.
type ExecutionResult struct {
	TaskID     string
	Identifier string
	Success    bool
	Status     ExecutionStatus
	Duration   time.Duration
	Pane       int
	Error      error
	RawOutput  []byte
	Outcome    *agentio.Outcome
}

// Config parameterizes one invocation.
type Config struct {
	CLI     string
	Model   string
	Skill   string
	Timeout time.Duration
}

// Invoker spawns one agent subprocess per call.
type Invoker struct {
	logger *logging.Logger
}

func New(logger *logging.Logger) *Invoker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Invoker{logger: logger}
}

// Invoke runs task's agent inside worktreePath. The worktree path and the
// task identifier are the only task-identifying parameters passed to the
// child process; the same worktree must never be used by two concurrent
// invocations for the same identifier (the caller's scheduler enforces
// this, not the invoker).
func (inv *Invoker) Invoke(ctx context.Context, task core.SubTask, worktreePath string, cfg Config) ExecutionResult {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.CLI, "--identifier", task.Identifier, "--skill", cfg.Skill)
	cmd.Dir = worktreePath
	if cfg.Model != "" {
		cmd.Args = append(cmd.Args, "--model", cfg.Model)
	}
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Start()
	if err != nil {
		return errorResult(task, started, err, nil)
	}

	waitErr := cmd.Wait()
	duration := time.Since(started)

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return ExecutionResult{
			TaskID: task.ID, Identifier: task.Identifier, Success: false,
			Status: StatusError, Duration: duration,
			Error:     core.NewDomainError(core.CategoryTimeout, "agent_timeout", "agent invocation timed out", nil),
			RawOutput: stdout.Bytes(),
		}
	}

	raw := stdout.Bytes()
	outcome, parseErr := agentio.Parse(raw)
	if parseErr != nil {
		if waitErr != nil {
			// Non-zero exit with no decodable document: ERROR, exit code
			// is not authoritative on its own but corroborates the parse
			// failure.
			return errorResult(task, started, core.NewDomainError(core.CategoryExecution, "agent_failed", "agent exited non-zero with unreadable output", waitErr), raw)
		}
		return errorResult(task, started, core.NewDomainError(core.CategoryExecution, "agent_unparseable", "agent produced unreadable output", parseErr), raw)
	}

	return mapOutcome(task, started, duration, outcome, raw)
}

func errorResult(task core.SubTask, started time.Time, err error, raw []byte) ExecutionResult {
	return ExecutionResult{
		TaskID: task.ID, Identifier: task.Identifier, Success: false,
		Status: StatusError, Duration: time.Since(started), Error: err, RawOutput: raw,
	}
}

// mapOutcome implements the status mapping from §4.7: successes collapse to
// SUBTASK_COMPLETE, verification/fail statuses collapse to
// VERIFICATION_FAILED, everything else (including NEEDS_WORK, which the
// orchestrator reads back out of the raw outcome) collapses to ERROR for
// the invoker's own success/failure bookkeeping.
func mapOutcome(task core.SubTask, started time.Time, duration time.Duration, outcome agentio.Outcome, raw []byte) ExecutionResult {
	res := ExecutionResult{
		TaskID: task.ID, Identifier: task.Identifier,
		Duration: duration, RawOutput: raw, Outcome: &outcome,
	}
	switch {
	case agentio.IsSuccess(outcome.Status):
		res.Success = true
		res.Status = StatusSubTaskComplete
	case agentio.IsFailure(outcome.Status):
		res.Status = StatusVerificationFailed
	default:
		res.Status = StatusError
	}
	return res
}
