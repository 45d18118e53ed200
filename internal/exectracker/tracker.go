// Package exectracker implements the per-attempt assignment table, the
// retry-budget policy, and tracker-side verification of reported
// completion.
package exectracker

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/agentio"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
)

// AssignmentRecord is in-memory bookkeeping for one orchestrator process;
// never persisted.
type AssignmentRecord struct {
	TaskID     string
	Identifier string
	Attempts   int
	LastResult *ExecutionOutcome
}

// ExecutionOutcome is what the Agent Invoker reports for one task.
type ExecutionOutcome struct {
	TaskID     string
	Identifier string
	Success    bool
	Status     agentio.Status
	Error      error
	RawOutput  []byte
}

// Verdict classifies one verified result.
type Verdict string

const (
	VerdictVerified Verdict = "verified"
	VerdictRetry    Verdict = "retry"
	VerdictPermanent Verdict = "permanent_failure"
)

// VerifiedResult is the outcome of ExecutionOutcome after cross-checking
// against the tracker's own reported status.
type VerifiedResult struct {
	TaskID     string
	Identifier string
	Verdict    Verdict
}

// Tracker holds the retry policy and the in-memory assignment table for one
// orchestrator run.
type Tracker struct {
	MaxRetries          int
	VerificationTimeout time.Duration

	port        core.TrackerPort
	assignments map[string]*AssignmentRecord
}

// New builds a Tracker bound to port for status re-verification.
func New(port core.TrackerPort, maxRetries int, verificationTimeout time.Duration) *Tracker {
	return &Tracker{
		MaxRetries:          maxRetries,
		VerificationTimeout: verificationTimeout,
		port:                port,
		assignments:         make(map[string]*AssignmentRecord),
	}
}

// Assign increments attempts for task, creating the record if absent.
func (t *Tracker) Assign(task core.SubTask) *AssignmentRecord {
	rec, ok := t.assignments[task.ID]
	if !ok {
		rec = &AssignmentRecord{TaskID: task.ID, Identifier: task.Identifier}
		t.assignments[task.ID] = rec
	}
	rec.Attempts++
	return rec
}

// retryEligible implements the load-bearing inclusive boundary:
// attempts <= maxRetries, not <.
func (t *Tracker) retryEligible(attempts int) bool {
	return attempts <= t.MaxRetries
}

// ProcessResults re-fetches each reported outcome's server-side status and
// classifies it as verified, retry, or permanent failure.
func (t *Tracker) ProcessResults(ctx context.Context, results []ExecutionOutcome) []VerifiedResult {
	out := make([]VerifiedResult, 0, len(results))
	for _, r := range results {
		out = append(out, t.processOne(ctx, r))
	}
	return out
}

func (t *Tracker) processOne(ctx context.Context, r ExecutionOutcome) VerifiedResult {
	rec := t.assignments[r.TaskID]
	attempts := 1
	if rec != nil {
		rec.LastResult = &r
		attempts = rec.Attempts
	}

	verifyCtx, cancel := context.WithTimeout(ctx, t.VerificationTimeout)
	defer cancel()
	serverStatus, err := t.port.FetchStatus(verifyCtx, r.Identifier)

	// Tracker unreachable is treated as a verification disagreement.
	unreachable := err != nil || serverStatus == ""
	serverDone := !unreachable && normalizesToDone(serverStatus)

	if r.Success && serverDone {
		return VerifiedResult{TaskID: r.TaskID, Identifier: r.Identifier, Verdict: VerdictVerified}
	}

	if t.retryEligible(attempts) {
		return VerifiedResult{TaskID: r.TaskID, Identifier: r.Identifier, Verdict: VerdictRetry}
	}
	return VerifiedResult{TaskID: r.TaskID, Identifier: r.Identifier, Verdict: VerdictPermanent}
}

var doneAliases = map[string]bool{
	"done": true, "completed": true, "closed": true, "merged": true,
}

func normalizesToDone(status string) bool {
	return doneAliases[lower(status)]
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// RetryTasks returns the SubTask objects, from originallyScheduled, whose
// verified result is a retry.
func RetryTasks(verified []VerifiedResult, originallyScheduled []core.SubTask) []core.SubTask {
	retryIDs := make(map[string]bool, len(verified))
	for _, v := range verified {
		if v.Verdict == VerdictRetry {
			retryIDs[v.TaskID] = true
		}
	}
	out := make([]core.SubTask, 0, len(retryIDs))
	for _, task := range originallyScheduled {
		if retryIDs[task.ID] {
			out = append(out, task)
		}
	}
	return out
}

// HasPermanentFailure reports whether any verified result is a permanent
// failure.
func HasPermanentFailure(verified []VerifiedResult) bool {
	for _, v := range verified {
		if v.Verdict == VerdictPermanent {
			return true
		}
	}
	return false
}
