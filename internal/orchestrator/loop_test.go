package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/agentio"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/agentrun"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
)

// scriptedPort is a TrackerPort whose FetchStatus reflects whatever the
// test has decided an identifier's server-side status is; tests mutate it
// directly to simulate verification agreement/disagreement.
type scriptedPort struct {
	status  map[string]string
	applied []core.PendingUpdate
}

func newScriptedPort() *scriptedPort { return &scriptedPort{status: map[string]string{}} }

func (p *scriptedPort) FetchParent(ctx context.Context, identifier string) (*core.ParentInfo, error) {
	return nil, nil
}
func (p *scriptedPort) FetchSubTasks(ctx context.Context, parentID string) ([]core.SubTaskPayload, error) {
	return nil, nil
}
func (p *scriptedPort) FetchStatus(ctx context.Context, identifier string) (string, error) {
	return p.status[identifier], nil
}
func (p *scriptedPort) ApplyUpdate(ctx context.Context, update core.PendingUpdate) (core.UpdateResult, error) {
	p.applied = append(p.applied, update)
	return core.UpdateResult{Success: true}, nil
}
func (p *scriptedPort) IdentifierPattern() string { return "^[A-Z]+-[0-9]+$" }
func (p *scriptedPort) Name() string              { return "scripted" }

// scriptedInvoker returns, for each identifier, the next result in a queue
// the test pre-loads; it records how many times each identifier executed.
type scriptedInvoker struct {
	queued map[string][]agentrun.ExecutionResult
	calls  map[string]int
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{queued: map[string][]agentrun.ExecutionResult{}, calls: map[string]int{}}
}

func (s *scriptedInvoker) push(identifier string, r agentrun.ExecutionResult) {
	r.Identifier = identifier
	s.queued[identifier] = append(s.queued[identifier], r)
}

func (s *scriptedInvoker) Invoke(ctx context.Context, task core.SubTask, worktreePath string, cfg agentrun.Config) agentrun.ExecutionResult {
	s.calls[task.Identifier]++
	q := s.queued[task.Identifier]
	if len(q) == 0 {
		return agentrun.ExecutionResult{TaskID: task.ID, Identifier: task.Identifier, Status: agentrun.StatusError}
	}
	r := q[0]
	s.queued[task.Identifier] = q[1:]
	r.TaskID = task.ID
	return r
}

func completeResult(identifier string) agentrun.ExecutionResult {
	outcome := agentio.Outcome{Status: agentio.StatusSubTaskComplete, Identifier: identifier, Timestamp: "2026-01-01T00:00:00Z"}
	return agentrun.ExecutionResult{Success: true, Status: agentrun.StatusSubTaskComplete, Outcome: &outcome, RawOutput: agentio.Serialize(outcome)}
}

func failResult() agentrun.ExecutionResult {
	outcome := agentio.Outcome{Status: agentio.StatusVerificationFailed, Identifier: "unused", Timestamp: "2026-01-01T00:00:00Z"}
	return agentrun.ExecutionResult{Success: false, Status: agentrun.StatusVerificationFailed, Outcome: &outcome, RawOutput: agentio.Serialize(outcome)}
}

func needsWorkResult(target string) agentrun.ExecutionResult {
	outcome := agentio.Outcome{Status: agentio.StatusNeedsWork, Target: target, Timestamp: "2026-01-01T00:00:00Z"}
	return agentrun.ExecutionResult{Success: false, Status: agentrun.StatusError, Outcome: &outcome, RawOutput: agentio.Serialize(outcome)}
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.MaxParallelAgents = 3
	cfg.MaxRetries = 2
	cfg.VerificationTimeout = time.Second
	cfg.MaxIterations = 20
	return cfg
}

// Two linear tasks with no verification gate run to completion.
func TestScenario_LinearTwoTaskSuccess(t *testing.T) {
	graph := core.BuildGraph("p1", "X-100", []core.SubTaskPayload{
		{ID: "1", Identifier: "X-101", Title: "first"},
		{ID: "2", Identifier: "X-102", Title: "second", BlockedBy: []core.BlockerRef{{ID: "1", Identifier: "X-101"}}},
	})

	port := newScriptedPort()
	port.status["X-101"] = "done"
	port.status["X-102"] = "done"

	inv := newScriptedInvoker()
	inv.push("X-101", completeResult("X-101"))
	inv.push("X-102", completeResult("X-102"))

	l := newLoop(testConfig(t), "X-100", t.TempDir(), port, inv, nil)
	result := l.Run(context.Background(), graph)

	if result.Reason != ExitSuccessAllDone {
		t.Fatalf("expected SuccessAllDone, got %s", result.Reason)
	}
	if result.Iters != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iters)
	}
	stats := core.StatsOf(result.Graph)
	if stats.Done != 2 {
		t.Fatalf("expected both tasks done, got stats %+v", stats)
	}
}

// A verification-gate task reaching done ends the run even with siblings still pending.
func TestScenario_GateExitsEarly(t *testing.T) {
	graph := core.BuildGraph("p1", "X-100", []core.SubTaskPayload{
		{ID: "1", Identifier: "X-101", Title: "first"},
		{ID: "2", Identifier: "X-102", Title: "second"},
		{ID: "3", Identifier: "X-103", Title: "Verification Gate"},
	})

	port := newScriptedPort()
	port.status["X-101"] = "done"
	port.status["X-102"] = "done"
	port.status["X-103"] = "done"

	inv := newScriptedInvoker()
	inv.push("X-101", completeResult("X-101"))
	inv.push("X-102", completeResult("X-102"))
	inv.push("X-103", completeResult("X-103"))

	cfg := testConfig(t)
	cfg.MaxParallelAgents = 3
	l := newLoop(cfg, "X-100", t.TempDir(), port, inv, nil)
	result := l.Run(context.Background(), graph)

	if result.Reason != ExitSuccessVerificationGate {
		t.Fatalf("expected SuccessVerificationGate, got %s", result.Reason)
	}
}

// A gate task that reports NEEDS_WORK forces its sibling back to ready for another pass.
func TestScenario_GateReloopsSibling(t *testing.T) {
	graph := core.BuildGraph("p1", "X-100", []core.SubTaskPayload{
		{ID: "1", Identifier: "X-101", Title: "first"},
		{ID: "2", Identifier: "X-102", Title: "second", BlockedBy: []core.BlockerRef{{ID: "1", Identifier: "X-101"}}},
		{ID: "3", Identifier: "X-103", Title: "Verification Gate", BlockedBy: []core.BlockerRef{{ID: "2", Identifier: "X-102"}}},
	})

	port := newScriptedPort()
	port.status["X-101"] = "done"
	port.status["X-102"] = "done"
	port.status["X-103"] = "pending"

	inv := newScriptedInvoker()
	inv.push("X-101", completeResult("X-101")) // iter 1, first attempt
	inv.push("X-102", completeResult("X-102")) // iter 2
	inv.push("X-103", needsWorkResult("X-101")) // iter 3: gate flags X-101
	inv.push("X-101", completeResult("X-101"))  // iter 4: re-execution
	inv.push("X-103", completeResult("X-103"))  // iter 5: gate passes

	cfg := testConfig(t)
	cfg.MaxParallelAgents = 1
	l := newLoop(cfg, "X-100", t.TempDir(), port, inv, nil)

	// The gate's own server status only flips to done once it actually
	// executes successfully; drive it manually between iterations is not
	// possible with this harness, so instead make FetchStatus reflect the
	// sequence as the scenario narrates: gate not done until its second
	// invocation below.
	origStatus := port.status["X-103"]
	_ = origStatus
	port.status["X-103"] = "pending"

	// Run iteration by iteration isn't exposed; run once and assert the
	// final state matches the scenario's expected trajectory end-to-end.
	// We flip X-103's status to done only after its second invocation by
	// wrapping the invoker.
	countX103 := 0
	wrapped := invokerFunc(func(ctx context.Context, task core.SubTask, worktreePath string, cfg agentrun.Config) agentrun.ExecutionResult {
		r := inv.Invoke(ctx, task, worktreePath, cfg)
		if task.Identifier == "X-103" {
			countX103++
			if countX103 >= 2 {
				port.status["X-103"] = "done"
			}
		}
		return r
	})
	l.invoker = wrapped

	result := l.Run(context.Background(), graph)

	if result.Reason != ExitSuccessVerificationGate {
		t.Fatalf("expected SuccessVerificationGate, got %s (graph=%+v)", result.Reason, core.StatsOf(result.Graph))
	}
	if inv.calls["X-101"] != 2 {
		t.Fatalf("expected X-101 to execute twice, got %d", inv.calls["X-101"])
	}
	if inv.calls["X-102"] != 1 {
		t.Fatalf("expected X-102 to execute once, got %d", inv.calls["X-102"])
	}
	if inv.calls["X-103"] != 2 {
		t.Fatalf("expected X-103 to execute twice, got %d", inv.calls["X-103"])
	}
}

type invokerFunc func(ctx context.Context, task core.SubTask, worktreePath string, cfg agentrun.Config) agentrun.ExecutionResult

func (f invokerFunc) Invoke(ctx context.Context, task core.SubTask, worktreePath string, cfg agentrun.Config) agentrun.ExecutionResult {
	return f(ctx, task, worktreePath, cfg)
}

// A task that keeps failing exhausts its retry budget and exits as a permanent failure.
func TestScenario_RetryBudgetExhausted(t *testing.T) {
	graph := core.BuildGraph("p1", "X-100", []core.SubTaskPayload{
		{ID: "1", Identifier: "X-101", Title: "first"},
	})

	port := newScriptedPort()
	port.status["X-101"] = "in_progress" // never agrees with success

	inv := newScriptedInvoker()
	inv.push("X-101", failResult())
	inv.push("X-101", failResult())
	inv.push("X-101", failResult())

	cfg := testConfig(t)
	cfg.MaxRetries = 2
	l := newLoop(cfg, "X-100", t.TempDir(), port, inv, nil)
	result := l.Run(context.Background(), graph)

	if result.Reason != ExitPermanentFailure {
		t.Fatalf("expected PermanentFailure, got %s", result.Reason)
	}
	if inv.calls["X-101"] != 3 {
		t.Fatalf("expected 3 attempts (1,2 retry, 3 permanent), got %d", inv.calls["X-101"])
	}
	state, _ := l.state.Get("X-100")
	if len(state.FailedTasks) != 1 || state.FailedTasks[0].Identifier != "X-101" {
		t.Fatalf("expected X-101 in failedTasks, got %+v", state.FailedTasks)
	}
}

// Boundary: empty sub-task list exits SuccessAllDone with zero iterations.
func TestScenario_EmptyGraph(t *testing.T) {
	graph := core.BuildGraph("p1", "X-100", nil)
	port := newScriptedPort()
	inv := newScriptedInvoker()
	l := newLoop(testConfig(t), "X-100", t.TempDir(), port, inv, nil)
	result := l.Run(context.Background(), graph)
	if result.Reason != ExitSuccessAllDone {
		t.Fatalf("expected SuccessAllDone for empty graph, got %s", result.Reason)
	}
}

// Boundary: a cycle leaves all participants blocked and the loop exits
// NoProgressBlocked.
func TestScenario_CycleBlocksForever(t *testing.T) {
	graph := core.BuildGraph("p1", "X-100", []core.SubTaskPayload{
		{ID: "1", Identifier: "X-101", Title: "a", BlockedBy: []core.BlockerRef{{ID: "2", Identifier: "X-102"}}},
		{ID: "2", Identifier: "X-102", Title: "b", BlockedBy: []core.BlockerRef{{ID: "1", Identifier: "X-101"}}},
	})
	port := newScriptedPort()
	inv := newScriptedInvoker()
	l := newLoop(testConfig(t), "X-100", t.TempDir(), port, inv, nil)
	result := l.Run(context.Background(), graph)
	if result.Reason != ExitNoProgressBlocked {
		t.Fatalf("expected NoProgressBlocked for mutual cycle, got %s", result.Reason)
	}
	if result.Iters != 0 {
		t.Fatalf("a pass that schedules nothing must not count as an iteration, got %d", result.Iters)
	}
}

// Every verified completion enqueues a status_change update, and the loop
// must drain it against the tracker itself rather than leaving it for a
// separate, never-invoked process: by the time the run finishes, the queue
// is empty and the runtime state's backend status reflects the push.
func TestScenario_PendingUpdatesPushedDuringRun(t *testing.T) {
	graph := core.BuildGraph("p1", "X-100", []core.SubTaskPayload{
		{ID: "1", Identifier: "X-101", Title: "first"},
	})

	port := newScriptedPort()
	port.status["X-101"] = "done"

	inv := newScriptedInvoker()
	inv.push("X-101", completeResult("X-101"))

	l := newLoop(testConfig(t), "X-100", t.TempDir(), port, inv, nil)
	result := l.Run(context.Background(), graph)
	if result.Reason != ExitSuccessAllDone {
		t.Fatalf("expected SuccessAllDone, got %s", result.Reason)
	}

	if len(port.applied) != 1 || port.applied[0].Target != "X-101" || port.applied[0].NewStatus != "done" {
		t.Fatalf("expected one status_change update applied for X-101, got %+v", port.applied)
	}
	if pending := l.queue.ListPending("X-100"); len(pending) != 0 {
		t.Fatalf("expected pending-update queue drained, got %+v", pending)
	}
	state, _ := l.state.Get("X-100")
	backend, ok := state.BackendStatuses["X-101"]
	if !ok || backend.Status != "done" {
		t.Fatalf("expected backend status done for X-101, got %+v", state.BackendStatuses)
	}
}
