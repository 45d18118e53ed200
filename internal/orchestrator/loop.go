// Package orchestrator ties the dependency graph, execution tracker,
// agent invoker, runtime state, and pending-update queue into the
// per-iteration scheduling loop: pick ready work, invoke agents in
// parallel, verify, reconcile, evaluate exit conditions.
package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/agentio"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/agentrun"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/exectracker"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/runtimestate"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/syncpush"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/updatequeue"
)

// ExitReason is a terminal state of the loop's state machine.
type ExitReason string

const (
	ExitSuccessAllDone         ExitReason = "SuccessAllDone"
	ExitSuccessVerificationGate ExitReason = "SuccessVerificationGate"
	ExitNoProgressBlocked      ExitReason = "NoProgressBlocked"
	ExitPermanentFailure       ExitReason = "PermanentFailure"
	ExitMaxIterationsReached   ExitReason = "MaxIterationsReached"
	ExitGracefulShutdown       ExitReason = "GracefulShutdown"
)

// Result summarizes one completed run, for the final user-visible summary.
type Result struct {
	Reason  ExitReason
	Graph   core.TaskGraph
	Iters   int
	Summary Stats
}

// Stats is the final total/completed/failed/runtime summary.
type Stats struct {
	Total     int
	Completed int
	Failed    int
}

// Loop is one orchestrator run for one parent.
type Loop struct {
	cfg Config

	port     core.TrackerPort
	state    *runtimestate.Store
	queue    *updatequeue.Queue
	pusher   *syncpush.Pusher
	tracker  *exectracker.Tracker
	invoker  invoker
	worktree string // the shared working copy path guarded by the mutex

	logger *logging.Logger

	parentIdentifier string
	retryQueue       map[string]core.SubTask
}

// invoker is the subset of agentrun.Invoker the loop depends on; narrowed
// to an interface so tests can substitute a fake without spawning a real
// subprocess.
type invoker interface {
	Invoke(ctx context.Context, task core.SubTask, worktreePath string, cfg agentrun.Config) agentrun.ExecutionResult
}

// New constructs a Loop for one parent run.
func New(cfg Config, parentIdentifier, worktreePath string, port core.TrackerPort, logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	return newLoop(cfg, parentIdentifier, worktreePath, port, agentrun.New(logger), logger)
}

func newLoop(cfg Config, parentIdentifier, worktreePath string, port core.TrackerPort, inv invoker, logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithParent(parentIdentifier)
	return &Loop{
		cfg:              cfg,
		port:             port,
		state:            runtimestate.New(cfg.BaseDir),
		queue:            updatequeue.New(cfg.BaseDir),
		pusher:           syncpush.New(cfg.BaseDir, port, logger),
		tracker:          exectracker.New(port, cfg.MaxRetries, cfg.VerificationTimeout),
		invoker:          inv,
		worktree:         worktreePath,
		logger:           logger,
		parentIdentifier: parentIdentifier,
		retryQueue:       make(map[string]core.SubTask),
	}
}

// Run executes the loop until a terminal exit condition or ctx cancellation.
// The loop invariant holds after every iteration: stats.done is
// non-decreasing (except the documented NEEDS_WORK regression) and
// updatedAt has advanced.
func (l *Loop) Run(ctx context.Context, graph core.TaskGraph) Result {
	iter := 0
	for {
		select {
		case <-ctx.Done():
			l.state.ClearActives(l.parentIdentifier)
			l.pushPending(context.Background())
			return l.result(ExitGracefulShutdown, graph, iter)
		default:
		}

		if vt, ok := core.VerificationTask(graph); ok && vt.Status == core.StatusDone {
			return l.result(ExitSuccessVerificationGate, graph, iter)
		}
		stats := core.StatsOf(graph)
		if stats.Done == stats.Total {
			return l.result(ExitSuccessAllDone, graph, iter)
		}

		if iter >= l.cfg.MaxIterations {
			return l.result(ExitMaxIterationsReached, graph, iter)
		}

		schedulable := l.schedulable(graph)
		if len(schedulable) == 0 {
			return l.result(ExitNoProgressBlocked, graph, iter)
		}
		// Only a batch that is actually scheduled counts as an iteration; a
		// pass that finds nothing to do must not advance the counter.
		iter++

		parallelism := len(schedulable)
		if parallelism > l.cfg.MaxParallelAgents {
			parallelism = l.cfg.MaxParallelAgents
		}
		batch := schedulable[:parallelism]

		for _, task := range batch {
			l.tracker.Assign(task)
			l.state.AddActive(l.parentIdentifier, core.ActiveRecord{
				Identifier: task.Identifier, WorktreePath: l.worktree,
			})
			// Marking the task in_progress in the graph, rather than leaving
			// it ready, means a crash between this point and verification
			// still resumes it via Ready's inclusion of in_progress tasks.
			graph = core.Transition(graph, task.ID, core.StatusInProgress)
		}

		results := l.invokeBatch(ctx, batch)

		scheduled := []string{}
		for _, t := range batch {
			scheduled = append(scheduled, t.Identifier)
		}

		graph = l.handleNeedsWork(graph, results)

		execOutcomes := make([]exectracker.ExecutionOutcome, len(results))
		for i, r := range results {
			execOutcomes[i] = exectracker.ExecutionOutcome{
				TaskID: r.TaskID, Identifier: r.Identifier, Success: r.Success,
				Error: r.Error, RawOutput: r.RawOutput,
			}
		}
		verified := l.tracker.ProcessResults(ctx, execOutcomes)

		anyFailed := false
		verifiedIdentifiers := []string{}
		retriedIdentifiers := []string{}
		for _, v := range verified {
			switch v.Verdict {
			case exectracker.VerdictVerified:
				graph = core.Transition(graph, v.TaskID, core.StatusDone)
				l.state.Complete(l.parentIdentifier, v.Identifier)
				l.queue.Enqueue(l.parentIdentifier, core.PendingUpdate{
					Type: core.UpdateStatusChange, Target: v.Identifier, NewStatus: "done",
				})
				verifiedIdentifiers = append(verifiedIdentifiers, v.Identifier)
			case exectracker.VerdictRetry:
				l.state.RemoveActive(l.parentIdentifier, v.Identifier)
				if task, ok := graph.Tasks[v.TaskID]; ok {
					l.retryQueue[v.TaskID] = task
				}
				retriedIdentifiers = append(retriedIdentifiers, v.Identifier)
			case exectracker.VerdictPermanent:
				l.state.Fail(l.parentIdentifier, v.Identifier)
				anyFailed = true
			}
		}

		l.appendIterationSummary(iter, scheduled, verifiedIdentifiers, retriedIdentifiers, graph)
		l.pushPending(ctx)

		if exectracker.HasPermanentFailure(verified) || anyFailed {
			return l.result(ExitPermanentFailure, graph, iter)
		}
	}
}

// schedulable computes ready(graph) union retryQueue, deduplicated by id,
// sorted ascending by identifier, and clears retryQueue.
func (l *Loop) schedulable(graph core.TaskGraph) []core.SubTask {
	seen := make(map[string]bool)
	out := make([]core.SubTask, 0)
	for _, t := range core.Ready(graph) {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	for id, t := range l.retryQueue {
		if !seen[id] {
			seen[id] = true
			out = append(out, t)
		}
	}
	l.retryQueue = make(map[string]core.SubTask)
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// invokeBatch fans out agent invocations over the batch and waits for all
// to finish. Per-task failures must never cancel sibling invocations in
// the same batch, so results are collected into a fixed-size slice indexed
// by position rather than propagated through the errgroup's context; the
// group only returns a hard error for infrastructure-level faults.
func (l *Loop) invokeBatch(ctx context.Context, batch []core.SubTask) []agentrun.ExecutionResult {
	results := make([]agentrun.ExecutionResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range batch {
		i, task := i, task
		g.Go(func() error {
			results[i] = l.invoker.Invoke(gctx, task, l.worktree, agentrun.Config{
				CLI: task.CLI, Model: task.Model, Skill: "execute", Timeout: l.cfg.AgentTimeout,
			})
			return nil
		})
	}
	// g.Wait() only returns non-nil for a panic-free infrastructure fault;
	// agent-level failures are already captured per-slot in results.
	_ = g.Wait()
	return results
}

// handleNeedsWork implements the verification-gate re-loop contract: for
// every NEEDS_WORK outcome, enqueue an add_comment update for the target
// and move it to ready regardless of its previous status, including done.
func (l *Loop) handleNeedsWork(graph core.TaskGraph, results []agentrun.ExecutionResult) core.TaskGraph {
	for _, r := range results {
		if r.Outcome == nil || r.Outcome.Status != agentio.StatusNeedsWork {
			continue
		}
		targetIdentifier := r.Outcome.Target
		targetID := findByIdentifier(graph, targetIdentifier)
		if targetID == "" {
			continue
		}
		l.queue.Enqueue(l.parentIdentifier, core.PendingUpdate{
			Type: core.UpdateAddComment, Target: targetIdentifier,
			Comment: r.Outcome.Reason,
		})
		graph = forceReady(graph, targetID)
		l.retryQueue[targetID] = graph.Tasks[targetID]
	}
	return graph
}

func findByIdentifier(graph core.TaskGraph, identifier string) string {
	for id, t := range graph.Tasks {
		if t.Identifier == identifier {
			return id
		}
	}
	return ""
}

// forceReady moves a task to ready unconditionally, bypassing the
// documented no-op-if-already-this-status rule of Transition (which would
// refuse to move a done task backward).
func forceReady(graph core.TaskGraph, id string) core.TaskGraph {
	task, ok := graph.Tasks[id]
	if !ok {
		return graph
	}
	tasks := make(map[string]core.SubTask, len(graph.Tasks))
	for k, v := range graph.Tasks {
		tasks[k] = v
	}
	task.Status = core.StatusReady
	tasks[id] = task
	return core.TaskGraph{ParentID: graph.ParentID, ParentIdentifier: graph.ParentIdentifier, Tasks: tasks}
}

func (l *Loop) appendIterationSummary(iter int, scheduled, verified, retried []string, graph core.TaskGraph) {
	l.logger.Debug("iteration complete", "iteration", iter, "scheduled", scheduled, "verified", verified, "retried", retried)
	for _, identifier := range verified {
		l.logger.WithSubTask(identifier).Info("sub-task verified done", "iteration", iter)
	}
	summary := core.IterationSummary{
		Iteration: iter, Scheduled: scheduled, Verified: verified, Retried: retried,
		StatsAfter: core.StatsOf(graph),
	}
	if err := l.writeIterationSummary(summary); err != nil {
		l.logger.Warn("failed to persist iteration summary", "error", err)
	}
}

// pushPending drains whatever the iteration just enqueued against the
// tracker backend. A failed push is stamped with its error and retried on
// the next sweep; it never blocks the scheduling loop from advancing.
func (l *Loop) pushPending(ctx context.Context) {
	result, err := l.pusher.Push(ctx, l.parentIdentifier)
	if err != nil {
		l.logger.Warn("pending-update push sweep failed", "error", err)
		return
	}
	if result.Pushed > 0 || result.Failed > 0 {
		l.logger.Debug("pending-update push sweep complete", "pushed", result.Pushed, "failed", result.Failed)
	}
}

// writeIterationSummary appends one JSON line to
// <baseDir>/issues/<parent>/execution/iterations.json — an operator
// forensics log, never read back by the loop itself.
func (l *Loop) writeIterationSummary(summary core.IterationSummary) error {
	dir := filepath.Join(l.cfg.BaseDir, "issues", l.parentIdentifier, "execution")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.NewDomainError(core.CategoryState, "mkdir_failed", "failed to create execution directory", err)
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return core.NewDomainError(core.CategoryInternal, "marshal_failed", "failed to marshal iteration summary", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "iterations.json"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return core.NewDomainError(core.CategoryState, "open_failed", "failed to open iterations log", err)
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

func (l *Loop) result(reason ExitReason, graph core.TaskGraph, iters int) Result {
	stats := core.StatsOf(graph)
	state, _ := l.state.Get(l.parentIdentifier)
	return Result{
		Reason: reason, Graph: graph, Iters: iters,
		Summary: Stats{Total: stats.Total, Completed: len(state.CompletedTasks), Failed: len(state.FailedTasks)},
	}
}
