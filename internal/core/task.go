// Package core models the dependency graph of sub-tasks that the
// orchestrator schedules, along with the shared domain types (runtime
// state, pending updates, tracker port) the rest of the engine depends on.
package core

import (
	"sort"
	"strings"
)

// Status is the lifecycle state of a SubTask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// verificationGateMarker is the case-insensitive title substring that marks
// a sub-task as the verification gate for its graph.
const verificationGateMarker = "verification gate"

// SubTask is one node of a TaskGraph.
type SubTask struct {
	ID         string   `json:"id"`
	Identifier string   `json:"identifier"`
	Title      string   `json:"title"`
	Status     Status   `json:"status"`
	BlockedBy  []string `json:"blockedBy"`
	Blocks     []string `json:"blocks"`
	BranchName string   `json:"branchName,omitempty"`

	// CLI and Model select which agent program and model override to
	// invoke for this sub-task. The agent itself is a black box; these
	// fields exist only so the invoker knows what to exec.
	CLI   string `json:"cli,omitempty"`
	Model string `json:"model,omitempty"`

	TokensIn  int     `json:"tokensIn,omitempty"`
	TokensOut int     `json:"tokensOut,omitempty"`
	CostUSD   float64 `json:"costUsd,omitempty"`
}

// IsVerificationGate reports whether t is recognized as the verification
// gate of its graph.
func (t SubTask) IsVerificationGate() bool {
	return strings.Contains(strings.ToLower(t.Title), verificationGateMarker)
}

// TaskGraph is the dependency graph for one parent's sub-tasks.
type TaskGraph struct {
	ParentID         string             `json:"parentId"`
	ParentIdentifier string             `json:"parentIdentifier"`
	Tasks            map[string]SubTask `json:"tasks"`
}

// SubTaskPayload is the wire shape fetched from a Tracker Port
// implementation, before status normalization and ready/blocked derivation.
type SubTaskPayload struct {
	ID         string
	Identifier string
	Title      string
	Status     string
	BranchName string
	BlockedBy  []BlockerRef
}

// BlockerRef names a blocking task by id and identifier.
type BlockerRef struct {
	ID         string
	Identifier string
}

// statusAliases maps tracker-reported status strings (case-insensitively)
// to the three raw states a freshly-fetched payload can be in. Anything not
// listed here normalizes to pending.
var statusAliases = map[string]Status{
	"done":        StatusDone,
	"completed":   StatusDone,
	"closed":      StatusDone,
	"merged":      StatusDone,
	"inprogress":  StatusInProgress,
	"in_progress": StatusInProgress,
	"in progress": StatusInProgress,
	"started":     StatusInProgress,
	"active":      StatusInProgress,
}

func normalizeReportedStatus(raw string) Status {
	return NormalizeStatus(raw)
}

// NormalizeStatus maps a tracker-reported (or pending-update) status string,
// case- and whitespace-insensitively, to one of the three raw states a
// freshly-fetched payload can be in. Anything unrecognized normalizes to
// pending.
func NormalizeStatus(raw string) Status {
	if s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusPending
}

// BuildGraph constructs a TaskGraph from tracker payloads, normalizing
// status strings and deriving ready/blocked/blocks from blockedBy. Unknown
// blocker ids (not present in payloads) are treated as already satisfied.
func BuildGraph(parentID, parentIdentifier string, payloads []SubTaskPayload) TaskGraph {
	tasks := make(map[string]SubTask, len(payloads))
	knownIDs := make(map[string]bool, len(payloads))
	for _, p := range payloads {
		knownIDs[p.ID] = true
	}

	for _, p := range payloads {
		blockedBy := make([]string, 0, len(p.BlockedBy))
		for _, b := range p.BlockedBy {
			if knownIDs[b.ID] {
				blockedBy = append(blockedBy, b.ID)
			}
			// Unknown blockers are implicitly done (external); they do not
			// appear in blockedBy at all, since they can never unblock.
		}
		tasks[p.ID] = SubTask{
			ID:         p.ID,
			Identifier: p.Identifier,
			Title:      p.Title,
			Status:     normalizeReportedStatus(p.Status),
			BlockedBy:  blockedBy,
			BranchName: p.BranchName,
		}
	}

	// Derive blocks as the inverse of blockedBy.
	for id, t := range tasks {
		for _, blockerID := range t.BlockedBy {
			blocker := tasks[blockerID]
			blocker.Blocks = append(blocker.Blocks, id)
			tasks[blockerID] = blocker
		}
	}

	for id, t := range tasks {
		tasks[id] = applyReadyBlocked(t, tasks)
	}

	return TaskGraph{ParentID: parentID, ParentIdentifier: parentIdentifier, Tasks: tasks}
}

// applyReadyBlocked resolves a pending task to ready or blocked based on
// whether its intra-graph blockers are all done. Tasks already done or
// in_progress are left untouched.
func applyReadyBlocked(t SubTask, all map[string]SubTask) SubTask {
	if t.Status != StatusPending {
		return t
	}
	for _, blockerID := range t.BlockedBy {
		if blocker, ok := all[blockerID]; ok && blocker.Status != StatusDone {
			t.Status = StatusBlocked
			return t
		}
	}
	t.Status = StatusReady
	return t
}

// Ready returns tasks in ready or in_progress, sorted ascending by
// identifier. in_progress is included so a restart can resume.
func Ready(g TaskGraph) []SubTask {
	out := make([]SubTask, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		if t.Status == StatusReady || t.Status == StatusInProgress {
			out = append(out, t)
		}
	}
	sortByIdentifier(out)
	return out
}

// Blocked returns blocked tasks, sorted ascending by identifier.
func Blocked(g TaskGraph) []SubTask {
	out := make([]SubTask, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		if t.Status == StatusBlocked {
			out = append(out, t)
		}
	}
	sortByIdentifier(out)
	return out
}

func sortByIdentifier(tasks []SubTask) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Identifier < tasks[j].Identifier })
}

// VerificationTask returns the graph's verification gate sub-task, if any.
// At most one is recognized; if multiple titles match, the first in
// identifier order wins.
func VerificationTask(g TaskGraph) (SubTask, bool) {
	candidates := make([]SubTask, 0, 1)
	for _, t := range g.Tasks {
		if t.IsVerificationGate() {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return SubTask{}, false
	}
	sortByIdentifier(candidates)
	return candidates[0], true
}

// Stats summarizes the task counts of a graph.
type Stats struct {
	Total      int `json:"total"`
	Done       int `json:"done"`
	Ready      int `json:"ready"`
	Blocked    int `json:"blocked"`
	InProgress int `json:"inProgress"`
}

// StatsOf computes the Stats of a graph.
func StatsOf(g TaskGraph) Stats {
	var s Stats
	s.Total = len(g.Tasks)
	for _, t := range g.Tasks {
		switch t.Status {
		case StatusDone:
			s.Done++
		case StatusReady:
			s.Ready++
		case StatusBlocked:
			s.Blocked++
		case StatusInProgress:
			s.InProgress++
		}
	}
	return s
}

// Transition returns a new graph with task id moved to newStatus. If the
// task already has newStatus, the input graph is returned unchanged. When
// newStatus is done, dependents whose only remaining blocker was id are
// relaxed to ready. Transition never aliases mutated entries with the
// input graph.
func Transition(g TaskGraph, id string, newStatus Status) TaskGraph {
	existing, ok := g.Tasks[id]
	if !ok || existing.Status == newStatus {
		return g
	}

	tasks := make(map[string]SubTask, len(g.Tasks))
	for k, v := range g.Tasks {
		tasks[k] = v
	}

	updated := existing
	updated.Status = newStatus
	tasks[id] = updated

	if newStatus == StatusDone {
		for _, depID := range existing.Blocks {
			dep, ok := tasks[depID]
			if !ok || dep.Status != StatusPending && dep.Status != StatusBlocked {
				continue
			}
			if allBlockersDone(dep, tasks) {
				dep.Status = StatusReady
				tasks[depID] = dep
			}
		}
	}

	return TaskGraph{ParentID: g.ParentID, ParentIdentifier: g.ParentIdentifier, Tasks: tasks}
}

func allBlockersDone(t SubTask, all map[string]SubTask) bool {
	for _, blockerID := range t.BlockedBy {
		if blocker, ok := all[blockerID]; ok && blocker.Status != StatusDone {
			return false
		}
	}
	return true
}
