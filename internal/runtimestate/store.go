// Package runtimestate implements the file-backed, atomically updated
// snapshot of in-flight and finished work for one parent, with a
// change-notification channel for dashboard-style readers.
package runtimestate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/atomicfile"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/worktreelock"
)

// Store reads and mutates RuntimeState documents rooted at a base
// directory, one per parent identifier.
type Store struct {
	baseDir string
}

// New returns a Store rooted at baseDir (e.g. <base>/issues/<parent>/execution).
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) dir(parentIdentifier string) string {
	return filepath.Join(s.baseDir, "issues", parentIdentifier, "execution")
}

func (s *Store) path(parentIdentifier string) string {
	return filepath.Join(s.dir(parentIdentifier), "runtime.json")
}

func (s *Store) lockPath(parentIdentifier string) string {
	return s.dir(parentIdentifier)
}

// completedEntry accepts both the current CompletedRecord shape and the
// historical bare-identifier-string shape for backward compatibility.
type completedEntry core.CompletedRecord

func (c *completedEntry) UnmarshalJSON(b []byte) error {
	var rec core.CompletedRecord
	if err := json.Unmarshal(b, &rec); err == nil && rec.Identifier != "" {
		*c = completedEntry(rec)
		return nil
	}
	var identifier string
	if err := json.Unmarshal(b, &identifier); err != nil {
		return err
	}
	*c = completedEntry(core.CompletedRecord{Identifier: identifier})
	return nil
}

// wireState mirrors core.RuntimeState but decodes completed/failed entries
// leniently (bare strings or records).
type wireState struct {
	ParentID        string                           `json:"parentId"`
	ParentTitle     string                           `json:"parentTitle"`
	StartedAt       time.Time                        `json:"startedAt"`
	UpdatedAt       time.Time                        `json:"updatedAt"`
	ActiveTasks     []core.ActiveRecord               `json:"activeTasks"`
	CompletedTasks  []completedEntry                  `json:"completedTasks"`
	FailedTasks     []completedEntry                  `json:"failedTasks"`
	LoopPID         *int                             `json:"loopPid,omitempty"`
	TotalTasks      *int                             `json:"totalTasks,omitempty"`
	BackendStatuses map[string]core.BackendStatus      `json:"backendStatuses,omitempty"`
	TotalCost       float64                          `json:"totalCost,omitempty"`
}

func toCore(w wireState) core.RuntimeState {
	completed := make([]core.CompletedRecord, len(w.CompletedTasks))
	for i, c := range w.CompletedTasks {
		completed[i] = core.CompletedRecord(c)
	}
	failed := make([]core.CompletedRecord, len(w.FailedTasks))
	for i, c := range w.FailedTasks {
		failed[i] = core.CompletedRecord(c)
	}
	return core.RuntimeState{
		ParentID: w.ParentID, ParentTitle: w.ParentTitle,
		StartedAt: w.StartedAt, UpdatedAt: w.UpdatedAt,
		ActiveTasks: w.ActiveTasks, CompletedTasks: completed, FailedTasks: failed,
		LoopPID: w.LoopPID, TotalTasks: w.TotalTasks,
		BackendStatuses: w.BackendStatuses, TotalCost: w.TotalCost,
	}
}

// load reads the current document, or returns a zero-value (ok=false) state
// when absent or corrupt. Corruption re-initializes on next write rather
// than erroring, per the state-file-corruption policy.
func (s *Store) load(parentIdentifier string) (core.RuntimeState, bool) {
	b, err := os.ReadFile(s.path(parentIdentifier))
	if err != nil {
		return core.RuntimeState{}, false
	}
	var w wireState
	if err := json.Unmarshal(b, &w); err != nil {
		return core.RuntimeState{}, false
	}
	return toCore(w), true
}

func (s *Store) save(parentIdentifier string, state core.RuntimeState) error {
	if err := os.MkdirAll(s.dir(parentIdentifier), 0o755); err != nil {
		return core.NewDomainError(core.CategoryState, "mkdir_failed", "failed to create execution directory", err)
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return core.NewDomainError(core.CategoryInternal, "marshal_failed", "failed to marshal runtime state", err)
	}
	if err := atomicfile.Write(s.path(parentIdentifier), b, 0o644); err != nil {
		return core.NewDomainError(core.CategoryState, "write_failed", "failed to write runtime state", err)
	}
	return nil
}

// withState is the critical section every mutation goes through: acquire a
// file-scoped advisory lock, read-or-init, apply f, write atomically,
// bump updatedAt, release.
func (s *Store) withState(parentIdentifier string, f func(core.RuntimeState) core.RuntimeState) (core.RuntimeState, error) {
	if err := os.MkdirAll(s.dir(parentIdentifier), 0o755); err != nil {
		return core.RuntimeState{}, core.NewDomainError(core.CategoryState, "mkdir_failed", "failed to create execution directory", err)
	}
	h, err := worktreelock.Acquire(s.lockPath(parentIdentifier), worktreelock.DefaultTimeout)
	if err != nil {
		return core.RuntimeState{}, err
	}
	defer h.Release()

	current, ok := s.load(parentIdentifier)
	if !ok {
		current = core.RuntimeState{ParentID: parentIdentifier, StartedAt: now()}
	}
	next := f(current)
	next.UpdatedAt = now()
	if err := s.save(parentIdentifier, next); err != nil {
		return core.RuntimeState{}, err
	}
	return next, nil
}

func now() time.Time { return time.Now().UTC() }

// Get returns the current state, or (zero, false) if absent.
func (s *Store) Get(parentIdentifier string) (core.RuntimeState, bool) {
	return s.load(parentIdentifier)
}

// Init creates the state document if absent; a no-op if it already exists.
func (s *Store) Init(parentIdentifier, parentTitle string, loopPID *int, totalTasks *int) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		if state.ParentTitle == "" {
			state.StartedAt = now()
		}
		state.ParentTitle = parentTitle
		state.LoopPID = loopPID
		state.TotalTasks = totalTasks
		return state
	})
}

// AddActive appends an ActiveRecord.
func (s *Store) AddActive(parentIdentifier string, record core.ActiveRecord) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		state.ActiveTasks = append(state.ActiveTasks, record)
		return state
	})
}

// RemoveActive removes the ActiveRecord for identifier, if present.
func (s *Store) RemoveActive(parentIdentifier, identifier string) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		state.ActiveTasks = removeActiveByIdentifier(state.ActiveTasks, identifier)
		return state
	})
}

func removeActiveByIdentifier(actives []core.ActiveRecord, identifier string) []core.ActiveRecord {
	out := make([]core.ActiveRecord, 0, len(actives))
	for _, a := range actives {
		if a.Identifier != identifier {
			out = append(out, a)
		}
	}
	return out
}

// UpdateActivePane sets the pane slot of an existing active record.
func (s *Store) UpdateActivePane(parentIdentifier, identifier string, paneSlot int) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		for i := range state.ActiveTasks {
			if state.ActiveTasks[i].Identifier == identifier {
				state.ActiveTasks[i].PaneSlot = paneSlot
			}
		}
		return state
	})
}

// Complete moves identifier from Active to Completed with a computed
// duration.
func (s *Store) Complete(parentIdentifier, identifier string) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		return moveActive(state, identifier, false)
	})
}

// Fail moves identifier from Active to Failed.
func (s *Store) Fail(parentIdentifier, identifier string) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		return moveActive(state, identifier, true)
	})
}

func moveActive(state core.RuntimeState, identifier string, failed bool) core.RuntimeState {
	var started time.Time
	found := false
	for _, a := range state.ActiveTasks {
		if a.Identifier == identifier {
			started = a.StartedAt
			found = true
			break
		}
	}
	finishedAt := now()
	duration := int64(0)
	if found {
		duration = finishedAt.Sub(started).Milliseconds()
	}
	rec := core.CompletedRecord{Identifier: identifier, FinishedAt: finishedAt, DurationMs: duration}
	state.ActiveTasks = removeActiveByIdentifier(state.ActiveTasks, identifier)
	if failed {
		state.FailedTasks = append(state.FailedTasks, rec)
	} else {
		state.CompletedTasks = append(state.CompletedTasks, rec)
	}
	return state
}

// SetBackendStatus stamps the last-known server-side status for identifier.
func (s *Store) SetBackendStatus(parentIdentifier, identifier, status string) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		if state.BackendStatuses == nil {
			state.BackendStatuses = map[string]core.BackendStatus{}
		}
		state.BackendStatuses[identifier] = core.BackendStatus{Status: status, SyncedAt: now()}
		return state
	})
}

// AddCost accumulates usage cost for the dashboard.
func (s *Store) AddCost(parentIdentifier string, costUSD float64) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		state.TotalCost += costUSD
		return state
	})
}

// ClearActives empties the active-task list (used when an orchestrator
// process restarts and re-derives scheduling from the graph).
func (s *Store) ClearActives(parentIdentifier string) (core.RuntimeState, error) {
	return s.withState(parentIdentifier, func(state core.RuntimeState) core.RuntimeState {
		state.ActiveTasks = nil
		return state
	})
}

// Delete removes the state document and its directory entirely.
func (s *Store) Delete(parentIdentifier string) error {
	return os.RemoveAll(s.dir(parentIdentifier))
}
