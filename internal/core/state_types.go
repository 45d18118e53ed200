package core

import "time"

// ActiveRecord describes one currently-running task.
type ActiveRecord struct {
	Identifier   string    `json:"identifier"`
	PID          int       `json:"pid"`
	PaneSlot     int       `json:"paneSlot"`
	StartedAt    time.Time `json:"startedAt"`
	WorktreePath string    `json:"worktreePath,omitempty"`
}

// CompletedRecord describes one terminated task (success or failure).
type CompletedRecord struct {
	Identifier string    `json:"identifier"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
}

// BackendStatus is the last status the engine synced to the tracker for an
// identifier, stamped by the pending-update push path.
type BackendStatus struct {
	Status   string    `json:"status"`
	SyncedAt time.Time `json:"syncedAt"`
}

// RuntimeState is the file-backed snapshot of in-flight and finished work
// for one parent.
type RuntimeState struct {
	ParentID        string                    `json:"parentId"`
	ParentTitle     string                    `json:"parentTitle"`
	StartedAt       time.Time                 `json:"startedAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
	ActiveTasks     []ActiveRecord            `json:"activeTasks"`
	CompletedTasks  []CompletedRecord         `json:"completedTasks"`
	FailedTasks     []CompletedRecord         `json:"failedTasks"`
	LoopPID         *int                      `json:"loopPid,omitempty"`
	TotalTasks      *int                      `json:"totalTasks,omitempty"`
	BackendStatuses map[string]BackendStatus  `json:"backendStatuses,omitempty"`
	TotalCost       float64                   `json:"totalCost,omitempty"`
}

// UpdateKind discriminates a PendingUpdate.
type UpdateKind string

const (
	UpdateStatusChange      UpdateKind = "status_change"
	UpdateAddComment        UpdateKind = "add_comment"
	UpdateCreateSubTask     UpdateKind = "create_subtask"
	UpdateDescriptionChange UpdateKind = "update_description"
	UpdateAddLabel          UpdateKind = "add_label"
	UpdateRemoveLabel       UpdateKind = "remove_label"
)

// PendingUpdate is a tagged-variant side-effect destined for the tracker.
// Only the fields relevant to Type are expected to be populated; the rest
// are the zero value.
type PendingUpdate struct {
	ID        string     `json:"id"`
	Type      UpdateKind `json:"type"`
	CreatedAt time.Time  `json:"createdAt"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts,omitempty"`

	// Target identifies the sub-task this update concerns.
	Target string `json:"target,omitempty"`

	// status_change
	NewStatus string `json:"newStatus,omitempty"`
	// add_comment
	Comment string `json:"comment,omitempty"`
	// create_subtask
	Title     string   `json:"title,omitempty"`
	BlockedBy []string `json:"blockedBy,omitempty"`
	// update_description
	Description string `json:"description,omitempty"`
	// add_label / remove_label
	Label string `json:"label,omitempty"`
}

// IsPending reports whether u has not yet been synced or permanently failed.
func (u PendingUpdate) IsPending() bool {
	return u.SyncedAt == nil && u.Error == ""
}

// PendingUpdatesQueue is the file-backed queue for one parent.
type PendingUpdatesQueue struct {
	Updates         []PendingUpdate `json:"updates"`
	LastSyncAttempt *time.Time      `json:"lastSyncAttempt,omitempty"`
	LastSyncSuccess *time.Time      `json:"lastSyncSuccess,omitempty"`
}

// SyncLogEntry is one append-only audit record of a push attempt.
type SyncLogEntry struct {
	At         time.Time     `json:"at"`
	UpdateID   string        `json:"updateId"`
	Backend    string        `json:"backend"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	DurationMs int64         `json:"durationMs"`
}

// IterationSummary is an append-only per-iteration post-mortem record,
// written for operator forensics; never read back by the loop itself.
type IterationSummary struct {
	Iteration  int      `json:"iteration"`
	Scheduled  []string `json:"scheduled"`
	Verified   []string `json:"verified"`
	Retried    []string `json:"retried"`
	StatsAfter Stats    `json:"statsAfter"`
}
