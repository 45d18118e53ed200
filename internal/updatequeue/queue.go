// Package updatequeue implements the file-backed, append-only-in-effect
// queue of side-effects destined for the tracker. Entries are never
// removed, only stamped with syncedAt or error.
package updatequeue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/atomicfile"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/worktreelock"
)

// Queue reads and mutates PendingUpdatesQueue documents rooted at a base
// directory, one per parent identifier.
type Queue struct {
	baseDir string
}

func New(baseDir string) *Queue {
	return &Queue{baseDir: baseDir}
}

func (q *Queue) dir(parentIdentifier string) string {
	return filepath.Join(q.baseDir, "issues", parentIdentifier)
}

func (q *Queue) path(parentIdentifier string) string {
	return filepath.Join(q.dir(parentIdentifier), "pending-updates.json")
}

func (q *Queue) syncLogPath(parentIdentifier string) string {
	return filepath.Join(q.dir(parentIdentifier), "sync-log.json")
}

func (q *Queue) lockPath(parentIdentifier string) string {
	return q.dir(parentIdentifier)
}

func (q *Queue) load(parentIdentifier string) core.PendingUpdatesQueue {
	b, err := os.ReadFile(q.path(parentIdentifier))
	if err != nil {
		return core.PendingUpdatesQueue{}
	}
	var doc core.PendingUpdatesQueue
	if err := json.Unmarshal(b, &doc); err != nil {
		return core.PendingUpdatesQueue{}
	}
	return doc
}

func (q *Queue) save(parentIdentifier string, doc core.PendingUpdatesQueue) error {
	if err := os.MkdirAll(q.dir(parentIdentifier), 0o755); err != nil {
		return core.NewDomainError(core.CategoryState, "mkdir_failed", "failed to create parent directory", err)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return core.NewDomainError(core.CategoryInternal, "marshal_failed", "failed to marshal pending updates", err)
	}
	if err := atomicfile.Write(q.path(parentIdentifier), b, 0o644); err != nil {
		return core.NewDomainError(core.CategoryState, "write_failed", "failed to write pending updates", err)
	}
	return nil
}

func (q *Queue) withQueue(parentIdentifier string, f func(core.PendingUpdatesQueue) core.PendingUpdatesQueue) (core.PendingUpdatesQueue, error) {
	if err := os.MkdirAll(q.dir(parentIdentifier), 0o755); err != nil {
		return core.PendingUpdatesQueue{}, core.NewDomainError(core.CategoryState, "mkdir_failed", "failed to create parent directory", err)
	}
	h, err := worktreelock.Acquire(q.lockPath(parentIdentifier), worktreelock.DefaultTimeout)
	if err != nil {
		return core.PendingUpdatesQueue{}, err
	}
	defer h.Release()

	current := q.load(parentIdentifier)
	next := f(current)
	if err := q.save(parentIdentifier, next); err != nil {
		return core.PendingUpdatesQueue{}, err
	}
	return next, nil
}

// Enqueue generates an id, timestamps createdAt, and appends update.
func (q *Queue) Enqueue(parentIdentifier string, update core.PendingUpdate) (core.PendingUpdate, error) {
	update.ID = uuid.NewString()
	update.CreatedAt = time.Now().UTC()
	update.SyncedAt = nil
	update.Error = ""

	_, err := q.withQueue(parentIdentifier, func(doc core.PendingUpdatesQueue) core.PendingUpdatesQueue {
		doc.Updates = append(doc.Updates, update)
		return doc
	})
	return update, err
}

// ListPending returns updates that are neither synced nor permanently
// failed, in insertion order.
func (q *Queue) ListPending(parentIdentifier string) []core.PendingUpdate {
	doc := q.load(parentIdentifier)
	out := make([]core.PendingUpdate, 0, len(doc.Updates))
	for _, u := range doc.Updates {
		if u.IsPending() {
			out = append(out, u)
		}
	}
	return out
}

// MarkSynced stamps the update's syncedAt. Calling it again with the same
// id is a no-op beyond overwriting the timestamp.
func (q *Queue) MarkSynced(parentIdentifier, id string) (core.PendingUpdatesQueue, error) {
	now := time.Now().UTC()
	return q.withQueue(parentIdentifier, func(doc core.PendingUpdatesQueue) core.PendingUpdatesQueue {
		for i := range doc.Updates {
			if doc.Updates[i].ID == id {
				doc.Updates[i].SyncedAt = &now
				doc.Updates[i].Error = ""
			}
		}
		doc.LastSyncAttempt = &now
		doc.LastSyncSuccess = &now
		return doc
	})
}

// MarkFailed stamps the update's error. Repeated calls for the same id
// simply overwrite the error message.
func (q *Queue) MarkFailed(parentIdentifier, id, errMsg string) (core.PendingUpdatesQueue, error) {
	now := time.Now().UTC()
	return q.withQueue(parentIdentifier, func(doc core.PendingUpdatesQueue) core.PendingUpdatesQueue {
		for i := range doc.Updates {
			if doc.Updates[i].ID == id {
				doc.Updates[i].Error = errMsg
			}
		}
		doc.LastSyncAttempt = &now
		return doc
	})
}

// ClearError clears a previously-failed entry's error so the push path will
// retry it on the next sweep.
func (q *Queue) ClearError(parentIdentifier, id string) (core.PendingUpdatesQueue, error) {
	return q.withQueue(parentIdentifier, func(doc core.PendingUpdatesQueue) core.PendingUpdatesQueue {
		for i := range doc.Updates {
			if doc.Updates[i].ID == id {
				doc.Updates[i].Error = ""
			}
		}
		return doc
	})
}

// WriteSyncLog appends entry to the sibling audit log. Never used for
// correctness, only forensics.
func (q *Queue) WriteSyncLog(parentIdentifier string, entry core.SyncLogEntry) error {
	path := q.syncLogPath(parentIdentifier)
	var log []core.SyncLogEntry
	if b, err := os.ReadFile(path); err == nil {
		json.Unmarshal(b, &log)
	}
	log = append(log, entry)
	b, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(q.dir(parentIdentifier), 0o755); err != nil {
		return err
	}
	return atomicfile.Write(path, b, 0o644)
}
