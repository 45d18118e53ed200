// Package syncpush implements the push path that drains one parent's
// pending-update queue against its Tracker Port backend: list what's
// pending, apply each update, and stamp the queue (and, for terminal
// status changes, the runtime state's backend status) with the result.
package syncpush

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/runtimestate"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/updatequeue"
)

// Pusher drains one parent's pending-update queue against port, one sweep
// at a time.
type Pusher struct {
	queue  *updatequeue.Queue
	state  *runtimestate.Store
	port   core.TrackerPort
	logger *logging.Logger
}

// New builds a Pusher sharing the same base directory the orchestrator
// loop itself writes the queue and runtime state under.
func New(baseDir string, port core.TrackerPort, logger *logging.Logger) *Pusher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pusher{
		queue:  updatequeue.New(baseDir),
		state:  runtimestate.New(baseDir),
		port:   port,
		logger: logger,
	}
}

// Result summarizes one sweep.
type Result struct {
	Pushed int
	Failed int
}

// Push lists pending updates for parentIdentifier and applies each against
// the tracker, in queue order. A failed push is stamped with its error and
// left in the queue so a later sweep can retry it; it never blocks the
// updates behind it.
func (p *Pusher) Push(ctx context.Context, parentIdentifier string) (Result, error) {
	var result Result
	for _, update := range p.queue.ListPending(parentIdentifier) {
		start := time.Now()
		outcome, err := p.port.ApplyUpdate(ctx, update)
		duration := time.Since(start)

		success := err == nil && outcome.Success
		errMsg := ""
		switch {
		case err != nil:
			errMsg = err.Error()
		case !outcome.Success && outcome.Error != nil:
			errMsg = outcome.Error.Error()
		case !outcome.Success:
			errMsg = "tracker rejected update"
		}

		if success {
			if _, err := p.queue.MarkSynced(parentIdentifier, update.ID); err != nil {
				p.logger.Warn("failed to mark update synced", "update_id", update.ID, "error", err)
			}
			if update.Type == core.UpdateStatusChange && core.NormalizeStatus(update.NewStatus) == core.StatusDone {
				if _, err := p.state.SetBackendStatus(parentIdentifier, update.Target, update.NewStatus); err != nil {
					p.logger.Warn("failed to set backend status", "identifier", update.Target, "error", err)
				}
			}
			result.Pushed++
		} else {
			if _, err := p.queue.MarkFailed(parentIdentifier, update.ID, errMsg); err != nil {
				p.logger.Warn("failed to mark update failed", "update_id", update.ID, "error", err)
			}
			result.Failed++
		}

		if err := p.queue.WriteSyncLog(parentIdentifier, core.SyncLogEntry{
			At:         start.UTC(),
			UpdateID:   update.ID,
			Backend:    p.port.Name(),
			Success:    success,
			Error:      errMsg,
			DurationMs: duration.Milliseconds(),
		}); err != nil {
			p.logger.Warn("failed to write sync log entry", "update_id", update.ID, "error", err)
		}
	}
	return result, nil
}
