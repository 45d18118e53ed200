package runtimestate

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/logging"
)

// debounceWindow coalesces bursts of filesystem events into a single
// callback, per the >=100ms requirement.
const debounceWindow = 100 * time.Millisecond

// pollFallbackInterval is used when fsnotify cannot start a watch (some
// containerized or network filesystems reject inotify).
const pollFallbackInterval = time.Second

// Watch fires callback once immediately with the current state, then again
// on every subsequent file change (debounced), until ctx is canceled. The
// watcher tolerates transient partial reads by simply re-reading on the
// next event — it is racing the writer on non-atomic filesystems.
func (s *Store) Watch(ctx context.Context, parentIdentifier string, callback func(core.RuntimeState, bool)) {
	if state, ok := s.load(parentIdentifier); true {
		callback(state, ok)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.pollLoop(ctx, parentIdentifier, callback)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir(parentIdentifier)); err != nil {
		s.pollLoop(ctx, parentIdentifier, callback)
		return
	}

	var timer *time.Timer
	fire := func() {
		state, ok := s.load(parentIdentifier)
		callback(state, ok)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.AfterFunc(debounceWindow, fire)
			} else {
				timer.Reset(debounceWindow)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.NewNop().Warn("runtimestate watch error", "error", err)
		}
	}
}

func (s *Store) pollLoop(ctx context.Context, parentIdentifier string, callback func(core.RuntimeState, bool)) {
	ticker := time.NewTicker(pollFallbackInterval)
	defer ticker.Stop()
	var lastUpdatedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, ok := s.load(parentIdentifier)
			if ok && state.UpdatedAt.After(lastUpdatedAt) {
				lastUpdatedAt = state.UpdatedAt
				callback(state, ok)
			}
		}
	}
}
