// Package api exposes a small read-only HTTP surface over one parent's
// runtime state and pending-update queue, so a dashboard on a different
// origin can poll or subscribe to progress without touching the on-disk
// format directly.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/runtimestate"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/updatequeue"
)

// Server serves runtime.json and pending-updates.json for any parent
// identifier under one base directory.
type Server struct {
	state  *runtimestate.Store
	queue  *updatequeue.Queue
	logger *logging.Logger
}

// New builds a Server rooted at baseDir, matching the directory layout
// the orchestrator loop itself writes to.
func New(baseDir string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		state:  runtimestate.New(baseDir),
		queue:  updatequeue.New(baseDir),
		logger: logger,
	}
}

// Router builds the chi mux, with CORS open enough for a browser-based
// dashboard served from a different origin to poll it.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler)

	r.Route("/parents/{parentIdentifier}", func(r chi.Router) {
		r.Get("/runtime", s.handleRuntime)
		r.Get("/pending", s.handlePending)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	parentIdentifier := chi.URLParam(r, "parentIdentifier")
	state, ok := s.state.Get(parentIdentifier)
	if !ok {
		http.Error(w, "no runtime state for parent", http.StatusNotFound)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	parentIdentifier := chi.URLParam(r, "parentIdentifier")
	writeJSON(w, s.queue.ListPending(parentIdentifier))
}

// handleEvents streams runtime-state snapshots as server-sent events, fed
// by the same file-watch subscription the C4 store already provides.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	parentIdentifier := chi.URLParam(r, "parentIdentifier")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	s.state.Watch(ctx, parentIdentifier, func(state core.RuntimeState, found bool) {
		if !found {
			return
		}
		b, err := json.Marshal(state)
		if err != nil {
			s.logger.Warn("failed to marshal runtime state for SSE", "error", err)
			return
		}
		fmt.Fprintf(w, "event: runtime\ndata: %s\n\n", b)
		flusher.Flush()
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe runs the server until ctx is canceled or it fails.
func ListenAndServe(addr string, baseDir string, logger *logging.Logger) error {
	srv := New(baseDir, logger)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return httpSrv.ListenAndServe()
}
