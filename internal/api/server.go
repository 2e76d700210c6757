package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"endpoint-reconciler/internal/models"
	"endpoint-reconciler/internal/store"
	"endpoint-reconciler/internal/telemetry"
)

// Server exposes read-only status endpoints while a reconciliation run is
// in flight: health, metrics, live progress, and run history.
type Server struct {
	store *store.Store

	mu           sync.RWMutex
	currentRunID string
}

// New constructs the status server.
func New(st *store.Store) *Server {
	return &Server{store: st}
}

// SetCurrentRun records which run /progress reports on by default.
func (s *Server) SetCurrentRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRunID = runID
}

// Serve runs the status server on l until ctx is cancelled, then shuts
// down gracefully so in-flight requests can complete. A nil error means
// the server stopped because ctx was cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/progress", s.handleProgress)
	r.Get("/runs", s.handleRuns)
	r.Get("/runs/{id}/stats", s.handleRunStats)
	return r
}

type progressResponse struct {
	Run       models.Run       `json:"run"`
	Watermark models.Watermark `json:"watermark"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		s.mu.RLock()
		runID = s.currentRunID
		s.mu.RUnlock()
	}
	if runID == "" {
		http.Error(w, "no run in progress and no run_id given", http.StatusNotFound)
		return
	}

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	wm, err := s.store.GetWatermark(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Run: run, Watermark: wm})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := s.store.RunStats(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "stats": stats})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
