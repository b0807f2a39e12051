package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/gpuslot/internal/job"
	"github.com/psantana5/gpuslot/internal/report"
)

// SnapshotSource returns the latest scheduler snapshot
type SnapshotSource interface {
	Get() (report.Snapshot, bool)
}

// Handler serves read-only run status
type Handler struct {
	source  SnapshotSource
	metrics http.Handler
	runID   string
	started time.Time
}

// NewHandler creates a status handler. metrics may be nil.
func NewHandler(source SnapshotSource, metrics http.Handler, runID string) *Handler {
	return &Handler{
		source:  source,
		metrics: metrics,
		runID:   runID,
		started: time.Now(),
	}
}

// RegisterRoutes registers all status routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Health reports liveness and uptime
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"run_id":         h.runID,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// Status returns the full latest snapshot
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.source.Get()
	if !ok {
		http.Error(w, "Scheduler has not started", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   h.runID,
		"snapshot": snap,
		"summary": map[string]int{
			"pending": snap.Count(job.Pending),
			"running": snap.Count(job.Running),
			"done":    snap.Count(job.Done),
		},
	})
}

// ListJobs returns the job rows, optionally filtered with ?state=
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.source.Get()
	if !ok {
		http.Error(w, "Scheduler has not started", http.StatusServiceUnavailable)
		return
	}

	filter := r.URL.Query().Get("state")
	jobs := make([]job.Status, 0, len(snap.Jobs))
	for _, j := range snap.Jobs {
		if filter != "" && !strings.EqualFold(filter, j.State.String()) {
			continue
		}
		jobs = append(jobs, j)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob returns one job row
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := h.source.Get()
	if !ok {
		http.Error(w, "Scheduler has not started", http.StatusServiceUnavailable)
		return
	}
	for _, j := range snap.Jobs {
		if j.ID == id {
			writeJSON(w, http.StatusOK, j)
			return
		}
	}
	http.Error(w, "Job not found", http.StatusNotFound)
}
