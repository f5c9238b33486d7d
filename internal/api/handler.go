package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/0xPuncker/periodic/internal/interval"
	"github.com/0xPuncker/periodic/internal/registry"
	"github.com/0xPuncker/periodic/internal/runner"
	"github.com/0xPuncker/periodic/internal/store"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const snapshotKey = "snapshot"

// SnapshotLoader reads the run history. The API never writes it.
type SnapshotLoader interface {
	Load() (store.Snapshot, error)
}

// FlagInspector reports whether a pass currently holds the processing flag.
type FlagInspector interface {
	Held() (bool, time.Time, error)
}

type Handler struct {
	registry  *registry.Registry
	store     SnapshotLoader
	flag      FlagInspector
	evaluator *interval.Evaluator
	logger    *logrus.Logger
	cache     *cache.Cache
	cacheTTL  time.Duration
	now       func() time.Time
}

type JobsResponse struct {
	Jobs        []runner.JobStatus `json:"jobs"`
	Count       int                `json:"count"`
	LastUpdated time.Time          `json:"last_updated"`
}

type HealthResponse struct {
	Status       string     `json:"status"`
	PassRunning  bool       `json:"pass_running"`
	RunningSince *time.Time `json:"running_since,omitempty"`
}

// NewHandler serves job status from st. Snapshots are cached for cacheTTL
// so polling clients do not re-read the store file on every request; a
// non-positive TTL disables the cache.
func NewHandler(logger *logrus.Logger, reg *registry.Registry, st SnapshotLoader, flag FlagInspector, eval *interval.Evaluator, cacheTTL time.Duration) *Handler {
	return &Handler{
		registry:  reg,
		store:     st,
		flag:      flag,
		evaluator: eval,
		logger:    logger,
		cache:     cache.New(cacheTTL, 2*cacheTTL),
		cacheTTL:  cacheTTL,
		now:       time.Now,
	}
}

func (h *Handler) snapshot() (store.Snapshot, error) {
	if h.cacheTTL <= 0 {
		return h.store.Load()
	}
	if cached, found := h.cache.Get(snapshotKey); found {
		return cached.(store.Snapshot), nil
	}

	snap, err := h.store.Load()
	if err != nil {
		return nil, err
	}
	h.cache.Set(snapshotKey, snap, cache.DefaultExpiration)
	return snap, nil
}

func (h *Handler) statuses() ([]runner.JobStatus, error) {
	snap, err := h.snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	return runner.Inspect(h.registry, snap, h.evaluator, h.now()), nil
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.flag != nil {
		held, since, err := h.flag.Held()
		if err != nil {
			h.handleError(w, err, http.StatusInternalServerError)
			return
		}
		if held {
			resp.PassRunning = true
			resp.RunningSince = &since
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.statuses()
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	h.writeJSON(w, http.StatusOK, JobsResponse{
		Jobs:        jobs,
		Count:       len(jobs),
		LastUpdated: h.now(),
	})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	jobs, err := h.statuses()
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}
	for _, job := range jobs {
		if job.Name == name {
			h.writeJSON(w, http.StatusOK, job)
			return
		}
	}
	h.handleError(w, fmt.Errorf("job %q not found", name), http.StatusNotFound)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	h.logger.Error(err)
	h.writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}
