package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/eventsynth/internal/jobs"
	"github.com/gyaneshwarpardhi/eventsynth/internal/metrics"
	"github.com/gyaneshwarpardhi/eventsynth/internal/simulator"
	"github.com/gyaneshwarpardhi/eventsynth/internal/template"
	"github.com/gyaneshwarpardhi/eventsynth/internal/workflow"
)

const (
	defaultUserCount = 100
	defaultBatchSize = 10
)

// Executor runs one record-and-replay execution synchronously.
type Executor interface {
	Execute(ctx context.Context, req simulator.Request) *simulator.Result
}

// JobQueue runs executions in the background.
type JobQueue interface {
	Submit(req simulator.Request) (string, error)
	Get(id string) (jobs.Job, bool)
	QueueUtilization() float64
}

// Options configures the HTTP surface.
type Options struct {
	TemplateDir  string
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	exec  Executor
	queue JobQueue
	opts  Options
	mux   *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(exec Executor, queue JobQueue, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{exec: exec, queue: queue, opts: opts, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/workflows/execute", h.executeWorkflow)
	h.mux.HandleFunc("POST /v1/executions", h.submitExecution)
	h.mux.HandleFunc("GET /v1/executions/{id}", h.getExecution)
	h.mux.HandleFunc("GET /v1/templates/{workflow}", h.listTemplates)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(opts.Logger, h.mux)
}

// executeRequest mirrors the direct-execution body accepted by the service.
type executeRequest struct {
	Workflow  *workflow.Definition `json:"workflow_json"`
	AppURL    string               `json:"app_url"`
	UserCount *int                 `json:"user_count"`
	BatchSize *int                 `json:"batch_size"`
	DaysBack  int                  `json:"days_back"`
	TestMode  bool                 `json:"test_mode"`
}

func (h *Handler) decodeExecute(w http.ResponseWriter, r *http.Request) (simulator.Request, bool) {
	if h.opts.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	}
	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return simulator.Request{}, false
	}
	if body.Workflow == nil {
		writeError(w, http.StatusBadRequest, "workflow_json is required")
		return simulator.Request{}, false
	}
	if u, err := url.Parse(body.AppURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "app_url must be an absolute http(s) URL")
		return simulator.Request{}, false
	}
	if err := workflow.Validate(body.Workflow); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return simulator.Request{}, false
	}

	req := simulator.Request{
		Workflow:  body.Workflow,
		AppURL:    body.AppURL,
		UserCount: defaultUserCount,
		BatchSize: defaultBatchSize,
		DaysBack:  body.DaysBack,
		TestMode:  body.TestMode,
	}
	if body.UserCount != nil {
		req.UserCount = *body.UserCount
	}
	if body.BatchSize != nil {
		req.BatchSize = *body.BatchSize
	}
	if req.UserCount <= 0 && !req.TestMode {
		writeError(w, http.StatusBadRequest, "user_count must be positive")
		return simulator.Request{}, false
	}
	if req.BatchSize <= 0 {
		writeError(w, http.StatusBadRequest, "batch_size must be positive")
		return simulator.Request{}, false
	}
	return req, true
}

// POST /v1/workflows/execute: synchronous record and replay.
func (h *Handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeExecute(w, r)
	if !ok {
		return
	}
	res := h.exec.Execute(r.Context(), req)
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/executions: queue an execution and return its job id.
func (h *Handler) submitExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeExecute(w, r)
	if !ok {
		return
	}
	id, err := h.queue.Submit(req)
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("Location", "/v1/executions/"+id)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": id,
		"status": jobs.StatusQueued,
	})
}

// GET /v1/executions/{id}: job status and, once done, its result.
func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	j, ok := h.queue.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type pathTemplates struct {
	PathID    string `json:"path_id"`
	Templates int    `json:"templates"`
	Events    int    `json:"events"`
}

// GET /v1/templates/{workflow}: what a previous recording saved.
func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("workflow")
	store, err := template.Load(h.opts.TemplateDir, name)
	if errors.Is(err, template.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no templates saved for workflow %q", name))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	paths := make([]pathTemplates, 0, store.Len())
	for _, id := range store.Paths() {
		paths = append(paths, pathTemplates{
			PathID:    id,
			Templates: len(store.Templates(id)),
			Events:    store.EventCount(id),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow":  name,
		"file":      template.FileName(name),
		"templates": store.TemplateCount(),
		"paths":     paths,
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the execution queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.queue.QueueUtilization()
	metrics.JobQueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
