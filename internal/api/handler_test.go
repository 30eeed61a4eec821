package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gyaneshwarpardhi/eventsynth/internal/api"
	"github.com/gyaneshwarpardhi/eventsynth/internal/codec"
	"github.com/gyaneshwarpardhi/eventsynth/internal/jobs"
	"github.com/gyaneshwarpardhi/eventsynth/internal/simulator"
	"github.com/gyaneshwarpardhi/eventsynth/internal/template"
)

type fakeExecutor struct {
	mu   sync.Mutex
	last simulator.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req simulator.Request) *simulator.Result {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return &simulator.Result{Workflow: req.Workflow.Name, Success: true, SessionsCompleted: req.UserCount, TestMode: req.TestMode}
}

type fakeQueue struct {
	jobs map[string]jobs.Job
	err  error
	util float64
}

func (q *fakeQueue) Submit(req simulator.Request) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	id := "job-1"
	q.jobs[id] = jobs.Job{ID: id, Status: jobs.StatusQueued, Workflow: req.Workflow.Name}
	return id, nil
}

func (q *fakeQueue) Get(id string) (jobs.Job, bool) {
	j, ok := q.jobs[id]
	return j, ok
}

func (q *fakeQueue) QueueUtilization() float64 { return q.util }

const body = `{
  "workflow_json": {
    "workflow_name": "onboarding",
    "user_journey_paths": [
      {"path_id": "p1", "percentage": 100, "steps": [{"action": "navigate", "value": "/"}]}
    ]
  },
  "app_url": "https://app.example.com"
}`

func newHandler(t *testing.T) (http.Handler, *fakeExecutor, *fakeQueue, string) {
	t.Helper()
	dir := t.TempDir()
	exec := &fakeExecutor{}
	queue := &fakeQueue{jobs: map[string]jobs.Job{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := api.New(exec, queue, api.Options{TemplateDir: dir, MaxBodyBytes: 1 << 16, Logger: logger})
	return h, exec, queue, dir
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestExecuteWorkflow_Defaults(t *testing.T) {
	h, exec, _, _ := newHandler(t)
	rec := do(h, http.MethodPost, "/v1/workflows/execute", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if exec.last.UserCount != 100 || exec.last.BatchSize != 10 || exec.last.AppURL != "https://app.example.com" {
		t.Errorf("request = %+v", exec.last)
	}
	out := decode(t, rec)
	if out["success"] != true || out["workflow"] != "onboarding" || out["sessions_completed"] != float64(100) {
		t.Errorf("response = %v", out)
	}
}

func TestExecuteWorkflow_BadRequests(t *testing.T) {
	h, _, _, _ := newHandler(t)
	cases := []struct {
		name string
		body string
		code int
		want string
	}{
		{"invalid json", "{", http.StatusBadRequest, "invalid JSON"},
		{"missing workflow", `{"app_url":"https://a.io"}`, http.StatusBadRequest, "workflow_json is required"},
		{"relative app url", strings.Replace(body, "https://app.example.com", "/app", 1), http.StatusBadRequest, "app_url"},
		{"invalid workflow", `{"workflow_json":{"workflow_name":"x","user_journey_paths":[]},"app_url":"https://a.io"}`, http.StatusUnprocessableEntity, "workflow validation errors"},
		{"zero users", strings.Replace(body, `"app_url"`, `"user_count":0,"app_url"`, 1), http.StatusBadRequest, "user_count"},
		{"zero batch", strings.Replace(body, `"app_url"`, `"batch_size":0,"app_url"`, 1), http.StatusBadRequest, "batch_size"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/v1/workflows/execute", c.body)
			if rec.Code != c.code {
				t.Fatalf("status = %d, want %d: %s", rec.Code, c.code, rec.Body.String())
			}
			if msg, _ := decode(t, rec)["error"].(string); !strings.Contains(msg, c.want) {
				t.Errorf("error = %q, want it to contain %q", msg, c.want)
			}
		})
	}
}

func TestExecuteWorkflow_TestModeAllowsZeroUsers(t *testing.T) {
	h, exec, _, _ := newHandler(t)
	b := strings.Replace(body, `"app_url"`, `"user_count":0,"test_mode":true,"app_url"`, 1)
	if rec := do(h, http.MethodPost, "/v1/workflows/execute", b); rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !exec.last.TestMode {
		t.Error("test_mode not forwarded")
	}
}

func TestExecutions_SubmitAndGet(t *testing.T) {
	h, _, queue, _ := newHandler(t)
	rec := do(h, http.MethodPost, "/v1/executions", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Location") != "/v1/executions/job-1" {
		t.Errorf("location = %q", rec.Header().Get("Location"))
	}
	if out := decode(t, rec); out["job_id"] != "job-1" || out["status"] != "queued" {
		t.Errorf("response = %v", out)
	}

	rec = do(h, http.MethodGet, "/v1/executions/job-1", "")
	if rec.Code != http.StatusOK || decode(t, rec)["workflow"] != "onboarding" {
		t.Errorf("get: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/v1/executions/unknown", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d", rec.Code)
	}

	queue.err = jobs.ErrQueueFull
	if rec := do(h, http.MethodPost, "/v1/executions", body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("full queue status = %d", rec.Code)
	}
	queue.err = jobs.ErrClosed
	if rec := do(h, http.MethodPost, "/v1/executions", body); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("closed queue status = %d", rec.Code)
	}
}

func TestListTemplates(t *testing.T) {
	h, _, _, dir := newHandler(t)
	if rec := do(h, http.MethodGet, "/v1/templates/onboarding", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing file status = %d", rec.Code)
	}

	store := template.NewStore()
	store.Add(template.Template{PathID: "p1", BaseURL: "https://c.io/data", DecodedEvents: []codec.Record{{"a": 1}, {"b": 2}}})
	store.Add(template.Template{PathID: "p1", SequenceOrder: 1, BaseURL: "https://c.io/data", DecodedEvents: []codec.Record{{"c": 3}}})
	if _, err := store.Save(dir, "onboarding"); err != nil {
		t.Fatal(err)
	}

	rec := do(h, http.MethodGet, "/v1/templates/onboarding", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	paths := out["paths"].([]any)
	p := paths[0].(map[string]any)
	if out["templates"] != float64(2) || p["path_id"] != "p1" || p["events"] != float64(3) {
		t.Errorf("response = %v", out)
	}
}

func TestProbes(t *testing.T) {
	h, _, queue, _ := newHandler(t)
	if rec := do(h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	queue.util = 0.5
	if rec := do(h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	queue.util = 0.9
	if rec := do(h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz overloaded = %d", rec.Code)
	}
	rec := do(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "eventsynth_job_queue_utilization_ratio") {
		t.Errorf("metrics = %d", rec.Code)
	}
}
