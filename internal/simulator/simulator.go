// Package simulator records a workflow's journeys through a browser and
// replays them at scale as synthetic users.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/eventsynth/internal/browser"
	"github.com/gyaneshwarpardhi/eventsynth/internal/capture"
	"github.com/gyaneshwarpardhi/eventsynth/internal/distribution"
	"github.com/gyaneshwarpardhi/eventsynth/internal/event"
	"github.com/gyaneshwarpardhi/eventsynth/internal/metrics"
	"github.com/gyaneshwarpardhi/eventsynth/internal/replay"
	"github.com/gyaneshwarpardhi/eventsynth/internal/template"
	"github.com/gyaneshwarpardhi/eventsynth/internal/workflow"
)

// ErrNoTemplates is reported when a recording captured nothing at all.
var ErrNoTemplates = errors.New("no templates recorded")

// Options configures a Simulator.
type Options struct {
	TemplateDir string
	Capture     capture.Options
	Timings     browser.Timings
	Replay      replay.Options

	HTTPTimeout        time.Duration
	MaxConnsPerHost    int
	InsecureSkipVerify bool

	Sink event.Sink
}

// DefaultOptions returns production pacing with templates under ./templates.
func DefaultOptions() Options {
	return Options{
		TemplateDir:     "templates",
		Timings:         browser.DefaultTimings(),
		Replay:          replay.DefaultOptions(),
		HTTPTimeout:     30 * time.Second,
		MaxConnsPerHost: 50,
	}
}

// Request is one record-and-replay execution.
type Request struct {
	Workflow  *workflow.Definition `json:"workflow"`
	AppURL    string               `json:"app_url"`
	UserCount int                  `json:"user_count"`
	BatchSize int                  `json:"batch_size"`
	DaysBack  int                  `json:"days_back"`
	TestMode  bool                 `json:"test_mode"`
}

// ReplayRequest replays previously saved templates without a browser.
type ReplayRequest struct {
	Workflow  *workflow.Definition `json:"workflow"`
	UserCount int                  `json:"user_count"`
	BatchSize int                  `json:"batch_size"`
	DaysBack  int                  `json:"days_back"`
}

// Result is the structured outcome of an execution. It is always returned,
// successful or not.
type Result struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	TestMode bool   `json:"test_mode"`

	TemplatesRecorded int                               `json:"templates_recorded"`
	TemplateFile      string                            `json:"template_file,omitempty"`
	Capture           *capture.Summary                  `json:"capture,omitempty"`
	FailedActions     map[string][]browser.FailedAction `json:"failed_actions,omitempty"`
	ValidationSummary string                            `json:"validation_summary,omitempty"`

	Distribution      *distribution.Plan `json:"distribution,omitempty"`
	Replay            *replay.Report     `json:"replay,omitempty"`
	SessionsCompleted int                `json:"sessions_completed"`

	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// FailureCount returns the number of failed actions across all paths.
func (r *Result) FailureCount() int {
	n := 0
	for _, fs := range r.FailedActions {
		n += len(fs)
	}
	return n
}

// Simulator orchestrates capture and replay. It is safe for concurrent use;
// each execution owns its capture session and HTTP client.
type Simulator struct {
	browser browser.Browser
	opts    atomic.Pointer[Options]
}

// New creates a Simulator. b may be nil when only Replay is used.
func New(b browser.Browser, opts Options) *Simulator {
	s := &Simulator{browser: b}
	s.Reconfigure(opts)
	return s
}

// Reconfigure atomically replaces the options (used on hot-reload).
// Executions already running keep the options they started with.
func (s *Simulator) Reconfigure(opts Options) {
	if opts.TemplateDir == "" {
		opts.TemplateDir = "templates"
	}
	s.opts.Store(&opts)
}

// Execute records every path of req.Workflow and, outside test mode, saves
// the templates and replays them for req.UserCount users.
func (s *Simulator) Execute(ctx context.Context, req Request) *Result {
	start := time.Now()
	opts := s.opts.Load()
	res := &Result{RunID: uuid.NewString(), TestMode: req.TestMode}
	mode := "record_replay"
	if req.TestMode {
		mode = "test"
	}
	defer s.finish(res, mode, start)

	if req.Workflow == nil {
		return fail(res, errors.New("workflow is required"))
	}
	res.Workflow = req.Workflow.Name
	if err := workflow.Validate(req.Workflow); err != nil {
		return fail(res, err)
	}
	if s.browser == nil {
		return fail(res, errors.New("no browser configured"))
	}
	if !req.TestMode && req.UserCount <= 0 {
		return fail(res, distribution.ErrInvalidTotal)
	}

	sess, failed := s.record(ctx, opts, req)
	sum := sess.Summary()
	store := sess.Store()
	res.Capture = &sum
	res.FailedActions = failed
	res.TemplatesRecorded = len(store.Paths())

	if err := ctx.Err(); err != nil {
		return fail(res, fmt.Errorf("record: %w", err))
	}
	if res.TemplatesRecorded == 0 {
		return fail(res, ErrNoTemplates)
	}

	if req.TestMode {
		if n := res.FailureCount(); n == 0 {
			res.ValidationSummary = "all paths validated successfully"
		} else {
			res.ValidationSummary = fmt.Sprintf("%d failed actions found", n)
		}
		res.Success = true
		return res
	}

	file, err := store.Save(opts.TemplateDir, req.Workflow.Name)
	if err != nil {
		return fail(res, err)
	}
	res.TemplateFile = file
	emit(opts, event.Event{
		Kind: event.KindProgress, Stage: "record", Message: "templates saved",
		Fields: map[string]any{"file": file, "paths": res.TemplatesRecorded, "templates": store.TemplateCount()},
	})

	return s.replay(ctx, opts, res, req.Workflow, store, req.UserCount, req.BatchSize, req.DaysBack)
}

// Replay loads the saved templates for req.Workflow and replays them.
func (s *Simulator) Replay(ctx context.Context, req ReplayRequest) *Result {
	start := time.Now()
	opts := s.opts.Load()
	res := &Result{RunID: uuid.NewString()}
	defer s.finish(res, "replay", start)

	if req.Workflow == nil {
		return fail(res, errors.New("workflow is required"))
	}
	res.Workflow = req.Workflow.Name
	store, err := template.Load(opts.TemplateDir, req.Workflow.Name)
	if err != nil {
		return fail(res, err)
	}
	res.TemplateFile = template.FileName(req.Workflow.Name)
	res.TemplatesRecorded = len(store.Paths())
	return s.replay(ctx, opts, res, req.Workflow, store, req.UserCount, req.BatchSize, req.DaysBack)
}

// ReplayStore replays an already loaded store.
func (s *Simulator) ReplayStore(ctx context.Context, def *workflow.Definition, store *template.Store, users, batch, daysBack int) *Result {
	start := time.Now()
	opts := s.opts.Load()
	res := &Result{RunID: uuid.NewString(), Workflow: def.Name, TemplatesRecorded: len(store.Paths())}
	defer s.finish(res, "replay", start)
	return s.replay(ctx, opts, res, def, store, users, batch, daysBack)
}

func (s *Simulator) record(ctx context.Context, opts *Options, req Request) (*capture.Session, map[string][]browser.FailedAction) {
	copts := opts.Capture
	copts.Sink = opts.Sink
	sess := capture.NewSession(copts)

	runner := &browser.Runner{Timings: opts.Timings, TestMode: req.TestMode, Sink: opts.Sink}
	failed := make(map[string][]browser.FailedAction, len(req.Workflow.Paths))

	for _, p := range req.Workflow.Paths {
		if ctx.Err() != nil {
			break
		}
		rec := sess.Path(p.ID)
		emit(opts, event.Event{
			Kind: event.KindProgress, Stage: "record", PathID: p.ID,
			Message: "recording path", Fields: map[string]any{"steps": len(p.Steps)},
		})

		page, err := s.browser.NewPage(ctx, func(rawURL, method string) {
			rec.Observe(rawURL, method)
		})
		if err != nil {
			failed[p.ID] = append(failed[p.ID], browser.FailedAction{
				PathID: p.ID, Action: "open_page", Error: err.Error(),
			})
			emit(opts, event.Event{
				Kind: event.KindFailure, Stage: "record", PathID: p.ID,
				Message: "could not open page", Err: err.Error(),
			})
			continue
		}
		fs := runner.RunPath(ctx, page, req.AppURL, p, rec)
		if err := page.Close(); err != nil {
			emit(opts, event.Event{
				Kind: event.KindWarning, Stage: "record", PathID: p.ID,
				Message: "close page", Err: err.Error(),
			})
		}
		failed[p.ID] = append(failed[p.ID], fs...)
	}
	// A browser may still deliver buffered requests after its page closed.
	sess.Close()
	return sess, failed
}

func (s *Simulator) replay(ctx context.Context, opts *Options, res *Result, def *workflow.Definition, store *template.Store, users, batch, daysBack int) *Result {
	plan, err := distribution.ForWorkflow(def, users)
	if err != nil {
		return fail(res, fmt.Errorf("plan distribution: %w", err))
	}
	res.Distribution = &plan
	emit(opts, event.Event{
		Kind: event.KindProgress, Stage: "plan", Message: "distribution planned",
		Fields: map[string]any{"strategy": string(plan.Strategy), "users": plan.Total()},
	})

	ropts := opts.Replay
	if batch > 0 {
		ropts.BatchSize = batch
	}
	if daysBack > 0 {
		ropts.DaysBack = daysBack
	}
	ropts.Sink = opts.Sink

	client := replay.NewHTTPClient(opts.HTTPTimeout, opts.MaxConnsPerHost, opts.InsecureSkipVerify)
	defer client.CloseIdleConnections()

	rep, err := replay.New(client, ropts).Run(ctx, store, plan)
	res.Replay = rep
	if rep != nil {
		res.SessionsCompleted = rep.SessionsCompleted
	}
	if err != nil {
		return fail(res, fmt.Errorf("replay: %w", err))
	}
	if rep.SessionsPlanned == 0 && len(rep.SkippedPaths) > 0 {
		return fail(res, fmt.Errorf("replay: no captured events for allocated paths: %s", strings.Join(rep.SkippedPaths, ", ")))
	}
	if !rep.Success() {
		return fail(res, fmt.Errorf("replay incomplete: %d of %d sessions attempted", rep.SessionsAttempted, rep.SessionsPlanned))
	}
	res.Success = true
	return res
}

func (s *Simulator) finish(res *Result, mode string, start time.Time) {
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	metrics.Executions.WithLabelValues(mode, outcome).Inc()
}

func emit(opts *Options, e event.Event) {
	event.Emit(opts.Sink, e)
}

func fail(res *Result, err error) *Result {
	res.Success = false
	res.Error = err.Error()
	return res
}
