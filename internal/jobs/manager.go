// Package jobs runs simulator executions in the background so API callers
// can poll for the result.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/eventsynth/internal/metrics"
	"github.com/gyaneshwarpardhi/eventsynth/internal/simulator"
)

var (
	ErrQueueFull = errors.New("execution queue full")
	ErrClosed    = errors.New("job manager is shut down")
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
)

// Job is a snapshot of one asynchronous execution.
type Job struct {
	ID          string            `json:"job_id"`
	Status      Status            `json:"status"`
	Workflow    string            `json:"workflow"`
	SubmittedAt time.Time         `json:"submitted_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Result      *simulator.Result `json:"result,omitempty"`

	req simulator.Request
}

// ExecuteFunc performs one execution. *simulator.Simulator's Execute fits.
type ExecuteFunc func(ctx context.Context, req simulator.Request) *simulator.Result

// Options sizes a Manager.
type Options struct {
	Workers    int
	QueueDepth int
	Retain     int           // finished jobs kept for Get; oldest evicted first
	Timeout    time.Duration // per execution; 0 = none
}

// Manager owns the worker pool and the job table.
type Manager struct {
	exec ExecuteFunc
	opts Options
	pool *workerPool[*Job]

	mu       sync.RWMutex
	jobs     map[string]*Job
	finished []string
	closed   bool
}

// NewManager starts opts.Workers workers. They stop when ctx is cancelled or
// Drain is called.
func NewManager(ctx context.Context, exec ExecuteFunc, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1
	}
	if opts.Retain <= 0 {
		opts.Retain = 256
	}
	m := &Manager{exec: exec, opts: opts, jobs: make(map[string]*Job)}
	m.pool = newWorkerPool[*Job](ctx, opts.Workers, opts.QueueDepth, m.run)
	return m
}

// Submit enqueues req and returns its job id.
func (m *Manager) Submit(req simulator.Request) (string, error) {
	j := &Job{ID: uuid.NewString(), Status: StatusQueued, SubmittedAt: time.Now(), req: req}
	if req.Workflow != nil {
		j.Workflow = req.Workflow.Name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if !m.pool.Submit(j) {
		return "", ErrQueueFull
	}
	m.jobs[j.ID] = j
	metrics.JobQueueUtilization.Set(m.utilization())
	return j.ID, nil
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	snap := *j
	snap.req = simulator.Request{}
	return snap, true
}

// QueueUtilization returns queue used / capacity (0–1).
func (m *Manager) QueueUtilization() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.utilization()
}

func (m *Manager) utilization() float64 {
	if m.pool.QueueCap() == 0 {
		return 0
	}
	return float64(m.pool.QueueLen()) / float64(m.pool.QueueCap())
}

// Drain stops accepting jobs and waits for queued ones to finish.
func (m *Manager) Drain() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.pool.Drain()
}

func (m *Manager) run(ctx context.Context, j *Job) {
	started := time.Now()
	m.mu.Lock()
	j.Status = StatusRunning
	j.StartedAt = &started
	metrics.JobQueueUtilization.Set(m.utilization())
	m.mu.Unlock()

	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}
	res := m.exec(ctx, j.req)

	finished := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	j.Status = StatusDone
	j.FinishedAt = &finished
	j.Result = res
	m.finished = append(m.finished, j.ID)
	for len(m.finished) > m.opts.Retain {
		delete(m.jobs, m.finished[0])
		m.finished = m.finished[1:]
	}
}
