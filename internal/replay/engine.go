// Package replay turns captured templates into synthetic user sessions and
// sends them to the collector in bounded concurrent batches.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gyaneshwarpardhi/eventsynth/internal/codec"
	"github.com/gyaneshwarpardhi/eventsynth/internal/distribution"
	"github.com/gyaneshwarpardhi/eventsynth/internal/event"
	"github.com/gyaneshwarpardhi/eventsynth/internal/metrics"
	"github.com/gyaneshwarpardhi/eventsynth/internal/template"
)

// ErrNoTemplates is returned when the store holds nothing to replay.
var ErrNoTemplates = errors.New("no templates captured for workflow")

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options tunes a replay run.
type Options struct {
	BatchSize        int
	DaysBack         int
	BatchPause       time.Duration // pause between batches
	RequestPacing    time.Duration // pause between requests of one session
	FallbackDelayMin time.Duration // used when a template has no timing delay
	FallbackDelayMax time.Duration
	PayloadParam     string
	TimestampParam   string
	AccountID        string

	// MaxRequestsPerSecond caps outbound requests across all sessions.
	// Zero disables the limiter.
	MaxRequestsPerSecond float64

	Seed uint64 // 0 picks a random seed
	Now  func() time.Time
	Sink event.Sink
}

// DefaultOptions mirrors the pacing the collector tolerates in production.
func DefaultOptions() Options {
	return Options{
		BatchSize:        50,
		DaysBack:         6,
		BatchPause:       500 * time.Millisecond,
		RequestPacing:    10 * time.Millisecond,
		FallbackDelayMin: time.Second,
		FallbackDelayMax: 4 * time.Second,
		PayloadParam:     "jzb",
		TimestampParam:   "ct",
		AccountID:        "demo_account",
	}
}

// Engine replays templates. One Engine, and its single HTTP client, serves a
// whole run; the client is used concurrently by every session.
type Engine struct {
	client  Doer
	opts    Options
	limiter *rate.Limiter

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// New creates an Engine. Zero-valued options fall back to DefaultOptions.
func New(client Doer, opts Options) *Engine {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.DaysBack < 0 {
		opts.DaysBack = 0
	}
	if opts.PayloadParam == "" {
		opts.PayloadParam = def.PayloadParam
	}
	if opts.TimestampParam == "" {
		opts.TimestampParam = def.TimestampParam
	}
	if opts.AccountID == "" {
		opts.AccountID = def.AccountID
	}
	if opts.FallbackDelayMax < opts.FallbackDelayMin {
		opts.FallbackDelayMax = opts.FallbackDelayMin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	e := &Engine{
		client: client,
		opts:   opts,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	if opts.MaxRequestsPerSecond > 0 {
		burst := int(opts.MaxRequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.MaxRequestsPerSecond), burst)
	}
	return e
}

// session is one synthetic user walking one path.
type session struct {
	pathID    string
	templates []template.Template
	start     time.Time
	identity  Identity
}

type counters struct {
	attempted atomic.Int64
	completed atomic.Int64
	sent      atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// Run replays plan against store. Network failures are counted, never
// returned. The error is non-nil only when there is nothing to replay or ctx
// ends early; the partial report is returned in both cases.
func (e *Engine) Run(ctx context.Context, store *template.Store, plan distribution.Plan) (*Report, error) {
	rep := &Report{StartedAt: e.opts.Now()}
	started := time.Now()
	defer func() { rep.Duration = time.Since(started) }()

	if store == nil || store.TemplateCount() == 0 {
		return rep, ErrNoTemplates
	}

	sessions := e.materialize(store, plan, rep)
	e.shuffle(sessions)
	rep.SessionsPlanned = len(sessions)

	batches := (len(sessions) + e.opts.BatchSize - 1) / e.opts.BatchSize
	e.emit(event.Event{
		Kind: event.KindProgress, Message: "replay starting",
		Fields: map[string]any{"sessions": len(sessions), "batches": batches, "days_back": e.opts.DaysBack},
	})

	var c counters
	var runErr error
	for i := 0; i < batches; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		lo := i * e.opts.BatchSize
		hi := min(lo+e.opts.BatchSize, len(sessions))
		e.dispatch(ctx, i+1, batches, sessions[lo:hi], &c)
		rep.Batches++
		metrics.ReplayBatches.Inc()

		if i < batches-1 {
			if err := sleep(ctx, e.opts.BatchPause); err != nil {
				runErr = err
				break
			}
		}
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	rep.SessionsAttempted = int(c.attempted.Load())
	rep.SessionsCompleted = int(c.completed.Load())
	rep.RequestsSent = int(c.sent.Load())
	rep.RequestsSucceeded = int(c.succeeded.Load())
	rep.RequestsFailed = int(c.failed.Load())

	e.emit(event.Event{
		Kind: event.KindProgress, Message: "replay complete",
		Fields: map[string]any{
			"sessions": rep.SessionsCompleted, "requests": rep.RequestsSent, "failed": rep.RequestsFailed,
		},
	})
	return rep, runErr
}

// dispatch runs one batch and returns once every session in it has finished.
// A failing session never cancels its siblings.
func (e *Engine) dispatch(ctx context.Context, n, of int, batch []*session, c *counters) {
	e.emit(event.Event{
		Kind: event.KindProgress, Message: "batch started",
		Fields: map[string]any{"batch": n, "of": of, "sessions": len(batch)},
	})
	var g errgroup.Group
	for _, s := range batch {
		g.Go(func() error {
			e.replaySession(ctx, s, c)
			return nil
		})
	}
	_ = g.Wait()
	e.emit(event.Event{
		Kind: event.KindProgress, Message: "batch completed",
		Fields: map[string]any{"batch": n, "of": of},
	})
}

func (e *Engine) materialize(store *template.Store, plan distribution.Plan, rep *Report) []*session {
	now := e.opts.Now()
	window := int64(e.opts.DaysBack) * 86400

	var out []*session
	for _, a := range plan.Allocations {
		if a.Users <= 0 {
			continue
		}
		ts := store.Templates(a.PathID)
		if len(ts) == 0 || store.EventCount(a.PathID) == 0 {
			rep.SkippedPaths = append(rep.SkippedPaths, a.PathID)
			e.emit(event.Event{
				Kind: event.KindWarning, PathID: a.PathID,
				Message: "no captured events for path, skipping its users",
				Fields:  map[string]any{"users": a.Users, "templates": len(ts)},
			})
			continue
		}
		accounts := accountLabels(plan.AccountsFor(a.PathID), a.Users, e.opts.AccountID)
		for i := 0; i < a.Users; i++ {
			var offset int64
			if window > 0 {
				offset = e.int64n(window)
			}
			out = append(out, &session{
				pathID:    a.PathID,
				templates: ts,
				start:     now.Add(-time.Duration(offset) * time.Second),
				identity:  e.newIdentity(accounts[i]),
			})
		}
	}
	return out
}

// accountLabels gives each of n users the account its share came from.
// Users beyond the shares (the rounding remainder) get fallback.
func accountLabels(shares []distribution.AccountShare, n int, fallback string) []string {
	out := make([]string, 0, n)
	for _, sh := range shares {
		for i := 0; i < sh.Users && len(out) < n; i++ {
			out = append(out, sh.AccountID)
		}
	}
	for len(out) < n {
		out = append(out, fallback)
	}
	return out
}

func (e *Engine) shuffle(s []*session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// replaySession sends a session's templates in sequence order. The synthetic
// clock advances by each template's delay; only RequestPacing is slept.
func (e *Engine) replaySession(ctx context.Context, s *session, c *counters) {
	c.attempted.Add(1)
	metrics.ReplaySessions.WithLabelValues(s.pathID).Inc()

	clock := s.start
	for i, t := range s.templates {
		if ctx.Err() != nil {
			return
		}
		delay := time.Duration(t.TimingDelayMs) * time.Millisecond
		if delay <= 0 {
			delay = e.fallbackDelay()
		}
		clock = clock.Add(delay)
		e.send(ctx, t, clock, s.identity, c)

		if i < len(s.templates)-1 {
			if sleep(ctx, e.opts.RequestPacing) != nil {
				return
			}
		}
	}
	c.completed.Add(1)
}

func (e *Engine) send(ctx context.Context, t template.Template, at time.Time, id Identity, c *counters) {
	browserTime := at.UnixMilli()
	events := t.EventsCopy()
	for _, ev := range events {
		id.apply(ev, browserTime)
	}
	params := t.QueryParams.
		With(e.opts.PayloadParam, codec.Encode(events)).
		With(e.opts.TimestampParam, strconv.FormatInt(browserTime, 10))
	target := t.BaseURL + "?" + params.Encode()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
	}

	c.sent.Add(1)
	start := time.Now()
	status, err := e.do(ctx, target)
	metrics.ReplayRequestDuration.Observe(float64(time.Since(start).Milliseconds()))

	switch {
	case err != nil:
		c.failed.Add(1)
		metrics.ReplayRequests.WithLabelValues("transport_error").Inc()
		e.emit(event.Event{
			Kind: event.KindFailure, PathID: t.PathID, Step: t.SequenceOrder,
			Message: "replay request failed", Err: err.Error(),
		})
	case status < 200 || status > 299:
		c.failed.Add(1)
		metrics.ReplayRequests.WithLabelValues("http_error").Inc()
		e.emit(event.Event{
			Kind: event.KindFailure, PathID: t.PathID, Step: t.SequenceOrder,
			Message: "replay request rejected", Err: fmt.Sprintf("HTTP %d", status),
			Fields: map[string]any{"status": status},
		})
	default:
		c.succeeded.Add(1)
		metrics.ReplayRequests.WithLabelValues("success").Inc()
	}
}

func (e *Engine) do(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (e *Engine) fallbackDelay() time.Duration {
	lo, hi := e.opts.FallbackDelayMin, e.opts.FallbackDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.int64n(int64(hi-lo)+1))
}

func (e *Engine) int64n(n int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Int64N(n)
}

func (e *Engine) emit(ev event.Event) {
	ev.Stage = "replay"
	event.Emit(e.opts.Sink, ev)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
