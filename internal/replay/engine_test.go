package replay_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/eventsynth/internal/codec"
	"github.com/gyaneshwarpardhi/eventsynth/internal/distribution"
	"github.com/gyaneshwarpardhi/eventsynth/internal/event"
	"github.com/gyaneshwarpardhi/eventsynth/internal/replay"
	"github.com/gyaneshwarpardhi/eventsynth/internal/template"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type received struct {
	path   string
	ct     string
	v      string
	events []codec.Record
}

// collector is a fake analytics endpoint.
type collector struct {
	mu       sync.Mutex
	requests []received
	status   func(n int64) int
	count    atomic.Int64
	onHit    func()
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := c.count.Add(1)
	q := r.URL.Query()
	c.mu.Lock()
	c.requests = append(c.requests, received{
		path:   r.URL.Path,
		ct:     q.Get("ct"),
		v:      q.Get("v"),
		events: codec.Decode(q.Get("jzb")),
	})
	c.mu.Unlock()
	if c.onHit != nil {
		c.onHit()
	}
	if c.status != nil {
		w.WriteHeader(c.status(n))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func events(n int, typ string) []codec.Record {
	out := make([]codec.Record, n)
	for i := range out {
		out[i] = codec.Record{"type": typ, "visitor_id": "captured-visitor", "props": map[string]any{"i": i}}
	}
	return out
}

func storeFor(baseURL string, path string, delays []int, counts []int) *template.Store {
	s := template.NewStore()
	for i := range delays {
		s.Add(template.Template{
			PathID:        path,
			SequenceOrder: i,
			BaseURL:       baseURL + "/data/ptm.gif/key",
			QueryParams:   template.Params{{Key: "v", Value: "2.190.0"}, {Key: "ct", Value: "1"}, {Key: "jzb", Value: "stale"}},
			DecodedEvents: events(counts[i], "evt"+strconv.Itoa(i)),
			TimingDelayMs: delays[i],
		})
	}
	return s
}

func plan(pairs ...any) distribution.Plan {
	var p distribution.Plan
	for i := 0; i < len(pairs); i += 2 {
		p.Allocations = append(p.Allocations, distribution.Allocation{PathID: pairs[i].(string), Users: pairs[i+1].(int)})
	}
	return p
}

func testOptions(sink event.Sink) replay.Options {
	return replay.Options{
		BatchSize:        4,
		DaysBack:         1,
		FallbackDelayMin: time.Second,
		FallbackDelayMax: 4 * time.Second,
		Seed:             42,
		Now:              func() time.Time { return fixedNow },
		Sink:             sink,
	}
}

func TestRun_SendsSubstitutedRequests(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	defer srv.Close()

	store := storeFor(srv.URL, "p1", []int{1500, 0}, []int{3, 2})
	eng := replay.New(srv.Client(), testOptions(nil))
	rep, err := eng.Run(context.Background(), store, plan("p1", 10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.SessionsPlanned != 10 || rep.SessionsCompleted != 10 || rep.RequestsSent != 20 || rep.RequestsSucceeded != 20 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Batches != 3 || !rep.Success() {
		t.Errorf("batches = %d success = %v", rep.Batches, rep.Success())
	}
	if len(col.requests) != 20 {
		t.Fatalf("collector got %d requests, want 20", len(col.requests))
	}

	type visit struct{ cts []int64 }
	byVisitor := map[string]*visit{}
	lo := fixedNow.Add(-24 * time.Hour).UnixMilli()
	hi := fixedNow.Add(10 * time.Second).UnixMilli()

	for _, r := range col.requests {
		if r.path != "/data/ptm.gif/key" || r.v != "2.190.0" {
			t.Errorf("static parts not preserved: %+v", r)
		}
		if len(r.events) != 3 && len(r.events) != 2 {
			t.Fatalf("request carried %d events", len(r.events))
		}
		vid, _ := r.events[0]["visitor_id"].(string)
		if vid == "captured-visitor" || len(vid) != len("_PENDO_T_")+11 {
			t.Errorf("visitor id not substituted: %q", vid)
		}
		for _, ev := range r.events {
			if ev["visitor_id"] != vid {
				t.Errorf("events in one request have different visitors")
			}
			if bt := ev["browser_time"].(interface{ String() string }).String(); bt != r.ct {
				t.Errorf("browser_time %s != ct %s", bt, r.ct)
			}
			if ev["account_id"] != "demo_account" {
				t.Errorf("account_id = %v", ev["account_id"])
			}
			for _, f := range []string{"session_id", "tab_id", "frame_id"} {
				if s, _ := ev[f].(string); s == "" {
					t.Errorf("%s missing", f)
				}
			}
		}
		ct, err := strconv.ParseInt(r.ct, 10, 64)
		if err != nil || ct < lo || ct > hi {
			t.Errorf("ct %s outside the replay window", r.ct)
		}
		v := byVisitor[vid]
		if v == nil {
			v = &visit{}
			byVisitor[vid] = v
		}
		if len(v.cts) == 0 && len(r.events) != 3 {
			t.Errorf("visitor %s: first request is not sequence 0", vid)
		}
		v.cts = append(v.cts, ct)
	}

	if len(byVisitor) != 10 {
		t.Errorf("distinct visitors = %d, want 10", len(byVisitor))
	}
	for vid, v := range byVisitor {
		if len(v.cts) != 2 {
			t.Errorf("visitor %s sent %d requests", vid, len(v.cts))
			continue
		}
		gap := v.cts[1] - v.cts[0]
		if gap < 1000 || gap > 4000 {
			t.Errorf("visitor %s fallback gap %dms outside [1000,4000]", vid, gap)
		}
	}
}

func TestRun_TemplatesNotMutated(t *testing.T) {
	srv := httptest.NewServer(&collector{})
	defer srv.Close()
	store := storeFor(srv.URL, "p1", []int{100}, []int{2})

	if _, err := replay.New(srv.Client(), testOptions(nil)).Run(context.Background(), store, plan("p1", 3)); err != nil {
		t.Fatal(err)
	}
	tp := store.Templates("p1")[0]
	if tp.DecodedEvents[0]["visitor_id"] != "captured-visitor" {
		t.Errorf("template mutated: %v", tp.DecodedEvents[0])
	}
	if _, ok := tp.DecodedEvents[0]["browser_time"]; ok {
		t.Errorf("browser_time leaked into template")
	}
	if v, _ := tp.QueryParams.Get("jzb"); v != "stale" {
		t.Errorf("query params mutated")
	}
}

func TestRun_BatchOrdering(t *testing.T) {
	var mu sync.Mutex
	var log []string
	record := func(s string) {
		mu.Lock()
		log = append(log, s)
		mu.Unlock()
	}

	var inflight, peak atomic.Int32
	col := &collector{onHit: func() {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		record("req")
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
	}}
	srv := httptest.NewServer(col)
	defer srv.Close()

	sink := event.SinkFunc(func(e event.Event) {
		switch e.Message {
		case "batch started":
			record("start")
		case "batch completed":
			record("end")
		}
	})
	opts := testOptions(sink)
	opts.BatchSize = 2
	store := storeFor(srv.URL, "p1", []int{1000}, []int{1})

	rep, err := replay.New(srv.Client(), opts).Run(context.Background(), store, plan("p1", 5))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Batches != 3 {
		t.Errorf("batches = %d, want 3", rep.Batches)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds batch size", peak.Load())
	}

	var sizes []int
	open := false
	for _, entry := range log {
		switch entry {
		case "start":
			if open {
				t.Fatalf("batch started before the previous one completed: %v", log)
			}
			open = true
			sizes = append(sizes, 0)
		case "end":
			open = false
		case "req":
			if !open {
				t.Fatalf("request outside a batch: %v", log)
			}
			sizes[len(sizes)-1]++
		}
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("requests per batch = %v, want [2 2 1]", sizes)
	}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	col := &collector{status: func(n int64) int {
		if n == 1 {
			return http.StatusInternalServerError
		}
		return http.StatusNoContent
	}}
	srv := httptest.NewServer(col)
	defer srv.Close()

	var rec event.Recorder
	opts := testOptions(&rec)
	opts.BatchSize = 5
	store := storeFor(srv.URL, "p1", []int{1000, 1000}, []int{1, 1})

	rep, err := replay.New(srv.Client(), opts).Run(context.Background(), store, plan("p1", 5))
	if err != nil {
		t.Fatal(err)
	}
	if rep.SessionsCompleted != 5 || rep.RequestsSent != 10 {
		t.Errorf("report = %+v", rep)
	}
	if rep.RequestsFailed != 1 || rep.RequestsSucceeded != 9 {
		t.Errorf("failed/succeeded = %d/%d, want 1/9", rep.RequestsFailed, rep.RequestsSucceeded)
	}
	if !rep.Success() {
		t.Errorf("a single request failure must not fail the run")
	}
	if rec.Count(event.KindFailure) != 1 {
		t.Errorf("failure events = %d, want 1", rec.Count(event.KindFailure))
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestRun_TransportErrorsCounted(t *testing.T) {
	var calls atomic.Int32
	client := doerFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})
	store := storeFor("http://collector.invalid", "p1", []int{1000, 1000}, []int{1, 1})

	rep, err := replay.New(client, testOptions(nil)).Run(context.Background(), store, plan("p1", 3))
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 6 || rep.RequestsFailed != 6 || rep.SessionsCompleted != 3 {
		t.Errorf("calls=%d report=%+v", calls.Load(), rep)
	}
}

func TestRun_SkipsPathsWithoutTemplates(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	defer srv.Close()

	store := storeFor(srv.URL, "a", []int{1000}, []int{2})
	store.Add(template.Template{PathID: "empty", BaseURL: srv.URL, DecodedEvents: []codec.Record{}})

	var rec event.Recorder
	rep, err := replay.New(srv.Client(), testOptions(&rec)).Run(context.Background(), store, plan("a", 3, "missing", 4, "empty", 2, "zero", 0))
	if err != nil {
		t.Fatal(err)
	}
	if rep.SessionsPlanned != 3 || rep.RequestsSent != 3 {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.SkippedPaths) != 2 || rep.SkippedPaths[0] != "missing" || rep.SkippedPaths[1] != "empty" {
		t.Errorf("skipped = %v", rep.SkippedPaths)
	}
	if rec.Count(event.KindWarning) != 2 {
		t.Errorf("warnings = %d, want 2", rec.Count(event.KindWarning))
	}
}

func TestRun_NoTemplates(t *testing.T) {
	_, err := replay.New(http.DefaultClient, testOptions(nil)).Run(context.Background(), template.NewStore(), plan("a", 1))
	if !errors.Is(err, replay.ErrNoTemplates) {
		t.Errorf("err = %v, want ErrNoTemplates", err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := storeFor(srv.URL, "p1", []int{1000}, []int{1})
	rep, err := replay.New(srv.Client(), testOptions(nil)).Run(ctx, store, plan("p1", 5))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if rep.Batches != 0 || col.count.Load() != 0 {
		t.Errorf("work done after cancellation: %+v", rep)
	}
}

func TestRun_RateLimited(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	defer srv.Close()

	opts := testOptions(nil)
	opts.MaxRequestsPerSecond = 500
	store := storeFor(srv.URL, "p1", []int{1}, []int{1})
	rep, err := replay.New(srv.Client(), opts).Run(context.Background(), store, plan("p1", 8))
	if err != nil {
		t.Fatal(err)
	}
	if rep.RequestsSucceeded != 8 {
		t.Errorf("succeeded = %d, want 8", rep.RequestsSucceeded)
	}
}

func TestRun_LabelsUsersWithTheirAccount(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	defer srv.Close()

	store := storeFor(srv.URL, "p1", []int{100}, []int{1})
	p := plan("p1", 6)
	p.Accounts = []distribution.AccountShare{
		{AccountID: "acme", PathID: "p1", Users: 3},
		{AccountID: "globex", PathID: "p1", Users: 2},
	}
	rep, err := replay.New(srv.Client(), testOptions(nil)).Run(context.Background(), store, p)
	if err != nil || !rep.Success() {
		t.Fatalf("Run: %v %+v", err, rep)
	}

	got := map[string]int{}
	for _, r := range col.requests {
		got[r.events[0]["account_id"].(string)]++
	}
	// The sixth user is the rounding remainder and keeps the default.
	if got["acme"] != 3 || got["globex"] != 2 || got["demo_account"] != 1 {
		t.Errorf("users per account = %v", got)
	}
}
