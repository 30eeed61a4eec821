// Package capture turns outgoing browser requests into request templates.
package capture

import (
	"net/url"
	"strings"
	"sync"

	"github.com/gyaneshwarpardhi/eventsynth/internal/codec"
	"github.com/gyaneshwarpardhi/eventsynth/internal/event"
	"github.com/gyaneshwarpardhi/eventsynth/internal/metrics"
	"github.com/gyaneshwarpardhi/eventsynth/internal/template"
)

const (
	DefaultMatch        = "pendo"
	DefaultPayloadParam = "jzb"
	DefaultStepDelayMs  = 1000
)

// Options controls which requests are captured.
type Options struct {
	Match        string // case-insensitive URL substring identifying vendor traffic
	PayloadParam string // query parameter carrying the encoded events
	Sink         event.Sink
}

// Session accumulates templates for one capture run. Each run owns its
// Session; nothing is shared between concurrent runs.
type Session struct {
	opts Options

	mu       sync.Mutex
	store    *template.Store
	paths    map[string]*PathRecorder
	observed int
	matched  int
	closed   bool
}

// NewSession creates an empty capture session.
func NewSession(opts Options) *Session {
	if opts.Match == "" {
		opts.Match = DefaultMatch
	}
	if opts.PayloadParam == "" {
		opts.PayloadParam = DefaultPayloadParam
	}
	opts.Match = strings.ToLower(opts.Match)
	return &Session{
		opts:  opts,
		store: template.NewStore(),
		paths: make(map[string]*PathRecorder),
	}
}

// Path returns the recorder for pathID, creating it on first use. The
// recorder is what the browser collaborator's request callback holds.
func (s *Session) Path(pathID string) *PathRecorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.paths[pathID]; ok {
		return r
	}
	r := &PathRecorder{session: s, pathID: pathID, delayMs: DefaultStepDelayMs}
	s.paths[pathID] = r
	return r
}

// Close ends capture. Requests observed afterwards are still reported as
// vendor traffic but no longer stored or counted.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Store returns the captured templates. Call it after Close.
func (s *Session) Store() *template.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Summary reports what the session has seen so far.
type Summary struct {
	Observed int            `json:"requests_observed"`
	Matched  int            `json:"requests_matched"`
	Captured map[string]int `json:"templates_captured"`
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{Observed: s.observed, Matched: s.matched, Captured: make(map[string]int)}
	for _, id := range s.store.Paths() {
		sum.Captured[id] = len(s.store.Templates(id))
	}
	return sum
}

// PathRecorder captures vendor requests for a single path.
type PathRecorder struct {
	session *Session
	pathID  string

	mu       sync.Mutex
	sequence int
	delayMs  int
}

// PathID returns the path this recorder captures for.
func (r *PathRecorder) PathID() string { return r.pathID }

// SetStepDelay records the delay of the step currently executing; the next
// captured template inherits it as its timing delay.
func (r *PathRecorder) SetStepDelay(ms int) {
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	r.delayMs = ms
	r.mu.Unlock()
}

// Observe is the check-and-capture call. It reports whether rawURL is vendor
// traffic and, when it carries a payload, stores a template for it. The
// caller always lets the live request continue untouched.
func (r *PathRecorder) Observe(rawURL, method string) bool {
	s := r.session
	matched := strings.Contains(strings.ToLower(rawURL), s.opts.Match)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return matched
	}
	s.observed++
	if matched {
		s.matched++
	}
	s.mu.Unlock()

	if !matched {
		metrics.CaptureObserved.WithLabelValues("false").Inc()
		return false
	}
	metrics.CaptureObserved.WithLabelValues("true").Inc()

	u, err := url.Parse(rawURL)
	if err != nil {
		event.Emit(s.opts.Sink, event.Event{
			Kind: event.KindWarning, Stage: "capture", PathID: r.pathID,
			Message: "vendor request has an unparseable URL", Err: err.Error(),
		})
		return true
	}
	params := template.ParseQuery(u.RawQuery)
	payload, ok := params.Get(s.opts.PayloadParam)
	if !ok {
		event.Emit(s.opts.Sink, event.Event{
			Kind: event.KindWarning, Stage: "capture", PathID: r.pathID,
			Message: "vendor request without payload parameter",
			Fields:  map[string]any{"param": s.opts.PayloadParam, "method": method},
		})
		return true
	}

	res := codec.DecodeDetailed(payload)
	metrics.CaptureDecoded.WithLabelValues(string(res.Stage)).Inc()
	if len(res.Records) == 0 {
		event.Emit(s.opts.Sink, event.Event{
			Kind: event.KindWarning, Stage: "capture", PathID: r.pathID,
			Message: "payload decoded to zero events",
		})
	}

	r.mu.Lock()
	t := template.Template{
		PathID:        r.pathID,
		SequenceOrder: r.sequence,
		BaseURL:       u.Scheme + "://" + u.Host + u.EscapedPath(),
		QueryParams:   params,
		DecodedEvents: res.Records,
		TimingDelayMs: r.delayMs,
	}
	r.sequence++
	r.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	s.store.Add(t)
	s.mu.Unlock()

	event.Emit(s.opts.Sink, event.Event{
		Kind: event.KindProgress, Stage: "capture", PathID: r.pathID,
		Message: "captured vendor request",
		Fields: map[string]any{
			"sequence": t.SequenceOrder, "events": len(t.DecodedEvents),
			"method": method, "decoder": string(res.Stage),
		},
	})
	return true
}
