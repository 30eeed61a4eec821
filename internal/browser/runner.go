package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/eventsynth/internal/event"
	"github.com/gyaneshwarpardhi/eventsynth/internal/workflow"
)

// Timings controls how long the runner waits around each step.
type Timings struct {
	DelayDivisor int           // recorded step delays are divided by this
	StepFloor    time.Duration // minimum pause after a step
	WaitFloor    time.Duration // minimum pause for a wait step

	NavigateTimeout  time.Duration
	NavigationSettle time.Duration
	VendorInitWait   time.Duration // after navigation, normal mode only

	SelectorTimeout        time.Duration
	DynamicSelectorTimeout time.Duration // dynamic selector right after a navigation
	WaitForSelectorTimeout time.Duration

	TestSelectorTimeout        time.Duration
	TestDynamicSelectorTimeout time.Duration
	TestWaitForSelectorTimeout time.Duration

	FinalSettle     time.Duration
	TestFinalSettle time.Duration
}

// DefaultTimings returns the pacing used against real applications.
func DefaultTimings() Timings {
	return Timings{
		DelayDivisor:               10,
		StepFloor:                  100 * time.Millisecond,
		WaitFloor:                  200 * time.Millisecond,
		NavigateTimeout:            45 * time.Second,
		NavigationSettle:           2 * time.Second,
		VendorInitWait:             3 * time.Second,
		SelectorTimeout:            5 * time.Second,
		DynamicSelectorTimeout:     8 * time.Second,
		WaitForSelectorTimeout:     8 * time.Second,
		TestSelectorTimeout:        3 * time.Second,
		TestDynamicSelectorTimeout: 5 * time.Second,
		TestWaitForSelectorTimeout: 3 * time.Second,
		FinalSettle:                3 * time.Second,
		TestFinalSettle:            500 * time.Millisecond,
	}
}

// dynamicPatterns mark selectors whose elements usually render after the
// page's data has loaded.
var dynamicPatterns = []string{
	"location-card", "location-search", "locations-grid", "table-header",
	"shipments-table", "dashboard-metrics", "chart-container", "reports-grid",
	"report-filters", "view-details", "data-grid", "search-results",
	"filter-dropdown", "dynamic-content",
}

const defaultScrollPixels = 600

// StepRecorder learns the recorded delay of the step being executed, so
// requests observed while it runs carry that delay.
type StepRecorder interface {
	SetStepDelay(ms int)
}

// Runner executes the steps of a path on a page.
type Runner struct {
	Timings  Timings
	TestMode bool // validate selectors only: no pacing, shorter timeouts
	Sink     event.Sink

	// Sleep waits for d or until ctx ends. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner with default timings.
func NewRunner(testMode bool, sink event.Sink) *Runner {
	return &Runner{Timings: DefaultTimings(), TestMode: testMode, Sink: sink}
}

// RunPath runs every step of path in order. A failed step is recorded and the
// remaining steps still run. rec may be nil.
func (r *Runner) RunPath(ctx context.Context, page Page, appURL string, path workflow.Path, rec StepRecorder) []FailedAction {
	var failed []FailedAction
	for i, step := range path.Steps {
		if ctx.Err() != nil {
			break
		}
		if rec != nil {
			rec.SetStepDelay(step.Delay())
		}
		r.emit(event.Event{
			Kind: event.KindProgress, PathID: path.ID, Step: i + 1,
			Message: "running step", Fields: map[string]any{"action": string(step.Action)},
		})

		var prev *workflow.Step
		if i > 0 {
			prev = &path.Steps[i-1]
		}
		if err := r.runStep(ctx, page, appURL, step, prev); err != nil {
			fa := failure(path.ID, i+1, step, err)
			failed = append(failed, fa)
			r.emit(event.Event{
				Kind: event.KindFailure, PathID: path.ID, Step: i + 1,
				Message: "step failed", Err: fa.Error,
				Fields: map[string]any{"action": fa.Action, "selector": fa.Selector},
			})
			continue
		}
		if !r.TestMode {
			_ = r.sleep(ctx, r.scaled(step.Delay(), r.Timings.StepFloor))
		}
	}

	settle := r.Timings.FinalSettle
	if r.TestMode {
		settle = r.Timings.TestFinalSettle
	}
	_ = r.sleep(ctx, settle)
	if !r.TestMode {
		// Trailing analytics flushes are best effort.
		_ = page.WaitIdle(ctx, r.Timings.NavigateTimeout/3)
	}
	return failed
}

func (r *Runner) runStep(ctx context.Context, page Page, appURL string, step workflow.Step, prev *workflow.Step) error {
	switch step.Action {
	case workflow.ActionNavigate:
		return r.navigate(ctx, page, JoinURL(appURL, step.Value))
	case workflow.ActionClick:
		return page.Click(ctx, step.Selector, r.selectorTimeout(step, prev))
	case workflow.ActionType:
		return page.Fill(ctx, step.Selector, step.Value, r.selectorTimeout(step, prev))
	case workflow.ActionHover:
		return page.Hover(ctx, step.Selector, r.selectorTimeout(step, prev))
	case workflow.ActionWaitForSelector:
		timeout := r.Timings.WaitForSelectorTimeout
		if r.TestMode {
			timeout = r.Timings.TestWaitForSelectorTimeout
		}
		if step.TimeoutMs > 0 {
			timeout = time.Duration(step.TimeoutMs) * time.Millisecond
		}
		return page.WaitVisible(ctx, step.Selector, timeout)
	case workflow.ActionScroll:
		px := defaultScrollPixels
		if step.Value != "" {
			n, err := strconv.Atoi(step.Value)
			if err != nil {
				return fmt.Errorf("scroll value %q: %w", step.Value, err)
			}
			px = n
		}
		return page.Scroll(ctx, step.Selector, px, r.selectorTimeout(step, prev))
	case workflow.ActionWait:
		if r.TestMode {
			return nil
		}
		return r.sleep(ctx, r.scaled(step.Delay(), r.Timings.WaitFloor))
	default:
		return fmt.Errorf("unsupported action %q", step.Action)
	}
}

func (r *Runner) navigate(ctx context.Context, page Page, url string) error {
	if err := page.Navigate(ctx, url, r.Timings.NavigateTimeout); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if !r.TestMode {
		if err := page.WaitIdle(ctx, r.Timings.NavigateTimeout); err != nil {
			return fmt.Errorf("wait idle %s: %w", url, err)
		}
	}
	if err := r.sleep(ctx, r.Timings.NavigationSettle); err != nil {
		return err
	}
	if !r.TestMode {
		return r.sleep(ctx, r.Timings.VendorInitWait)
	}
	return nil
}

func (r *Runner) selectorTimeout(step workflow.Step, prev *workflow.Step) time.Duration {
	if step.TimeoutMs > 0 {
		return time.Duration(step.TimeoutMs) * time.Millisecond
	}
	dynamic := prev != nil && prev.Action == workflow.ActionNavigate && IsDynamicSelector(step.Selector)
	switch {
	case dynamic && r.TestMode:
		return r.Timings.TestDynamicSelectorTimeout
	case dynamic:
		return r.Timings.DynamicSelectorTimeout
	case r.TestMode:
		return r.Timings.TestSelectorTimeout
	default:
		return r.Timings.SelectorTimeout
	}
}

// scaled shrinks a recorded delay for fast recording.
func (r *Runner) scaled(delayMs int, floor time.Duration) time.Duration {
	div := r.Timings.DelayDivisor
	if div <= 0 {
		div = 1
	}
	d := time.Duration(delayMs/div) * time.Millisecond
	return max(d, floor)
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
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

func (r *Runner) emit(e event.Event) {
	e.Stage = "record"
	event.Emit(r.Sink, e)
}

// IsDynamicSelector reports whether selector names content that typically
// loads after the page itself.
func IsDynamicSelector(selector string) bool {
	s := strings.ToLower(selector)
	for _, p := range dynamicPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// JoinURL joins an application base URL and a step path with exactly one
// slash. Absolute step values are returned unchanged.
func JoinURL(appURL, value string) string {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return value
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return strings.TrimRight(appURL, "/") + value
}

func failure(pathID string, n int, step workflow.Step, err error) FailedAction {
	fa := FailedAction{
		PathID:      pathID,
		Step:        n,
		Action:      string(step.Action),
		Selector:    step.Selector,
		Value:       step.Value,
		Description: step.Description,
		Error:       err.Error(),
	}
	if isTimeout(err) {
		switch step.Action {
		case workflow.ActionClick, workflow.ActionType, workflow.ActionHover:
			fa.Suggestion = "add a wait_for_selector step before this action or raise timeout_ms"
		case workflow.ActionWaitForSelector:
			fa.Suggestion = "check the selector or raise timeout_ms"
		}
	}
	return fa
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout")
}
