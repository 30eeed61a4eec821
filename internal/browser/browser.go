// Package browser drives user journeys through a real browser and hands every
// outgoing network request to a callback. The recorder never sees or touches
// live traffic beyond the URL and method.
package browser

import (
	"context"
	"time"
)

// RequestFunc is called for every request the page is about to send.
// Implementations must be safe for concurrent use.
type RequestFunc func(rawURL, method string)

// Browser opens pages.
type Browser interface {
	// NewPage opens a blank page. When onRequest is non-nil it observes every
	// request the page sends until the page is closed.
	NewPage(ctx context.Context, onRequest RequestFunc) (Page, error)
	Close() error
}

// Page is the set of interactions a journey step can perform.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// WaitIdle waits for the page to stop doing work after a navigation.
	WaitIdle(ctx context.Context, timeout time.Duration) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	Hover(ctx context.Context, selector string, timeout time.Duration) error
	// Scroll scrolls selector into view, or the window by pixels when
	// selector is empty.
	Scroll(ctx context.Context, selector string, pixels int, timeout time.Duration) error
	Close() error
}

// FailedAction describes one step that could not be performed.
type FailedAction struct {
	PathID      string `json:"path_id"`
	Step        int    `json:"step"`
	Action      string `json:"action"`
	Selector    string `json:"selector,omitempty"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error"`
	Suggestion  string `json:"suggestion,omitempty"`
}
