package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodOptions configures the Chrome instance behind Rod.
type RodOptions struct {
	ControlURL string // connect to a running browser instead of launching one
	Bin        string // chrome binary; empty lets the launcher find or fetch one
	Headless   bool
	NoSandbox  bool
}

// Rod is a Browser backed by a Chrome DevTools connection.
type Rod struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

var _ Browser = (*Rod)(nil)

// LaunchRod starts (or connects to) Chrome and returns a ready Browser.
func LaunchRod(ctx context.Context, opts RodOptions) (*Rod, error) {
	r := &Rod{}
	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(opts.Headless).NoSandbox(opts.NoSandbox)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		r.launcher = l
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		r.cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	r.browser = b
	return r, nil
}

// NewPage opens a blank tab. Requests are observed through
// Network.requestWillBeSent, so they continue unmodified.
func (r *Rod) NewPage(ctx context.Context, onRequest RequestFunc) (Page, error) {
	p, err := r.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	rp := &rodPage{page: p}
	if onRequest != nil {
		if err := (proto.NetworkEnable{}).Call(p); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("enable network events: %w", err)
		}
		evCtx, cancel := context.WithCancel(ctx)
		wait := p.Context(evCtx).EachEvent(func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Request != nil {
				onRequest(ev.Request.URL, ev.Request.Method)
			}
		})
		rp.stopEvents = cancel
		rp.eventsDone = make(chan struct{})
		go func() {
			defer close(rp.eventsDone)
			wait()
		}()
	}
	return rp, nil
}

// Close disconnects and, when the browser was launched here, kills it.
func (r *Rod) Close() error {
	var err error
	if r.browser != nil {
		err = r.browser.Close()
	}
	r.cleanup()
	return err
}

func (r *Rod) cleanup() {
	if r.launcher != nil {
		r.launcher.Cleanup()
	}
}

type rodPage struct {
	page *rod.Page

	stopEvents context.CancelFunc
	eventsDone chan struct{}
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	pg := p.page.Context(ctx).Timeout(timeout)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) WaitIdle(ctx context.Context, timeout time.Duration) error {
	return p.page.Context(ctx).WaitIdle(timeout)
}

func (p *rodPage) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	return el, nil
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

func (p *rodPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("clear %s: %w", selector, err)
	}
	return el.Input(value)
}

func (p *rodPage) Hover(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (p *rodPage) Scroll(ctx context.Context, selector string, pixels int, timeout time.Duration) error {
	if selector == "" {
		return p.page.Context(ctx).Mouse.Scroll(0, float64(pixels), 1)
	}
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	return el.ScrollIntoView()
}

// Close stops request observation, waits until no callback can run any
// more, then closes the tab.
func (p *rodPage) Close() error {
	if p.stopEvents != nil {
		p.stopEvents()
		<-p.eventsDone
	}
	return p.page.Close()
}
