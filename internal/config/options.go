package config

import (
	"time"

	"github.com/gyaneshwarpardhi/eventsynth/internal/browser"
	"github.com/gyaneshwarpardhi/eventsynth/internal/capture"
	"github.com/gyaneshwarpardhi/eventsynth/internal/replay"
	"github.com/gyaneshwarpardhi/eventsynth/internal/simulator"
)

func ms(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}

// RodOptions returns the Chrome launch settings.
func (c *Config) RodOptions() browser.RodOptions {
	return browser.RodOptions{
		ControlURL: c.Browser.ControlURL,
		Bin:        c.Browser.Bin,
		Headless:   !c.Browser.ShowWindow,
		NoSandbox:  c.Browser.NoSandbox,
	}
}

// Timings returns recording pace, starting from the browser defaults.
func (c *Config) Timings() browser.Timings {
	t := browser.DefaultTimings()
	t.DelayDivisor = c.Browser.DelayDivisor
	t.NavigateTimeout = ms(c.Browser.NavigateTimeoutMs)
	t.SelectorTimeout = ms(c.Browser.SelectorTimeoutMs)
	t.FinalSettle = ms(c.Browser.FinalSettleMs)
	return t
}

// ReplayOptions returns replay pacing.
func (c *Config) ReplayOptions() replay.Options {
	r := c.Replay
	return replay.Options{
		BatchSize:            r.BatchSize,
		DaysBack:             r.DaysBack,
		BatchPause:           ms(r.BatchPauseMs),
		RequestPacing:        ms(r.RequestPacingMs),
		FallbackDelayMin:     ms(r.FallbackDelayMinMs),
		FallbackDelayMax:     ms(r.FallbackDelayMaxMs),
		PayloadParam:         c.Capture.PayloadParam,
		TimestampParam:       r.TimestampParam,
		AccountID:            r.AccountID,
		MaxRequestsPerSecond: r.MaxRequestsPerSecond,
	}
}

// SimulatorOptions assembles everything a Simulator needs.
func (c *Config) SimulatorOptions() simulator.Options {
	return simulator.Options{
		TemplateDir: c.Capture.TemplateDir,
		Capture: capture.Options{
			Match:        c.Capture.Match,
			PayloadParam: c.Capture.PayloadParam,
		},
		Timings:            c.Timings(),
		Replay:             c.ReplayOptions(),
		HTTPTimeout:        ms(c.Replay.HTTPTimeoutMs),
		MaxConnsPerHost:    c.Replay.MaxConnsPerHost,
		InsecureSkipVerify: c.Replay.InsecureSkipVerify,
	}
}
