package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks ranges and cross-field constraints after defaults have
// been applied.
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if cfg.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes must not be negative")
	}
	if cfg.Server.ReadTimeoutMs < 0 || cfg.Server.WriteTimeoutMs < 0 || cfg.Server.ShutdownTimeoutMs < 0 {
		add("server timeouts must not be negative")
	}

	if strings.TrimSpace(cfg.Capture.Match) == "" {
		add("capture.match must not be blank")
	}
	if strings.ContainsAny(cfg.Capture.PayloadParam, "&=?# ") {
		add("capture.payload_param %q is not a valid query parameter name", cfg.Capture.PayloadParam)
	}

	if u := cfg.Browser.ControlURL; u != "" {
		if parsed, err := url.Parse(u); err != nil || parsed.Host == "" {
			add("browser.control_url %q is not a valid URL", u)
		}
	}
	if cfg.Browser.DelayDivisor < 1 {
		add("browser.delay_divisor must be at least 1")
	}
	if cfg.Browser.NavigateTimeoutMs < 0 || cfg.Browser.SelectorTimeoutMs < 0 {
		add("browser timeouts must not be negative")
	}

	r := cfg.Replay
	if r.BatchSize < 1 {
		add("replay.batch_size must be at least 1")
	}
	if r.DaysBack < 0 {
		add("replay.days_back must not be negative")
	}
	if r.FallbackDelayMinMs > r.FallbackDelayMaxMs {
		add("replay.fallback_delay_min_ms (%d) exceeds fallback_delay_max_ms (%d)", r.FallbackDelayMinMs, r.FallbackDelayMaxMs)
	}
	if r.MaxRequestsPerSecond < 0 {
		add("replay.max_requests_per_second must not be negative")
	}
	if r.HTTPTimeoutMs < 0 {
		add("replay.http_timeout_ms must not be negative")
	}
	if r.MaxConnsPerHost < 1 {
		add("replay.max_conns_per_host must be at least 1")
	}

	if cfg.Jobs.Workers < 1 {
		add("jobs.workers must be at least 1")
	}
	if cfg.Jobs.QueueDepth < 1 {
		add("jobs.queue_depth must be at least 1")
	}
	if cfg.Jobs.Retain < 1 {
		add("jobs.retain must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
