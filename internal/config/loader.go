package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads a YAML config file, applies environment overrides and
// watches the file for changes. An empty path means environment and
// defaults only.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
	onError  func(error)
	watcher  *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// OnError registers a callback for reloads that fail; the previous config
// stays active.
func (l *Loader) OnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = fn
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.reportError(err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.reportError(fmt.Errorf("config watcher: %w", err))
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) reportError(err error) {
	l.mu.RLock()
	fn := l.onError
	l.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (l *Loader) load() (*Config, error) {
	var cfg Config
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ReadTimeoutMs == 0 {
		s.ReadTimeoutMs = 10000
	}
	if s.ShutdownTimeoutMs == 0 {
		s.ShutdownTimeoutMs = 15000
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = 1 << 20
	}

	c := &cfg.Capture
	if c.Match == "" {
		c.Match = "pendo"
	}
	if c.PayloadParam == "" {
		c.PayloadParam = "jzb"
	}
	if c.TemplateDir == "" {
		c.TemplateDir = "templates"
	}

	b := &cfg.Browser
	if b.DelayDivisor == 0 {
		b.DelayDivisor = 10
	}
	if b.NavigateTimeoutMs == 0 {
		b.NavigateTimeoutMs = 45000
	}
	if b.SelectorTimeoutMs == 0 {
		b.SelectorTimeoutMs = 5000
	}
	if b.FinalSettleMs == 0 {
		b.FinalSettleMs = 3000
	}

	// Pauses left at zero get defaults; negative values disable them.
	r := &cfg.Replay
	if r.BatchSize == 0 {
		r.BatchSize = 50
	}
	if r.DaysBack == 0 {
		r.DaysBack = 6
	}
	if r.BatchPauseMs == 0 {
		r.BatchPauseMs = 500
	}
	if r.RequestPacingMs == 0 {
		r.RequestPacingMs = 10
	}
	if r.FallbackDelayMinMs == 0 {
		r.FallbackDelayMinMs = 1000
	}
	if r.FallbackDelayMaxMs == 0 {
		r.FallbackDelayMaxMs = 4000
	}
	if r.AccountID == "" {
		r.AccountID = "demo_account"
	}
	if r.TimestampParam == "" {
		r.TimestampParam = "ct"
	}
	if r.HTTPTimeoutMs == 0 {
		r.HTTPTimeoutMs = 30000
	}
	if r.MaxConnsPerHost == 0 {
		r.MaxConnsPerHost = 50
	}

	j := &cfg.Jobs
	if j.Workers == 0 {
		j.Workers = 2
	}
	if j.QueueDepth == 0 {
		j.QueueDepth = 32
	}
	if j.Retain == 0 {
		j.Retain = 256
	}
	if j.ExecutionTimeoutMs == 0 {
		j.ExecutionTimeoutMs = 30 * 60 * 1000
	}
}
