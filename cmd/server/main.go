package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/eventsynth/internal/api"
	"github.com/gyaneshwarpardhi/eventsynth/internal/browser"
	"github.com/gyaneshwarpardhi/eventsynth/internal/config"
	"github.com/gyaneshwarpardhi/eventsynth/internal/event"
	"github.com/gyaneshwarpardhi/eventsynth/internal/jobs"
	"github.com/gyaneshwarpardhi/eventsynth/internal/simulator"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (optional; EVENTSYNTH_* env vars override it)")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	debug := flag.Bool("debug", false, "Log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Browser ───────────────────────────────────────────────────────────────
	b, err := browser.LaunchRod(ctx, cfg.RodOptions())
	if err != nil {
		slog.Error("failed to start browser", "err", err)
		os.Exit(1)
	}
	defer b.Close()
	slog.Info("browser ready", "headless", !cfg.Browser.ShowWindow, "remote", cfg.Browser.ControlURL != "")

	// ── Simulator and job pool ────────────────────────────────────────────────
	simOpts := cfg.SimulatorOptions()
	simOpts.Sink = event.LogSink(logger)
	sim := simulator.New(b, simOpts)

	mgr := jobs.NewManager(ctx, sim.Execute, jobs.Options{
		Workers:    cfg.Jobs.Workers,
		QueueDepth: cfg.Jobs.QueueDepth,
		Retain:     cfg.Jobs.Retain,
		Timeout:    time.Duration(cfg.Jobs.ExecutionTimeoutMs) * time.Millisecond,
	})

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	// Capture, pacing and replay settings apply to executions started after the
	// reload; listener, browser and pool sizes need a restart.
	loader.OnChange(func(newCfg *config.Config) {
		o := newCfg.SimulatorOptions()
		o.Sink = event.LogSink(logger)
		sim.Reconfigure(o)
		slog.Info("simulator reconfigured",
			"batch_size", newCfg.Replay.BatchSize, "days_back", newCfg.Replay.DaysBack)
	})
	loader.OnError(func(err error) {
		slog.Warn("hot-reload skipped: config invalid", "err", err)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(sim, mgr, api.Options{
		TemplateDir:  cfg.Capture.TemplateDir,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr, "templates", cfg.Capture.TemplateDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop running executions and the worker pool
	mgr.Drain()
	slog.Info("goodbye")
}
