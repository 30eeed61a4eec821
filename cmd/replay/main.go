// Command replay replays saved request templates for a workflow without
// starting a browser.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gyaneshwarpardhi/eventsynth/internal/config"
	"github.com/gyaneshwarpardhi/eventsynth/internal/event"
	"github.com/gyaneshwarpardhi/eventsynth/internal/simulator"
	"github.com/gyaneshwarpardhi/eventsynth/internal/template"
	"github.com/gyaneshwarpardhi/eventsynth/internal/workflow"
)

func main() {
	wfPath := flag.String("workflow", "", "Path to the workflow JSON definition (required)")
	tplPath := flag.String("templates", "", "Template file to replay (default: <capture.template_dir>/templates_<workflow>.json)")
	users := flag.Int("users", 100, "Number of synthetic users")
	batch := flag.Int("batch", 0, "Concurrent sessions per batch (overrides replay.batch_size)")
	days := flag.Int("days", 0, "Spread sessions over the last N days (overrides replay.days_back)")
	cfgPath := flag.String("config", "", "Path to YAML config (optional)")
	debug := flag.Bool("debug", false, "Log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *wfPath == "" {
		slog.Error("-workflow is required")
		flag.Usage()
		os.Exit(2)
	}

	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	def, err := workflow.Load(*wfPath)
	if err != nil {
		slog.Error("failed to load workflow", "path", *wfPath, "err", err)
		os.Exit(1)
	}
	if err := workflow.Validate(def); err != nil {
		slog.Error("invalid workflow", "err", err)
		os.Exit(1)
	}

	var store *template.Store
	if *tplPath != "" {
		store, err = template.LoadFile(*tplPath)
	} else {
		store, err = template.Load(cfg.Capture.TemplateDir, def.Name)
	}
	if err != nil {
		slog.Error("failed to load templates", "err", err)
		os.Exit(1)
	}
	slog.Info("templates loaded", "workflow", def.Name, "paths", len(store.Paths()), "templates", store.TemplateCount())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cfg.SimulatorOptions()
	opts.Sink = event.LogSink(logger)
	res := simulator.New(nil, opts).ReplayStore(ctx, def, store, *users, *batch, *days)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		slog.Error("encode result", "err", err)
	}
	if !res.Success {
		stop()
		os.Exit(1)
	}
}
