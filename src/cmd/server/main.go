package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"aria-core/src/internal/api"
	"aria-core/src/internal/automation"
	"aria-core/src/internal/config"
	"aria-core/src/internal/connect"
	"aria-core/src/internal/knowledge"
	"aria-core/src/internal/llm"
	"aria-core/src/internal/matcher"
	"aria-core/src/internal/runner"
	"aria-core/src/internal/store"
	"aria-core/src/internal/tools"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to config file to load first")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(filepath.Join(cfg.StorageDir, "aria.db"))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	seeded, err := st.BootstrapInstructions(context.Background(), filepath.Join(cfg.StorageDir, "instructions.yaml"))
	if err != nil {
		slog.Warn("failed to bootstrap instructions", "error", err)
	} else if seeded > 0 {
		slog.Info("bootstrapped instructions", "count", seeded)
	}

	vectors, err := knowledge.NewVectorIndex(cfg)
	if err != nil {
		slog.Warn("vector index unavailable, semantic search falls back to exact", "error", err)
		vectors = nil
	}
	search := knowledge.NewSearcher(st, vectors)

	var streamer llm.Streamer
	client, err := llm.NewClient(cfg)
	if err != nil {
		if !errors.Is(err, llm.ErrModelUnavailable) {
			slog.Error("failed to build model client", "error", err)
			os.Exit(1)
		}
		slog.Warn("no model configured, task execution will fail until one is", "error", err)
		streamer = llm.Unavailable{}
	} else {
		streamer = client
	}

	registry := tools.DefaultRegistry(tools.Deps{
		Store:     st,
		Mail:      connect.UnconfiguredMail{},
		Calendar:  connect.UnconfiguredCalendar{},
		CRM:       connect.UnconfiguredCRM{},
		Knowledge: search,
	})

	m := matcher.New(st)
	orch := automation.NewOrchestrator(st, m, nil, nil, cfg.Automation.BatchSize)
	server := api.NewServer(cfg, st, orch)

	run := runner.New(st, streamer, registry, search, runner.Options{
		MaxRounds:       cfg.Automation.MaxRounds,
		DefaultTimeZone: cfg.Automation.DefaultTimeZone,
		OnToken:         server.PublishToken,
	})
	orch.SetRunner(run)

	sched := automation.NewScheduler(orch, cfg.CycleTimeoutDuration())
	if err := sched.Start(cfg.Automation.Schedule); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	slog.Info("starting automation service", "addr", cfg.Server.Addr, "schedule", cfg.Automation.Schedule)
	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	sched.Stop()
}
