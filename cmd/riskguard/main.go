// RiskGuard - Risk scoring gateway for login and account abuse.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"github.com/opensource-finance/riskguard/internal/api"
	"github.com/opensource-finance/riskguard/internal/bus"
	"github.com/opensource-finance/riskguard/internal/challenge"
	"github.com/opensource-finance/riskguard/internal/config"
	"github.com/opensource-finance/riskguard/internal/decision"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/guard"
	"github.com/opensource-finance/riskguard/internal/identity"
	"github.com/opensource-finance/riskguard/internal/repository"
	"github.com/opensource-finance/riskguard/internal/rules"
	"github.com/opensource-finance/riskguard/internal/store"
	"github.com/opensource-finance/riskguard/internal/window"
	"github.com/opensource-finance/riskguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", envOr("RISKGUARD_CONFIG", "riskguard.yaml"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadIfExists(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting riskguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"config", *configPath,
		"store", cfg.Store.Type,
		"window_strategy", cfg.Window.Strategy,
		"fail_closed", cfg.Window.FailClosed,
		"repository", cfg.Repository.Driver,
		"eventbus", cfg.EventBus.Type,
		"routes", len(cfg.Routes),
		"trusted_proxies", strings.Join(cfg.Server.TrustedProxies, ","),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Counter store and windows
	counterStore, err := store.New(cfg.Store, logger)
	if err != nil {
		slog.Error("failed to initialize counter store", "error", err)
		os.Exit(1)
	}
	defer counterStore.Close()

	strategy, err := window.ParseStrategy(cfg.Window.Strategy)
	if err != nil {
		slog.Error("invalid window strategy", "error", err)
		os.Exit(1)
	}
	windows := window.NewManager(counterStore, strategy,
		window.WithFailClosed(cfg.Window.FailClosed),
		window.WithLogger(logger),
	)

	// Rule engine
	builtin, err := rules.BuiltinRules(cfg.Rules, windows)
	if err != nil {
		slog.Error("failed to build rules", "error", err)
		os.Exit(1)
	}
	engine, err := rules.NewEngine(builtin...)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized",
		"rules_count", engine.RulesCount(),
		"rules", strings.Join(engine.Codes(), ","),
	)

	// Decision profile and hard rules
	profile, err := decision.NewProfile(cfg.Decision.ChallengeThreshold, cfg.Decision.BlockThreshold)
	if err != nil {
		slog.Error("invalid decision profile", "error", err)
		os.Exit(1)
	}
	hardRules, err := decision.NewHardRuleEvaluator(cfg.Decision.HardRules)
	if err != nil {
		slog.Error("invalid hard rules", "error", err)
		os.Exit(1)
	}
	slog.Info("decision profile initialized",
		"challenge_threshold", profile.ChallengeThreshold,
		"block_threshold", profile.BlockThreshold,
		"hard_rules", len(hardRules.Rules()),
	)

	// Outcome audit pipeline
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	outcomeWorker := worker.NewWorker(busImpl, repo)
	if err := outcomeWorker.Start(worker.Config{}); err != nil {
		slog.Error("failed to start outcome worker", "error", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	telemetry, err := challenge.NewTelemetry(registry)
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Orchestrator
	opts := []guard.Option{
		guard.WithBlockHandler(challenge.NewEscalatingBlockHandler(windows, 0, logger)),
		guard.WithPolicy(challenge.NewPolicyStrategy(cfg.Decision)),
		guard.WithListeners(
			challenge.LogListener{Logger: logger},
			challenge.NewBusListener(busImpl),
		),
		guard.WithTelemetry(telemetry),
		guard.WithLogger(logger),
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, guard.WithTracer(otel.Tracer(cfg.Tracing.ServiceName)))
	}
	processor := guard.NewProcessor(engine, profile, hardRules, opts...)

	proxies, err := identity.ParseProxies(cfg.Server.TrustedProxies)
	if err != nil {
		slog.Error("invalid trusted proxies", "error", err)
		os.Exit(1)
	}

	srv, err := api.NewServer(cfg.Server, processor, api.Options{
		Store:    counterStore,
		Repo:     repo,
		Resolver: identity.NewResolver(proxies),
		Gatherer: registry,
		Routes:   cfg.Routes,
		Version:  Version,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("riskguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := outcomeWorker.Stop(); err != nil {
		slog.Error("failed to stop outcome worker", "error", err)
	}
	stats := outcomeWorker.GetStats()
	slog.Info("riskguard shutdown complete",
		"outcomes_persisted", stats.Processed,
		"outcomes_failed", stats.Failed,
	)
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               RISKGUARD                   ║")
	fmt.Println("  ║        Risk Scoring Gateway               ║")
	fmt.Println("  ║   Every login counted, every abuse seen.  ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Store:    %s (%s windows)\n", cfg.Store.Type, cfg.Window.Strategy)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate          - Score an action")
	fmt.Println("    GET  /outcomes          - List challenge and block outcomes")
	fmt.Println("    GET  /outcomes/{id}     - Get outcome by ID")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /ready             - Readiness check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	for _, r := range cfg.Routes {
		method := r.Method
		if method == "" {
			method = "ANY"
		}
		fmt.Printf("    %-4s %-18s - Guarded %s -> %s\n", method, r.Path, r.Action, r.Upstream)
	}
	fmt.Println()
}
