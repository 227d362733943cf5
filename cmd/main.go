package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/greenpulse/greenpulse/internal/analysis"
	"github.com/greenpulse/greenpulse/internal/config"
	"github.com/greenpulse/greenpulse/internal/database"
	"github.com/greenpulse/greenpulse/internal/metrics"
	"github.com/greenpulse/greenpulse/internal/models"
	"github.com/greenpulse/greenpulse/internal/orchestrator"
	"github.com/greenpulse/greenpulse/internal/scheduler"
	"github.com/greenpulse/greenpulse/internal/server"
	"github.com/greenpulse/greenpulse/internal/sources"
	"github.com/greenpulse/greenpulse/internal/storage"
)

// Command greenpulse runs the emissions and energy statistics pipeline.
//
// The pipeline fetches time-series data from external statistics APIs,
// normalizes it into a common observation schema, writes raw and processed
// artifacts, and computes trend and forecast summaries.
//
// Usage:
//
//	greenpulse fetch   [-config config.yaml]
//	greenpulse analyze [-config config.yaml] -source <name> [-entity <id>]
//	greenpulse serve   [-config config.yaml]
//
// fetch runs one pipeline pass and exits 1 only when no source succeeds.
// analyze prints the trend summary for a previously fetched source.
// serve exposes the reports API and refetches on the configured schedule.
func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "fetch":
		code = runFetch(os.Args[2:])
	case "analyze":
		code = runAnalyze(os.Args[2:])
	case "serve":
		code = runServe(os.Args[2:])
	default:
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: greenpulse <fetch|analyze|serve> [flags]")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// buildPipeline wires the shared HTTP client, source clients, stores, and
// optional database sink into an orchestrator.
func buildPipeline(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) (*orchestrator.Orchestrator, *storage.Store, func(), error) {
	store, err := storage.NewStore(cfg.Storage.RawDir, cfg.Storage.ProcessedDir)
	if err != nil {
		return nil, nil, nil, err
	}

	httpClient := sources.NewHTTPClient()
	names := sortedSourceNames(cfg)

	srcs := make([]sources.Client, 0, len(names))
	for _, name := range names {
		src, err := sources.NewFromConfig(name, cfg.Sources[name], httpClient)
		if err != nil {
			return nil, nil, nil, err
		}
		srcs = append(srcs, src)
	}

	var repo database.ObservationRepository
	cleanup := func() {}
	if cfg.Database.Enabled {
		pg, err := database.NewPostgresRepo(cfg.Database.ConnString())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect database: %w", err)
		}
		repo = pg
		cleanup = func() { pg.Close() }
	}

	orch := orchestrator.New(srcs, store, repo, cfg.Retry, logger, m)
	return orch, store, cleanup, nil
}

func sortedSourceNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	logger := newLogger(cfg.Logging)

	m := metrics.New(prometheus.NewRegistry())
	orch, _, cleanup, err := buildPipeline(cfg, logger, m)
	if err != nil {
		logger.WithError(err).Error("Failed to build pipeline")
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := orch.Run(ctx)
	printReport(report)

	if report.SuccessCount() == 0 {
		return 1
	}
	return 0
}

func printReport(report *models.RunReport) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	source := fs.String("source", "", "source to analyze")
	entity := fs.String("entity", "", "entity within the source (optional for single-entity tables)")
	fs.Parse(args)

	if *source == "" {
		fmt.Fprintln(os.Stderr, "analyze: -source is required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	store, err := storage.NewStore(cfg.Storage.RawDir, cfg.Storage.ProcessedDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open storage: %v\n", err)
		return 1
	}

	table, err := store.LoadTable(*source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load table for %s: %v\n", *source, err)
		return 1
	}

	if *entity != "" {
		table = table.ForEntity(*entity)
	} else if entities := table.Entities(); len(entities) > 1 {
		fmt.Fprintf(os.Stderr, "source %s has entities %v, pass -entity\n", *source, entities)
		return 2
	}

	opts := analysis.Options{
		RecentWindow:    cfg.Analysis.RecentWindow,
		ForecastPeriods: cfg.Analysis.ForecastPeriods,
	}
	summary, err := analysis.Analyze(table, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analyze %s: %v\n", *source, err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	logger := newLogger(cfg.Logging)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	orch, store, cleanup, err := buildPipeline(cfg, logger, m)
	if err != nil {
		logger.WithError(err).Error("Failed to build pipeline")
		return 1
	}
	defer cleanup()

	opts := analysis.Options{
		RecentWindow:    cfg.Analysis.RecentWindow,
		ForecastPeriods: cfg.Analysis.ForecastPeriods,
	}
	srv, err := server.New(logger, store, sortedSourceNames(cfg), opts, cfg.Server.CacheSize, m)
	if err != nil {
		logger.WithError(err).Error("Failed to build server")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Runs record their report on the server and drop stale cached summaries.
	runner := scheduler.RunnerFunc(func(runCtx context.Context) *models.RunReport {
		report := orch.Run(runCtx)
		srv.SetLastReport(report)
		return report
	})

	// Populate artifacts before the first scheduled tick.
	go runner.Run(ctx)

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(ctx, runner, logger, cfg.Scheduler.Spec)
		if err := sched.Start(); err != nil {
			logger.WithError(err).Error("Failed to start scheduler")
			return 1
		}
		defer sched.Stop()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:           srv.Router(registry),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting reports server")
		errChan <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		logger.WithError(err).Error("Server stopped")
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown")
		return 1
	}
	return 0
}
