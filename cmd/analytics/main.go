// Command analytics consumes audit lookup events from Kafka, aggregates them
// in memory and serves the result at GET /api/v1/analytics. When PostgreSQL
// is reachable, aggregates are also snapshotted periodically.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/auditlens/auditlens/internal/analytics"
	"github.com/auditlens/auditlens/internal/analytics/aggregator"
	"github.com/auditlens/auditlens/pkg/config"
	"github.com/auditlens/auditlens/pkg/health"
	"github.com/auditlens/auditlens/pkg/kafka"
	"github.com/auditlens/auditlens/pkg/logger"
	"github.com/auditlens/auditlens/pkg/middleware"
	"github.com/auditlens/auditlens/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AuditLookups, analytics.HandleEvent(agg))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
	}()
	slog.Info("lookup consumer started",
		"topic", cfg.Kafka.Topics.AuditLookups,
		"group", cfg.Kafka.ConsumerGroup,
	)

	checker := health.NewChecker()

	var snapshots analytics.SnapshotLister
	pg, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
	} else {
		defer pg.Close()
		store := aggregator.NewStore(pg, cfg.Analytics.SnapshotRetention)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare snapshot table", "error", err)
			os.Exit(1)
		}
		if latest, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("could not load latest snapshot", "error", err)
		} else if latest != nil {
			slog.Info("previous snapshot found",
				"captured_at", latest.CapturedAt,
				"total_lookups", latest.TotalLookups,
			)
		}
		store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
		snapshots = store
		checker.Register("postgres", health.DegradedCheck(pg))
	}

	h := analytics.NewHandler(agg, snapshots)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Logging(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-shutdownDone

	slog.Info("analytics service stopped")
}
