// Command auditapi serves the document audit history API backed by the
// Elasticsearch audit index.
//
// Usage:
//
//	go run ./cmd/auditapi [-config configs/development.yaml]
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
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/auditlens/auditlens/internal/analytics"
	"github.com/auditlens/auditlens/internal/analytics/collector"
	"github.com/auditlens/auditlens/internal/audit/cache"
	"github.com/auditlens/auditlens/internal/audit/handler"
	"github.com/auditlens/auditlens/internal/audit/query"
	"github.com/auditlens/auditlens/internal/audit/service"
	"github.com/auditlens/auditlens/pkg/config"
	"github.com/auditlens/auditlens/pkg/elasticsearch"
	"github.com/auditlens/auditlens/pkg/health"
	"github.com/auditlens/auditlens/pkg/kafka"
	"github.com/auditlens/auditlens/pkg/logger"
	"github.com/auditlens/auditlens/pkg/metrics"
	"github.com/auditlens/auditlens/pkg/middleware"
	"github.com/auditlens/auditlens/pkg/ratelimit"
	pkgredis "github.com/auditlens/auditlens/pkg/redis"
	"github.com/auditlens/auditlens/pkg/resilience"
)

type tracker interface {
	analytics.Tracker
	Start(ctx context.Context)
	Close()
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting audit api",
		"port", cfg.Server.Port,
		"environment", cfg.Server.Environment,
		"index", cfg.Elasticsearch.Index,
	)

	defaultSort, err := query.ParseSort(cfg.API.DefaultSort)
	if err != nil {
		slog.Error("invalid api.defaultSort", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	var esOpts []elasticsearch.Option
	if cfg.Elasticsearch.CircuitBreaker.Enabled {
		breaker := resilience.NewCircuitBreaker("elasticsearch", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Elasticsearch.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.Elasticsearch.CircuitBreaker.ResetTimeout,
			IsFailure:        elasticsearch.IsServerFailure,
			OnStateChange: func(name string, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		esOpts = append(esOpts, elasticsearch.WithCircuitBreaker(breaker))
	}
	es := elasticsearch.New(cfg.Elasticsearch, esOpts...)
	slog.Info("audit index configured", "url", cfg.Elasticsearch.URL, "index", es.Index())
	executor := query.New(es, cfg.API, m)

	var svcOpts []service.Option
	var catalogCache *cache.CatalogCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, event type caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			catalogCache = cache.New(redisClient, cfg.Redis.CacheTTL, cfg.API.CatalogSize, m)
			svcOpts = append(svcOpts, service.WithCatalogCache(catalogCache))
			slog.Info("event type cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	svc := service.New(executor, executor.HistoryLimit(), defaultSort, svcOpts...)

	handlerOpts := handler.Options{Metrics: m, Tracing: cfg.Tracing.Enabled}
	if catalogCache != nil {
		handlerOpts.Cache = catalogCache
	}
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AuditLookups)
		defer producer.Close()

		var t tracker
		if cfg.Analytics.BatchSize > 0 {
			t = collector.NewBatchCollector(producer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval, m)
		} else {
			t = analytics.NewCollector(producer, cfg.Analytics.BufferSize, m)
		}
		t.Start(ctx)
		defer t.Close()
		handlerOpts.Tracker = t
		slog.Info("lookup analytics enabled",
			"topic", cfg.Kafka.Topics.AuditLookups,
			"batch_size", cfg.Analytics.BatchSize,
		)
	}

	checker := health.NewChecker()
	checker.Register("elasticsearch", health.PingCheck(es))
	if redisClient != nil {
		checker.Register("redis", health.DegradedCheck(redisClient))
	}

	mux := http.NewServeMux()
	handler.New(svc, cfg.API, cfg.Server, handlerOpts).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter := ratelimit.New(time.Minute)
		defer limiter.Close()
		chain = middleware.RateLimit(limiter, cfg.Server.RateLimitPerMinute)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.Logging(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
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

	slog.Info("audit api listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	// In-flight handlers still track lookups until Shutdown returns.
	<-shutdownDone

	slog.Info("audit api stopped")
}
