// Command server starts the LexAtlas job dispatch HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lexatlas/lexatlas/internal/adapter/analyzer/remote"
	"github.com/lexatlas/lexatlas/internal/adapter/analyzer/stub"
	cachememory "github.com/lexatlas/lexatlas/internal/adapter/cache/memory"
	cacheredis "github.com/lexatlas/lexatlas/internal/adapter/cache/redis"
	"github.com/lexatlas/lexatlas/internal/adapter/httpserver"
	"github.com/lexatlas/lexatlas/internal/adapter/observability"
	queuememory "github.com/lexatlas/lexatlas/internal/adapter/queue/memory"
	"github.com/lexatlas/lexatlas/internal/adapter/queue/redpanda"
	"github.com/lexatlas/lexatlas/internal/adapter/repo/postgres"
	"github.com/lexatlas/lexatlas/internal/adapter/webhook"
	"github.com/lexatlas/lexatlas/internal/app"
	"github.com/lexatlas/lexatlas/internal/config"
	"github.com/lexatlas/lexatlas/internal/domain"
	"github.com/lexatlas/lexatlas/internal/monitoring"
	"github.com/lexatlas/lexatlas/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Infra: DB pool
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	resRepo := postgres.NewResultRepo(pool)

	recorder := monitoring.NewRecorder(app.AlertThresholds(cfg), cfg.SystemStatsRefresh)
	defer recorder.Stop()

	probes := []app.Probe{
		{Name: "db", Check: func(ctx context.Context) error { return pool.Ping(ctx) }},
	}

	// Cache driver
	var cache domain.Cache
	switch cfg.CacheDriver {
	case config.CacheDriverRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		rc := cacheredis.New(rdb, "lexatlas")
		cache = rc
		probes = append(probes, app.Probe{Name: "redis", Check: rc.Ping})
	default:
		mc := cachememory.New(cfg.CacheMaxEntries, cfg.CacheSweepInterval)
		defer mc.Stop()
		cache = mc
	}

	// Analyzer driver
	var analyzer domain.Analyzer
	switch cfg.AnalyzerDriver {
	case config.AnalyzerDriverRemote:
		cl := remote.New(cfg.MLServiceURL, 60*time.Second, 2*time.Minute, 2*time.Second, 30*time.Second)
		analyzer = cl
		probes = append(probes, app.Probe{Name: "ml", Check: cl.Ping})
	default:
		analyzer = stub.New(time.Now().UnixNano(), 500*time.Millisecond)
	}

	notifier := webhook.New(cfg.WebhookTimeout, cfg.WebhookMaxElapsedTime, cfg.WebhookInitialBackoff, cfg.WebhookMaxBackoff)

	// Queue driver. The memory driver runs the workers inside this process,
	// which is the single-binary development mode.
	var queue domain.Queue
	var memq *queuememory.Queue
	switch cfg.QueueDriver {
	case config.QueueDriverMemory:
		memq = queuememory.New(256)
		queue = memq
	default:
		producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			slog.Error("redpanda producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer producer.Close()
		queue = producer
	}

	defaults := usecase.BulkDefaults{
		BatchSize:      cfg.BulkDefaultBatchSize,
		MaxRetries:     cfg.BulkDefaultMaxRetries,
		TimeoutPerItem: cfg.BulkDefaultItemTimeout,
	}
	bulkSvc := usecase.NewBulkService(jobRepo, resRepo, queue, analyzer, notifier, recorder, defaults, app.RetryPolicy(cfg))
	dispatchSvc := usecase.NewDispatchService(jobRepo, resRepo, queue, cache, recorder, cfg.RiskCacheTTL, cfg.StrategyCacheTTL)

	if memq != nil {
		processor := usecase.NewProcessor(jobRepo, resRepo, analyzer, cache, recorder, bulkSvc, cfg.RiskCacheTTL, cfg.StrategyCacheTTL)
		memq.Start(ctx, processor, cfg.WorkerMaxConcurrency)
		sweeper := app.NewStuckJobSweeper(jobRepo, cfg.SweeperMaxProcessingAge, cfg.SweeperInterval)
		go sweeper.Run(ctx)
	}

	srv := httpserver.NewServer(cfg, dispatchSvc, bulkSvc, recorder, app.Readiness(probes...))
	handler := app.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
	}
	notifier.Wait()
	slog.Info("server stopped")
}
