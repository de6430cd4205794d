// Command worker consumes job topics and runs the analysis pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lexatlas/lexatlas/internal/adapter/analyzer/remote"
	"github.com/lexatlas/lexatlas/internal/adapter/analyzer/stub"
	cachememory "github.com/lexatlas/lexatlas/internal/adapter/cache/memory"
	cacheredis "github.com/lexatlas/lexatlas/internal/adapter/cache/redis"
	"github.com/lexatlas/lexatlas/internal/adapter/observability"
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

	if cfg.QueueDriver == config.QueueDriverMemory {
		slog.Error("worker requires a broker queue driver; the memory driver runs workers inside the server process")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	var cache domain.Cache
	switch cfg.CacheDriver {
	case config.CacheDriverRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		cache = cacheredis.New(rdb, "lexatlas")
	default:
		mc := cachememory.New(cfg.CacheMaxEntries, cfg.CacheSweepInterval)
		defer mc.Stop()
		cache = mc
	}

	var analyzer domain.Analyzer
	switch cfg.AnalyzerDriver {
	case config.AnalyzerDriverRemote:
		analyzer = remote.New(cfg.MLServiceURL, 60*time.Second, 2*time.Minute, 2*time.Second, 30*time.Second)
	default:
		analyzer = stub.New(time.Now().UnixNano(), 500*time.Millisecond)
	}

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	notifier := webhook.New(cfg.WebhookTimeout, cfg.WebhookMaxElapsedTime, cfg.WebhookInitialBackoff, cfg.WebhookMaxBackoff)
	defaults := usecase.BulkDefaults{
		BatchSize:      cfg.BulkDefaultBatchSize,
		MaxRetries:     cfg.BulkDefaultMaxRetries,
		TimeoutPerItem: cfg.BulkDefaultItemTimeout,
	}
	bulkSvc := usecase.NewBulkService(jobRepo, resRepo, producer, analyzer, notifier, recorder, defaults, app.RetryPolicy(cfg))
	processor := usecase.NewProcessor(jobRepo, resRepo, analyzer, cache, recorder, bulkSvc, cfg.RiskCacheTTL, cfg.StrategyCacheTTL)

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, "lexatlas-workers", processor, cfg.WorkerMaxConcurrency)
	if err != nil {
		slog.Error("redpanda consumer connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	sweeper := app.NewStuckJobSweeper(jobRepo, cfg.SweeperMaxProcessingAge, cfg.SweeperInterval)
	go sweeper.Run(ctx)

	// Operational endpoints for scraping and probes.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	opsSrv := &http.Server{Addr: ":9090", Handler: mux, ReadTimeout: 10 * time.Second}
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()

	slog.Info("worker starting", slog.Int("max_workers", cfg.WorkerMaxConcurrency))
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped with error", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = opsSrv.Shutdown(shutdownCtx)
	notifier.Wait()
	slog.Info("worker stopped")
}
