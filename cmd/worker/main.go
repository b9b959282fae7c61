// Package main wires together the crawl worker binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pricesense/price-crawler/internal/api"
	"github.com/pricesense/price-crawler/internal/clock/system"
	"github.com/pricesense/price-crawler/internal/config"
	"github.com/pricesense/price-crawler/internal/core"
	"github.com/pricesense/price-crawler/internal/dedup"
	"github.com/pricesense/price-crawler/internal/dispatcher"
	"github.com/pricesense/price-crawler/internal/extract"
	collyextract "github.com/pricesense/price-crawler/internal/extract/colly"
	"github.com/pricesense/price-crawler/internal/logging"
	"github.com/pricesense/price-crawler/internal/metrics"
	pubsubpublisher "github.com/pricesense/price-crawler/internal/publisher/pubsub"
	redispublisher "github.com/pricesense/price-crawler/internal/publisher/redis"
	queueRedis "github.com/pricesense/price-crawler/internal/queue/redis"
	"github.com/pricesense/price-crawler/internal/ratelimit"
	"github.com/pricesense/price-crawler/internal/retry"
	"github.com/pricesense/price-crawler/internal/store/postgres"
	"github.com/pricesense/price-crawler/internal/validate"
	"github.com/pricesense/price-crawler/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("parse redis url failed", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.Warn("redis close failed", zap.Error(closeErr))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}

	store, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:             cfg.DB.DSN,
		PriceTable:      cfg.DB.PriceTable,
		StockTable:      cfg.DB.StockTable,
		LogTable:        cfg.DB.LogTable,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.LifetimeSecs) * time.Second,
	})
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer store.Close()

	queue := queueRedis.New(redisClient, queueRedis.Config{
		CrawlQueue:  cfg.Redis.CrawlQueue,
		DeadLetter:  cfg.Redis.DeadLetter,
		ResultQueue: cfg.Redis.ResultQueue,
		PopTimeout:  time.Duration(cfg.Redis.PopTimeoutSecs) * time.Second,
	})

	var publisher core.Publisher
	if cfg.PubSub.Enabled {
		psPublisher, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := psPublisher.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = psPublisher
	} else {
		publisher = redispublisher.New(redisClient, cfg.Redis.ResultQueue)
	}

	clock := system.New()
	limiter := ratelimit.New(redisClient, "pricesense:rate", func(platform core.Platform) time.Duration {
		return cfg.PlatformDelay(string(platform))
	})
	guard := dedup.New(redisClient, "pricesense:dedup", cfg.DedupWindow())
	validator := validate.New(cfg.Validate.MinConfidence)

	registry := extract.NewRegistry()
	for _, platform := range []core.Platform{
		core.PlatformCoupang,
		core.PlatformNaverShopping,
		core.PlatformSmartStore,
	} {
		registry.Register(platform, collyextract.New(collyextract.Config{
			UserAgent: cfg.Extract.UserAgent,
			Timeout:   cfg.ExtractTimeout(),
			Selectors: collyextract.DefaultSelectors(platform),
		}))
	}

	retrier := retry.New(queue, publisher, clock, retry.Config{
		MaxRetries:        cfg.Retry.MaxRetries,
		BackoffBase:       time.Duration(cfg.Retry.BackoffBaseSecs) * time.Second,
		BackoffMax:        time.Duration(cfg.Retry.BackoffMaxSecs) * time.Second,
		BlockedMultiplier: cfg.Retry.BlockedMultiplier,
	}, logger.Named("retry"))

	reporter := worker.NewReporter(publisher, store, retrier, guard, clock, logger.Named("reporter"))

	batcher := postgres.NewBatcher(store, postgres.BatcherConfig{
		MaxItems:      cfg.Batch.MaxItems,
		FlushInterval: time.Duration(cfg.Batch.FlushIntervalSec) * time.Second,
		MaxAttempts:   cfg.Batch.MaxAttempts,
		RetryDelay:    time.Duration(cfg.Batch.RetryDelayMs) * time.Millisecond,
	}, logger.Named("batcher"))
	batcher.OnCommit = reporter.BatchCommitted
	batcher.OnFail = reporter.BatchFailed

	workerCfg := worker.Config{ExtractTimeout: cfg.ExtractTimeout()}
	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			limiter,
			registry,
			validator,
			guard,
			batcher,
			retrier,
			reporter,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	opsServer := api.New(cfg.Ops.Port, queue, store, logger.Named("api"))

	// The batcher outlives the worker context so in-flight tasks can still
	// land their writes; it drains once the dispatcher reports all workers done.
	batcherCtx, batcherCancel := context.WithCancel(context.Background())
	batcherDone := make(chan struct{})
	go func() {
		defer close(batcherDone)
		batcher.Run(batcherCtx)
	}()

	go func() {
		logger.Info("ops server started", zap.Int("port", cfg.Ops.Port))
		if err := opsServer.Run(ctx); err != nil {
			logger.Error("ops server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("dispatcher started", zap.Int("concurrency", cfg.Worker.Concurrency))
	dispatch.Run(ctx)

	logger.Info("shutdown initiated")
	retrier.Drain()
	batcherCancel()
	<-batcherDone
	logger.Info("shutdown complete")
}
