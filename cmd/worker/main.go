package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qs3c/site_structure_server/config"
	"github.com/qs3c/site_structure_server/internal/database"
	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/pkg/cache"
	"github.com/qs3c/site_structure_server/internal/pkg/fetch"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/metrics"
	"github.com/qs3c/site_structure_server/internal/pkg/oss"
	"github.com/qs3c/site_structure_server/internal/pkg/pubsub"
	"github.com/qs3c/site_structure_server/internal/pkg/queue"
	"github.com/qs3c/site_structure_server/internal/ranking"
	"github.com/qs3c/site_structure_server/internal/repository"
	"github.com/qs3c/site_structure_server/internal/validator"
	"github.com/qs3c/site_structure_server/internal/worker"
)

const memoryCacheEntries = 10000

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	logger.SetDefault(log)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Info("Database connected")

	// Redis 承载进度推送和共享缓存，不可用时退化为进程内缓存且不推送进度
	memoryTTL := cfg.Ranking.CacheTTL
	if cfg.Validation.CacheTTL > memoryTTL {
		memoryTTL = cfg.Validation.CacheTTL
	}
	var resultCache cache.Cache = cache.NewMemoryCache(memoryCacheEntries, memoryTTL)
	var publisher worker.ProgressPublisher
	var waker worker.Waker
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.WithFields(logger.Fields{"error": err.Error()}).Warn("Redis unavailable, using in-process cache")
	} else {
		defer rdb.Close()
		resultCache = cache.NewRedisCache(rdb, "site_structure:")
		publisher = pubsub.NewPublisher(rdb)
		waker = queue.NewQueue(rdb, cfg.Queue.NotifyQueue)
		log.Info("Redis connected")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client, err := fetch.NewClient(fetch.Options{
		UserAgent:         cfg.Discovery.UserAgent,
		Timeout:           cfg.Discovery.RequestTimeout,
		ProxyURL:          cfg.Discovery.ProxyURL,
		RequestsPerSecond: cfg.Discovery.RequestsPerSecond,
		Burst:             cfg.Discovery.Burst,
	})
	if err != nil {
		log.Fatalf("Failed to create HTTP client: %v", err)
	}

	sitemapParser := discovery.NewSitemapParser(client, cfg.Discovery.MaxSitemapFetches, log)
	orchestrator := discovery.NewOrchestrator(client, sitemapParser, cfg.Discovery.QuickScanMaxEntries, log)

	ranker := ranking.NewRanker(
		ranking.ParseMode(cfg.Ranking.Mode),
		ranking.WithCache(resultCache, cfg.Ranking.CacheTTL),
		ranking.WithLogger(log),
	)

	var checker worker.LivenessChecker
	if cfg.Validation.Enabled {
		checker = validator.New(client, validator.Options{
			Timeout:       cfg.Validation.Timeout,
			Concurrency:   cfg.Validation.Concurrency,
			Policy:        validator.ParsePolicy(cfg.Validation.AmbiguousPolicy),
			ExtractTitles: cfg.Validation.ExtractTitles,
			Cache:         resultCache,
			CacheTTL:      cfg.Validation.CacheTTL,
			Metrics:       m,
			Logger:        log,
		})
	}

	var prober worker.SubdomainProber
	if cfg.Discovery.ProbeSubdomains {
		prober = discovery.NewSubdomainProber(client,
			discovery.WithProbeTimeout(cfg.Discovery.SubdomainTimeout),
			discovery.WithProbeWorkers(cfg.Discovery.SubdomainWorkers),
		)
	}

	structureRepo := repository.NewStructureRepository(db)
	jobRepo := repository.NewJobRepository(db).WithMaxAttempts(cfg.Queue.MaxAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archiver := newArchiver(ctx, cfg, structureRepo, log)

	processor := worker.NewProcessor(worker.ProcessorDeps{
		JobRepo:       jobRepo,
		StructureRepo: structureRepo,
		Discoverer:    orchestrator,
		Ranker:        ranker,
		Validator:     checker,
		Prober:        prober,
		Archiver:      archiver,
		Publisher:     publisher,
		Metrics:       m,
		JobTimeout:    cfg.Queue.JobTimeout,
		Logger:        log,
	})

	pool := worker.NewPool(jobRepo, processor, worker.PoolConfig{
		Workers:      cfg.Queue.MaxWorkers,
		BatchSize:    cfg.Queue.BatchSize,
		PollInterval: cfg.Queue.PollInterval,
	}, log)
	if waker != nil {
		pool.WithWaker(waker)
	}

	metricsSrv := serveMetrics(cfg.Queue.MetricsAddr, reg, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	log.Infof("Worker started, max workers: %d", cfg.Queue.MaxWorkers)
	pool.Run(ctx)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Info("Worker shutdown complete")
}

// newArchiver 配置了 OSS 时上传快照，否则写本地磁盘。
// 启用 OSS 时，之前遗留在本地的快照会在后台迁移到 OSS
func newArchiver(ctx context.Context, cfg *config.Config, structureRepo *repository.StructureRepository, log *logger.Logger) *worker.Archiver {
	if !cfg.Archive.Enabled {
		return nil
	}

	if oss.Enabled(&cfg.OSS) {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err == nil {
			log.Info("OSS client initialized")
			go worker.NewReuploader(structureRepo, ossClient, cfg.Archive.LocalDir, log).Start(ctx)
			return worker.NewArchiver(ossClient, "")
		}
		log.WithFields(logger.Fields{"error": err.Error()}).Warn("Failed to init OSS client, archiving locally")
	}

	if cfg.Archive.LocalDir != "" {
		if err := os.MkdirAll(cfg.Archive.LocalDir, 0755); err != nil {
			log.WithFields(logger.Fields{"dir": cfg.Archive.LocalDir, "error": err.Error()}).Warn("Archive dir unavailable, archiving disabled")
			return nil
		}
	}
	return worker.NewArchiver(nil, cfg.Archive.LocalDir)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logger.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(logger.Fields{"addr": addr, "error": err.Error()}).Error("metrics server stopped")
		}
	}()
	return srv
}
