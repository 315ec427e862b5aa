package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/qs3c/site_structure_server/config"
	"github.com/qs3c/site_structure_server/internal/api"
	"github.com/qs3c/site_structure_server/internal/api/handler"
	"github.com/qs3c/site_structure_server/internal/database"
	"github.com/qs3c/site_structure_server/internal/pkg/cron"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/metrics"
	"github.com/qs3c/site_structure_server/internal/pkg/pubsub"
	"github.com/qs3c/site_structure_server/internal/pkg/queue"
	"github.com/qs3c/site_structure_server/internal/pkg/ws"
	"github.com/qs3c/site_structure_server/internal/repository"
	"github.com/qs3c/site_structure_server/internal/service"
)

const (
	serviceName = "site-structure-server"
	version     = "1.0.0"
)

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
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Info("Database connected")

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	defer rdb.Close()
	log.Info("Redis connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	structureRepo := repository.NewStructureRepository(db)
	jobRepo := repository.NewJobRepository(db).WithMaxAttempts(cfg.Queue.MaxAttempts)
	companyRepo := repository.NewCompanyRepository(db)

	structureService := service.NewStructureService(structureRepo, jobRepo, companyRepo, m, cfg, log).
		WithNotifier(queue.NewQueue(rdb, cfg.Queue.NotifyQueue))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(log)
	websocketHandler := handler.NewWebSocketHandler(hub, log)
	go func() {
		err := websocketHandler.RelayProgress(ctx, pubsub.NewSubscriber(rdb), nil)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithFields(logger.Fields{"error": err.Error()}).Error("progress relay stopped")
		}
	}()

	cronService := cron.NewService(structureService, jobRepo, structureRepo, m, cfg, log)
	if err := cronService.Start(); err != nil {
		log.Fatalf("Failed to start cron: %v", err)
	}

	router := api.NewRouter(
		handler.NewStructureHandler(structureService, log),
		websocketHandler,
		handler.NewHealthHandler(serviceName, version, db, rdb),
		reg,
		cfg,
		log,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithFields(logger.Fields{"error": err.Error()}).Error("server shutdown failed")
	}
	cancel()
	cronService.Stop()
	log.Info("Server shutdown complete")
}
