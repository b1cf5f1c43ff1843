package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/adminarea"
	"github.com/soilloss/rusle-pipeline/internal/broker"
	"github.com/soilloss/rusle-pipeline/internal/config"
	"github.com/soilloss/rusle-pipeline/internal/export"
	"github.com/soilloss/rusle-pipeline/internal/geometry"
	"github.com/soilloss/rusle-pipeline/internal/pkg/logger"
	"github.com/soilloss/rusle-pipeline/internal/repository/postgres"
	"github.com/soilloss/rusle-pipeline/internal/rusle"
	"github.com/soilloss/rusle-pipeline/internal/tiles"
	"github.com/soilloss/rusle-pipeline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Worker.Enabled {
		fmt.Println("worker is disabled in configuration. Set WORKER_ENABLED=true to enable.")
		os.Exit(0)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting RUSLE compute worker",
		zap.String("consumer_group", cfg.Worker.ConsumerGroup),
		zap.Int("max_retries", cfg.Worker.MaxRetries))

	db, err := postgres.New(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(healthCtx); err != nil {
		log.Fatal("postgres health check failed", zap.Error(err))
	}
	healthCancel()
	log.Info("postgres connected and healthy")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	b := broker.NewRedisBroker(redisClient, log)
	areas := adminarea.NewRepository(db, log)
	analyser := geometry.NewAnalyser(geometry.DefaultThresholds())
	exporter := export.NewExporter(cfg.Storage.Root, cfg.Rusle.SmallBBoxThumbnailThresholdKM2)
	generator := tiles.NewGenerator(cfg.Storage.Root)

	rasterClient, err := rusle.NewClient(cfg.EarthEngine)
	if err != nil {
		log.Fatal("failed to initialize raster-compute client", zap.Error(err))
	}
	if err := rasterClient.HealthCheck(context.Background()); err != nil {
		log.Fatal("raster-compute service health check failed", zap.Error(err))
	}
	log.Info("raster-compute service reachable")

	engine := rusle.NewEngine(rasterClient, cfg.Rusle.ComputeTimeout)

	computeWorker := broker.NewComputeWorker(
		"erosion-compute", cfg.Worker.ConsumerGroup, log,
		b, analyser, areas, engine, exporter, generator, rasterClient,
	)

	workerManager := worker.NewWorkerManager(log, cfg.Worker.ShutdownTimeout)
	workerManager.Register(computeWorker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := workerManager.Start(ctx); err != nil {
		log.Fatal("failed to start workers", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("received shutdown signal")

	cancel()
	if err := workerManager.Stop(); err != nil {
		log.Error("error stopping workers", zap.Error(err))
	}

	log.Info("worker shutdown complete")
}
