package main

// @title RUSLE Erosion Pipeline API
// @version 1.0.0
// @description Distributed pipeline computing the Revised Universal Soil Loss
// @description Equation over Tajikistan administrative or custom polygons,
// @description materialised as slippy-map raster tile pyramids.

// @contact.name RUSLE Pipeline
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/soilloss/rusle-pipeline/docs"
	"github.com/soilloss/rusle-pipeline/internal/adminarea"
	"github.com/soilloss/rusle-pipeline/internal/broker"
	"github.com/soilloss/rusle-pipeline/internal/config"
	httpDelivery "github.com/soilloss/rusle-pipeline/internal/delivery/http"
	"github.com/soilloss/rusle-pipeline/internal/delivery/http/handler"
	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/geometry"
	"github.com/soilloss/rusle-pipeline/internal/orchestrator"
	"github.com/soilloss/rusle-pipeline/internal/pkg/logger"
	"github.com/soilloss/rusle-pipeline/internal/registry"
	"github.com/soilloss/rusle-pipeline/internal/repository/postgres"
	"github.com/soilloss/rusle-pipeline/internal/rusleconfig"
	"github.com/soilloss/rusle-pipeline/internal/tiles"
	"github.com/soilloss/rusle-pipeline/internal/worker"
)

// orchestratorCallbacks adapts *orchestrator.Service to broker.OrchestratorCallbacks,
// discarding the CallbackResult the callback worker never needs - broker
// cannot import orchestrator (orchestrator already imports broker for the
// Broker interface), so this thin adapter lives on the one side that
// already imports both.
type orchestratorCallbacks struct {
	svc *orchestrator.Service
}

func (o orchestratorCallbacks) TaskStarted(ctx context.Context, e domain.TaskStartedEvent) error {
	_, err := o.svc.TaskStarted(ctx, e)
	return err
}

func (o orchestratorCallbacks) TaskComplete(ctx context.Context, e domain.TaskCompleteEvent) error {
	_, err := o.svc.TaskComplete(ctx, e)
	return err
}

func (o orchestratorCallbacks) TaskFailed(ctx context.Context, e domain.TaskFailedEvent) error {
	_, err := o.svc.TaskFailed(ctx, e)
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting RUSLE erosion pipeline API",
		zap.String("env", cfg.Server.Env),
		zap.String("server_addr", cfg.GetServerAddr()))

	db, err := postgres.New(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(healthCtx); err != nil {
		log.Fatal("postgres health check failed", zap.Error(err))
	}
	if err := redisClient.Ping(healthCtx).Err(); err != nil {
		log.Fatal("redis health check failed", zap.Error(err))
	}
	healthCancel()
	log.Info("all connections healthy")

	reg := registry.New(db, log)
	b := broker.NewRedisBroker(redisClient, log)
	areas := adminarea.NewRepository(db, log)
	resolver := rusleconfig.NewResolver(cfg.Rusle, nil)
	analyser := geometry.NewAnalyser(geometry.DefaultThresholds())
	generator := tiles.NewGenerator(cfg.Storage.Root)

	svc := orchestrator.NewService(reg, b, analyser, areas, resolver, generator, log, cfg.Server.TileURLPrefix, cfg.Server.DefaultMaxZoom)

	erosionHandler := handler.NewErosionHandler(svc, log)
	server := httpDelivery.NewServer(cfg, log, erosionHandler)

	// The compute worker only ever publishes to stream:erosion:callback; the
	// API process is what drains it and applies the three callbacks onto
	// the registry, same division of labour as the teacher's own
	// stream-producer/stream-consumer split.
	callbackWorker := broker.NewCallbackWorker("erosion-callbacks", cfg.Worker.ConsumerGroup+"-callbacks", log, b, orchestratorCallbacks{svc: svc})
	workerManager := worker.NewWorkerManager(log, cfg.Worker.ShutdownTimeout)
	workerManager.Register(callbackWorker)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if err := workerManager.Start(workerCtx); err != nil {
		log.Fatal("failed to start callback worker", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	log.Info("server started successfully",
		zap.String("address", cfg.GetServerAddr()),
		zap.String("env", cfg.Server.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	workerCancel()
	if err := workerManager.Stop(); err != nil {
		log.Error("error stopping callback worker", zap.Error(err))
	}

	log.Info("server stopped successfully")
}
