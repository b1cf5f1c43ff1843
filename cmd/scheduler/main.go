// Command scheduler is the externally-invokable cron entry point for C8:
// a single run refreshes the latest-year maps across every region/district
// and sweeps orphaned registry records, exactly the contract spec.md §6.5
// describes for an external cron-like scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/adminarea"
	"github.com/soilloss/rusle-pipeline/internal/broker"
	"github.com/soilloss/rusle-pipeline/internal/config"
	"github.com/soilloss/rusle-pipeline/internal/geometry"
	"github.com/soilloss/rusle-pipeline/internal/orchestrator"
	"github.com/soilloss/rusle-pipeline/internal/pkg/logger"
	"github.com/soilloss/rusle-pipeline/internal/registry"
	"github.com/soilloss/rusle-pipeline/internal/repository/postgres"
	"github.com/soilloss/rusle-pipeline/internal/rusleconfig"
	"github.com/soilloss/rusle-pipeline/internal/scheduler"
	"github.com/soilloss/rusle-pipeline/internal/tiles"
)

var (
	flagYear int
	flagType string
	flagForce bool
)

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Refresh precomputed erosion maps and recover orphaned tasks",
	Long: `scheduler refreshes the latest-year precomputed erosion map for every
region/district and re-queues registry records stuck past the configured
stuckness threshold. Invoke it from an external cron-like scheduler.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().IntVar(&flagYear, "year", 0, "Year to refresh (default: current calendar year)")
	rootCmd.Flags().StringVar(&flagType, "type", "all", "Area type to refresh: region, district, or all")
	rootCmd.Flags().BoolVar(&flagForce, "force", false, "Unconditionally re-queue existing completed records")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	switch flagType {
	case "region", "district", "all":
	default:
		return fmt.Errorf("invalid --type %q: must be region, district, or all", flagType)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	year := flagYear
	if year == 0 {
		year = cfg.Scheduler.DefaultYear
	}
	if year == 0 {
		year = time.Now().Year()
	}

	db, err := postgres.New(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	reg := registry.New(db, log)
	b := broker.NewRedisBroker(redisClient, log)
	areas := adminarea.NewRepository(db, log)
	resolver := rusleconfig.NewResolver(cfg.Rusle, nil)
	analyser := geometry.NewAnalyser(geometry.DefaultThresholds())
	generator := tiles.NewGenerator(cfg.Storage.Root)

	svc := orchestrator.NewService(reg, b, analyser, areas, resolver, generator, log, cfg.Server.TileURLPrefix, cfg.Server.DefaultMaxZoom)

	refresher := scheduler.NewRefresher(svc, reg, areas, log)
	report, err := refresher.Run(context.Background(), flagType, year, flagForce)
	if err != nil {
		return fmt.Errorf("refresh run: %w", err)
	}
	log.Info("refresh complete",
		zap.Int("year", year), zap.String("type", flagType), zap.Bool("force", flagForce),
		zap.Int("queued", report.Queued), zap.Int("skipped", report.Skipped), zap.Int("errored", report.Errored))

	sweeper := scheduler.NewOrphanSweeper(svc, reg, b, cfg.Worker.ConsumerGroup, cfg.Scheduler.OrphanStuckThreshold, log)
	orphanReport, err := sweeper.Run(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("orphan sweep: %w", err)
	}
	log.Info("orphan sweep complete",
		zap.Int("requeued", orphanReport.Requeued), zap.Int("errored", orphanReport.Errored))

	if report.Errored > 0 || orphanReport.Errored > 0 {
		return fmt.Errorf("%d refresh and %d orphan requeue(s) failed", report.Errored, orphanReport.Errored)
	}
	return nil
}
