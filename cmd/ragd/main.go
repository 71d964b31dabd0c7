package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresfranco/portfolio-suite-sub002/internal/config"
	"github.com/andresfranco/portfolio-suite-sub002/internal/database"
	"github.com/andresfranco/portfolio-suite-sub002/internal/di"
	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/andresfranco/portfolio-suite-sub002/internal/pipeline"
	"github.com/andresfranco/portfolio-suite-sub002/internal/rag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	container, err := di.NewContainer()
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	err = container.Invoke(func(
		cfg *config.Config,
		db *gorm.DB,
		rdb *redis.Client,
		registry *rag.LoaderRegistry,
		indexer *rag.Indexer,
		queue *pipeline.Queue,
		debouncer *pipeline.Debouncer,
	) error {
		return run(cfg, db, rdb, registry, indexer, queue, debouncer)
	})
	if err != nil {
		logger.Fatal("service exited with error", zap.Error(err))
	}
}

func run(
	cfg *config.Config,
	db *gorm.DB,
	rdb *redis.Client,
	registry *rag.LoaderRegistry,
	indexer *rag.Indexer,
	queue *pipeline.Queue,
	debouncer *pipeline.Debouncer,
) error {
	defer database.CloseDB(db)
	defer database.CloseRedis(rdb)

	// 配置的表必须都有对应加载器，启动即失败优于运行期死信
	if err := registry.Validate(cfg.Indexing.Tables); err != nil {
		return err
	}

	if err := runMigrations(cfg, db); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var worker *pipeline.Worker
	if cfg.Kafka.Enabled {
		var err error
		worker, err = pipeline.NewWorker(
			cfg.Kafka.Brokers,
			cfg.Kafka.GroupID,
			cfg.Kafka.Topic,
			indexer,
			pipeline.NewGormDeadLetterStore(db),
			cfg.Kafka.ConsumerRetries,
		)
		if err != nil {
			return err
		}
		worker.Start(ctx)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.Server.MetricsPort,
			Handler: mux,
		}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("port", cfg.Server.MetricsPort))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("rag indexing service started",
		zap.Strings("tables", cfg.Indexing.Tables),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.String("search_provider", cfg.Search.Provider),
		zap.String("vector_store", cfg.Search.VectorStore.Provider))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// 先把去抖窗口里的事件派发出去，再停worker
	debouncer.Flush()
	cancel()

	if worker != nil {
		if err := worker.Close(); err != nil {
			logger.Error("failed to close kafka worker", zap.Error(err))
		}
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("service stopped")
	return nil
}

func runMigrations(cfg *config.Config, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	manager, err := database.NewMigrationManager(sqlDB, cfg.Database.MigrationPath)
	if err != nil {
		return err
	}
	return manager.Up()
}
