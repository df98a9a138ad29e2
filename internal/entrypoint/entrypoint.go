package entrypoint

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zipsea/cruisesync/internal/audit"
	"github.com/zipsea/cruisesync/internal/checkpoint"
	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/crawler"
	"github.com/zipsea/cruisesync/internal/database"
	http_controllers "github.com/zipsea/cruisesync/internal/http"
	"github.com/zipsea/cruisesync/internal/logging"
	"github.com/zipsea/cruisesync/internal/metrics"
	"github.com/zipsea/cruisesync/internal/queue"
	"github.com/zipsea/cruisesync/internal/reaper"
	"github.com/zipsea/cruisesync/internal/remote"
	"github.com/zipsea/cruisesync/internal/scheduler"
	"github.com/zipsea/cruisesync/internal/upsert"
)

// Run wires the full service: database, FTP pool, crawl orchestrator, sync
// queue workers, reaper and the HTTP surface. It blocks until SIGINT/SIGTERM
// and then shuts everything down within the configured timeout.
func Run(cfg *config.Config, version string) {
	logger := logging.NewLogger()
	defer logger.Sync()

	logger.Infow("starting cruisesync", "version", version)

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		logger.Fatalw("failed to initialize database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Errorw("error closing database", "error", err)
		}
	}()

	m := metrics.NewMetrics("cruisesync")

	ftpClient := remote.NewFTPClient(cfg.FTP, logger)
	defer ftpClient.Close()

	engine := upsert.NewEngine(db.DB, upsert.NewRecorder(), logger)
	checkpoints := checkpoint.NewRepository(db.DB)
	orchestrator := crawler.NewOrchestrator(ftpClient, engine, checkpoints, db.DB, cfg.Crawl, m, logger)

	queueRepo := queue.NewRepository(db.DB)
	pool := queue.NewWorkerPool(queueRepo, ftpClient, engine, cfg.Queue, cfg.Crawl, m, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	pool.Start(workerCtx)
	logger.Infow("sync queue workers started", "workers", cfg.Queue.Workers)

	jobReaper := reaper.New(queueRepo, cfg.Reaper, m, logger)
	if err := jobReaper.Start(); err != nil {
		logger.Fatalw("failed to start reaper", "error", err)
	}

	crawlScheduler := scheduler.NewCrawlScheduler(orchestrator, cfg.Crawl.Schedule, logger)
	if err := crawlScheduler.Start(); err != nil {
		logger.Fatalw("failed to start crawl scheduler", "error", err)
	}

	router := http_controllers.NewRouter(http_controllers.RouterConfig{
		Health:  http_controllers.NewHealthController(db, version),
		Webhook: http_controllers.NewWebhookController(queueRepo, audit.NewAuditor(cfg.Audit.Dir), logger),
		Status:  http_controllers.NewStatusController(orchestrator, queueRepo, cfg.Reaper.StuckThreshold),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		logger.Infow("http server listening", "host", cfg.HTTP.Host, "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second
	logger.Infow("shutting down", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	crawlScheduler.Stop()
	jobReaper.Stop()

	stopWorkers()
	pool.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalw("server shutdown failed", "error", err)
	}

	logger.Infow("server exiting")
}
