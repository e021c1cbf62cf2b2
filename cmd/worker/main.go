package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/varejo-erp/varejo-erp/internal/app"
	"github.com/varejo-erp/varejo-erp/internal/masterdata/stores"
	"github.com/varejo-erp/varejo-erp/internal/platform/db"
	"github.com/varejo-erp/varejo-erp/internal/shared"
	"github.com/varejo-erp/varejo-erp/internal/stock"
	"github.com/varejo-erp/varejo-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGConnLife})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	storesService := stores.NewService(stores.NewRepository(pool))
	stockService := stock.NewService(
		logger,
		stock.NewRepository(pool),
		stores.NewStockDirectory(storesService),
		nil,
		nil,
		nil,
		nil,
		stock.ServiceConfig{ReservationTTL: cfg.ReservationTTL},
	)

	sweepTask, err := jobs.NewReservationSweepTask(time.Now())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	sweepJob := jobs.NewReservationSweepJob(stockService, logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger)
	mailSender := jobs.NewMailSender(logger, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReservationSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskTypeLowStockEmail, Handler: mailSender.HandleLowStockEmailTask},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.ReservationSweepSpec, Task: sweepTask},
			{Spec: jobs.IdempotencyCleanupSpec, Task: jobs.NewIdempotencyCleanupTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		worker.Shutdown()
	}()

	logger.Info("worker started")
	if err := worker.Run(); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
