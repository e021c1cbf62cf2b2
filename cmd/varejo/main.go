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

	"github.com/hibiken/asynq"

	"github.com/varejo-erp/varejo-erp/internal/app"
	"github.com/varejo-erp/varejo-erp/internal/masterdata/products"
	"github.com/varejo-erp/varejo-erp/internal/masterdata/stores"
	"github.com/varejo-erp/varejo-erp/internal/platform/cache"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, snapshot cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = asynqClient.Close() }()

	productsRepo := products.NewRepository(pool)
	productsService := products.NewService(productsRepo)
	storesRepo := stores.NewRepository(pool)
	storesService := stores.NewService(storesRepo)

	var positionCache *stock.PositionCache
	if redisClient != nil {
		positionCache = stock.NewPositionCache(redisClient, cfg.SnapshotTTL)
	}
	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(
		logger,
		stockRepo,
		stores.NewStockDirectory(storesService),
		shared.NewAuditLogger(pool),
		shared.NewIdempotencyStore(pool),
		jobs.NewLowStockNotifier(asynqClient),
		positionCache,
		stock.ServiceConfig{ReservationTTL: cfg.ReservationTTL},
	)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Pool:            pool,
		StockHandler:    stock.NewHandler(logger, stockService),
		ProductsHandler: products.NewHandler(logger, productsService),
		StoresHandler:   stores.NewHandler(logger, storesService),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
