package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/odyssey-retail/backoffice/cmd/backoffice/cli"
	"github.com/odyssey-retail/backoffice/internal/app"
	"github.com/odyssey-retail/backoffice/internal/catalog"
	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/observability"
	"github.com/odyssey-retail/backoffice/internal/platform/cache"
	"github.com/odyssey-retail/backoffice/internal/platform/db"
	"github.com/odyssey-retail/backoffice/internal/platform/httpx"
	"github.com/odyssey-retail/backoffice/internal/shared"
	"github.com/odyssey-retail/backoffice/internal/stock"
	"github.com/odyssey-retail/backoffice/internal/transaction"
	"github.com/odyssey-retail/backoffice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	httpx.ExposeInternalErrors(!cfg.IsProduction())

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGConnMaxAge})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.AsynqRedis()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL, cfg.IdempotencyPendingTTL)
	catalogRepo := catalog.NewRepository(dbpool)

	conversionRepo := conversion.NewRepository(dbpool)
	conversionService := conversion.NewService(conversionRepo, catalogRepo, auditLogger, jobClient, logger)

	stockRepo := stock.NewRepository(dbpool)
	stockService := stock.NewService(stockRepo, conversionRepo, catalogRepo, logger)

	transactionRepo := transaction.NewRepository(dbpool)
	transactionService := transaction.NewService(
		transactionRepo,
		auditLogger,
		idempotencyStore,
		metrics,
		transaction.ServiceConfig{Location: cfg.Location()},
		logger,
	)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ConversionHandler:  conversion.NewHandler(logger, conversionService),
		StockHandler:       stock.NewHandler(logger, stockService),
		TransactionHandler: transaction.NewHandler(logger, transactionService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("business_tz", cfg.BusinessTZ))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobsCommand handles `backoffice jobs trigger <task> [product_id]` and
// `backoffice jobs stats`.
func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	c, err := cli.NewJobsCLI(cfg.AsynqRedis())
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if len(args) == 0 {
		return fmt.Errorf("usage: backoffice jobs <trigger|stats>")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("usage: backoffice jobs trigger <task> [product_id]")
		}
		var productID int64
		if len(args) > 2 {
			if productID, err = strconv.ParseInt(args[2], 10, 64); err != nil {
				return fmt.Errorf("product id %q: %w", args[2], err)
			}
		}
		info, err := c.Trigger(ctx, args[1], productID)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
