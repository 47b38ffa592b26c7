package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/piq110/capcore-backend-sub001/config"
	"github.com/piq110/capcore-backend-sub001/data"
	"github.com/piq110/capcore-backend-sub001/data/cache"
	"github.com/piq110/capcore-backend-sub001/data/repository/postgres"
	"github.com/piq110/capcore-backend-sub001/internal/externalApi/custodianApi"
	"github.com/piq110/capcore-backend-sub001/internal/notifier/telegramNotifier"
	"github.com/piq110/capcore-backend-sub001/internal/scheduler"
	"github.com/piq110/capcore-backend-sub001/internal/service/ledgerService"
	"github.com/piq110/capcore-backend-sub001/internal/service/monitorService"
	"github.com/piq110/capcore-backend-sub001/internal/service/reconciliationService"
	"github.com/piq110/capcore-backend-sub001/internal/service/settlementService"
	"github.com/piq110/capcore-backend-sub001/internal/transport/rest"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := postgres.NewPostgres(cfg, pgClient)

	redisClient := data.NewRedisClient(cfg)
	defer redisClient.Close()

	redisCache := cache.NewRedisCache(redisClient, cfg)

	custodianClient := custodianApi.New(cfg)

	notifier, err := telegramNotifier.New(cfg)
	if err != nil {
		slog.Error("telegram notifier init failed", slog.String("err", err.Error()))
		panic(err)
	}

	ledgerSrv := ledgerService.New(pgRepo)
	settlementSrv := settlementService.New(pgRepo, ledgerSrv, custodianClient, redisCache, notifier)
	reconciliationSrv := reconciliationService.New(cfg, pgRepo, custodianClient, notifier)
	monitorSrv := monitorService.New(cfg, pgRepo, custodianClient, settlementSrv, notifier)

	sched := scheduler.New()
	sched.NewIntervalJob("transfer monitor", func(ctx context.Context) error {
		monitorSrv.Run(ctx)
		return nil
	}, cfg.Jobs.MonitorInterval, true)
	sched.NewCrontabJob("reconciliation", func(ctx context.Context) error {
		_, err := reconciliationSrv.RunFullReconciliation(ctx, false)
		return err
	}, cfg.Jobs.ReconciliationCrontab, false)
	sched.Start()
	defer sched.Stop()

	ctrl := rest.NewController(settlementSrv, reconciliationSrv)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      rest.NewRouter(cfg, ctrl),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-interrupt:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", slog.String("err", err.Error()))
	}
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
