package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmretail/settlement-backend/api/routes"
	"github.com/mmretail/settlement-backend/internal/identity"
	"github.com/mmretail/settlement-backend/internal/ledger"
	"github.com/mmretail/settlement-backend/internal/recon"
	"github.com/mmretail/settlement-backend/internal/splitplan"
	"github.com/mmretail/settlement-backend/pkg/bkfunds"
	"github.com/mmretail/settlement-backend/pkg/config"
	"github.com/mmretail/settlement-backend/pkg/db"
	"github.com/mmretail/settlement-backend/pkg/logger"
	"github.com/mmretail/settlement-backend/pkg/metrics"
	"github.com/mmretail/settlement-backend/pkg/migrate"
	"github.com/mmretail/settlement-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	platformClient, err := bkfunds.NewClient(context.Background(), cfg.Platform, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create platform client", err)
		os.Exit(1)
	}

	resolver, err := identity.NewResolver(cfg.Identity, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create identity resolver", err)
		os.Exit(1)
	}

	planner, err := splitplan.NewPlanner(cfg.Split)
	if err != nil {
		logg.Error(context.Background(), "failed to create split planner", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	withdrawalRepo := ledger.NewWithdrawalRepository(dbClient.DB())
	notificationRepo := ledger.NewNotificationRepository(dbClient.DB())

	reconService, err := recon.NewService(recon.Deps{
		Ledger:        ledgerRepo,
		Withdrawals:   withdrawalRepo,
		Notifications: notificationRepo,
		Platform:      platformClient,
		Resolver:      resolver,
		Planner:       planner,
		Config:        cfg,
		Logger:        logg,
	}, pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, reconService, withdrawalRepo),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		reconService.Stop()
		graceCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logg.Error(ctx, "error during server shutdown", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shut down gracefully")
}
