package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmretail/settlement-backend/internal/cron"
	"github.com/mmretail/settlement-backend/internal/identity"
	"github.com/mmretail/settlement-backend/internal/ledger"
	"github.com/mmretail/settlement-backend/internal/recon"
	"github.com/mmretail/settlement-backend/internal/splitplan"
	"github.com/mmretail/settlement-backend/pkg/bkfunds"
	"github.com/mmretail/settlement-backend/pkg/config"
	"github.com/mmretail/settlement-backend/pkg/db"
	"github.com/mmretail/settlement-backend/pkg/instance"
	"github.com/mmretail/settlement-backend/pkg/logger"
	"github.com/mmretail/settlement-backend/pkg/metrics"
	"github.com/mmretail/settlement-backend/pkg/migrate"
	"github.com/mmretail/settlement-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	promRegistry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(promRegistry)

	notificationRepo := ledger.NewNotificationRepository(dbClient.DB())
	reconService, err := recon.NewService(recon.Deps{
		Ledger:        ledger.NewRepository(dbClient.DB()),
		Withdrawals:   ledger.NewWithdrawalRepository(dbClient.DB()),
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

	pipelineJob, err := cron.NewPipelineJob(reconService)
	if err != nil {
		logg.Error(context.Background(), "failed to create pipeline job", err)
		os.Exit(1)
	}
	dispatchJob, err := cron.NewNotificationDispatchJob(notificationRepo, cron.LogSender{Logger: logg}, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatch job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	dailyOffset, dailyEnabled, err := cfg.Pipeline.DailyTrigger()
	if err != nil {
		logg.Error(context.Background(), "invalid daily run time", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:       logg,
		Registry:     cron.NewRegistry(pipelineJob, dispatchJob),
		Lock:         lock,
		Metrics:      pipelineMetrics,
		Interval:     cfg.Pipeline.Interval,
		DailyOffset:  dailyOffset,
		DailyEnabled: dailyEnabled,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	go serveMetrics(logg, cfg, promRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	reconService.Stop()
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func serveMetrics(logg *logger.Logger, cfg *config.Config, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	addr := ":" + cfg.App.Port
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logg.Error(context.Background(), "metrics server stopped unexpectedly", err)
	}
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("cron-worker:%s", env)
}
