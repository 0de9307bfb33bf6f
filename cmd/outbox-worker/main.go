package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/notify"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const drainLock = "outbox:drain"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "outbox-worker")
	logger.Info("outbox-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "batch", cfg.OutboxBatchSize)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, db.PoolOptions{DSN: cfg.PostgresDSN, MaxConns: cfg.PostgresMaxConn, AppName: "outbox-worker"})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		Name:     "outbox-worker",
	})
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	email := notify.NewEmailSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, logger)
	handler := notify.NewHandler(rdb, email, notify.NewPgFeedbackIssuer(pgPool, cfg.FeedbackTTL), notify.HandlerConfig{
		Channel:     cfg.NotifyChannel,
		FeedbackURL: cfg.FeedbackURL,
	}, logger)

	deliverer := events.NewDeliverer(events.NewStore(pgPool), handler, logger).
		WithBatchSize(cfg.OutboxBatchSize).
		WithMaxAttempts(cfg.OutboxMaxTries)
	locker := redisclient.NewRedisLocker(rdb, cfg.OutboxLockTTL)

	var m *metrics.BookingMetrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		m = metrics.NewBookingMetrics(reg)
		metricsSrv := &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	// Run once at startup
	runOnce(rootCtx, locker, deliverer, m, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping outbox worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, locker, deliverer, m, logger)
		}
	}
}

// runOnce drains one batch. Only one worker drains at a time; events of an
// appointment go out in order unless one of them had to be retried.
func runOnce(ctx context.Context, locker redisclient.Locker, deliverer *events.Deliverer, m *metrics.BookingMetrics, logger *logging.Logger) {
	start := time.Now()
	var delivered int

	err := locker.WithLock(ctx, drainLock, func(lockCtx context.Context) error {
		n, err := deliverer.Drain(lockCtx)
		delivered = n
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		logger.Debug("another worker is draining, skipping")
		return
	case err != nil:
		logger.Error("outbox drain error", "error", err)
		return
	}

	m.AddDelivered(delivered)
	if delivered > 0 {
		logger.Info("outbox drain complete", "delivered", delivered, "duration", time.Since(start))
	}
}
