package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tablesync-backend/internal/cafes"
	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/internal/cron"
	"github.com/angelmondragon/tablesync-backend/internal/notifications"
	"github.com/angelmondragon/tablesync-backend/internal/orders"
	"github.com/angelmondragon/tablesync-backend/pkg/bootstrap"
	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/instance"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/metrics"
	"github.com/angelmondragon/tablesync-backend/pkg/migrate"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/redis"
)

func main() {
	bootstrap.Main("cron-worker", run)
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return bootstrap.Wrap("database", err)
	}
	defer bootstrap.Close(ctx, logg, "database", dbClient)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return bootstrap.Wrap("dev migrations", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return bootstrap.Wrap("redis", err)
	}
	defer bootstrap.Close(ctx, logg, "redis", redisClient)

	registry, err := buildRegistry(cfg, logg, dbClient, redisClient)
	if err != nil {
		return bootstrap.Wrap("cron jobs", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Leases:   redisClient,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Cron.Tick,
		Instance: instance.GetID(),
	})
	if err != nil {
		return bootstrap.Wrap("cron service", err)
	}
	return service.Run(ctx)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	stream, err := changestream.New(cfg.FeatureFlags, redisClient, logg)
	if err != nil {
		return nil, fmt.Errorf("change stream: %w", err)
	}
	cafeRepo := cafes.NewRepository(conn)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:             orders.NewRepository(conn),
		Cafes:            cafeRepo,
		Tx:               dbClient,
		Outbox:           emitter,
		Changes:          stream,
		Logger:           logg,
		MaxWriteAttempts: cfg.Orders.MaxWriteAttempts,
		RetryBackoff:     cfg.Orders.RetryBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	cafeSvc, err := cafes.NewService(cafes.ServiceParams{
		Repo:      cafeRepo,
		Tx:        dbClient,
		Outbox:    emitter,
		Logger:    logg,
		TrialDays: cfg.Orders.TrialDays,
	})
	if err != nil {
		return nil, fmt.Errorf("cafes service: %w", err)
	}

	orderTTL, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{
		Logger:     logg,
		Orders:     orderSvc,
		PendingTTL: cfg.Orders.PendingTTL,
	})
	if err != nil {
		return nil, err
	}
	trialExpiry, err := cron.NewTrialExpiryJob(cron.TrialExpiryJobParams{Logger: logg, Cafes: cafeSvc})
	if err != nil {
		return nil, err
	}
	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRepository(conn),
		Retention:  cfg.Cron.NotificationRetention,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   cfg.Cron.OutboxRetention,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry().
		Every(cfg.Cron.OrderTTLEvery, orderTTL).
		Every(cfg.Cron.TrialExpiryEvery, trialExpiry).
		Every(cfg.Cron.RetentionEvery, notificationCleanup).
		Every(cfg.Cron.RetentionEvery, outboxRetention), nil
}
