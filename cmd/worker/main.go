package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/tablesync-backend/internal/notifications"
	"github.com/angelmondragon/tablesync-backend/pkg/bootstrap"
	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/registry"
	"github.com/angelmondragon/tablesync-backend/pkg/pubsub"
	"github.com/angelmondragon/tablesync-backend/pkg/redis"
)

func main() {
	bootstrap.Main("worker", run)
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return bootstrap.Wrap("event registry", err)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return bootstrap.Wrap("database", err)
	}
	defer bootstrap.Close(ctx, logg, "database", dbClient)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return bootstrap.Wrap("redis", err)
	}
	defer bootstrap.Close(ctx, logg, "redis", redisClient)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return bootstrap.Wrap("pubsub", err)
	}
	defer bootstrap.Close(ctx, logg, "pubsub", pubsubClient)

	subscription := pubsubClient.AlertsSubscription()
	if subscription == nil {
		return bootstrap.Wrap("alerts subscription", errors.New("subscription not configured"))
	}

	ledger, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return bootstrap.Wrap("idempotency manager", err)
	}

	alerts, err := notifications.NewConsumer(
		notifications.NewRepository(dbClient.DB()),
		subscription,
		eventRegistry,
		ledger,
		logg,
	)
	if err != nil {
		return bootstrap.Wrap("order alert consumer", err)
	}

	service, err := NewService(ServiceParams{
		Logger:               logg,
		DB:                   dbClient,
		Redis:                redisClient,
		PubSub:               pubsubClient,
		NotificationConsumer: alerts,
	})
	if err != nil {
		return bootstrap.Wrap("worker service", err)
	}
	return service.Run(ctx)
}
