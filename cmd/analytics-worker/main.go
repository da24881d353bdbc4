package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/router"
	"github.com/angelmondragon/tablesync-backend/internal/analytics/worker"
	"github.com/angelmondragon/tablesync-backend/internal/analytics/writer"
	"github.com/angelmondragon/tablesync-backend/pkg/bigquery"
	"github.com/angelmondragon/tablesync-backend/pkg/bootstrap"
	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tablesync-backend/pkg/pubsub"
	"github.com/angelmondragon/tablesync-backend/pkg/redis"
)

func main() {
	bootstrap.Main("analytics-worker", run)
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
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

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return bootstrap.Wrap("bigquery", err)
	}
	defer bootstrap.Close(ctx, logg, "bigquery", bqClient)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return bootstrap.Wrap("analytics subscription", errors.New("subscription not configured"))
	}

	ledger, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return bootstrap.Wrap("idempotency manager", err)
	}

	facts, err := writer.New(bqClient, writer.Config{OrderFactsTable: cfg.BigQuery.OrderFactsTable})
	if err != nil {
		return bootstrap.Wrap("order facts writer", err)
	}
	// Rows still buffered at shutdown are written with a fresh context.
	defer func() {
		if err := facts.Flush(context.WithoutCancel(ctx)); err != nil {
			logg.Error(ctx, "failed to flush buffered order facts", err)
		}
	}()

	routes, err := router.NewRouter(facts, logg)
	if err != nil {
		return bootstrap.Wrap("analytics router", err)
	}
	service, err := worker.NewService(subscription, routes, ledger, logg)
	if err != nil {
		return bootstrap.Wrap("analytics worker", err)
	}
	return service.Run(ctx)
}
