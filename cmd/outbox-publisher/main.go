package main

import (
	"context"

	"github.com/angelmondragon/tablesync-backend/pkg/bootstrap"
	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/migrate"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/registry"
	"github.com/angelmondragon/tablesync-backend/pkg/pubsub"
)

func main() {
	bootstrap.Main("outbox-publisher", run)
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

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return bootstrap.Wrap("dev migrations", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return bootstrap.Wrap("pubsub", err)
	}
	defer bootstrap.Close(ctx, logg, "pubsub", pubsubClient)

	conn := dbClient.DB()
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(conn),
		Registry:   eventRegistry,
		DLQ:        outbox.NewDLQRepository(conn),
	})
	if err != nil {
		return bootstrap.Wrap("outbox publisher", err)
	}
	return service.Run(ctx)
}
