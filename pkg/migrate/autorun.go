package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// AutoRunEnabled reports whether a binary should migrate on start. Only dev
// does; every other environment runs cmd/migrate as a release step.
func AutoRunEnabled(cfg *config.Config) bool {
	return cfg != nil && cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate
}

// MaybeRunDev brings a dev database up to the embedded schema and logs the
// version it moved between.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !AutoRunEnabled(cfg) {
		return nil
	}
	if client == nil {
		return errors.New("migrate: database client required for auto-run")
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("migrate: unwrap sql.DB: %w", err)
	}

	from := schemaVersion(ctx, sqlDB)
	if err := Run(ctx, sqlDB, EmbeddedDir, "up"); err != nil {
		return err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"env":          cfg.App.Env,
			"from_version": from,
			"to_version":   schemaVersion(ctx, sqlDB),
		}), "dev schema migrated")
	}
	return nil
}

// schemaVersion is -1 when goose has not created its table yet.
func schemaVersion(ctx context.Context, sqlDB *sql.DB) int64 {
	if err := prepare(EmbeddedDir); err != nil {
		return -1
	}
	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return -1
	}
	return version
}
