// Package bootstrap holds the startup sequence every tablesync binary shares.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/instance"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// RunFunc is a binary's body. It returns when ctx is cancelled or it fails.
type RunFunc func(ctx context.Context, cfg *config.Config, logg *logger.Logger) error

// Main loads configuration, runs fn until SIGINT or SIGTERM and exits non-zero
// when fn fails. Deferred cleanup inside fn runs before the process exits.
func Main(service string, fn RunFunc) {
	if err := run(service, fn); err != nil {
		os.Exit(1)
	}
}

func run(service string, fn RunFunc) error {
	cfg, logg, err := Environment(service)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	logg.Info(ctx, "starting "+service)
	if err := fn(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, service+" stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, service+" shutting down gracefully")
	return nil
}

// Environment reads .env when present, parses config and returns a logger
// built from it. On error the returned logger uses defaults.
func Environment(service string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logg, err
	}
	cfg.Service.Kind = service

	return cfg, logger.New(logger.Options{
		ServiceName: service,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	}), nil
}

// Close closes c and logs a failure under name.
func Close(ctx context.Context, logg *logger.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}

// Wrap names the resource that failed to start.
func Wrap(resource string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", resource, err)
}
