package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/tablesync-backend/api/controllers"
	"github.com/angelmondragon/tablesync-backend/api/routes"
	"github.com/angelmondragon/tablesync-backend/internal/analytics"
	"github.com/angelmondragon/tablesync-backend/internal/cafes"
	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/internal/feed"
	"github.com/angelmondragon/tablesync-backend/internal/history"
	"github.com/angelmondragon/tablesync-backend/internal/menu"
	"github.com/angelmondragon/tablesync-backend/internal/notifications"
	"github.com/angelmondragon/tablesync-backend/internal/orders"
	"github.com/angelmondragon/tablesync-backend/internal/session"
	"github.com/angelmondragon/tablesync-backend/pkg/bigquery"
	"github.com/angelmondragon/tablesync-backend/pkg/bootstrap"
	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/metrics"
	"github.com/angelmondragon/tablesync-backend/pkg/migrate"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	bootstrap.Main("api", run)
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

	stream, err := changestream.New(cfg.FeatureFlags, redisClient, logg)
	if err != nil {
		return bootstrap.Wrap("change stream", err)
	}

	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	feedMetrics := metrics.NewFeedMetrics(prometheus.DefaultRegisterer)

	cafeRepo := cafes.NewRepository(conn)
	cafeSvc, err := cafes.NewService(cafes.ServiceParams{
		Repo:      cafeRepo,
		Tx:        dbClient,
		Outbox:    emitter,
		Logger:    logg,
		TrialDays: cfg.Orders.TrialDays,
	})
	if err != nil {
		return bootstrap.Wrap("cafes service", err)
	}

	menuSvc, err := menu.NewService(menu.NewRepository(conn), dbClient, cafeSvc)
	if err != nil {
		return bootstrap.Wrap("menu service", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:             orders.NewRepository(conn),
		Cafes:            cafeRepo,
		Tx:               dbClient,
		Outbox:           emitter,
		Changes:          stream,
		Metrics:          orderMetrics,
		Logger:           logg,
		MaxWriteAttempts: cfg.Orders.MaxWriteAttempts,
		RetryBackoff:     cfg.Orders.RetryBackoff,
	})
	if err != nil {
		return bootstrap.Wrap("orders service", err)
	}

	feedSvc, err := feed.NewService(orderSvc, stream, feedMetrics, logg)
	if err != nil {
		return bootstrap.Wrap("live feed", err)
	}

	historySvc, err := history.NewService(history.ServiceParams{
		Repo:    history.NewRepository(conn),
		Stream:  stream,
		Metrics: feedMetrics,
		Logger:  logg,
		Window:  cfg.Feed.HistoryWindow,
	})
	if err != nil {
		return bootstrap.Wrap("history service", err)
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(conn))
	if err != nil {
		return bootstrap.Wrap("notifications service", err)
	}

	ready := map[string]controllers.Pinger{"db": dbClient, "redis": redisClient}
	analyticsSvc, closeAnalytics, err := salesAnalytics(ctx, cfg, logg, ready)
	if err != nil {
		return bootstrap.Wrap("analytics service", err)
	}
	defer closeAnalytics()

	handler := routes.NewRouter(routes.Dependencies{
		Config:        cfg,
		Logger:        logg,
		Ready:         ready,
		Store:         redisClient,
		Sessions:      session.NewResolver(logg),
		Cafes:         cafeSvc,
		Menu:          menuSvc,
		Orders:        orderSvc,
		Feed:          feedSvc,
		History:       historySvc,
		Notifications: notificationsSvc,
		Analytics:     analyticsSvc,
		Gatherer:      prometheus.DefaultGatherer,
	})

	return serve(ctx, logg, listenAddr(cfg), handler)
}

// salesAnalytics connects to BigQuery when a dataset is configured. Without
// one the sales report route is not mounted (404) and the rest of the API runs.
func salesAnalytics(ctx context.Context, cfg *config.Config, logg *logger.Logger, ready map[string]controllers.Pinger) (analytics.Service, func(), error) {
	noop := func() {}
	if strings.TrimSpace(cfg.GCP.ProjectID) == "" || strings.TrimSpace(cfg.BigQuery.Dataset) == "" {
		return nil, noop, nil
	}
	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "bigquery unavailable, sales analytics disabled")
		return nil, noop, nil
	}
	closeFn := func() { bootstrap.Close(ctx, logg, "bigquery", bqClient) }

	svc, err := analytics.NewService(bqClient, cfg.BigQuery.OrderFactsTable)
	if err != nil {
		closeFn()
		return nil, noop, err
	}
	ready["bigquery"] = bqClient
	return svc, closeFn, nil
}

func listenAddr(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":" + cfg.App.Port
}

// serve runs the HTTP server until ctx is cancelled. Open SSE streams watch
// the base context, so cancelling it ends them instead of stalling Shutdown.
func serve(ctx context.Context, logg *logger.Logger, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(logg.WithField(ctx, "addr", addr), "api server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
