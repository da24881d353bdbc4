package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tablesync-backend/api/controllers"
	analyticscontrollers "github.com/angelmondragon/tablesync-backend/api/controllers/analytics"
	ordercontrollers "github.com/angelmondragon/tablesync-backend/api/controllers/orders"
	"github.com/angelmondragon/tablesync-backend/api/middleware"
	"github.com/angelmondragon/tablesync-backend/internal/analytics"
	"github.com/angelmondragon/tablesync-backend/internal/cafes"
	"github.com/angelmondragon/tablesync-backend/internal/history"
	"github.com/angelmondragon/tablesync-backend/internal/menu"
	"github.com/angelmondragon/tablesync-backend/internal/notifications"
	"github.com/angelmondragon/tablesync-backend/internal/orders"
	"github.com/angelmondragon/tablesync-backend/internal/session"
	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/redis"
)

// KeyStore backs idempotency replay and rate limit counters.
type KeyStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type sessionResolver interface {
	GetOrCreate(ctx context.Context, storage session.Storage) session.Resolution
}

// Dependencies carries everything the router hands to middleware and
// controllers. Analytics may be nil when BigQuery is not configured.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	Ready         map[string]controllers.Pinger
	Store         KeyStore
	Sessions      sessionResolver
	Cafes         cafes.Service
	Menu          menu.Service
	Orders        orders.Service
	Feed          ordercontrollers.FeedService
	History       history.Service
	Notifications notifications.Service
	Analytics     analytics.Service
	Gatherer      prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	orderPolicy := middleware.NewRateLimitPolicy(
		"orders",
		cfg.RateLimit.OrderWindow,
		cfg.RateLimit.OrderLimit,
		0,
	)
	idempotent := middleware.Idempotency(deps.Store, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Ready, logg))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/cafes/{cafeId}/menu", controllers.PublicMenu(deps.Menu, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.ClientSession(deps.Sessions, cfg.App.IsProd(), logg))
			r.Get("/session", controllers.PublicSession(logg))
			r.With(
				middleware.RateLimit(orderPolicy, deps.Store, logg),
				idempotent,
			).Post("/cafes/{cafeId}/orders", ordercontrollers.PlaceOrder(deps.Orders, logg))
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OwnerAuth(cfg.JWT, logg))

		r.Get("/me", controllers.OwnerWhoAmI())

		r.Get("/cafe", controllers.GetCafe(deps.Cafes, logg))
		r.With(idempotent).Put("/cafe", controllers.PutCafe(deps.Cafes, logg))

		r.Route("/menu", func(r chi.Router) {
			r.Get("/", controllers.OwnerMenu(deps.Menu, logg))
			r.With(idempotent).Post("/items", controllers.AddMenuItem(deps.Menu, logg))
			r.Patch("/items/{categoryId}/{itemId}", controllers.UpdateMenuItem(deps.Menu, logg))
			r.Delete("/items/{categoryId}/{itemId}", controllers.DeleteMenuItem(deps.Menu, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/live", ordercontrollers.LiveOrders(deps.Orders, logg))
			r.Get("/live/stream", ordercontrollers.LiveStream(deps.Feed, cfg.Feed.Heartbeat, logg))
			r.Post("/live/stream/{subscriptionId}/dismiss", ordercontrollers.DismissBadge(deps.Feed, logg))
			r.With(idempotent).Post("/{orderId}/transition", ordercontrollers.Transition(deps.Orders, logg))
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", ordercontrollers.HistoryList(deps.History, logg))
			r.Get("/stream", ordercontrollers.HistoryStream(deps.History, cfg.Feed.Heartbeat, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.With(idempotent).Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.With(idempotent).Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})

		if deps.Analytics != nil {
			r.Get("/analytics/sales", analyticscontrollers.SalesReport(deps.Analytics, logg))
		}
	})

	return r
}
