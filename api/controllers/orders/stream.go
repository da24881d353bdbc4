package orders

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/api/responses"
	"github.com/angelmondragon/tablesync-backend/api/validators"
	"github.com/angelmondragon/tablesync-backend/internal/feed"
	"github.com/angelmondragon/tablesync-backend/internal/history"
	"github.com/angelmondragon/tablesync-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/pagination"
)

const defaultHeartbeat = 25 * time.Second

// FeedService is the slice of the live feed the handlers need.
type FeedService interface {
	Subscribe(ctx context.Context, cafeID uuid.UUID) (*feed.Subscription, error)
	Dismiss(ctx context.Context, cafeID uuid.UUID, subscriptionID string, orderID uuid.UUID, index int) error
}

type dismissRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	Index   int       `json:"index" validate:"gte=0"`
}

type soundCue struct {
	Kind    feed.NoticeKind `json:"kind"`
	OrderID uuid.UUID       `json:"order_id"`
}

// LiveStream streams the sorted pending-order list over SSE. Notices raised by
// each emission are routed through a per-connection dispatcher so the browser
// receives alert, sound and os_notification events alongside the list.
func LiveStream(svc FeedService, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cafeID, err := parseCafeID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sub, err := svc.Subscribe(ctx, cafeID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer sub.Close()

		stream, err := responses.NewEventStream(w)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open event stream"))
			return
		}
		if err := stream.Send("subscribed", map[string]string{"subscription_id": sub.ID()}); err != nil {
			return
		}

		dispatcher := notifications.NewDispatcher(notifications.DispatcherParams{
			Alert: notifications.SinkFunc(func(_ context.Context, alert notifications.Alert) error {
				return stream.Send("alert", alert)
			}),
			Sound: notifications.SinkFunc(func(_ context.Context, alert notifications.Alert) error {
				return stream.Send("sound", soundCue{Kind: alert.Kind, OrderID: alert.OrderID})
			}),
			OS: notifications.SinkFunc(func(_ context.Context, alert notifications.Alert) error {
				return stream.Send("os_notification", alert)
			}),
			Permission: notifications.ParsePermission(r.URL.Query().Get("notifications")),
			Logger:     logg,
		})

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case <-ticker.C:
				if err := stream.Heartbeat(); err != nil {
					return
				}
			case update, ok := <-sub.Updates():
				if !ok {
					return
				}
				if err := stream.Send("orders", map[string]any{"orders": update.Orders}); err != nil {
					return
				}
				if len(update.Notices) > 0 {
					dispatcher.Dispatch(ctx, update.Notices)
				}
			}
		}
	}
}

// DismissBadge clears the "new" badge on one item of a streamed order.
func DismissBadge(svc FeedService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cafeID, err := parseCafeID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		subscriptionID := validators.SanitizeString(chiParam(r, "subscriptionId"), 64)
		if subscriptionID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "subscriptionId is required"))
			return
		}
		var payload dismissRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Dismiss(ctx, cafeID, subscriptionID, payload.OrderID, payload.Index); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HistoryList pages through finalized orders, newest first.
func HistoryList(svc history.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cafeID, err := parseCafeID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := svc.List(ctx, history.ListParams{
			CafeID: cafeID,
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// HistoryStream pushes the most recent history window after every change.
func HistoryStream(svc history.Service, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cafeID, err := parseCafeID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sub, err := svc.Subscribe(ctx, cafeID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer sub.Close()

		stream, err := responses.NewEventStream(w)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open event stream"))
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case <-ticker.C:
				if err := stream.Heartbeat(); err != nil {
					return
				}
			case entries, ok := <-sub.Updates():
				if !ok {
					return
				}
				if err := stream.Send("history", map[string]any{"items": entries}); err != nil {
					return
				}
			}
		}
	}
}
