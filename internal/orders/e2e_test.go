package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tablesync-backend/internal/cafes"
	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/internal/feed"
	"github.com/angelmondragon/tablesync-backend/internal/history"
	"github.com/angelmondragon/tablesync-backend/internal/notifications"
	"github.com/angelmondragon/tablesync-backend/internal/orders"
	"github.com/angelmondragon/tablesync-backend/internal/session"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

type alertLog struct {
	mu     sync.Mutex
	alerts []notifications.Alert
	err    error
}

func (a *alertLog) Deliver(_ context.Context, alert notifications.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return a.err
}

func (a *alertLog) kinds() []feed.NoticeKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]feed.NoticeKind, 0, len(a.alerts))
	for _, alert := range a.alerts {
		out = append(out, alert.Kind)
	}
	return out
}

type stack struct {
	orders  orders.Service
	feed    *feed.Service
	history history.Service
	cafeID  uuid.UUID
}

func newStack(t *testing.T) stack {
	t.Helper()
	conn := dbtest.Open(t)
	cafeID := uuid.New()
	require.NoError(t, conn.Create(&models.Cafe{
		ID:          cafeID,
		Name:        "Chai Point",
		ServiceMode: enums.ServiceModeMenuOrder,
		Activated:   true,
	}).Error)

	stream := changestream.NewMemoryStream()
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:         orders.NewRepository(conn),
		Cafes:        cafes.NewRepository(conn),
		Tx:           db.NewFromConn(conn),
		Outbox:       outbox.NewService(outbox.NewRepository(conn), nil),
		Changes:      stream,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	feedSvc, err := feed.NewService(orderSvc, stream, nil, nil)
	require.NoError(t, err)
	historySvc, err := history.NewService(history.ServiceParams{Repo: history.NewRepository(conn), Stream: stream})
	require.NoError(t, err)

	return stack{orders: orderSvc, feed: feedSvc, history: historySvc, cafeID: cafeID}
}

// pump forwards feed updates to the dispatcher the way a dashboard
// connection does, and reports every update on the returned channel.
func pump(ctx context.Context, sub *feed.Subscription, dispatcher *notifications.Dispatcher) <-chan feed.Update {
	out := make(chan feed.Update, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case update := <-sub.Updates():
				dispatcher.Dispatch(ctx, update.Notices)
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func waitUpdate(t *testing.T, updates <-chan feed.Update, done func(feed.Update) bool) feed.Update {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case update, ok := <-updates:
			require.True(t, ok, "feed closed early")
			if done(update) {
				return update
			}
		case <-deadline:
			t.Fatal("timed out waiting for feed state")
			return feed.Update{}
		}
	}
}

type outcome struct {
	firstTotal  string
	firstNew    bool
	secondTotal string
	secondNew   bool
	sameOrder   bool
	finalStatus enums.OrderStatus
	finalTotal  string
}

func runScenario(t *testing.T, dispatcher *notifications.Dispatcher) outcome {
	t.Helper()
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub, err := s.feed.Subscribe(ctx, s.cafeID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	updates := pump(ctx, sub, dispatcher)
	waitUpdate(t, updates, func(u feed.Update) bool { return len(u.Orders) == 0 })

	client := session.ClientContext{SessionID: "S1", TableNo: "5"}
	first, err := s.orders.PlaceOrder(ctx, s.cafeID, client, types.LineItems{{Name: "Tea", Price: decimal.NewFromInt(50), Qty: 2}})
	require.NoError(t, err)

	seen := waitUpdate(t, updates, func(u feed.Update) bool { return len(u.Orders) == 1 })
	require.Len(t, seen.Orders[0].Items, 1)
	assert.Equal(t, "Tea", seen.Orders[0].Items[0].Name)
	assert.True(t, seen.Orders[0].Items[0].IsNew)
	assert.Equal(t, enums.OrderStatusPending, seen.Orders[0].Status)

	second, err := s.orders.PlaceOrder(ctx, s.cafeID, client, types.LineItems{{Name: "Samosa", Price: decimal.NewFromInt(30), Qty: 1}})
	require.NoError(t, err)

	merged := waitUpdate(t, updates, func(u feed.Update) bool {
		return len(u.Orders) == 1 && len(u.Orders[0].Items) == 2
	})
	items := merged.Orders[0].Items
	assert.Equal(t, "Tea", items[0].Name)
	assert.False(t, items[0].IsNew)
	assert.Equal(t, "Samosa", items[1].Name)
	assert.True(t, items[1].IsNew)
	assert.True(t, merged.Orders[0].TotalAmount.Equal(decimal.NewFromInt(130)))

	entry, err := s.orders.Transition(ctx, s.cafeID, first.OrderID, enums.OrderStatusCompleted)
	require.NoError(t, err)
	waitUpdate(t, updates, func(u feed.Update) bool { return len(u.Orders) == 0 })

	live, err := s.orders.GetLive(ctx, s.cafeID)
	require.NoError(t, err)
	assert.Empty(t, live)

	archived, err := s.history.List(ctx, history.ListParams{CafeID: s.cafeID})
	require.NoError(t, err)
	require.Len(t, archived.Items, 1)
	assert.Equal(t, first.OrderID, archived.Items[0].ID)
	assert.Equal(t, enums.OrderStatusCompleted, archived.Items[0].Status)
	assert.True(t, archived.Items[0].TotalAmount.Equal(decimal.NewFromInt(130)))

	return outcome{
		firstTotal:  first.Order.TotalAmount.String(),
		firstNew:    first.Created,
		secondTotal: second.Order.TotalAmount.String(),
		secondNew:   second.Created,
		sameOrder:   first.OrderID == second.OrderID,
		finalStatus: entry.Status,
		finalTotal:  entry.TotalAmount.String(),
	}
}

func TestOrderLifecycleEndToEnd(t *testing.T) {
	alerts, sounds, osAlerts := &alertLog{}, &alertLog{}, &alertLog{}
	dispatcher := notifications.NewDispatcher(notifications.DispatcherParams{
		Alert:      alerts,
		Sound:      sounds,
		OS:         osAlerts,
		Permission: notifications.PermissionGranted,
	})

	got := runScenario(t, dispatcher)
	assert.Equal(t, outcome{
		firstTotal:  "100",
		firstNew:    true,
		secondTotal: "130",
		secondNew:   false,
		sameOrder:   true,
		finalStatus: enums.OrderStatusCompleted,
		finalTotal:  "130",
	}, got)

	assert.Equal(t, []feed.NoticeKind{feed.NoticeNewOrder, feed.NoticeItemsAdded}, alerts.kinds())
	assert.Equal(t, alerts.kinds(), osAlerts.kinds())
}

func TestOrderFlowUnaffectedByDeniedNotifications(t *testing.T) {
	var granted, denied outcome
	osAlerts := &alertLog{}

	t.Run("granted", func(t *testing.T) {
		granted = runScenario(t, notifications.NewDispatcher(notifications.DispatcherParams{
			Alert:      &alertLog{},
			OS:         &alertLog{},
			Permission: notifications.PermissionGranted,
		}))
	})
	t.Run("denied", func(t *testing.T) {
		denied = runScenario(t, notifications.NewDispatcher(notifications.DispatcherParams{
			Alert:      &alertLog{err: errors.New("alert surface gone")},
			Sound:      notifications.SinkFunc(func(context.Context, notifications.Alert) error { panic("audio blocked") }),
			OS:         osAlerts,
			Permission: notifications.PermissionDenied,
		}))
	})

	assert.Equal(t, granted, denied)
	assert.Equal(t, enums.OrderStatusCompleted, denied.finalStatus)
	assert.Empty(t, osAlerts.kinds())
}
