package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/internal/cafes"
	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/internal/session"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []changestream.Change
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, change changestream.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) recorded() []changestream.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]changestream.Change, len(p.changes))
	copy(out, p.changes)
	return out
}

// conflictingRepo loses the version race a fixed number of times.
type conflictingRepo struct {
	Repository
	mu        *sync.Mutex
	remaining *int
	calls     *int
}

func (c conflictingRepo) WithTx(tx *gorm.DB) Repository {
	return conflictingRepo{Repository: c.Repository.WithTx(tx), mu: c.mu, remaining: c.remaining, calls: c.calls}
}

// staleReadRepo reports no pending order on its first lookup, as a reader
// racing another session's insert would.
type staleReadRepo struct {
	Repository
	mu     *sync.Mutex
	hidden *bool
	finds  *int
}

func (r staleReadRepo) WithTx(tx *gorm.DB) Repository {
	return staleReadRepo{Repository: r.Repository.WithTx(tx), mu: r.mu, hidden: r.hidden, finds: r.finds}
}

func (r staleReadRepo) FindPending(ctx context.Context, cafeID uuid.UUID, sessionID, tableNo string) (*models.Order, error) {
	r.mu.Lock()
	*r.finds++
	blind := !*r.hidden
	*r.hidden = true
	r.mu.Unlock()
	if blind {
		return nil, gorm.ErrRecordNotFound
	}
	return r.Repository.FindPending(ctx, cafeID, sessionID, tableNo)
}

func (c conflictingRepo) UpdatePending(ctx context.Context, order *models.Order, expected int64) (bool, error) {
	c.mu.Lock()
	*c.calls++
	lose := *c.remaining != 0
	if *c.remaining > 0 {
		*c.remaining--
	}
	c.mu.Unlock()
	if lose {
		return false, nil
	}
	return c.Repository.UpdatePending(ctx, order, expected)
}

type fixture struct {
	db        *gorm.DB
	svc       Service
	publisher *recordingPublisher
	cafeID    uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T, wrap func(Repository) Repository) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{
		db:        conn,
		publisher: &recordingPublisher{},
		cafeID:    uuid.New(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, conn.Create(&models.Cafe{
		ID:          f.cafeID,
		Name:        "Chai Point",
		ServiceMode: enums.ServiceModeMenuOrder,
		Activated:   true,
	}).Error)

	repo := NewRepository(conn)
	if wrap != nil {
		repo = wrap(repo)
	}
	svc, err := NewService(ServiceParams{
		Repo:         repo,
		Cafes:        cafes.NewRepository(conn),
		Tx:           db.NewFromConn(conn),
		Outbox:       outbox.NewService(outbox.NewRepository(conn), nil),
		Changes:      f.publisher,
		RetryBackoff: time.Millisecond,
		Now: func() time.Time {
			f.now = f.now.Add(time.Second)
			return f.now
		},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func client(sessionID, table string) session.ClientContext {
	return session.ClientContext{SessionID: session.ID(sessionID), TableNo: table}
}

func tea() types.LineItem {
	return types.LineItem{Name: "Tea", Price: decimal.NewFromInt(50), Qty: 2}
}

func samosa() types.LineItem {
	return types.LineItem{Name: "Samosa", Price: decimal.NewFromInt(30), Qty: 1}
}

func (f *fixture) outboxTypes(t *testing.T) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.db.Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestPlaceOrderCreatesPendingOrder(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.svc.PlaceOrder(context.Background(), f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, enums.OrderStatusPending, result.Order.Status)
	assert.True(t, result.Order.TotalAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, []string{"Tea"}, result.Order.RecentlyAdded)
	assert.Equal(t, "Guest", result.Order.CustomerName)
	assert.Equal(t, int64(1), result.Order.Version)

	live, err := f.svc.GetLive(context.Background(), f.cafeID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, result.OrderID, live[0].ID)
	assert.Equal(t, types.LineItems{tea()}[0].Name, live[0].Items[0].Name)

	changes := f.publisher.recorded()
	require.Len(t, changes, 1)
	assert.Equal(t, changestream.KindAdded, changes[0].Kind)
	assert.Equal(t, changestream.TopicOrders, changes[0].Topic)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderPlaced}, f.outboxTypes(t))
}

func TestPlaceOrderMergesIntoPendingOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	second, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{samosa()})
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, []string{"Tea", "Samosa"}, second.Order.Items.Names())
	assert.True(t, second.Order.TotalAmount.Equal(decimal.NewFromInt(130)))
	assert.Equal(t, []string{"Samosa"}, second.Order.RecentlyAdded)
	assert.Equal(t, int64(2), second.Order.Version)

	live, err := f.svc.GetLive(ctx, f.cafeID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.True(t, live[0].TotalAmount.Equal(live[0].Items.Total()))
	assert.Equal(t, int64(2), live[0].Version)

	changes := f.publisher.recorded()
	require.Len(t, changes, 2)
	assert.Equal(t, changestream.KindModified, changes[1].Kind)
	assert.Equal(t, int64(2), changes[1].Version)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderPlaced, enums.EventOrderItemsAdded}, f.outboxTypes(t))
}

func TestPlaceOrderSeparatesTuples(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	b, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "6"), types.LineItems{tea()})
	require.NoError(t, err)
	c, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S2", "5"), types.LineItems{tea()})
	require.NoError(t, err)

	assert.NotEqual(t, a.OrderID, b.OrderID)
	assert.NotEqual(t, a.OrderID, c.OrderID)

	live, err := f.svc.GetLive(ctx, f.cafeID)
	require.NoError(t, err)
	require.Len(t, live, 3)
	assert.Equal(t, a.OrderID, live[0].ID)
	assert.Equal(t, c.OrderID, live[2].ID)
}

func TestPlaceOrderConcurrentSubmissionsKeepOnePending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := types.LineItem{Name: fmt.Sprintf("Item %d", i), Price: decimal.NewFromInt(int64(10 + i)), Qty: 1}
			_, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{item})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var pending []models.Order
	require.NoError(t, f.db.Where("status = ?", enums.OrderStatusPending).Find(&pending).Error)
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].Items, writers)
	assert.True(t, pending[0].TotalAmount.Equal(decimal.NewFromInt(10*writers+28)))
	assert.Equal(t, int64(writers), pending[0].Version)
}

func TestPlaceOrderNormalizesInput(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.svc.PlaceOrder(context.Background(), f.cafeID,
		session.ClientContext{SessionID: "S1", CustomerName: "  Asha ", TableNo: "  "},
		types.LineItems{{Name: " Tea ", Price: decimal.NewFromInt(50), Qty: 0}})
	require.NoError(t, err)

	assert.Equal(t, "Asha", result.Order.CustomerName)
	assert.Equal(t, session.DefaultTableNo, result.Order.TableNo)
	assert.Equal(t, "Tea", result.Order.Items[0].Name)
	assert.Equal(t, 1, result.Order.Items[0].Qty)
	assert.True(t, result.Order.TotalAmount.Equal(decimal.NewFromInt(50)))
}

func TestPlaceOrderRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		cafeID uuid.UUID
		client session.ClientContext
		items  types.LineItems
		code   pkgerrors.Code
	}{
		{name: "empty cart", cafeID: f.cafeID, client: client("S1", "5"), items: nil, code: pkgerrors.CodeValidation},
		{name: "blank item name", cafeID: f.cafeID, client: client("S1", "5"), items: types.LineItems{{Name: " ", Price: decimal.NewFromInt(1)}}, code: pkgerrors.CodeValidation},
		{name: "negative price", cafeID: f.cafeID, client: client("S1", "5"), items: types.LineItems{{Name: "Tea", Price: decimal.NewFromInt(-1)}}, code: pkgerrors.CodeValidation},
		{name: "missing session", cafeID: f.cafeID, client: client("", "5"), items: types.LineItems{tea()}, code: pkgerrors.CodeValidation},
		{name: "unknown cafe", cafeID: uuid.New(), client: client("S1", "5"), items: types.LineItems{tea()}, code: pkgerrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(ctx, tt.cafeID, tt.client, tt.items)
			require.Error(t, err)
			assert.Equal(t, tt.code, pkgerrors.As(err).Code())
		})
	}
	assert.Empty(t, f.publisher.recorded())
}

func TestPlaceOrderForbiddenWhenOrderingDisabled(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.Model(&models.Cafe{}).Where("id = ?", f.cafeID).
		Update("service_mode", enums.ServiceModeMenuOnly).Error)

	_, err := f.svc.PlaceOrder(context.Background(), f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestPlaceOrderRetriesLostVersionRace(t *testing.T) {
	remaining, calls := 1, 0
	f := newFixture(t, func(r Repository) Repository {
		return conflictingRepo{Repository: r, mu: &sync.Mutex{}, remaining: &remaining, calls: &calls}
	})
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	result, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{samosa()})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"Tea", "Samosa"}, result.Order.Items.Names())
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderPlaced, enums.EventOrderItemsAdded}, f.outboxTypes(t))
}

func TestPlaceOrderMergesAfterPendingIndexConflict(t *testing.T) {
	hidden, finds := true, 0
	f := newFixture(t, func(r Repository) Repository {
		return staleReadRepo{Repository: r, mu: &sync.Mutex{}, hidden: &hidden, finds: &finds}
	})
	ctx := context.Background()

	first, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	require.True(t, first.Created)

	hidden = false
	result, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{samosa()})
	require.NoError(t, err)

	assert.False(t, result.Created)
	assert.Equal(t, first.OrderID, result.OrderID)
	assert.Equal(t, []string{"Tea", "Samosa"}, result.Order.Items.Names())
	assert.Equal(t, 3, finds)

	live, err := f.svc.GetLive(ctx, f.cafeID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderPlaced, enums.EventOrderItemsAdded}, f.outboxTypes(t))
}

func TestPlaceOrderGivesUpWhenContextEndsDuringBackoff(t *testing.T) {
	remaining, calls := -1, 0
	f := newFixture(t, func(r Repository) Repository {
		return conflictingRepo{Repository: r, mu: &sync.Mutex{}, remaining: &remaining, calls: &calls}
	})
	_, err := f.svc.PlaceOrder(context.Background(), f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	svc := f.svc.(*service)
	svc.backoff = 10 * time.Second

	_, err = svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{samosa()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeWriteConflict, pkgerrors.As(err).Code())
	assert.Equal(t, 1, calls)
}

func TestPlaceOrderSurfacesWriteConflictAfterBoundedAttempts(t *testing.T) {
	remaining, calls := -1, 0
	f := newFixture(t, func(r Repository) Repository {
		return conflictingRepo{Repository: r, mu: &sync.Mutex{}, remaining: &remaining, calls: &calls}
	})
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{samosa()})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeWriteConflict, typed.Code())
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, defaultMaxWriteAttempts, calls)

	live, err := f.svc.GetLive(ctx, f.cafeID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, []string{"Tea"}, live[0].Items.Names())
}

func TestPlaceOrderIgnoresPublishFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.err = errors.New("redis down")

	result, err := f.svc.PlaceOrder(context.Background(), f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestTransitionArchivesOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	placed, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea(), samosa()})
	require.NoError(t, err)

	entry, err := f.svc.Transition(ctx, f.cafeID, placed.OrderID, enums.OrderStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, placed.OrderID, entry.ID)
	assert.Equal(t, enums.OrderStatusCompleted, entry.Status)
	assert.True(t, entry.TotalAmount.Equal(decimal.NewFromInt(130)))

	live, err := f.svc.GetLive(ctx, f.cafeID)
	require.NoError(t, err)
	assert.Empty(t, live)

	var history []models.OrderHistoryEntry
	require.NoError(t, f.db.Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, enums.OrderStatusCompleted, history[0].Status)

	changes := f.publisher.recorded()
	require.Len(t, changes, 3)
	assert.Equal(t, changestream.KindRemoved, changes[1].Kind)
	assert.Equal(t, changestream.TopicOrders, changes[1].Topic)
	assert.Equal(t, int64(2), changes[1].Version)
	assert.Equal(t, changestream.KindAdded, changes[2].Kind)
	assert.Equal(t, changestream.TopicHistory, changes[2].Topic)

	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderPlaced, enums.EventOrderFinalized}, f.outboxTypes(t))
}

func TestTransitionReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	placed, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	first, err := f.svc.Transition(ctx, f.cafeID, placed.OrderID, enums.OrderStatusCancelled)
	require.NoError(t, err)

	again, err := f.svc.Transition(ctx, f.cafeID, placed.OrderID, enums.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, enums.OrderStatusCancelled, again.Status)

	_, err = f.svc.Transition(ctx, f.cafeID, placed.OrderID, enums.OrderStatusCompleted)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	var count int64
	require.NoError(t, f.db.Model(&models.OrderHistoryEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, f.publisher.recorded(), 3)
	assert.Len(t, f.outboxTypes(t), 2)
}

func TestTransitionRepairsDuplicateLiveAndHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	placed, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)

	stale := placed.Order.Finalize(enums.OrderStatusCompleted, f.now)
	require.NoError(t, f.db.Create(&stale).Error)

	entry, err := f.svc.Transition(ctx, f.cafeID, placed.OrderID, enums.OrderStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, placed.OrderID, entry.ID)

	var history []models.OrderHistoryEntry
	require.NoError(t, f.db.Find(&history).Error)
	assert.Len(t, history, 1)

	live, err := f.svc.GetLive(ctx, f.cafeID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestTransitionRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, f.cafeID, uuid.New(), enums.OrderStatusPending)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.svc.Transition(ctx, f.cafeID, uuid.New(), enums.OrderStatus("served"))
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.svc.Transition(ctx, f.cafeID, uuid.New(), enums.OrderStatusCompleted)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	placed, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, uuid.New(), placed.OrderID, enums.OrderStatusCompleted)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestPlaceOrderAfterTransitionOpensNewOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, f.cafeID, first.OrderID, enums.OrderStatusCompleted)
	require.NoError(t, err)

	second, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{samosa()})
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, []string{"Samosa"}, second.Order.Items.Names())
}

func TestCancelStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	old, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S1", "5"), types.LineItems{tea()})
	require.NoError(t, err)
	cutoff := f.now.Add(time.Millisecond)
	fresh, err := f.svc.PlaceOrder(ctx, f.cafeID, client("S2", "6"), types.LineItems{tea()})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelStale(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	live, err := f.svc.GetLive(ctx, f.cafeID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, fresh.OrderID, live[0].ID)

	var entry models.OrderHistoryEntry
	require.NoError(t, f.db.Where("id = ?", old.OrderID).First(&entry).Error)
	assert.Equal(t, enums.OrderStatusCancelled, entry.Status)
}
