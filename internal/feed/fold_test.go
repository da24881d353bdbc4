package feed

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

var (
	testCafe = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func lineItems(names ...string) types.LineItems {
	out := make(types.LineItems, 0, len(names))
	for _, name := range names {
		out = append(out, types.LineItem{Name: name, Price: decimal.NewFromInt(10), Qty: 1})
	}
	return out
}

func order(id uuid.UUID, version int64, created time.Time, names ...string) models.Order {
	items := lineItems(names...)
	return models.Order{
		ID:           id,
		CafeID:       testCafe,
		SessionID:    "S1",
		TableNo:      "5",
		CustomerName: "Guest",
		Items:        items,
		TotalAmount:  items.Total(),
		Status:       enums.OrderStatusPending,
		Version:      version,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func change(t *testing.T, kind changestream.Kind, o models.Order) changestream.Change {
	t.Helper()
	var entity any = o
	if kind == changestream.KindRemoved {
		entity = nil
	}
	c, err := changestream.NewChange(kind, changestream.TopicOrders, o.CafeID, o.ID, o.Version, entity)
	require.NoError(t, err)
	return c
}

func flags(o Order) []bool {
	out := make([]bool, len(o.Items))
	for i, item := range o.Items {
		out[i] = item.IsNew
	}
	return out
}

func TestApplyAddedBadgesEveryItem(t *testing.T) {
	id := uuid.New()
	snap, notices, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "Tea", "Samosa")))
	require.NoError(t, err)

	got, ok := snap.Get(id)
	require.True(t, ok)
	assert.Equal(t, []bool{true, true}, flags(got))
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeNewOrder, notices[0].Kind)
	assert.Equal(t, "5", notices[0].TableNo)
	assert.Equal(t, "Guest", notices[0].CustomerName)
	assert.Equal(t, 2, notices[0].ItemCount)
}

func TestApplyModifiedBadgesOnlyAppendedItems(t *testing.T) {
	id := uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "A", "B")))
	require.NoError(t, err)

	snap, notices, err := Apply(snap, change(t, changestream.KindModified, order(id, 2, baseTime, "A", "B", "C")))
	require.NoError(t, err)

	got, _ := snap.Get(id)
	assert.Equal(t, []bool{false, false, true}, flags(got))
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeItemsAdded, notices[0].Kind)
	assert.Equal(t, 1, notices[0].ItemCount)
}

func TestApplyModifiedCountsRepeatedNames(t *testing.T) {
	id := uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "Tea")))
	require.NoError(t, err)

	snap, notices, err := Apply(snap, change(t, changestream.KindModified, order(id, 2, baseTime, "Tea", "Tea", "Bun")))
	require.NoError(t, err)

	got, _ := snap.Get(id)
	assert.Equal(t, []bool{false, true, true}, flags(got))
	require.Len(t, notices, 1)
	assert.Equal(t, 2, notices[0].ItemCount)
}

func TestApplyDropsStaleVersions(t *testing.T) {
	id := uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "A")))
	require.NoError(t, err)
	snap, _, err = Apply(snap, change(t, changestream.KindModified, order(id, 2, baseTime, "A", "B")))
	require.NoError(t, err)

	again, notices, err := Apply(snap, change(t, changestream.KindModified, order(id, 2, baseTime, "A", "B")))
	require.NoError(t, err)
	assert.Empty(t, notices)
	got, _ := again.Get(id)
	assert.Equal(t, []bool{false, true}, flags(got))

	_, notices, err = Apply(snap, change(t, changestream.KindAdded, order(id, 1, baseTime, "A")))
	require.NoError(t, err)
	assert.Empty(t, notices)
}

func TestApplyUnknownModificationIsNewOrder(t *testing.T) {
	id := uuid.New()
	snap, notices, err := Apply(NewSnapshot(), change(t, changestream.KindModified, order(id, 3, baseTime, "A", "B")))
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeNewOrder, notices[0].Kind)
	assert.Equal(t, 1, snap.Len())
}

func TestApplyRemovalIsSilent(t *testing.T) {
	id := uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "A")))
	require.NoError(t, err)

	removed := order(id, 2, baseTime)
	snap, notices, err := Apply(snap, change(t, changestream.KindRemoved, removed))
	require.NoError(t, err)
	assert.Empty(t, notices)
	assert.Equal(t, 0, snap.Len())

	snap, notices, err = Apply(snap, change(t, changestream.KindRemoved, order(uuid.New(), 4, baseTime)))
	require.NoError(t, err)
	assert.Empty(t, notices)
	assert.Equal(t, 0, snap.Len())
}

func TestApplyDropsChangesBehindRemoval(t *testing.T) {
	id := uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "Tea")))
	require.NoError(t, err)
	snap, _, err = Apply(snap, change(t, changestream.KindRemoved, order(id, 3, baseTime)))
	require.NoError(t, err)

	snap, notices, err := Apply(snap, change(t, changestream.KindModified, order(id, 2, baseTime, "Tea", "Samosa")))
	require.NoError(t, err)
	assert.Empty(t, notices)
	assert.Equal(t, 0, snap.Len())

	seeded := Seed(snap, []models.Order{order(id, 2, baseTime, "Tea", "Samosa")})
	assert.Equal(t, 0, seeded.Len())
}

func TestApplyRemovalOvertakingAdd(t *testing.T) {
	id := uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindRemoved, order(id, 2, baseTime)))
	require.NoError(t, err)

	snap, notices, err := Apply(snap, change(t, changestream.KindAdded, order(id, 1, baseTime, "Tea")))
	require.NoError(t, err)
	assert.Empty(t, notices)
	assert.Equal(t, 0, snap.Len())
}

func TestApplyTerminalStatusRemoves(t *testing.T) {
	id := uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "A")))
	require.NoError(t, err)

	done := order(id, 2, baseTime, "A")
	done.Status = enums.OrderStatusCompleted
	snap, notices, err := Apply(snap, change(t, changestream.KindModified, done))
	require.NoError(t, err)
	assert.Empty(t, notices)
	assert.Equal(t, 0, snap.Len())
}

func TestApplyLeavesPreviousSnapshotUntouched(t *testing.T) {
	id := uuid.New()
	first, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "A")))
	require.NoError(t, err)
	_, _, err = Apply(first, change(t, changestream.KindModified, order(id, 2, baseTime, "A", "B")))
	require.NoError(t, err)

	got, _ := first.Get(id)
	assert.Len(t, got.Items, 1)
	assert.Equal(t, int64(1), got.Version)
}

func TestApplyIgnoresOtherTopicsAndRejectsBadPayload(t *testing.T) {
	snap := NewSnapshot()
	history := changestream.Change{Kind: changestream.KindAdded, Topic: changestream.TopicHistory, EntityID: uuid.New()}
	next, notices, err := Apply(snap, history)
	require.NoError(t, err)
	assert.Empty(t, notices)
	assert.Equal(t, 0, next.Len())

	bad := changestream.Change{Kind: changestream.KindAdded, Topic: changestream.TopicOrders, EntityID: uuid.New(), Payload: []byte(`{"items":"nope"}`)}
	_, _, err = Apply(snap, bad)
	require.Error(t, err)
}

func TestOrdersSortedByCreation(t *testing.T) {
	late, early := uuid.New(), uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(late, 1, baseTime.Add(time.Minute), "A")))
	require.NoError(t, err)
	snap, _, err = Apply(snap, change(t, changestream.KindAdded, order(early, 1, baseTime, "B")))
	require.NoError(t, err)

	got := snap.Orders()
	require.Len(t, got, 2)
	assert.Equal(t, early, got[0].ID)
	assert.Equal(t, late, got[1].ID)
}

func TestDismissClearsOneBadge(t *testing.T) {
	id := uuid.New()
	snap, _, err := Apply(NewSnapshot(), change(t, changestream.KindAdded, order(id, 1, baseTime, "A", "B")))
	require.NoError(t, err)

	next, ok := Dismiss(snap, id, 1)
	require.True(t, ok)
	got, _ := next.Get(id)
	assert.Equal(t, []bool{true, false}, flags(got))
	assert.Equal(t, int64(1), got.Version)

	prior, _ := snap.Get(id)
	assert.Equal(t, []bool{true, true}, flags(prior))

	_, ok = Dismiss(snap, id, 5)
	assert.False(t, ok)
	_, ok = Dismiss(snap, uuid.New(), 0)
	assert.False(t, ok)
}

func TestSeedBadgesLatestBatch(t *testing.T) {
	merged := order(uuid.New(), 2, baseTime, "Tea", "Samosa")
	merged.RecentlyAdded = []string{"Samosa"}
	fresh := order(uuid.New(), 1, baseTime.Add(time.Minute), "Coffee")
	fresh.RecentlyAdded = []string{"Coffee"}
	mismatched := order(uuid.New(), 4, baseTime.Add(2*time.Minute), "Bun")
	mismatched.RecentlyAdded = []string{"Cake"}

	snap := Seed(NewSnapshot(), []models.Order{merged, fresh, mismatched})
	got := snap.Orders()
	require.Len(t, got, 3)
	assert.Equal(t, []bool{false, true}, flags(got[0]))
	assert.Equal(t, []bool{true}, flags(got[1]))
	assert.Equal(t, []bool{false}, flags(got[2]))
}
