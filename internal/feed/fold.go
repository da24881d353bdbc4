// Package feed keeps a dashboard's view of the live order set in step with
// the change stream and derives the owner-facing notices.
package feed

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

type NoticeKind string

const (
	NoticeNewOrder   NoticeKind = "new_order"
	NoticeItemsAdded NoticeKind = "items_added"
)

// Notice is a human-relevant event derived from one change.
type Notice struct {
	Kind         NoticeKind `json:"kind"`
	OrderID      uuid.UUID  `json:"order_id"`
	TableNo      string     `json:"table_no"`
	CustomerName string     `json:"customer_name"`
	ItemCount    int        `json:"item_count"`
}

// Item is a line item plus its presentational badge.
type Item struct {
	types.LineItem
	IsNew bool `json:"is_new"`
}

// Order is the dashboard projection of a live order.
type Order struct {
	ID           uuid.UUID         `json:"id"`
	CafeID       uuid.UUID         `json:"cafe_id"`
	TableNo      string            `json:"table_no"`
	CustomerName string            `json:"customer_name"`
	Items        []Item            `json:"items"`
	TotalAmount  decimal.Decimal   `json:"total_amount"`
	Status       enums.OrderStatus `json:"status"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Snapshot is the set of live orders known to one subscription. Apply and
// Dismiss return new snapshots and never mutate their input.
//
// removed keeps the version each order left the feed at. Order ids are never
// reused once finalized, so a late change at or below that version is dropped
// instead of bringing the order back.
type Snapshot struct {
	orders  map[uuid.UUID]Order
	removed map[uuid.UUID]int64
}

func NewSnapshot() Snapshot {
	return Snapshot{orders: map[uuid.UUID]Order{}, removed: map[uuid.UUID]int64{}}
}

func (s Snapshot) Len() int { return len(s.orders) }

func (s Snapshot) Get(id uuid.UUID) (Order, bool) {
	order, ok := s.orders[id]
	return order, ok
}

// Orders lists the snapshot oldest first.
func (s Snapshot) Orders() []Order {
	out := make([]Order, 0, len(s.orders))
	for _, order := range s.orders {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s Snapshot) with(order Order) Snapshot {
	next := make(map[uuid.UUID]Order, len(s.orders)+1)
	for id, existing := range s.orders {
		next[id] = existing
	}
	next[order.ID] = order
	return Snapshot{orders: next, removed: s.removed}
}

// without drops id and records version as its tombstone.
func (s Snapshot) without(id uuid.UUID, version int64) Snapshot {
	next := make(map[uuid.UUID]Order, len(s.orders))
	for key, existing := range s.orders {
		if key != id {
			next[key] = existing
		}
	}
	removed := make(map[uuid.UUID]int64, len(s.removed)+1)
	for key, v := range s.removed {
		removed[key] = v
	}
	if version > removed[id] {
		removed[id] = version
	}
	return Snapshot{orders: next, removed: removed}
}

func (s Snapshot) buried(id uuid.UUID, version int64) bool {
	at, ok := s.removed[id]
	return ok && version <= at
}

// Seed loads orders read from storage without producing notices. Only the
// latest submitted batch of each order is badged.
func Seed(prev Snapshot, orders []models.Order) Snapshot {
	next := prev
	for _, order := range orders {
		if order.Status != enums.OrderStatusPending {
			continue
		}
		if known, ok := next.orders[order.ID]; ok && known.Version >= order.Version {
			continue
		}
		if next.buried(order.ID, order.Version) {
			continue
		}
		next = next.with(project(order, markTrailing(order.Items, order.RecentlyAdded)))
	}
	return next
}

// Apply folds one orders-topic change into the snapshot. Changes at or below
// the version already held, or at or below the version an order was removed
// at, are dropped so redelivery never re-badges items or revives an order.
func Apply(prev Snapshot, change changestream.Change) (Snapshot, []Notice, error) {
	if change.Topic != changestream.TopicOrders {
		return prev, nil, nil
	}

	if change.Kind == changestream.KindRemoved {
		known, ok := prev.orders[change.EntityID]
		if ok && change.Version > 0 && change.Version <= known.Version {
			return prev, nil, nil
		}
		if !ok && prev.buried(change.EntityID, change.Version) {
			return prev, nil, nil
		}
		at := change.Version
		if at <= 0 {
			at = known.Version + 1
		}
		// A removal can overtake the add it follows; the tombstone still
		// applies when that add arrives.
		return prev.without(change.EntityID, at), nil, nil
	}

	var order models.Order
	if err := change.Decode(&order); err != nil {
		return prev, nil, err
	}
	if order.ID == uuid.Nil {
		order.ID = change.EntityID
	}

	if prev.buried(order.ID, order.Version) {
		return prev, nil, nil
	}
	known, ok := prev.orders[order.ID]
	if ok && order.Version <= known.Version {
		return prev, nil, nil
	}
	if order.Status != enums.OrderStatusPending {
		return prev.without(order.ID, order.Version), nil, nil
	}

	if !ok {
		flags := make([]bool, len(order.Items))
		for i := range flags {
			flags[i] = true
		}
		notice := Notice{
			Kind:         NoticeNewOrder,
			OrderID:      order.ID,
			TableNo:      order.TableNo,
			CustomerName: order.CustomerName,
			ItemCount:    len(order.Items),
		}
		return prev.with(project(order, flags)), []Notice{notice}, nil
	}

	flags, added := diffNames(known.Items, order.Items)
	next := prev.with(project(order, flags))
	if added == 0 {
		return next, nil, nil
	}
	return next, []Notice{{
		Kind:         NoticeItemsAdded,
		OrderID:      order.ID,
		TableNo:      order.TableNo,
		CustomerName: order.CustomerName,
		ItemCount:    added,
	}}, nil
}

// Dismiss clears one badge. It reports false when the order or index is
// unknown.
func Dismiss(prev Snapshot, orderID uuid.UUID, index int) (Snapshot, bool) {
	order, ok := prev.orders[orderID]
	if !ok || index < 0 || index >= len(order.Items) {
		return prev, false
	}
	items := make([]Item, len(order.Items))
	copy(items, order.Items)
	items[index].IsNew = false
	order.Items = items
	return prev.with(order), true
}

// diffNames badges each new item whose name occurs more often than in the
// previous list.
func diffNames(previous []Item, current types.LineItems) ([]bool, int) {
	seen := make(map[string]int, len(previous))
	for _, item := range previous {
		seen[item.Name]++
	}
	flags := make([]bool, len(current))
	added := 0
	for i, item := range current {
		if seen[item.Name] > 0 {
			seen[item.Name]--
			continue
		}
		flags[i] = true
		added++
	}
	return flags, added
}

func markTrailing(items types.LineItems, recent []string) []bool {
	flags := make([]bool, len(items))
	if len(recent) == 0 || len(recent) > len(items) {
		return flags
	}
	offset := len(items) - len(recent)
	for i, name := range recent {
		if items[offset+i].Name != name {
			return make([]bool, len(items))
		}
	}
	for i := offset; i < len(items); i++ {
		flags[i] = true
	}
	return flags
}

func project(order models.Order, flags []bool) Order {
	items := make([]Item, len(order.Items))
	for i, item := range order.Items {
		items[i] = Item{LineItem: item, IsNew: i < len(flags) && flags[i]}
	}
	return Order{
		ID:           order.ID,
		CafeID:       order.CafeID,
		TableNo:      order.TableNo,
		CustomerName: order.CustomerName,
		Items:        items,
		TotalAmount:  order.TotalAmount,
		Status:       order.Status,
		Version:      order.Version,
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
}
