package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

// Order is one table's running tab for one customer session. At most one
// pending order exists per (cafe_id, session_id, table_no).
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CafeID        uuid.UUID         `gorm:"column:cafe_id;type:uuid;not null" json:"cafe_id"`
	SessionID     string            `gorm:"column:session_id;not null" json:"session_id"`
	TableNo       string            `gorm:"column:table_no;not null" json:"table_no"`
	CustomerName  string            `gorm:"column:customer_name;not null" json:"customer_name"`
	Items         types.LineItems   `gorm:"column:items;type:jsonb;serializer:json;not null" json:"items"`
	RecentlyAdded []string          `gorm:"column:recently_added;type:jsonb;serializer:json" json:"recently_added"`
	TotalAmount   decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null" json:"total_amount"`
	Status        enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'" json:"status"`
	Version       int64             `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt     time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

// OrderHistoryEntry is the immutable archive copy of a terminal order. Its id
// equals the live order id so re-archiving overwrites rather than duplicates.
type OrderHistoryEntry struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CafeID       uuid.UUID         `gorm:"column:cafe_id;type:uuid;not null" json:"cafe_id"`
	SessionID    string            `gorm:"column:session_id;not null" json:"session_id"`
	TableNo      string            `gorm:"column:table_no;not null" json:"table_no"`
	CustomerName string            `gorm:"column:customer_name;not null" json:"customer_name"`
	Items        types.LineItems   `gorm:"column:items;type:jsonb;serializer:json;not null" json:"items"`
	TotalAmount  decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null" json:"total_amount"`
	Status       enums.OrderStatus `gorm:"column:status;type:order_status;not null" json:"status"`
	CreatedAt    time.Time         `gorm:"column:created_at" json:"created_at"`
	FinalizedAt  time.Time         `gorm:"column:finalized_at" json:"finalized_at"`
}

func (OrderHistoryEntry) TableName() string { return "order_history" }

// Finalize builds the archive entry for the order at the given status.
func (o Order) Finalize(status enums.OrderStatus, at time.Time) OrderHistoryEntry {
	items := make(types.LineItems, len(o.Items))
	copy(items, o.Items)
	return OrderHistoryEntry{
		ID:           o.ID,
		CafeID:       o.CafeID,
		SessionID:    o.SessionID,
		TableNo:      o.TableNo,
		CustomerName: o.CustomerName,
		Items:        items,
		TotalAmount:  items.Total(),
		Status:       status,
		CreatedAt:    o.CreatedAt,
		FinalizedAt:  at,
	}
}
