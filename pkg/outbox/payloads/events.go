package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

// OrderPlacedEvent is emitted when a session opens a new pending order.
type OrderPlacedEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	CafeID       uuid.UUID       `json:"cafe_id"`
	SessionID    string          `json:"session_id"`
	TableNo      string          `json:"table_no"`
	CustomerName string          `json:"customer_name"`
	Items        types.LineItems `json:"items"`
	ItemCount    int             `json:"item_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// OrderItemsAddedEvent is emitted when items merge into an existing
// pending order.
type OrderItemsAddedEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	CafeID       uuid.UUID       `json:"cafe_id"`
	TableNo      string          `json:"table_no"`
	CustomerName string          `json:"customer_name"`
	AddedItems   types.LineItems `json:"added_items"`
	AddedCount   int             `json:"added_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Version      int64           `json:"version"`
}

// OrderFinalizedEvent is emitted when an order moves into history.
type OrderFinalizedEvent struct {
	OrderID      uuid.UUID         `json:"order_id"`
	CafeID       uuid.UUID         `json:"cafe_id"`
	SessionID    string            `json:"session_id"`
	TableNo      string            `json:"table_no"`
	CustomerName string            `json:"customer_name"`
	Status       enums.OrderStatus `json:"status"`
	Items        types.LineItems   `json:"items"`
	ItemCount    int               `json:"item_count"`
	TotalAmount  decimal.Decimal   `json:"total_amount"`
	CreatedAt    time.Time         `json:"created_at"`
	FinalizedAt  time.Time         `json:"finalized_at"`
}

// TrialExpiredEvent is emitted by the trial sweep.
type TrialExpiredEvent struct {
	CafeID      uuid.UUID `json:"cafe_id"`
	TrialEndsAt time.Time `json:"trial_ends_at"`
	ExpiredAt   time.Time `json:"expired_at"`
}
