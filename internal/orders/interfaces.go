package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
)

// Repository defines persistence operations for the live order set and its
// archive.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPending(ctx context.Context, cafeID uuid.UUID, sessionID, tableNo string) (*models.Order, error)
	FindLive(ctx context.Context, cafeID, orderID uuid.UUID) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	UpdatePending(ctx context.Context, order *models.Order, expectedVersion int64) (bool, error)
	DeleteLive(ctx context.Context, cafeID, orderID uuid.UUID) error
	ListLive(ctx context.Context, cafeID uuid.UUID) ([]models.Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindHistory(ctx context.Context, cafeID, orderID uuid.UUID) (*models.OrderHistoryEntry, error)
	UpsertHistory(ctx context.Context, entry *models.OrderHistoryEntry) error
}

// CafeLookup loads the tenant inside the write transaction.
type CafeLookup interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Cafe, error)
}
