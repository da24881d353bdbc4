package history

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/pagination"
)

// Repository reads the order archive. There is no write path here; the
// status machine owns archive writes.
type Repository interface {
	List(ctx context.Context, params listParams) ([]models.OrderHistoryEntry, *pagination.Cursor, error)
	Recent(ctx context.Context, cafeID uuid.UUID, limit int) ([]models.OrderHistoryEntry, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type listParams struct {
	CafeID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

func (r *repository) List(ctx context.Context, params listParams) ([]models.OrderHistoryEntry, *pagination.Cursor, error) {
	var rows []models.OrderHistoryEntry
	err := r.db.WithContext(ctx).
		Where("cafe_id = ?", params.CafeID).
		Scopes(pagination.Keyset("finalized_at", params.Cursor, params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, params.Limit, func(e models.OrderHistoryEntry) pagination.Cursor {
		return pagination.Cursor{At: e.FinalizedAt, ID: e.ID}
	})
	return page, next, nil
}

// Recent returns up to limit entries, most recently finalized first.
func (r *repository) Recent(ctx context.Context, cafeID uuid.UUID, limit int) ([]models.OrderHistoryEntry, error) {
	var rows []models.OrderHistoryEntry
	err := r.db.WithContext(ctx).
		Where("cafe_id = ?", cafeID).
		Order("finalized_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
