package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindPending(ctx context.Context, cafeID uuid.UUID, sessionID, tableNo string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("cafe_id = ? AND session_id = ? AND table_no = ? AND status = ?",
			cafeID, sessionID, tableNo, enums.OrderStatusPending).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindLive(ctx context.Context, cafeID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("cafe_id = ? AND id = ?", cafeID, orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// UpdatePending writes the merged order only if nobody else bumped the
// version since it was read.
func (r *repository) UpdatePending(ctx context.Context, order *models.Order, expectedVersion int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND version = ?", order.ID, enums.OrderStatusPending, expectedVersion).
		Select("items", "recently_added", "total_amount", "customer_name", "version", "updated_at").
		UpdateColumns(order)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteLive(ctx context.Context, cafeID, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cafe_id = ? AND id = ?", cafeID, orderID).
		Delete(&models.Order{}).Error
}

// ListLive returns the open orders oldest first.
func (r *repository) ListLive(ctx context.Context, cafeID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("cafe_id = ? AND status = ?", cafeID, enums.OrderStatusPending).
		Order("created_at ASC").Order("id ASC").
		Find(&orders).Error
	return orders, err
}

// ListPendingBefore returns pending orders not touched since cutoff.
func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	q := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.OrderStatusPending, cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&orders).Error
	return orders, err
}

func (r *repository) FindHistory(ctx context.Context, cafeID, orderID uuid.UUID) (*models.OrderHistoryEntry, error) {
	var entry models.OrderHistoryEntry
	err := r.db.WithContext(ctx).
		Where("cafe_id = ? AND id = ?", cafeID, orderID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpsertHistory overwrites an existing archive row with the same id.
func (r *repository) UpsertHistory(ctx context.Context, entry *models.OrderHistoryEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(entry).Error
}
