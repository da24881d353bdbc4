package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/pagination"
)

// markOutcome distinguishes a fresh read from a repeat or a miss so the
// inbox can treat repeats as success.
type markOutcome int

const (
	markNotFound markOutcome = iota
	markAlreadyRead
	markRead
)

type inboxQuery struct {
	CafeID     uuid.UUID
	Limit      int
	After      *pagination.Cursor
	UnreadOnly bool
}

// Repository persists owner notifications. Every read and write is scoped
// by cafe id.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) error
	Page(ctx context.Context, q inboxQuery) ([]models.Notification, *pagination.Cursor, error)
	UnreadCount(ctx context.Context, cafeID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, cafeID, notificationID uuid.UUID, at time.Time) (markOutcome, error)
	MarkAllRead(ctx context.Context, cafeID uuid.UUID, at time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) inbox(ctx context.Context, cafeID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("cafe_id = ?", cafeID)
}

func (r *gormRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(n).Error
}

// Page returns newest first. The cursor names the first row of the next
// page, so the seek condition is inclusive on id.
func (r *gormRepository) Page(ctx context.Context, q inboxQuery) ([]models.Notification, *pagination.Cursor, error) {
	tx := r.inbox(ctx, q.CafeID)
	if q.UnreadOnly {
		tx = tx.Where("read_at IS NULL")
	}
	var rows []models.Notification
	err := tx.Scopes(pagination.Keyset("created_at", q.After, q.Limit)).Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, q.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{At: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *gormRepository) UnreadCount(ctx context.Context, cafeID uuid.UUID) (int64, error) {
	var n int64
	err := r.inbox(ctx, cafeID).Where("read_at IS NULL").Count(&n).Error
	return n, err
}

func (r *gormRepository) MarkRead(ctx context.Context, cafeID, notificationID uuid.UUID, at time.Time) (markOutcome, error) {
	res := r.inbox(ctx, cafeID).
		Where("id = ? AND read_at IS NULL", notificationID).
		UpdateColumn("read_at", at)
	if res.Error != nil {
		return markNotFound, res.Error
	}
	if res.RowsAffected > 0 {
		return markRead, nil
	}

	var n int64
	if err := r.inbox(ctx, cafeID).Where("id = ?", notificationID).Count(&n).Error; err != nil {
		return markNotFound, err
	}
	if n == 0 {
		return markNotFound, nil
	}
	return markAlreadyRead, nil
}

func (r *gormRepository) MarkAllRead(ctx context.Context, cafeID uuid.UUID, at time.Time) (int64, error) {
	res := r.inbox(ctx, cafeID).Where("read_at IS NULL").UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}

// DeleteOlderThan removes read notifications created before cutoff across
// all cafes. Unread alerts are kept regardless of age.
func (r *gormRepository) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).
		Where("read_at IS NOT NULL AND created_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
