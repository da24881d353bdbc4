package cafes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tablesync-backend/internal/repo"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
)

// Repository handles cafe persistence.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByID loads a cafe; tx may be nil.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Cafe, error) {
	var cafe models.Cafe
	if err := r.Conn(ctx, tx).Where("id = ?", id).First(&cafe).Error; err != nil {
		return nil, err
	}
	return &cafe, nil
}

func (r *Repository) Create(ctx context.Context, tx *gorm.DB, cafe *models.Cafe) error {
	return r.Conn(ctx, tx).Create(cafe).Error
}

// UpdateProfile changes the owner-editable columns only.
func (r *Repository) UpdateProfile(ctx context.Context, tx *gorm.DB, cafe *models.Cafe) error {
	return r.Conn(ctx, tx).Model(&models.Cafe{}).
		Where("id = ?", cafe.ID).
		Updates(map[string]any{
			"name":         cafe.Name,
			"service_mode": cafe.ServiceMode,
			"updated_at":   cafe.UpdatedAt,
		}).Error
}

// ExpireTrial flips a lapsed trial to expired. It returns false when another
// writer already did.
func (r *Repository) ExpireTrial(ctx context.Context, tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	res := r.Conn(ctx, tx).Model(&models.Cafe{}).
		Where("id = ? AND trial_active AND NOT trial_expired AND trial_ends_at <= ?", id, now).
		Updates(map[string]any{
			"trial_active":  false,
			"trial_expired": true,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListTrialsDue returns cafes whose trial ended at or before now.
func (r *Repository) ListTrialsDue(ctx context.Context, now time.Time, limit int) ([]models.Cafe, error) {
	var rows []models.Cafe
	err := r.DB(ctx).
		Where("trial_active AND NOT trial_expired AND trial_ends_at <= ?", now).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "trial_ends_at"}}).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
