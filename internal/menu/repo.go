package menu

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tablesync-backend/internal/repo"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
)

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// EnsureCategory inserts the category unless a row with the same derived id
// already exists.
func (r *Repository) EnsureCategory(ctx context.Context, tx *gorm.DB, category *models.MenuCategory) error {
	return r.Conn(ctx, tx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cafe_id"}, {Name: "id"}},
			DoNothing: true,
		}).
		Create(category).Error
}

func (r *Repository) FindItem(ctx context.Context, tx *gorm.DB, cafeID uuid.UUID, categoryID, itemID string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := r.Conn(ctx, tx).
		Where("cafe_id = ? AND category_id = ? AND id = ?", cafeID, categoryID, itemID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) CreateItem(ctx context.Context, tx *gorm.DB, item *models.MenuItem) error {
	return r.Conn(ctx, tx).Create(item).Error
}

func (r *Repository) SaveItem(ctx context.Context, tx *gorm.DB, item *models.MenuItem) error {
	return r.Conn(ctx, tx).Model(&models.MenuItem{}).
		Where("cafe_id = ? AND category_id = ? AND id = ?", item.CafeID, item.CategoryID, item.ID).
		Updates(map[string]any{
			"name":       item.Name,
			"price":      item.Price,
			"available":  item.Available,
			"updated_at": item.UpdatedAt,
		}).Error
}

// DeleteItem reports whether a row was removed.
func (r *Repository) DeleteItem(ctx context.Context, cafeID uuid.UUID, categoryID, itemID string) (bool, error) {
	res := r.DB(ctx).
		Where("cafe_id = ? AND category_id = ? AND id = ?", cafeID, categoryID, itemID).
		Delete(&models.MenuItem{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) ListCategories(ctx context.Context, cafeID uuid.UUID) ([]models.MenuCategory, error) {
	var rows []models.MenuCategory
	err := r.DB(ctx).
		Where("cafe_id = ?", cafeID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListItems(ctx context.Context, cafeID uuid.UUID) ([]models.MenuItem, error) {
	var rows []models.MenuItem
	err := r.DB(ctx).
		Where("cafe_id = ?", cafeID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}
