package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
)

type menuRepository interface {
	EnsureCategory(ctx context.Context, tx *gorm.DB, category *models.MenuCategory) error
	FindItem(ctx context.Context, tx *gorm.DB, cafeID uuid.UUID, categoryID, itemID string) (*models.MenuItem, error)
	CreateItem(ctx context.Context, tx *gorm.DB, item *models.MenuItem) error
	SaveItem(ctx context.Context, tx *gorm.DB, item *models.MenuItem) error
	DeleteItem(ctx context.Context, cafeID uuid.UUID, categoryID, itemID string) (bool, error)
	ListCategories(ctx context.Context, cafeID uuid.UUID) ([]models.MenuCategory, error)
	ListItems(ctx context.Context, cafeID uuid.UUID) ([]models.MenuItem, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cafeRefresher interface {
	RefreshTrial(ctx context.Context, cafeID uuid.UUID) (*models.Cafe, error)
}

// ItemInput describes a new menu item.
type ItemInput struct {
	Category  string
	Name      string
	Price     decimal.Decimal
	Available *bool
}

// ItemUpdate carries the fields an owner may change; nil fields are kept.
type ItemUpdate struct {
	Name      *string
	Price     *decimal.Decimal
	Available *bool
}

type Category struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Items []models.MenuItem `json:"items"`
}

type Menu struct {
	CafeID     uuid.UUID  `json:"cafe_id"`
	Categories []Category `json:"categories"`
}

// PublicMenu is what a customer sees after scanning a table code.
type PublicMenu struct {
	Cafe            *models.Cafe `json:"cafe"`
	OrderingEnabled bool         `json:"ordering_enabled"`
	Menu            Menu         `json:"menu"`
}

type Service interface {
	AddItem(ctx context.Context, cafeID uuid.UUID, input ItemInput) (*models.MenuItem, error)
	UpdateItem(ctx context.Context, cafeID uuid.UUID, categoryID, itemID string, update ItemUpdate) (*models.MenuItem, error)
	DeleteItem(ctx context.Context, cafeID uuid.UUID, categoryID, itemID string) error
	GetMenu(ctx context.Context, cafeID uuid.UUID) (Menu, error)
	GetPublicMenu(ctx context.Context, cafeID uuid.UUID) (*PublicMenu, error)
}

type service struct {
	repo  menuRepository
	tx    txRunner
	cafes cafeRefresher
	now   func() time.Time
}

func NewService(repo menuRepository, tx txRunner, cafes cafeRefresher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("menu repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cafes == nil {
		return nil, fmt.Errorf("cafe service required")
	}
	return &service{
		repo:  repo,
		tx:    tx,
		cafes: cafes,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) AddItem(ctx context.Context, cafeID uuid.UUID, input ItemInput) (*models.MenuItem, error) {
	categoryName := strings.TrimSpace(input.Category)
	name := strings.TrimSpace(input.Name)
	categoryID := DeriveID(categoryName)
	itemID := DeriveID(name)
	if categoryID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category name required")
	}
	if itemID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item name required")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
	}
	available := true
	if input.Available != nil {
		available = *input.Available
	}

	now := s.now()
	item := &models.MenuItem{
		CafeID:     cafeID,
		CategoryID: categoryID,
		ID:         itemID,
		Name:       name,
		Price:      input.Price,
		Available:  available,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.EnsureCategory(ctx, tx, &models.MenuCategory{
			CafeID:    cafeID,
			ID:        categoryID,
			Name:      categoryName,
			CreatedAt: now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure category")
		}

		_, err := s.repo.FindItem(ctx, tx, cafeID, categoryID, itemID)
		switch {
		case err == nil:
			return pkgerrors.New(pkgerrors.CodeConflict, "item already exists in category")
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load menu item")
		}

		if err := s.repo.CreateItem(ctx, tx, item); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "item already exists in category")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create menu item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *service) UpdateItem(ctx context.Context, cafeID uuid.UUID, categoryID, itemID string, update ItemUpdate) (*models.MenuItem, error) {
	var result *models.MenuItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		item, err := s.repo.FindItem(ctx, tx, cafeID, categoryID, itemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "menu item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load menu item")
		}

		if update.Name != nil {
			name := strings.TrimSpace(*update.Name)
			if name == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "item name required")
			}
			item.Name = name
		}
		if update.Price != nil {
			if update.Price.IsNegative() {
				return pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
			}
			item.Price = *update.Price
		}
		if update.Available != nil {
			item.Available = *update.Available
		}
		item.UpdatedAt = s.now()

		if err := s.repo.SaveItem(ctx, tx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update menu item")
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) DeleteItem(ctx context.Context, cafeID uuid.UUID, categoryID, itemID string) error {
	deleted, err := s.repo.DeleteItem(ctx, cafeID, categoryID, itemID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete menu item")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "menu item not found")
	}
	return nil
}

// GetMenu groups items under their categories, both in creation order.
func (s *service) GetMenu(ctx context.Context, cafeID uuid.UUID) (Menu, error) {
	categories, err := s.repo.ListCategories(ctx, cafeID)
	if err != nil {
		return Menu{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list categories")
	}
	items, err := s.repo.ListItems(ctx, cafeID)
	if err != nil {
		return Menu{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list menu items")
	}

	byCategory := make(map[string][]models.MenuItem, len(categories))
	for _, item := range items {
		byCategory[item.CategoryID] = append(byCategory[item.CategoryID], item)
	}

	menu := Menu{CafeID: cafeID, Categories: make([]Category, 0, len(categories))}
	for _, category := range categories {
		grouped := byCategory[category.ID]
		if grouped == nil {
			grouped = []models.MenuItem{}
		}
		menu.Categories = append(menu.Categories, Category{
			ID:    category.ID,
			Name:  category.Name,
			Items: grouped,
		})
	}
	return menu, nil
}

// GetPublicMenu runs the trial check before serving the menu so the ordering
// flag reflects the current trial state.
func (s *service) GetPublicMenu(ctx context.Context, cafeID uuid.UUID) (*PublicMenu, error) {
	cafe, err := s.cafes.RefreshTrial(ctx, cafeID)
	if err != nil {
		return nil, err
	}
	menu, err := s.GetMenu(ctx, cafeID)
	if err != nil {
		return nil, err
	}
	return &PublicMenu{
		Cafe:            cafe,
		OrderingEnabled: cafe.OrderingEnabled(s.now()),
		Menu:            menu,
	}, nil
}
