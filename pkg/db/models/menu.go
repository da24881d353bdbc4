package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MenuCategory groups menu items. The id is derived from the name so repeated
// creation merges into the same row.
type MenuCategory struct {
	CafeID    uuid.UUID `gorm:"column:cafe_id;type:uuid;primaryKey" json:"cafe_id"`
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// MenuItem is addressed by (cafe_id, category_id, id); ids are unique within a
// category only.
type MenuItem struct {
	CafeID     uuid.UUID       `gorm:"column:cafe_id;type:uuid;primaryKey" json:"cafe_id"`
	CategoryID string          `gorm:"column:category_id;primaryKey" json:"category_id"`
	ID         string          `gorm:"column:id;primaryKey" json:"id"`
	Name       string          `gorm:"column:name;not null" json:"name"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Available  bool            `gorm:"column:available;not null;default:true" json:"available"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
