package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/enums"
)

// Notification stores in-app alerts for a cafe owner.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CafeID    uuid.UUID              `gorm:"column:cafe_id;type:uuid;not null" json:"cafe_id"`
	OrderID   *uuid.UUID             `gorm:"column:order_id;type:uuid" json:"order_id,omitempty"`
	Type      enums.NotificationType `gorm:"column:type;type:notification_type;not null" json:"type"`
	Title     string                 `gorm:"column:title;type:text;not null" json:"title"`
	Message   string                 `gorm:"column:message;type:text;not null" json:"message"`
	ReadAt    *time.Time             `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
