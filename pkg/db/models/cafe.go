package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/enums"
)

// Cafe is the tenant root. Its id is the owner's principal id issued by the
// identity provider.
type Cafe struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name           string            `gorm:"column:name;not null" json:"name"`
	ServiceMode    enums.ServiceMode `gorm:"column:service_mode;type:service_mode;not null;default:'menu+order'" json:"service_mode"`
	Activated      bool              `gorm:"column:activated;not null;default:false" json:"activated"`
	TrialStartedAt *time.Time        `gorm:"column:trial_started_at" json:"trial_started_at"`
	TrialEndsAt    *time.Time        `gorm:"column:trial_ends_at" json:"trial_ends_at"`
	TrialActive    bool              `gorm:"column:trial_active;not null;default:false" json:"trial_active"`
	TrialExpired   bool              `gorm:"column:trial_expired;not null;default:false" json:"trial_expired"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Cafe) TableName() string { return "cafes" }

// TrialLapsed reports whether an active trial has passed its end at now.
func (c Cafe) TrialLapsed(now time.Time) bool {
	return c.TrialActive && !c.TrialExpired && c.TrialEndsAt != nil && !now.Before(*c.TrialEndsAt)
}

// OrderingEnabled reports whether customers may place orders at now.
func (c Cafe) OrderingEnabled(now time.Time) bool {
	if !c.ServiceMode.AllowsOrdering() {
		return false
	}
	if c.Activated {
		return true
	}
	return c.TrialActive && !c.TrialExpired && !c.TrialLapsed(now)
}
