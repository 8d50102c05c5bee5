package types

import (
	"time"

	"github.com/google/uuid"
)

// Video rows are written for downstream media consumers; this service only
// records them, it never renders.
type Video struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	GapID      *uuid.UUID `gorm:"type:uuid;index" json:"gap_id,omitempty"`
	Title      string     `gorm:"column:title" json:"title"`
	Status     string     `gorm:"column:status;not null;default:'pending'" json:"status"`
	StorageKey string     `gorm:"column:storage_key" json:"storage_key"`
	CreatedAt  time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Video) TableName() string { return "video" }
