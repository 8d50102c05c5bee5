package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	PlanFree         = "FREE"
	PlanStarter      = "STARTER"
	PlanProfessional = "PROFESSIONAL"
	PlanEnterprise   = "ENTERPRISE"
)

type Tenant struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Slug      string    `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Name      string    `gorm:"column:name" json:"name"`
	Plan      string    `gorm:"column:plan;not null;default:'FREE'" json:"plan"`
	DataDir   string    `gorm:"column:data_dir" json:"data_dir"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenant" }
