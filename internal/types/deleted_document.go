package types

import (
	"time"

	"github.com/google/uuid"
)

// DeletedDocument is a tombstone preventing resync of user-deleted items.
type DeletedDocument struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_deleted_document_tenant_external" json:"tenant_id"`
	ExternalID string    `gorm:"column:external_id;not null;uniqueIndex:uq_deleted_document_tenant_external" json:"external_id"`
	SourceType string    `gorm:"column:source_type" json:"source_type"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (DeletedDocument) TableName() string { return "deleted_document" }
