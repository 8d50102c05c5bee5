package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ConnectorDisconnected = "DISCONNECTED"
	ConnectorConnecting   = "CONNECTING"
	ConnectorConnected    = "CONNECTED"
	ConnectorSyncing      = "SYNCING"
	ConnectorError        = "ERROR"
)

// Connector persists one source integration per (tenant, type).
// Credentials are opaque ciphertext; Settings are type-specific JSON.
type Connector struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID       uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:uq_connector_tenant_type" json:"tenant_id"`
	Tenant         *Tenant        `gorm:"constraint:OnDelete:CASCADE;foreignKey:TenantID;references:ID" json:"tenant,omitempty"`
	Type           string         `gorm:"column:type;not null;uniqueIndex:uq_connector_tenant_type" json:"type"`
	Credentials    []byte         `gorm:"column:credentials" json:"-"`
	Settings       datatypes.JSON `gorm:"column:settings;type:jsonb" json:"settings"`
	Status         string         `gorm:"column:status;not null;default:'DISCONNECTED'" json:"status"`
	LastSyncCursor string         `gorm:"column:last_sync_cursor" json:"last_sync_cursor"`
	LastSyncAt     *time.Time     `gorm:"column:last_sync_at" json:"last_sync_at,omitempty"`
	LastError      string         `gorm:"column:last_error" json:"last_error"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Connector) TableName() string { return "connector" }
