package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ClassificationWork     = "WORK"
	ClassificationPersonal = "PERSONAL"
	ClassificationSpam     = "SPAM"
	ClassificationUnknown  = "UNKNOWN"
)

const (
	DocumentPending    = "PENDING"
	DocumentProcessing = "PROCESSING"
	DocumentClassified = "CLASSIFIED"
	DocumentConfirmed  = "CONFIRMED"
	DocumentRejected   = "REJECTED"
)

// Document is the canonical persisted record for one source item.
// (tenant_id, external_id) is unique; re-sync upserts by this key.
type Document struct {
	ID                       uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID                 uuid.UUID      `gorm:"type:uuid;not null;index:idx_document_tenant_sender;index:idx_document_tenant_embedded;index:idx_document_tenant_created;uniqueIndex:uq_document_tenant_external" json:"tenant_id"`
	Tenant                   *Tenant        `gorm:"constraint:OnDelete:CASCADE;foreignKey:TenantID;references:ID" json:"tenant,omitempty"`
	SourceType               string         `gorm:"column:source_type;not null" json:"source_type"`
	ExternalID               string         `gorm:"column:external_id;not null;uniqueIndex:uq_document_tenant_external" json:"external_id"`
	Title                    string         `gorm:"column:title" json:"title"`
	Content                  string         `gorm:"column:content;type:text" json:"content"`
	ContentSHA1              string         `gorm:"column:content_sha1;index" json:"content_sha1"`
	SourceCreatedAt          *time.Time     `gorm:"column:source_created_at" json:"source_created_at,omitempty"`
	SourceUpdatedAt          *time.Time     `gorm:"column:source_updated_at" json:"source_updated_at,omitempty"`
	Sender                   string         `gorm:"column:sender;index:idx_document_tenant_sender" json:"sender"`
	Classification           string         `gorm:"column:classification;not null;default:'UNKNOWN'" json:"classification"`
	ClassificationConfidence float64        `gorm:"column:classification_confidence;index" json:"classification_confidence"`
	Borderline               bool           `gorm:"column:borderline;not null;default:false" json:"borderline"`
	Status                   string         `gorm:"column:status;not null;default:'PENDING'" json:"status"`
	UserConfirmed            bool           `gorm:"column:user_confirmed;not null;default:false" json:"user_confirmed"`
	StructuredSummary        datatypes.JSON `gorm:"column:structured_summary;type:jsonb" json:"structured_summary,omitempty"`
	StructuredSummaryAt      *time.Time     `gorm:"column:structured_summary_at" json:"structured_summary_at,omitempty"`
	StructuredSummarySHA1    string         `gorm:"column:structured_summary_sha1" json:"structured_summary_sha1"`
	EmbeddingGenerated       bool           `gorm:"column:embedding_generated;not null;default:false" json:"embedding_generated"`
	EmbeddedAt               *time.Time     `gorm:"column:embedded_at;index:idx_document_tenant_embedded" json:"embedded_at,omitempty"`
	EmbeddedSHA1             string         `gorm:"column:embedded_sha1" json:"embedded_sha1"`
	ChunkCount               int            `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	IsDeleted                bool           `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	LastError                string         `gorm:"column:last_error" json:"last_error"`
	CreatedAt                time.Time      `gorm:"not null;default:now();index:idx_document_tenant_created" json:"created_at"`
	UpdatedAt                time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Document) TableName() string { return "document" }
