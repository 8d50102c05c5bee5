package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	GapCategoryDecision     = "DECISION"
	GapCategoryTechnical    = "TECHNICAL"
	GapCategoryProcess      = "PROCESS"
	GapCategoryContext      = "CONTEXT"
	GapCategoryRelationship = "RELATIONSHIP"
	GapCategoryTimeline     = "TIMELINE"
	GapCategoryOutcome      = "OUTCOME"
	GapCategoryRationale    = "RATIONALE"
)

const (
	GapOpen       = "OPEN"
	GapInProgress = "IN_PROGRESS"
	GapAnswered   = "ANSWERED"
	GapVerified   = "VERIFIED"
)

// KnowledgeGap is a tenant-scoped record of missing knowledge.
// Questions holds an ordered JSON list of {text, answered, answer_id};
// Status is ANSWERED iff every question slot is answered.
type KnowledgeGap struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Tenant      *Tenant        `gorm:"constraint:OnDelete:CASCADE;foreignKey:TenantID;references:ID" json:"tenant,omitempty"`
	ProjectID   *uuid.UUID     `gorm:"type:uuid;index" json:"project_id,omitempty"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	Category    string         `gorm:"column:category;not null;default:'CONTEXT'" json:"category"`
	Priority    int            `gorm:"column:priority;not null;default:3" json:"priority"`
	Status      string         `gorm:"column:status;not null;default:'OPEN'" json:"status"`
	Questions   datatypes.JSON `gorm:"column:questions;type:jsonb" json:"questions"`
	Context     datatypes.JSON `gorm:"column:context;type:jsonb" json:"context"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeGap) TableName() string { return "knowledge_gap" }

// GapQuestion is the single question row shape shared by every analyzer.
type GapQuestion struct {
	Text     string     `json:"text"`
	Answered bool       `json:"answered"`
	AnswerID *uuid.UUID `json:"answer_id,omitempty"`
}
