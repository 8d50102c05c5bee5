package types

import (
	"time"

	"github.com/google/uuid"
)

type GapAnswer struct {
	ID                      uuid.UUID     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GapID                   uuid.UUID     `gorm:"type:uuid;not null;index" json:"gap_id"`
	Gap                     *KnowledgeGap `gorm:"constraint:OnDelete:CASCADE;foreignKey:GapID;references:ID" json:"gap,omitempty"`
	TenantID                uuid.UUID     `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID                  uuid.UUID     `gorm:"type:uuid;not null" json:"user_id"`
	QuestionIndex           int           `gorm:"column:question_index;not null" json:"question_index"`
	QuestionText            string        `gorm:"column:question_text;type:text" json:"question_text"`
	AnswerText              string        `gorm:"column:answer_text;type:text" json:"answer_text"`
	IsVoice                 bool          `gorm:"column:is_voice;not null;default:false" json:"is_voice"`
	TranscriptionConfidence *float64      `gorm:"column:transcription_confidence" json:"transcription_confidence,omitempty"`
	CreatedAt               time.Time     `gorm:"not null;default:now()" json:"created_at"`
}

func (GapAnswer) TableName() string { return "gap_answer" }
