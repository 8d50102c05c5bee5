package repos

import (
  "context"
  "encoding/json"
  "errors"
  "fmt"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
  "github.com/loomwell/handover-backend/internal/logger"
  "github.com/loomwell/handover-backend/internal/types"
)

type GapAnswerRepo interface {
  // RecordAnswer appends an answer and flips the question's answered slot in
  // one transaction. When the last open question flips, the parent gap
  // becomes ANSWERED.
  RecordAnswer(ctx context.Context, gapID uuid.UUID, tenantID uuid.UUID, answer *types.GapAnswer) (*types.GapAnswer, *types.KnowledgeGap, error)
  ListByGap(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, gapID uuid.UUID) ([]*types.GapAnswer, error)
  ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.GapAnswer, error)
}

type gapAnswerRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewGapAnswerRepo(db *gorm.DB, baseLog *logger.Logger) GapAnswerRepo {
  repoLog := baseLog.With("repo", "GapAnswerRepo")
  return &gapAnswerRepo{db: db, log: repoLog}
}

func (r *gapAnswerRepo) RecordAnswer(ctx context.Context, gapID uuid.UUID, tenantID uuid.UUID, answer *types.GapAnswer) (*types.GapAnswer, *types.KnowledgeGap, error) {
  if tenantID == uuid.Nil {
    return nil, nil, apperr.ErrInvalidArgument
  }

  var gap types.KnowledgeGap
  err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if err := tx.Where("tenant_id = ? AND id = ?", tenantID, gapID).First(&gap).Error; err != nil {
      if errors.Is(err, gorm.ErrRecordNotFound) {
        return apperr.ErrNotFound
      }
      return err
    }

    var questions []types.GapQuestion
    if len(gap.Questions) > 0 {
      if err := json.Unmarshal(gap.Questions, &questions); err != nil {
        return fmt.Errorf("decode gap questions: %w", err)
      }
    }
    if answer.QuestionIndex < 0 || answer.QuestionIndex >= len(questions) {
      return fmt.Errorf("question_index %d out of range (%d questions): %w",
        answer.QuestionIndex, len(questions), apperr.ErrInvalidArgument)
    }

    answer.GapID = gapID
    answer.TenantID = tenantID
    if answer.QuestionText == "" {
      answer.QuestionText = questions[answer.QuestionIndex].Text
    }
    if err := tx.Create(answer).Error; err != nil {
      return err
    }

    questions[answer.QuestionIndex].Answered = true
    questions[answer.QuestionIndex].AnswerID = &answer.ID

    allAnswered := true
    for _, q := range questions {
      if !q.Answered {
        allAnswered = false
        break
      }
    }

    raw, err := json.Marshal(questions)
    if err != nil {
      return err
    }
    updates := map[string]interface{}{
      "questions":  datatypes.JSON(raw),
      "updated_at": time.Now(),
    }
    if allAnswered {
      updates["status"] = types.GapAnswered
    } else if gap.Status == types.GapOpen {
      updates["status"] = types.GapInProgress
    }
    if err := tx.Model(&types.KnowledgeGap{}).
      Where("tenant_id = ? AND id = ?", tenantID, gapID).
      Updates(updates).Error; err != nil {
      return err
    }

    gap.Questions = datatypes.JSON(raw)
    if allAnswered {
      gap.Status = types.GapAnswered
    } else if gap.Status == types.GapOpen {
      gap.Status = types.GapInProgress
    }
    return nil
  })
  if err != nil {
    return nil, nil, err
  }
  return answer, &gap, nil
}

func (r *gapAnswerRepo) ListByGap(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, gapID uuid.UUID) ([]*types.GapAnswer, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.GapAnswer
  if err := transaction.WithContext(ctx).
    Where("tenant_id = ? AND gap_id = ?", tenantID, gapID).
    Order("question_index ASC, created_at ASC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *gapAnswerRepo) ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.GapAnswer, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.GapAnswer
  if err := transaction.WithContext(ctx).
    Where("tenant_id = ?", tenantID).
    Order("created_at ASC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}
