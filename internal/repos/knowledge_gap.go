package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
  "github.com/loomwell/handover-backend/internal/logger"
  "github.com/loomwell/handover-backend/internal/types"
)

type KnowledgeGapRepo interface {
  Create(ctx context.Context, tx *gorm.DB, gap *types.KnowledgeGap) (*types.KnowledgeGap, error)
  CreateBatch(ctx context.Context, tx *gorm.DB, gaps []*types.KnowledgeGap) ([]*types.KnowledgeGap, error)
  GetByID(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, id uuid.UUID) (*types.KnowledgeGap, error)
  ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, status string) ([]*types.KnowledgeGap, error)
  UpdateStatus(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, id uuid.UUID, status string) error
  Save(ctx context.Context, tx *gorm.DB, gap *types.KnowledgeGap) error
}

type knowledgeGapRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewKnowledgeGapRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeGapRepo {
  repoLog := baseLog.With("repo", "KnowledgeGapRepo")
  return &knowledgeGapRepo{db: db, log: repoLog}
}

func (r *knowledgeGapRepo) Create(ctx context.Context, tx *gorm.DB, gap *types.KnowledgeGap) (*types.KnowledgeGap, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if err := transaction.WithContext(ctx).Create(gap).Error; err != nil {
    return nil, err
  }
  return gap, nil
}

func (r *knowledgeGapRepo) CreateBatch(ctx context.Context, tx *gorm.DB, gaps []*types.KnowledgeGap) ([]*types.KnowledgeGap, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(gaps) == 0 {
    return []*types.KnowledgeGap{}, nil
  }

  // Keep batches small because Context is large
  const batchSize = 50

  if err := transaction.WithContext(ctx).CreateInBatches(gaps, batchSize).Error; err != nil {
    return nil, err
  }
  return gaps, nil
}

func (r *knowledgeGapRepo) GetByID(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, id uuid.UUID) (*types.KnowledgeGap, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var result types.KnowledgeGap
  if err := transaction.WithContext(ctx).
    Where("tenant_id = ? AND id = ?", tenantID, id).
    First(&result).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.ErrNotFound
    }
    return nil, err
  }
  return &result, nil
}

func (r *knowledgeGapRepo) ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, status string) ([]*types.KnowledgeGap, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  q := transaction.WithContext(ctx).Where("tenant_id = ?", tenantID)
  if status != "" {
    q = q.Where("status = ?", status)
  }
  var results []*types.KnowledgeGap
  if err := q.Order("priority DESC, created_at DESC").Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *knowledgeGapRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, id uuid.UUID, status string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  return transaction.WithContext(ctx).Model(&types.KnowledgeGap{}).
    Where("tenant_id = ? AND id = ?", tenantID, id).
    Updates(map[string]interface{}{
      "status":     status,
      "updated_at": time.Now(),
    }).Error
}

func (r *knowledgeGapRepo) Save(ctx context.Context, tx *gorm.DB, gap *types.KnowledgeGap) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  gap.UpdatedAt = time.Now()
  return transaction.WithContext(ctx).Save(gap).Error
}
