package repos

import (
  "context"
  "errors"

  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  "github.com/loomwell/handover-backend/internal/logger"
  "github.com/loomwell/handover-backend/internal/types"
)

type DeletedDocumentRepo interface {
  Add(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, externalID string, sourceType string) error
  Exists(ctx context.Context, tenantID uuid.UUID, externalID string) (bool, error)
}

type deletedDocumentRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewDeletedDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DeletedDocumentRepo {
  repoLog := baseLog.With("repo", "DeletedDocumentRepo")
  return &deletedDocumentRepo{db: db, log: repoLog}
}

func (r *deletedDocumentRepo) Add(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, externalID string, sourceType string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  row := &types.DeletedDocument{
    TenantID:   tenantID,
    ExternalID: externalID,
    SourceType: sourceType,
  }
  return transaction.WithContext(ctx).Clauses(clause.OnConflict{
    Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
    DoNothing: true,
  }).Create(row).Error
}

func (r *deletedDocumentRepo) Exists(ctx context.Context, tenantID uuid.UUID, externalID string) (bool, error) {
  var row types.DeletedDocument
  err := r.db.WithContext(ctx).
    Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
    First(&row).Error
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return false, nil
    }
    return false, err
  }
  return true, nil
}
