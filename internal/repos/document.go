package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
  "github.com/loomwell/handover-backend/internal/logger"
  "github.com/loomwell/handover-backend/internal/types"
)

// AnalysisFilter narrows the corpus handed to the gap analyzers.
type AnalysisFilter struct {
  ProjectID      *uuid.UUID
  IncludePending bool
  MaxDocuments   int
  Classification string
}

type DocumentRepo interface {
  // UpsertByExternalID inserts or updates by (tenant_id, external_id) and
  // reports whether a new row was created.
  UpsertByExternalID(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, bool, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error)
  GetByIDs(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, ids []uuid.UUID) ([]*types.Document, error)
  GetByExternalID(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, externalID string) (*types.Document, error)
  GetForAnalysis(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, filter AnalysisFilter) ([]*types.Document, error)
  ListConfirmedWork(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.Document, error)
  KnownHash(ctx context.Context, tenantID uuid.UUID, externalID string) (string, bool, error)
  SetClassification(ctx context.Context, tx *gorm.DB, id uuid.UUID, label string, confidence float64, borderline bool) error
  SetSummary(ctx context.Context, tx *gorm.DB, id uuid.UUID, summary datatypes.JSON, sha1 string) error
  MarkEmbedded(ctx context.Context, tx *gorm.DB, id uuid.UUID, sha1 string, chunkCount int) error
  MarkDeleted(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, ids []uuid.UUID) error
  SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, lastError string) error
  CountByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (int64, error)
}

type documentRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
  repoLog := baseLog.With("repo", "DocumentRepo")
  return &documentRepo{db: db, log: repoLog}
}

func (r *documentRepo) UpsertByExternalID(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if doc.TenantID == uuid.Nil {
    return nil, false, apperr.ErrInvalidArgument
  }

  var existing types.Document
  err := transaction.WithContext(ctx).
    Where("tenant_id = ? AND external_id = ?", doc.TenantID, doc.ExternalID).
    First(&existing).Error
  if err != nil {
    if !errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, false, err
    }
    if cErr := transaction.WithContext(ctx).Create(doc).Error; cErr != nil {
      return nil, false, cErr
    }
    return doc, true, nil
  }

  updates := map[string]interface{}{
    "title":             doc.Title,
    "content":           doc.Content,
    "content_sha1":      doc.ContentSHA1,
    "sender":            doc.Sender,
    "source_updated_at": doc.SourceUpdatedAt,
    "is_deleted":        false,
    "updated_at":        time.Now(),
  }
  if doc.Status != "" {
    updates["status"] = doc.Status
  }
  if err := transaction.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
    return nil, false, err
  }
  return &existing, false, nil
}

func (r *documentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var result types.Document
  if err := transaction.WithContext(ctx).Where("id = ?", id).First(&result).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.ErrNotFound
    }
    return nil, err
  }
  return &result, nil
}

func (r *documentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, ids []uuid.UUID) ([]*types.Document, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.Document
  if len(ids) == 0 {
    return results, nil
  }
  if err := transaction.WithContext(ctx).
    Where("tenant_id = ? AND id IN ?", tenantID, ids).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *documentRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, externalID string) (*types.Document, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var result types.Document
  if err := transaction.WithContext(ctx).
    Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
    First(&result).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.ErrNotFound
    }
    return nil, err
  }
  return &result, nil
}

// GetForAnalysis returns the analyzer corpus most-recent-first. Reads run in
// their own transaction so a concurrent sync cannot shear the snapshot.
func (r *documentRepo) GetForAnalysis(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, filter AnalysisFilter) ([]*types.Document, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  q := transaction.WithContext(ctx).
    Where("tenant_id = ? AND is_deleted = ?", tenantID, false)
  if !filter.IncludePending {
    q = q.Where("status IN ?", []string{types.DocumentClassified, types.DocumentConfirmed})
  }
  if filter.Classification != "" {
    q = q.Where("classification = ?", filter.Classification)
  }
  q = q.Order("created_at DESC")
  if filter.MaxDocuments > 0 {
    q = q.Limit(filter.MaxDocuments)
  }
  var results []*types.Document
  if err := q.Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *documentRepo) ListConfirmedWork(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.Document, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.Document
  if err := transaction.WithContext(ctx).
    Where("tenant_id = ? AND is_deleted = ? AND user_confirmed = ? AND classification = ?",
      tenantID, false, true, types.ClassificationWork).
    Order("created_at DESC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

// KnownHash reports the stored content hash for (tenant, external_id), used
// by connectors to skip unchanged items.
func (r *documentRepo) KnownHash(ctx context.Context, tenantID uuid.UUID, externalID string) (string, bool, error) {
  var row struct {
    ContentSHA1 string
  }
  err := r.db.WithContext(ctx).Model(&types.Document{}).
    Select("content_sha1").
    Where("tenant_id = ? AND external_id = ? AND is_deleted = ?", tenantID, externalID, false).
    First(&row).Error
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return "", false, nil
    }
    return "", false, err
  }
  return row.ContentSHA1, row.ContentSHA1 != "", nil
}

func (r *documentRepo) SetClassification(ctx context.Context, tx *gorm.DB, id uuid.UUID, label string, confidence float64, borderline bool) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  return transaction.WithContext(ctx).Model(&types.Document{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "classification":            label,
      "classification_confidence": confidence,
      "borderline":                borderline,
      "status":                    types.DocumentClassified,
      "updated_at":                time.Now(),
    }).Error
}

func (r *documentRepo) SetSummary(ctx context.Context, tx *gorm.DB, id uuid.UUID, summary datatypes.JSON, sha1 string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  return transaction.WithContext(ctx).Model(&types.Document{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "structured_summary":      summary,
      "structured_summary_at":   now,
      "structured_summary_sha1": sha1,
      "updated_at":              now,
    }).Error
}

func (r *documentRepo) MarkEmbedded(ctx context.Context, tx *gorm.DB, id uuid.UUID, sha1 string, chunkCount int) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  return transaction.WithContext(ctx).Model(&types.Document{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "embedding_generated": true,
      "embedded_at":         now,
      "embedded_sha1":       sha1,
      "chunk_count":         chunkCount,
      "updated_at":          now,
    }).Error
}

func (r *documentRepo) MarkDeleted(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, ids []uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(ids) == 0 {
    return nil
  }
  return transaction.WithContext(ctx).Model(&types.Document{}).
    Where("tenant_id = ? AND id IN ?", tenantID, ids).
    Updates(map[string]interface{}{
      "is_deleted":          true,
      "embedding_generated": false,
      "updated_at":          time.Now(),
    }).Error
}

func (r *documentRepo) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, lastError string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  return transaction.WithContext(ctx).Model(&types.Document{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "status":     status,
      "last_error": lastError,
      "updated_at": time.Now(),
    }).Error
}

func (r *documentRepo) CountByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var count int64
  if err := transaction.WithContext(ctx).Model(&types.Document{}).
    Where("tenant_id = ? AND is_deleted = ?", tenantID, false).
    Count(&count).Error; err != nil {
    return 0, err
  }
  return count, nil
}
