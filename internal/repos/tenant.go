package repos

import (
  "context"
  "errors"

  "github.com/google/uuid"
  "gorm.io/gorm"

  apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
  "github.com/loomwell/handover-backend/internal/logger"
  "github.com/loomwell/handover-backend/internal/types"
)

type TenantRepo interface {
  Create(ctx context.Context, tx *gorm.DB, tenant *types.Tenant) (*types.Tenant, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Tenant, error)
  GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Tenant, error)
  List(ctx context.Context, tx *gorm.DB) ([]*types.Tenant, error)
  Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type tenantRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
  repoLog := baseLog.With("repo", "TenantRepo")
  return &tenantRepo{db: db, log: repoLog}
}

func (r *tenantRepo) Create(ctx context.Context, tx *gorm.DB, tenant *types.Tenant) (*types.Tenant, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if err := transaction.WithContext(ctx).Create(tenant).Error; err != nil {
    return nil, err
  }
  return tenant, nil
}

func (r *tenantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Tenant, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var result types.Tenant
  if err := transaction.WithContext(ctx).Where("id = ?", id).First(&result).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.ErrNotFound
    }
    return nil, err
  }
  return &result, nil
}

func (r *tenantRepo) GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Tenant, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var result types.Tenant
  if err := transaction.WithContext(ctx).Where("slug = ?", slug).First(&result).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.ErrNotFound
    }
    return nil, err
  }
  return &result, nil
}

func (r *tenantRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Tenant, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.Tenant
  if err := transaction.WithContext(ctx).Order("created_at ASC").Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *tenantRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Tenant{}).Error
}
