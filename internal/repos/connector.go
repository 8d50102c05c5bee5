package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
  "github.com/loomwell/handover-backend/internal/logger"
  "github.com/loomwell/handover-backend/internal/types"
)

type ConnectorRepo interface {
  Upsert(ctx context.Context, tx *gorm.DB, connector *types.Connector) (*types.Connector, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Connector, error)
  GetByTenantAndType(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, connectorType string) (*types.Connector, error)
  ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.Connector, error)
  UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, lastError string) error
  UpdateCursor(ctx context.Context, tx *gorm.DB, id uuid.UUID, cursor string, syncedAt time.Time) error
  UpdateCredentials(ctx context.Context, tx *gorm.DB, id uuid.UUID, credentials []byte) error
}

type connectorRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewConnectorRepo(db *gorm.DB, baseLog *logger.Logger) ConnectorRepo {
  repoLog := baseLog.With("repo", "ConnectorRepo")
  return &connectorRepo{db: db, log: repoLog}
}

// Upsert keeps exactly one connector row per (tenant, type).
func (r *connectorRepo) Upsert(ctx context.Context, tx *gorm.DB, connector *types.Connector) (*types.Connector, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
    Columns: []clause.Column{{Name: "tenant_id"}, {Name: "type"}},
    DoUpdates: clause.AssignmentColumns([]string{
      "credentials", "settings", "status", "updated_at",
    }),
  }).Create(connector).Error; err != nil {
    return nil, err
  }
  return r.GetByTenantAndType(ctx, transaction, connector.TenantID, connector.Type)
}

func (r *connectorRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Connector, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var result types.Connector
  if err := transaction.WithContext(ctx).Where("id = ?", id).First(&result).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.ErrNotFound
    }
    return nil, err
  }
  return &result, nil
}

func (r *connectorRepo) GetByTenantAndType(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, connectorType string) (*types.Connector, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var result types.Connector
  if err := transaction.WithContext(ctx).
    Where("tenant_id = ? AND type = ?", tenantID, connectorType).
    First(&result).Error; err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.ErrNotFound
    }
    return nil, err
  }
  return &result, nil
}

func (r *connectorRepo) ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.Connector, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.Connector
  if err := transaction.WithContext(ctx).
    Where("tenant_id = ?", tenantID).
    Order("type ASC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *connectorRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, lastError string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  return transaction.WithContext(ctx).Model(&types.Connector{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "status":     status,
      "last_error": lastError,
      "updated_at": time.Now(),
    }).Error
}

func (r *connectorRepo) UpdateCursor(ctx context.Context, tx *gorm.DB, id uuid.UUID, cursor string, syncedAt time.Time) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  return transaction.WithContext(ctx).Model(&types.Connector{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "last_sync_cursor": cursor,
      "last_sync_at":     syncedAt,
      "updated_at":       time.Now(),
    }).Error
}

// UpdateCredentials is called under the connector's own transaction whenever
// provider tokens refresh.
func (r *connectorRepo) UpdateCredentials(ctx context.Context, tx *gorm.DB, id uuid.UUID, credentials []byte) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  return transaction.WithContext(ctx).Model(&types.Connector{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "credentials": credentials,
      "updated_at":  time.Now(),
    }).Error
}
