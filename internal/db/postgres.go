package db

import (
  "fmt"

  "gorm.io/driver/postgres"
  "gorm.io/gorm"

  "github.com/loomwell/handover-backend/internal/logger"
  "github.com/loomwell/handover-backend/internal/types"
  "github.com/loomwell/handover-backend/internal/utils"
)

type PostgresService struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
  serviceLog := log.With("service", "PostgresService")

  log.Info("Loading environment variables...")
  postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
  postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
  postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
  postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
  postgresName := utils.GetEnv("POSTGRES_NAME", "handover", log)
  log.Debug("Environment variables loaded")

  dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

  log.Info("Connecting to Postgres...")
  db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
    DisableForeignKeyConstraintWhenMigrating: true,
  })
  if err != nil {
    log.Error("Failed to connect to Postgres", "error", err)
    return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
  }

  if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
    log.Error("Failed to enable uuid-ossp extension", "error", err)
    return nil, fmt.Errorf("Failed to enable uuid-ossp extension: %w", err)
  }
  log.Info("uuid-ossp extension enabled")

  return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
  s.log.Info("Auto migrating postgres tables...")
  err := s.db.AutoMigrate(
    &types.Tenant{},
    &types.User{},
    &types.Connector{},
    &types.Document{},
    &types.DeletedDocument{},
    &types.KnowledgeGap{},
    &types.GapAnswer{},
    &types.Project{},
    &types.Video{},
  )
  if err != nil {
    s.log.Error("Auto migration failed for postgres tables", "error", err)
    return err
  }
  return s.EnsureIndices()
}

// EnsureIndices creates the composite indices the tenant-scoped query paths
// depend on. AutoMigrate covers most of them via struct tags; the statements
// here are idempotent belt for databases migrated by older binaries.
func (s *PostgresService) EnsureIndices() error {
  stmts := []string{
    `CREATE INDEX IF NOT EXISTS idx_document_tenant_sender ON "document" (tenant_id, sender)`,
    `CREATE INDEX IF NOT EXISTS idx_document_tenant_embedded ON "document" (tenant_id, embedded_at)`,
    `CREATE INDEX IF NOT EXISTS idx_document_tenant_created ON "document" (tenant_id, created_at)`,
    `CREATE INDEX IF NOT EXISTS idx_document_classification_confidence ON "document" (classification_confidence)`,
  }
  for _, stmt := range stmts {
    if err := s.db.Exec(stmt).Error; err != nil {
      return fmt.Errorf("ensure index: %w", err)
    }
  }
  return nil
}

// DropAll removes every table owned by this service. Used by the admin reset
// command only.
func (s *PostgresService) DropAll() error {
  s.log.Warn("Dropping all postgres tables")
  return s.db.Migrator().DropTable(
    &types.GapAnswer{},
    &types.KnowledgeGap{},
    &types.Video{},
    &types.Project{},
    &types.DeletedDocument{},
    &types.Document{},
    &types.Connector{},
    &types.User{},
    &types.Tenant{},
  )
}

func (s *PostgresService) DB() *gorm.DB {
  return s.db
}
