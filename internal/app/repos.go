package app

import (
	"gorm.io/gorm"

	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/repos"
)

type Repos struct {
	Tenant    repos.TenantRepo
	User      repos.UserRepo
	Connector repos.ConnectorRepo
	Document  repos.DocumentRepo
	Deleted   repos.DeletedDocumentRepo
	Gap       repos.KnowledgeGapRepo
	GapAnswer repos.GapAnswerRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Tenant:    repos.NewTenantRepo(db, log),
		User:      repos.NewUserRepo(db, log),
		Connector: repos.NewConnectorRepo(db, log),
		Document:  repos.NewDocumentRepo(db, log),
		Deleted:   repos.NewDeletedDocumentRepo(db, log),
		Gap:       repos.NewKnowledgeGapRepo(db, log),
		GapAnswer: repos.NewGapAnswerRepo(db, log),
	}
}
