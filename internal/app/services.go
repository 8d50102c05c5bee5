package app

import (
	"fmt"

	"github.com/loomwell/handover-backend/internal/auth"
	"github.com/loomwell/handover-backend/internal/extraction"
	"github.com/loomwell/handover-backend/internal/gap"
	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/orchestrator"
	"github.com/loomwell/handover-backend/internal/ratelimit"
	"github.com/loomwell/handover-backend/internal/vector"
)

type Services struct {
	Auth         auth.Service
	Vector       vector.Service
	Extractor    extraction.Extractor
	Classifier   extraction.Classifier
	Analyzer     gap.Analyzer
	Feedback     gap.FeedbackStore
	Limiter      ratelimit.Limiter
	Factory      orchestrator.ConnectorFactory
	Orchestrator orchestrator.Service
}

func wireServices(log *logger.Logger, clients Clients, reposet Repos) (Services, error) {
	log.Info("Wiring services...")

	authService, err := auth.NewService(log, reposet.Tenant, reposet.User)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}

	vec, err := vector.NewService(log, clients.OpenAI, clients.VectorStore)
	if err != nil {
		return Services{}, fmt.Errorf("init vector service: %w", err)
	}

	extractor, err := extraction.NewExtractor(log, clients.OpenAI)
	if err != nil {
		return Services{}, fmt.Errorf("init extractor: %w", err)
	}
	classifier, err := extraction.NewClassifier(log, clients.OpenAI)
	if err != nil {
		return Services{}, fmt.Errorf("init classifier: %w", err)
	}

	feedback := gap.NewMemoryFeedback()
	graphs, err := gap.NewGraphStore(log, clients.Neo4j)
	if err != nil {
		return Services{}, fmt.Errorf("init graph store: %w", err)
	}

	strategies, err := wireStrategies(log, clients, feedback, graphs)
	if err != nil {
		return Services{}, err
	}
	analyzer, err := gap.NewAnalyzer(log, reposet.Document, reposet.Gap, strategies...)
	if err != nil {
		return Services{}, fmt.Errorf("init gap analyzer: %w", err)
	}

	limiter, err := ratelimit.New(log)
	if err != nil {
		return Services{}, fmt.Errorf("init rate limiter: %w", err)
	}

	factory, err := orchestrator.NewConnectorFactory(log, reposet.Document, reposet.Connector, clients.Blobs)
	if err != nil {
		return Services{}, fmt.Errorf("init connector factory: %w", err)
	}

	orch, err := orchestrator.NewService(log, orchestrator.Deps{
		Tenants:     reposet.Tenant,
		Connectors:  reposet.Connector,
		Documents:   reposet.Document,
		Deleted:     reposet.Deleted,
		Gaps:        reposet.Gap,
		Answers:     reposet.GapAnswer,
		Factory:     factory,
		Parser:      clients.Parser,
		Transcriber: clients.Transcriber,
		Extractor:   extractor,
		Classifier:  classifier,
		Vector:      vec,
		Analyzer:    analyzer,
		Feedback:    feedback,
		Limiter:     limiter,
		Bus:         clients.Bus,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init orchestrator: %w", err)
	}

	return Services{
		Auth:         authService,
		Vector:       vec,
		Extractor:    extractor,
		Classifier:   classifier,
		Analyzer:     analyzer,
		Feedback:     feedback,
		Limiter:      limiter,
		Factory:      factory,
		Orchestrator: orch,
	}, nil
}

// wireStrategies registers every analysis strategy; v3 goes first so it
// becomes the default.
func wireStrategies(log *logger.Logger, clients Clients, feedback gap.FeedbackStore, graphs gap.GraphStore) ([]gap.Strategy, error) {
	v3, err := gap.NewV3Strategy(log, clients.OpenAI, feedback, graphs)
	if err != nil {
		return nil, fmt.Errorf("init v3 strategy: %w", err)
	}
	simple, err := gap.NewSimpleStrategy(log, clients.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("init simple strategy: %w", err)
	}
	multistage, err := gap.NewMultiStageStrategy(log, clients.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("init multistage strategy: %w", err)
	}
	goalfirst, err := gap.NewGoalFirstStrategy(log, clients.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("init goalfirst strategy: %w", err)
	}
	intelligent, err := gap.NewIntelligentStrategy(log, clients.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("init intelligent strategy: %w", err)
	}
	return []gap.Strategy{v3, simple, multistage, goalfirst, intelligent}, nil
}
