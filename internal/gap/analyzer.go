package gap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/loomwell/handover-backend/internal/logger"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
	"github.com/loomwell/handover-backend/internal/repos"
	"github.com/loomwell/handover-backend/internal/types"
)

// Request selects what to analyze and how.
type Request struct {
	TenantID       uuid.UUID
	ProjectID      *uuid.UUID
	Strategy       string // empty means the default
	IncludePending bool
	MaxDocuments   int
}

// AnalysisResult is what a completed run reports back.
type AnalysisResult struct {
	AnalysisType string                `json:"analysis_type"`
	Gaps         []*types.KnowledgeGap `json:"gaps"`
	Stats        PrepStats             `json:"stats"`
	Elapsed      time.Duration         `json:"elapsed"`
}

// Analyzer loads the corpus snapshot, runs the selected strategy, and
// persists the resulting gaps. Analysis is idempotent per trigger: it never
// re-downloads source material, only reads what sync already stored.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*AnalysisResult, error)
	Strategies() []string
}

type analyzer struct {
	log        *logger.Logger
	docs       repos.DocumentRepo
	gaps       repos.KnowledgeGapRepo
	strategies map[string]Strategy
	defaultTo  string
}

func NewAnalyzer(log *logger.Logger, docs repos.DocumentRepo, gaps repos.KnowledgeGapRepo, strategies ...Strategy) (Analyzer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if docs == nil || gaps == nil {
		return nil, fmt.Errorf("repos required")
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy required")
	}

	byName := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}
	defaultTo := StrategyV3
	if _, ok := byName[defaultTo]; !ok {
		defaultTo = strategies[0].Name()
	}

	return &analyzer{
		log:        log.With("service", "GapAnalyzer"),
		docs:       docs,
		gaps:       gaps,
		strategies: byName,
		defaultTo:  defaultTo,
	}, nil
}

func (a *analyzer) Strategies() []string {
	return sortedKeys(a.strategies)
}

func (a *analyzer) Analyze(ctx context.Context, req Request) (*AnalysisResult, error) {
	if req.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant required", apperr.ErrInvalidArgument)
	}

	name := req.Strategy
	if name == "" {
		name = a.defaultTo
	}
	strategy, ok := a.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", apperr.ErrInvalidArgument, req.Strategy)
	}

	started := time.Now()
	log := a.log.With("tenant_id", req.TenantID.String(), "strategy", name)

	docs, err := a.docs.GetForAnalysis(ctx, nil, req.TenantID, repos.AnalysisFilter{
		ProjectID:      req.ProjectID,
		IncludePending: req.IncludePending,
		MaxDocuments:   req.MaxDocuments,
		Classification: types.ClassificationWork,
	})
	if err != nil {
		return nil, fmt.Errorf("load analysis corpus: %w", err)
	}
	if len(docs) == 0 {
		log.Info("No documents eligible for analysis")
		return &AnalysisResult{AnalysisType: name, Gaps: []*types.KnowledgeGap{}, Elapsed: time.Since(started)}, nil
	}

	corpus := PrepareCorpus(a.log, docs)
	result, err := strategy.Analyze(ctx, Input{
		TenantID:  req.TenantID,
		ProjectID: req.ProjectID,
		Corpus:    corpus,
	})
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}

	rows, err := a.persist(ctx, req, result)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started)
	log.Info("Gap analysis complete",
		"documents", corpus.Stats.Included,
		"gaps", len(rows),
		"elapsed", elapsed.String(),
	)
	return &AnalysisResult{
		AnalysisType: result.AnalysisType,
		Gaps:         rows,
		Stats:        result.Stats,
		Elapsed:      elapsed,
	}, nil
}

func (a *analyzer) persist(ctx context.Context, req Request, result *Result) ([]*types.KnowledgeGap, error) {
	rows := make([]*types.KnowledgeGap, 0, len(result.Drafts))
	for _, d := range result.Drafts {
		questions := make([]types.GapQuestion, 0, len(d.Questions))
		for _, q := range d.Questions {
			questions = append(questions, types.GapQuestion{Text: q, Answered: false})
		}
		questionsJSON, err := json.Marshal(questions)
		if err != nil {
			return nil, err
		}
		contextJSON, err := json.Marshal(map[string]any{
			"analysis_type": result.AnalysisType,
			"analyzer":      d.Analyzer,
			"stats":         result.Stats,
			"source_docs":   d.SourceDocs,
		})
		if err != nil {
			return nil, err
		}

		rows = append(rows, &types.KnowledgeGap{
			TenantID:    req.TenantID,
			ProjectID:   req.ProjectID,
			Title:       d.Title,
			Description: d.Description,
			Category:    ParseCategory(d.Category),
			Priority:    clampPriority(d.Priority),
			Status:      types.GapOpen,
			Questions:   datatypes.JSON(questionsJSON),
			Context:     datatypes.JSON(contextJSON),
		})
	}

	if _, err := a.gaps.CreateBatch(ctx, nil, rows); err != nil {
		return nil, fmt.Errorf("persist gaps: %w", err)
	}
	return rows, nil
}
