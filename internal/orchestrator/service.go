package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/loomwell/handover-backend/internal/clients/gcp"
	"github.com/loomwell/handover-backend/internal/clients/redis"
	"github.com/loomwell/handover-backend/internal/extraction"
	"github.com/loomwell/handover-backend/internal/gap"
	"github.com/loomwell/handover-backend/internal/logger"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
	"github.com/loomwell/handover-backend/internal/ratelimit"
	"github.com/loomwell/handover-backend/internal/repos"
	"github.com/loomwell/handover-backend/internal/vector"
)

var errLanesClosed = errors.New("orchestrator shutting down")

// JobSummary reports one finished job's per-item outcomes.
type JobSummary struct {
	JobID     string        `json:"job_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Errored   int           `json:"errored"`
	Cursor    string        `json:"cursor,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// RateLimitedError carries the retry hint from a rejected admission.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return apperr.ErrRateLimited }

// AnswerRequest submits one answer to one gap question. Audio, when set,
// is transcribed and overrides AnswerText.
type AnswerRequest struct {
	TenantID      uuid.UUID
	UserID        uuid.UUID
	GapID         uuid.UUID
	QuestionIndex int
	AnswerText    string
	Audio         []byte
	AudioMime     string
}

// Service coordinates the pipeline: connector syncs, gap analysis, answer
// intake, and completion. Writes for one tenant run strictly FIFO; tenants
// run in parallel; LLM-heavy stages share a global semaphore.
type Service interface {
	SyncConnector(ctx context.Context, tenantID uuid.UUID, connectorType string) (*JobSummary, error)
	Analyze(ctx context.Context, req gap.Request) (*gap.AnalysisResult, error)
	SubmitAnswer(ctx context.Context, req AnswerRequest) (*AnswerResult, error)
	CompleteProcess(ctx context.Context, tenantID uuid.UUID) (*JobSummary, error)
	Close()
}

// Deps carries everything the orchestrator wires together. Optional fields
// (Bus, Transcriber, Classifier, Feedback) may be nil.
type Deps struct {
	Tenants     repos.TenantRepo
	Connectors  repos.ConnectorRepo
	Documents   repos.DocumentRepo
	Deleted     repos.DeletedDocumentRepo
	Gaps        repos.KnowledgeGapRepo
	Answers     repos.GapAnswerRepo
	Factory     ConnectorFactory
	Parser      gcp.DocumentParser
	Transcriber gcp.Transcriber
	Extractor   extraction.Extractor
	Classifier  extraction.Classifier
	Vector      vector.Service
	Analyzer    gap.Analyzer
	Feedback    gap.FeedbackStore
	Limiter     ratelimit.Limiter
	Bus         redis.EventBus
}

type service struct {
	log  *logger.Logger
	deps Deps

	lanes  *lanes
	llmSem chan struct{}
}

func NewService(log *logger.Logger, deps Deps) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	switch {
	case deps.Tenants == nil, deps.Connectors == nil, deps.Documents == nil,
		deps.Deleted == nil, deps.Gaps == nil, deps.Answers == nil:
		return nil, fmt.Errorf("orchestrator: repos required")
	case deps.Factory == nil, deps.Parser == nil, deps.Extractor == nil:
		return nil, fmt.Errorf("orchestrator: pipeline stages required")
	case deps.Vector == nil, deps.Analyzer == nil, deps.Limiter == nil:
		return nil, fmt.Errorf("orchestrator: vector, analyzer and limiter required")
	}

	llmConcurrency := 4
	if v := os.Getenv("ORCH_LLM_CONCURRENCY"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			llmConcurrency = parsed
		}
	}

	slog := log.With("service", "Orchestrator")
	return &service{
		log:    slog,
		deps:   deps,
		lanes:  newLanes(slog),
		llmSem: make(chan struct{}, llmConcurrency),
	}, nil
}

func (s *service) Close() {
	s.lanes.close()
}

// admit charges one request against the tenant's plan window.
func (s *service) admit(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := s.deps.Tenants.GetByID(ctx, nil, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	decision := s.deps.Limiter.Allow(tenantID, tenant.Plan)
	if !decision.Allowed {
		return &RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

// withLLM bounds concurrent LLM work across all tenants.
func (s *service) withLLM(ctx context.Context, fn func() error) error {
	select {
	case s.llmSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.llmSem }()
	return fn()
}

func (s *service) publish(ctx context.Context, ev redis.ProgressEvent) {
	if s.deps.Bus == nil {
		return
	}
	ev.At = time.Now().UTC()
	if err := s.deps.Bus.Publish(ctx, ev); err != nil {
		s.log.Warn("Progress publish failed", "error", err.Error())
	}
}

func newJobID(kind string) string {
	return kind + "-" + uuid.NewString()
}
