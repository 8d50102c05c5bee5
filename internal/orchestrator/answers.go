package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomwell/handover-backend/internal/clients/redis"
	"github.com/loomwell/handover-backend/internal/gap"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
	"github.com/loomwell/handover-backend/internal/types"
	"github.com/loomwell/handover-backend/internal/vector"
)

// Analyze runs gap analysis outside the tenant lane: the corpus read is a
// snapshot, so analysis may overlap a concurrent sync.
func (s *service) Analyze(ctx context.Context, req gap.Request) (*gap.AnalysisResult, error) {
	if err := s.admit(ctx, req.TenantID); err != nil {
		return nil, err
	}

	jobID := newJobID("analyze")
	s.publish(ctx, redis.ProgressEvent{TenantID: req.TenantID, JobID: jobID, Kind: "analyze", Stage: "analyzing"})

	var result *gap.AnalysisResult
	err := s.withLLM(ctx, func() error {
		var runErr error
		result, runErr = s.deps.Analyzer.Analyze(ctx, req)
		return runErr
	})
	if err != nil {
		s.publish(ctx, redis.ProgressEvent{
			TenantID: req.TenantID, JobID: jobID, Kind: "analyze", Stage: "error", Message: err.Error(),
		})
		return nil, err
	}

	s.publish(ctx, redis.ProgressEvent{
		TenantID: req.TenantID, JobID: jobID, Kind: "analyze", Stage: "done",
		Processed: len(result.Gaps), Total: len(result.Gaps),
	})
	return result, nil
}

// AnswerResult is what SubmitAnswer reports back.
type AnswerResult struct {
	Answer *types.GapAnswer    `json:"answer"`
	Gap    *types.KnowledgeGap `json:"gap"`
}

// SubmitAnswer persists one answer, then re-embeds the gap's synthetic
// document so the answer is immediately searchable. Voice answers are
// transcribed first.
func (s *service) SubmitAnswer(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	if req.TenantID == uuid.Nil || req.GapID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant and gap required", apperr.ErrInvalidArgument)
	}
	if err := s.admit(ctx, req.TenantID); err != nil {
		return nil, err
	}

	answer := &types.GapAnswer{
		GapID:         req.GapID,
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		QuestionIndex: req.QuestionIndex,
		AnswerText:    strings.TrimSpace(req.AnswerText),
	}

	if len(req.Audio) > 0 {
		if s.deps.Transcriber == nil {
			return nil, fmt.Errorf("%w: voice answers not configured", apperr.ErrInvalidArgument)
		}
		transcript, err := s.deps.Transcriber.TranscribeBytes(ctx, req.Audio, req.AudioMime)
		if err != nil {
			return nil, fmt.Errorf("transcribe answer: %w", err)
		}
		answer.AnswerText = strings.TrimSpace(transcript.Text)
		answer.IsVoice = true
		confidence := transcript.Confidence
		answer.TranscriptionConfidence = &confidence
	}
	if answer.AnswerText == "" {
		return nil, fmt.Errorf("%w: empty answer", apperr.ErrInvalidArgument)
	}

	var result *AnswerResult
	err := s.lanes.run(ctx, req.TenantID, func() error {
		saved, gapRow, err := s.deps.Answers.RecordAnswer(ctx, req.GapID, req.TenantID, answer)
		if err != nil {
			return err
		}
		s.recordFeedback(req.TenantID, gapRow)

		if err := s.embedGapAnswers(ctx, req.TenantID, gapRow); err != nil {
			// the answer is saved; searchability catches up on the next
			// complete-process run
			s.log.Warn("Answer embedding failed", "gap_id", req.GapID.String(), "error", err.Error())
		}

		result = &AnswerResult{Answer: saved, Gap: gapRow}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, redis.ProgressEvent{
		TenantID: req.TenantID, JobID: newJobID("answer"), Kind: "answer", Stage: "done",
		Message: req.GapID.String(),
	})
	return result, nil
}

// recordFeedback credits the analyzer that produced a gap people bother to
// answer.
func (s *service) recordFeedback(tenantID uuid.UUID, gapRow *types.KnowledgeGap) {
	if s.deps.Feedback == nil || gapRow == nil || len(gapRow.Context) == 0 {
		return
	}
	var ctxPayload struct {
		Analyzer string `json:"analyzer"`
	}
	if err := json.Unmarshal(gapRow.Context, &ctxPayload); err != nil || ctxPayload.Analyzer == "" {
		return
	}
	s.deps.Feedback.Record(tenantID, ctxPayload.Analyzer, true)
}

// embedGapAnswers rebuilds the synthetic gap:<gap_id> document from every
// answer recorded so far.
func (s *service) embedGapAnswers(ctx context.Context, tenantID uuid.UUID, gapRow *types.KnowledgeGap) error {
	answers, err := s.deps.Answers.ListByGap(ctx, nil, tenantID, gapRow.ID)
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge gap: %s\n%s\n\n", gapRow.Title, gapRow.Description)
	for _, a := range answers {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", a.QuestionText, a.AnswerText)
	}

	_, err = s.deps.Vector.EmbedAndUpsert(ctx, tenantID.String(), []vector.Document{{
		DocID:   "gap:" + gapRow.ID.String(),
		Title:   gapRow.Title,
		Content: b.String(),
		Extra:   map[string]any{"doc_type": "gap_answer", "category": gapRow.Category},
	}})
	return err
}

// CompleteProcess is the handover wrap-up: re-embed every confirmed work
// document and every answered gap, then mark answered gaps VERIFIED.
func (s *service) CompleteProcess(ctx context.Context, tenantID uuid.UUID) (*JobSummary, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant required", apperr.ErrInvalidArgument)
	}
	if err := s.admit(ctx, tenantID); err != nil {
		return nil, err
	}

	var summary *JobSummary
	err := s.lanes.run(ctx, tenantID, func() error {
		var runErr error
		summary, runErr = s.runComplete(ctx, tenantID)
		return runErr
	})
	return summary, err
}

func (s *service) runComplete(ctx context.Context, tenantID uuid.UUID) (*JobSummary, error) {
	started := time.Now()
	jobID := newJobID("complete")
	log := s.log.With("job_id", jobID, "tenant_id", tenantID.String())
	summary := &JobSummary{JobID: jobID}

	docs, err := s.deps.Documents.ListConfirmedWork(ctx, nil, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list confirmed work: %w", err)
	}

	for _, row := range docs {
		summary.Total++
		if strings.TrimSpace(row.Content) == "" {
			summary.Skipped++
			continue
		}
		docID := row.SourceType + "_" + row.ExternalID
		stats, err := s.deps.Vector.EmbedAndUpsert(ctx, tenantID.String(), []vector.Document{{
			DocID:   docID,
			Title:   row.Title,
			Content: row.Content,
			Author:  row.Sender,
		}})
		if err != nil {
			log.Warn("Re-embed failed", "doc_id", docID, "error", err.Error())
			summary.Errored++
			continue
		}
		if err := s.deps.Documents.MarkEmbedded(ctx, nil, row.ID, row.ContentSHA1, stats.PerDocChunks[docID]); err != nil {
			summary.Errored++
			continue
		}
		summary.Succeeded++
		if summary.Total%progressEvery == 0 {
			s.publish(ctx, redis.ProgressEvent{
				TenantID: tenantID, JobID: jobID, Kind: "complete", Stage: "embedding",
				Processed: summary.Total, Total: len(docs),
			})
		}
	}

	answered, err := s.deps.Gaps.ListByTenant(ctx, nil, tenantID, types.GapAnswered)
	if err != nil {
		return summary, fmt.Errorf("list answered gaps: %w", err)
	}
	for _, gapRow := range answered {
		summary.Total++
		if err := s.embedGapAnswers(ctx, tenantID, gapRow); err != nil {
			log.Warn("Gap re-embed failed", "gap_id", gapRow.ID.String(), "error", err.Error())
			summary.Errored++
			continue
		}
		if err := s.deps.Gaps.UpdateStatus(ctx, nil, tenantID, gapRow.ID, types.GapVerified); err != nil {
			summary.Errored++
			continue
		}
		summary.Succeeded++
	}

	summary.Elapsed = time.Since(started)
	s.publish(ctx, redis.ProgressEvent{
		TenantID: tenantID, JobID: jobID, Kind: "complete", Stage: "done",
		Processed: summary.Total, Total: summary.Total,
	})
	log.Info("Complete-process finished",
		"documents", len(docs),
		"gaps_verified", len(answered),
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"elapsed", summary.Elapsed.String(),
	)
	return summary, nil
}
