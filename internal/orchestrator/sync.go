package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/loomwell/handover-backend/internal/clients/redis"
	"github.com/loomwell/handover-backend/internal/connectors"
	"github.com/loomwell/handover-backend/internal/extraction"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
	"github.com/loomwell/handover-backend/internal/types"
	"github.com/loomwell/handover-backend/internal/vector"
)

// progressEvery is how many processed items pass between progress events.
const progressEvery = 10

// SyncConnector pulls changed documents from one source and runs each
// through the full pipeline: persist, parse, classify, extract, embed.
// Per-document failures mark the row and continue; only connector-level
// failures abort.
func (s *service) SyncConnector(ctx context.Context, tenantID uuid.UUID, connectorType string) (*JobSummary, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant required", apperr.ErrInvalidArgument)
	}
	if err := s.admit(ctx, tenantID); err != nil {
		return nil, err
	}

	var summary *JobSummary
	err := s.lanes.run(ctx, tenantID, func() error {
		var runErr error
		summary, runErr = s.runSync(ctx, tenantID, connectorType)
		return runErr
	})
	return summary, err
}

func (s *service) runSync(ctx context.Context, tenantID uuid.UUID, connectorType string) (*JobSummary, error) {
	started := time.Now()
	jobID := newJobID("sync")
	log := s.log.With("job_id", jobID, "tenant_id", tenantID.String(), "connector", connectorType)

	row, err := s.deps.Connectors.GetByTenantAndType(ctx, nil, tenantID, connectorType)
	if err != nil {
		return nil, fmt.Errorf("load connector: %w", err)
	}
	conn, err := s.deps.Factory.Build(row)
	if err != nil {
		return nil, fmt.Errorf("build connector: %w", err)
	}

	if err := s.deps.Connectors.UpdateStatus(ctx, nil, row.ID, types.ConnectorSyncing, ""); err != nil {
		return nil, err
	}

	summary := &JobSummary{JobID: jobID}
	emit := func(ev connectors.Event) error {
		summary.Total++
		switch {
		case ev.Tombstone != nil:
			if err := s.applyTombstone(ctx, tenantID, ev.Tombstone); err != nil {
				log.Warn("Tombstone failed", "external_id", ev.Tombstone.ExternalID, "error", err.Error())
				summary.Errored++
			} else {
				summary.Succeeded++
			}
		case ev.Doc != nil:
			outcome, err := s.processDocument(ctx, tenantID, ev.Doc)
			switch {
			case err != nil:
				log.Warn("Document failed", "doc_id", ev.Doc.DocID, "error", err.Error())
				summary.Errored++
			case outcome == outcomeSkipped:
				summary.Skipped++
			default:
				summary.Succeeded++
			}
		}
		if summary.Total%progressEvery == 0 {
			s.publish(ctx, redis.ProgressEvent{
				TenantID:  tenantID,
				JobID:     jobID,
				Kind:      "sync",
				Stage:     "embedding",
				Processed: summary.Total,
			})
		}
		return ctx.Err()
	}

	s.publish(ctx, redis.ProgressEvent{TenantID: tenantID, JobID: jobID, Kind: "sync", Stage: "fetching"})

	cursor, syncErr := conn.Sync(ctx, sinceOf(row), emit)
	if syncErr != nil {
		_ = s.deps.Connectors.UpdateStatus(ctx, nil, row.ID, types.ConnectorError, syncErr.Error())
		s.publish(ctx, redis.ProgressEvent{
			TenantID: tenantID, JobID: jobID, Kind: "sync", Stage: "error",
			Processed: summary.Total, Message: syncErr.Error(),
		})
		return summary, fmt.Errorf("connector sync: %w", syncErr)
	}

	if cursor != "" {
		if err := s.deps.Connectors.UpdateCursor(ctx, nil, row.ID, cursor, time.Now()); err != nil {
			return summary, fmt.Errorf("persist cursor: %w", err)
		}
	}
	if err := s.deps.Connectors.UpdateStatus(ctx, nil, row.ID, types.ConnectorConnected, ""); err != nil {
		return summary, err
	}

	summary.Cursor = cursor
	summary.Elapsed = time.Since(started)
	s.publish(ctx, redis.ProgressEvent{
		TenantID: tenantID, JobID: jobID, Kind: "sync", Stage: "done",
		Processed: summary.Total, Total: summary.Total,
	})
	log.Info("Sync complete",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"cursor", cursor,
		"elapsed", summary.Elapsed.String(),
	)
	return summary, nil
}

func sinceOf(row *types.Connector) *time.Time {
	if row.LastSyncAt == nil {
		return nil
	}
	t := *row.LastSyncAt
	return &t
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
)

// processDocument runs the sequential per-document pipeline. Stages after
// persistence fail the document, not the sync.
func (s *service) processDocument(ctx context.Context, tenantID uuid.UUID, doc *connectors.Document) (outcome, error) {
	// a tombstoned document never comes back, even if the source re-emits it
	wasDeleted, err := s.deps.Deleted.Exists(ctx, tenantID, doc.ExternalID)
	if err != nil {
		return outcomeProcessed, fmt.Errorf("tombstone check: %w", err)
	}
	if wasDeleted {
		return outcomeSkipped, nil
	}

	// binary payloads become text before persistence so content_sha1 and
	// the stored row describe the final text
	if len(doc.Raw) > 0 && doc.Content == "" {
		parsed, err := s.deps.Parser.ParseBytes(ctx, doc.Filename, doc.MimeType, doc.Raw)
		if err != nil {
			return outcomeProcessed, fmt.Errorf("parse: %w", err)
		}
		doc.Content = parsed.PrimaryText
		if doc.ContentSHA1 == "" {
			doc.ContentSHA1 = connectors.HashContent(doc.Content)
		}
	}

	ts := doc.Timestamp
	row, created, err := s.deps.Documents.UpsertByExternalID(ctx, nil, &types.Document{
		TenantID:        tenantID,
		SourceType:      doc.Source,
		ExternalID:      doc.ExternalID,
		Title:           doc.Title,
		Content:         doc.Content,
		ContentSHA1:     doc.ContentSHA1,
		Sender:          doc.Author,
		SourceCreatedAt: &ts,
		Status:          types.DocumentProcessing,
	})
	if err != nil {
		return outcomeProcessed, fmt.Errorf("upsert: %w", err)
	}

	if !created && row.EmbeddedSHA1 == doc.ContentSHA1 && row.StructuredSummarySHA1 == doc.ContentSHA1 {
		_ = s.deps.Documents.SetStatus(ctx, nil, row.ID, types.DocumentClassified, "")
		return outcomeSkipped, nil
	}

	if doc.Content == "" {
		_ = s.deps.Documents.SetStatus(ctx, nil, row.ID, types.DocumentClassified, "")
		return outcomeProcessed, nil
	}

	if err := s.classifyDocument(ctx, row.ID, doc); err != nil {
		_ = s.deps.Documents.SetStatus(ctx, nil, row.ID, types.DocumentPending, err.Error())
		return outcomeProcessed, err
	}

	if row.StructuredSummarySHA1 != doc.ContentSHA1 {
		if err := s.extractDocument(ctx, row.ID, doc); err != nil {
			// the analyzer falls back to truncated raw content; record and move on
			s.log.Warn("Extraction failed", "doc_id", doc.DocID, "error", err.Error())
			_ = s.deps.Documents.SetStatus(ctx, nil, row.ID, types.DocumentClassified, err.Error())
		}
	}

	if row.EmbeddedSHA1 != doc.ContentSHA1 {
		if err := s.embedDocument(ctx, tenantID, row.ID, doc); err != nil {
			_ = s.deps.Documents.SetStatus(ctx, nil, row.ID, types.DocumentClassified, err.Error())
			return outcomeProcessed, err
		}
	}
	return outcomeProcessed, nil
}

func (s *service) classifyDocument(ctx context.Context, id uuid.UUID, doc *connectors.Document) error {
	if s.deps.Classifier == nil {
		return s.deps.Documents.SetClassification(ctx, nil, id, types.ClassificationWork, 0, true)
	}
	var cls *extraction.Classification
	err := s.withLLM(ctx, func() error {
		var clsErr error
		cls, clsErr = s.deps.Classifier.Classify(ctx, doc.Title, doc.Content)
		return clsErr
	})
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	return s.deps.Documents.SetClassification(ctx, nil, id, cls.Label, cls.Confidence, cls.Borderline)
}

func (s *service) extractDocument(ctx context.Context, id uuid.UUID, doc *connectors.Document) error {
	var raw []byte
	err := s.withLLM(ctx, func() error {
		var exErr error
		_, raw, exErr = s.deps.Extractor.Extract(ctx, doc.Title, doc.Content)
		return exErr
	})
	if err != nil {
		return err
	}
	return s.deps.Documents.SetSummary(ctx, nil, id, datatypes.JSON(raw), doc.ContentSHA1)
}

func (s *service) embedDocument(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, doc *connectors.Document) error {
	stats, err := s.deps.Vector.EmbedAndUpsert(ctx, tenantID.String(), []vector.Document{{
		DocID:   doc.DocID,
		Title:   doc.Title,
		Content: doc.Content,
		Author:  doc.Author,
	}})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	return s.deps.Documents.MarkEmbedded(ctx, nil, id, doc.ContentSHA1, stats.PerDocChunks[doc.DocID])
}

// applyTombstone soft-deletes the row, records the deletion so the document
// never re-enters on later syncs, and purges its vectors.
func (s *service) applyTombstone(ctx context.Context, tenantID uuid.UUID, tomb *connectors.Tombstone) error {
	row, err := s.deps.Documents.GetByExternalID(ctx, nil, tenantID, tomb.ExternalID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	if err := s.deps.Deleted.Add(ctx, nil, tenantID, tomb.ExternalID, tomb.Source); err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	if err := s.deps.Documents.MarkDeleted(ctx, nil, tenantID, []uuid.UUID{row.ID}); err != nil {
		return err
	}
	docID := connectors.MakeDocID(tomb.Source, tomb.ExternalID)
	return s.deps.Vector.DeleteDocuments(ctx, tenantID.String(),
		[]string{docID}, map[string]int{docID: row.ChunkCount})
}
