package repos

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/loomwell/handover-backend/internal/logger"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
	"github.com/loomwell/handover-backend/internal/types"
)

func testDB(t *testing.T) (*gorm.DB, *logger.Logger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// one connection so every session sees the same in-memory database
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&types.Tenant{},
		&types.User{},
		&types.Connector{},
		&types.Document{},
		&types.DeletedDocument{},
		&types.KnowledgeGap{},
		&types.GapAnswer{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return db, log
}

func questionsJSON(t *testing.T, texts ...string) []byte {
	t.Helper()
	qs := make([]types.GapQuestion, 0, len(texts))
	for _, text := range texts {
		qs = append(qs, types.GapQuestion{Text: text})
	}
	raw, err := json.Marshal(qs)
	if err != nil {
		t.Fatalf("marshal questions: %v", err)
	}
	return raw
}

func TestRecordAnswerFlipsSlotsAndStatus(t *testing.T) {
	db, log := testDB(t)
	gaps := NewKnowledgeGapRepo(db, log)
	answers := NewGapAnswerRepo(db, log)
	ctx := context.Background()

	tenantID := uuid.New()
	gap := &types.KnowledgeGap{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Title:     "Who owns deploys?",
		Category:  "PROCESS",
		Priority:  4,
		Status:    types.GapOpen,
		Questions: questionsJSON(t, "Who approves a deploy?", "Where is the runbook?"),
	}
	if _, err := gaps.CreateBatch(ctx, nil, []*types.KnowledgeGap{gap}); err != nil {
		t.Fatalf("create gap: %v", err)
	}

	answer, updated, err := answers.RecordAnswer(ctx, gap.ID, tenantID, &types.GapAnswer{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		QuestionIndex: 0,
		AnswerText:    "the on-call lead approves",
	})
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if answer.QuestionText != "Who approves a deploy?" {
		t.Fatalf("question text not backfilled: %q", answer.QuestionText)
	}
	if updated.Status != types.GapInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", updated.Status)
	}

	var qs []types.GapQuestion
	if err := json.Unmarshal(updated.Questions, &qs); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	if !qs[0].Answered || qs[0].AnswerID == nil || *qs[0].AnswerID != answer.ID {
		t.Fatalf("slot 0 not flipped: %+v", qs[0])
	}
	if qs[1].Answered {
		t.Fatalf("slot 1 flipped without an answer")
	}

	// answering the last open question marks the gap ANSWERED
	_, updated, err = answers.RecordAnswer(ctx, gap.ID, tenantID, &types.GapAnswer{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		QuestionIndex: 1,
		AnswerText:    "wiki/deploys",
	})
	if err != nil {
		t.Fatalf("second RecordAnswer: %v", err)
	}
	if updated.Status != types.GapAnswered {
		t.Fatalf("status = %s, want ANSWERED", updated.Status)
	}

	rows, err := answers.ListByGap(ctx, nil, tenantID, gap.ID)
	if err != nil {
		t.Fatalf("ListByGap: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(rows))
	}
}

func TestRecordAnswerRejectsBadIndexAndWrongTenant(t *testing.T) {
	db, log := testDB(t)
	gaps := NewKnowledgeGapRepo(db, log)
	answers := NewGapAnswerRepo(db, log)
	ctx := context.Background()

	tenantID := uuid.New()
	gap := &types.KnowledgeGap{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Title:     "gap",
		Questions: questionsJSON(t, "only question"),
	}
	if _, err := gaps.CreateBatch(ctx, nil, []*types.KnowledgeGap{gap}); err != nil {
		t.Fatalf("create gap: %v", err)
	}

	_, _, err := answers.RecordAnswer(ctx, gap.ID, tenantID, &types.GapAnswer{
		ID: uuid.New(), UserID: uuid.New(), QuestionIndex: 5, AnswerText: "x",
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("out-of-range index: got %v", err)
	}

	_, _, err = answers.RecordAnswer(ctx, gap.ID, uuid.New(), &types.GapAnswer{
		ID: uuid.New(), UserID: uuid.New(), QuestionIndex: 0, AnswerText: "x",
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("cross-tenant access: got %v", err)
	}

	// the failed writes left no answer rows behind
	rows, err := answers.ListByGap(ctx, nil, tenantID, gap.ID)
	if err != nil {
		t.Fatalf("ListByGap: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rolled-back answers persisted: %d", len(rows))
	}
}

func TestUpsertByExternalIDCreateThenUpdate(t *testing.T) {
	db, log := testDB(t)
	docs := NewDocumentRepo(db, log)
	ctx := context.Background()

	tenantID := uuid.New()
	first, created, err := docs.UpsertByExternalID(ctx, nil, &types.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		SourceType:  "email",
		ExternalID:  "msg-1",
		Title:       "v1",
		Content:     "original",
		ContentSHA1: "sha-v1",
		Status:      types.DocumentPending,
	})
	if err != nil {
		t.Fatalf("create upsert: %v", err)
	}
	if !created {
		t.Fatalf("first upsert should create")
	}

	second, created, err := docs.UpsertByExternalID(ctx, nil, &types.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		SourceType:  "email",
		ExternalID:  "msg-1",
		Title:       "v2",
		Content:     "changed",
		ContentSHA1: "sha-v2",
	})
	if err != nil {
		t.Fatalf("update upsert: %v", err)
	}
	if created {
		t.Fatalf("second upsert must update, not create")
	}
	if second.ID != first.ID {
		t.Fatalf("upsert changed the row identity: %s vs %s", second.ID, first.ID)
	}

	got, err := docs.GetByID(ctx, nil, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "v2" || got.ContentSHA1 != "sha-v2" {
		t.Fatalf("update not applied: %+v", got)
	}

	sha, ok, err := docs.KnownHash(ctx, tenantID, "msg-1")
	if err != nil || !ok || sha != "sha-v2" {
		t.Fatalf("KnownHash = %q %v %v", sha, ok, err)
	}
	if _, ok, _ := docs.KnownHash(ctx, uuid.New(), "msg-1"); ok {
		t.Fatalf("KnownHash leaked across tenants")
	}
}

func TestDeletedDocumentTombstones(t *testing.T) {
	db, log := testDB(t)
	deleted := NewDeletedDocumentRepo(db, log)
	ctx := context.Background()

	tenantID := uuid.New()
	if err := deleted.Add(ctx, nil, tenantID, "msg-9", "email"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// re-adding the same tombstone is idempotent
	if err := deleted.Add(ctx, nil, tenantID, "msg-9", "email"); err != nil {
		t.Fatalf("second Add: %v", err)
	}

	ok, err := deleted.Exists(ctx, tenantID, "msg-9")
	if err != nil || !ok {
		t.Fatalf("Exists = %v %v", ok, err)
	}
	ok, err = deleted.Exists(ctx, tenantID, "msg-10")
	if err != nil || ok {
		t.Fatalf("unexpected tombstone for msg-10")
	}
	ok, err = deleted.Exists(ctx, uuid.New(), "msg-9")
	if err != nil || ok {
		t.Fatalf("tombstone leaked across tenants")
	}
}

func TestMarkEmbeddedAndMarkDeleted(t *testing.T) {
	db, log := testDB(t)
	docs := NewDocumentRepo(db, log)
	ctx := context.Background()

	tenantID := uuid.New()
	doc, _, err := docs.UpsertByExternalID(ctx, nil, &types.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		SourceType:  "chat",
		ExternalID:  "c-1",
		Title:       "thread",
		Content:     "hello",
		ContentSHA1: "sha-c1",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := docs.MarkEmbedded(ctx, nil, doc.ID, "sha-c1", 3); err != nil {
		t.Fatalf("MarkEmbedded: %v", err)
	}
	got, err := docs.GetByID(ctx, nil, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.EmbeddedSHA1 != "sha-c1" || got.ChunkCount != 3 {
		t.Fatalf("embed bookkeeping: %+v", got)
	}

	if err := docs.MarkDeleted(ctx, nil, tenantID, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	got, err = docs.GetByID(ctx, nil, doc.ID)
	if err != nil {
		t.Fatalf("GetByID after delete: %v", err)
	}
	if !got.IsDeleted {
		t.Fatalf("document not marked deleted")
	}
}
