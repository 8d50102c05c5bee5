package gap

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/loomwell/handover-backend/internal/types"
)

func summaryJSON(t *testing.T, text string) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"summary": text})
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	return datatypes.JSON(raw)
}

func TestPrepareCorpusBudget(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := make([]*types.Document, 0, 300)
	for i := 0; i < 300; i++ {
		created := at.Add(-time.Duration(i) * time.Hour)
		docs = append(docs, &types.Document{
			SourceType:        "email",
			ExternalID:        fmt.Sprintf("msg-%03d", i),
			Title:             fmt.Sprintf("Thread %d", i),
			StructuredSummary: summaryJSON(t, strings.Repeat("s", 3000)),
			SourceCreatedAt:   &created,
		})
	}

	corpus := PrepareCorpus(nil, docs)

	if corpus.Stats.Total != 300 {
		t.Fatalf("total = %d", corpus.Stats.Total)
	}
	if corpus.Stats.Included > 133 {
		t.Fatalf("included %d exceeds what the budget allows", corpus.Stats.Included)
	}
	if corpus.Stats.Skipped < 167 {
		t.Fatalf("skipped = %d, want >= 167", corpus.Stats.Skipped)
	}
	if corpus.Stats.TotalChars > CorpusCharBudget {
		t.Fatalf("total chars %d over budget", corpus.Stats.TotalChars)
	}
	if corpus.Stats.WithSummary != corpus.Stats.Included {
		t.Fatalf("every included doc came from a summary, got %d/%d",
			corpus.Stats.WithSummary, corpus.Stats.Included)
	}
	if corpus.Stats.EstTokens != corpus.Stats.TotalChars/4 {
		t.Fatalf("est tokens %d", corpus.Stats.EstTokens)
	}

	// most recent first
	if corpus.Docs[0].DocID != "email_msg-000" {
		t.Fatalf("expected newest doc first, got %s", corpus.Docs[0].DocID)
	}
	for i := 1; i < len(corpus.Docs); i++ {
		if corpus.Docs[i].At.After(corpus.Docs[i-1].At) {
			t.Fatalf("docs not ordered newest-first at %d", i)
		}
	}
}

func TestPrepareCorpusRawFallbackLadder(t *testing.T) {
	docs := []*types.Document{
		{
			SourceType: "chat",
			ExternalID: "c-1",
			Title:      "No summary",
			Content:    strings.Repeat("x", 10_000),
		},
	}
	corpus := PrepareCorpus(nil, docs)
	if corpus.Stats.Included != 1 || corpus.Stats.WithFallback != 1 {
		t.Fatalf("stats: %+v", corpus.Stats)
	}
	if len(corpus.Docs[0].Text) != 4_000 {
		t.Fatalf("raw fallback should cap at 4000 chars, got %d", len(corpus.Docs[0].Text))
	}
	if corpus.Docs[0].FromSummary {
		t.Fatalf("raw doc marked as summary-backed")
	}
}

func TestPrepareCorpusTightBudgetRetriesAtTwoK(t *testing.T) {
	// fill the budget to within 3K of the cap, then offer a raw doc that
	// only fits at the tighter 2K rendering
	filler := make([]*types.Document, 0, 100)
	now := time.Now()
	for i := 0; i < 100; i++ {
		at := now.Add(time.Duration(100-i) * time.Minute)
		filler = append(filler, &types.Document{
			SourceType:        "email",
			ExternalID:        fmt.Sprintf("f-%d", i),
			Title:             "filler",
			StructuredSummary: summaryJSON(t, strings.Repeat("s", 3970)),
			SourceCreatedAt:   &at,
		})
	}
	old := now.Add(-time.Hour)
	raw := &types.Document{
		SourceType:      "chat",
		ExternalID:      "tail",
		Title:           "tail doc",
		Content:         strings.Repeat("y", 5_000),
		SourceCreatedAt: &old,
	}
	corpus := PrepareCorpus(nil, append(filler, raw))

	var tail *DocView
	for i := range corpus.Docs {
		if corpus.Docs[i].DocID == "chat_tail" {
			tail = &corpus.Docs[i]
		}
	}
	if tail == nil {
		t.Fatalf("tail doc should fit after the 2K retry; stats %+v", corpus.Stats)
	}
	if len(tail.Text) != 2_000 {
		t.Fatalf("tail doc rendered at %d chars, want 2000", len(tail.Text))
	}
	if corpus.Stats.TotalChars > CorpusCharBudget {
		t.Fatalf("over budget: %d", corpus.Stats.TotalChars)
	}
}

func TestPrepareCorpusSkipsEmptyDocs(t *testing.T) {
	corpus := PrepareCorpus(nil, []*types.Document{
		{SourceType: "email", ExternalID: "e", Title: "blank", Content: "   "},
	})
	if corpus.Stats.Included != 0 || corpus.Stats.Skipped != 1 {
		t.Fatalf("stats: %+v", corpus.Stats)
	}
}

func TestCorpusTextRendering(t *testing.T) {
	corpus := PrepareCorpus(nil, []*types.Document{
		{SourceType: "email", ExternalID: "m1", Title: "Launch", Sender: "ana", Content: "ship it"},
	})
	text := corpus.Text()
	if !strings.Contains(text, "=== Document 1: Launch ===") {
		t.Fatalf("missing header: %q", text)
	}
	if !strings.Contains(text, "Author: ana") || !strings.Contains(text, "ID: email_m1") {
		t.Fatalf("missing provenance: %q", text)
	}
	ids := corpus.DocIDs()
	if len(ids) != 1 || ids[0] != "email_m1" {
		t.Fatalf("doc ids: %v", ids)
	}
}
