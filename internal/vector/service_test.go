package vector

import (
	"context"
	"strings"
	"testing"

	"github.com/loomwell/handover-backend/internal/clients/pinecone"
	"github.com/loomwell/handover-backend/internal/logger"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
)

type fakeLLM struct {
	embedCalls [][]string
}

func (f *fakeLLM) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.embedCalls = append(f.embedCalls, inputs)
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeLLM) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func (f *fakeLLM) GenerateText(context.Context, string, string) (string, error) {
	return "", nil
}

type fakeStore struct {
	upserts    map[string][]pinecone.Vector
	deletedIDs map[string][]string
	matches    []pinecone.QueryMatch
	lastFilter map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		upserts:    map[string][]pinecone.Vector{},
		deletedIDs: map[string][]string{},
	}
}

func (f *fakeStore) Upsert(_ context.Context, namespace string, vectors []pinecone.Vector) error {
	f.upserts[namespace] = append(f.upserts[namespace], vectors...)
	return nil
}

func (f *fakeStore) QueryMatches(_ context.Context, _ string, _ []float32, _ int, filter map[string]any) ([]pinecone.QueryMatch, error) {
	f.lastFilter = filter
	return f.matches, nil
}

func (f *fakeStore) DeleteIDs(_ context.Context, namespace string, ids []string) error {
	f.deletedIDs[namespace] = append(f.deletedIDs[namespace], ids...)
	return nil
}

func (f *fakeStore) DeleteNamespace(context.Context, string) error { return nil }

func (f *fakeStore) NamespaceCount(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeStore) ListNamespaces(context.Context) ([]string, error) { return nil, nil }

func newTestService(t *testing.T, llm *fakeLLM, store *fakeStore) Service {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	svc, err := NewService(log, llm, store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestVectorIDDeterministic(t *testing.T) {
	a := VectorID("email_msg-1", 0)
	b := VectorID("email_msg-1", 0)
	c := VectorID("email_msg-1", 1)
	if a != b {
		t.Fatalf("same inputs produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different chunk indices collided: %s", a)
	}
	if len(a) != 40 {
		t.Fatalf("expected sha1 hex id, got %q", a)
	}
}

func TestEmbedAndUpsertRejectsEmptyTenant(t *testing.T) {
	svc := newTestService(t, &fakeLLM{}, newFakeStore())
	_, err := svc.EmbedAndUpsert(context.Background(), "  ", nil)
	if err == nil || !strings.Contains(err.Error(), apperr.ErrTenantIsolation.Error()) {
		t.Fatalf("expected tenant isolation error, got %v", err)
	}
	if _, err := svc.Search(context.Background(), "", "q", 5, nil); err == nil {
		t.Fatalf("expected search to reject empty tenant")
	}
	if err := svc.DeleteTenant(context.Background(), ""); err == nil {
		t.Fatalf("expected delete to reject empty tenant")
	}
}

func TestEmbedAndUpsertStats(t *testing.T) {
	llm := &fakeLLM{}
	store := newFakeStore()
	svc := newTestService(t, llm, store)

	docs := []Document{
		{DocID: "email_a", Title: "Alpha", Content: strings.Repeat("Nothing here. ", 400), Author: "ana"},
		{DocID: "chat_b", Title: "Beta", Content: "short message"},
		{DocID: "web_c", Title: "", Content: "   "},
	}
	stats, err := svc.EmbedAndUpsert(context.Background(), "tenant-1", docs)
	if err != nil {
		t.Fatalf("EmbedAndUpsert: %v", err)
	}
	if stats.DocsEmbedded != 2 {
		t.Fatalf("expected 2 docs embedded (blank doc skipped), got %d", stats.DocsEmbedded)
	}
	if stats.PerDocChunks["email_a"] < 2 {
		t.Fatalf("expected multiple chunks for the long doc, got %d", stats.PerDocChunks["email_a"])
	}
	if stats.PerDocChunks["chat_b"] != 1 {
		t.Fatalf("expected 1 chunk for the short doc, got %d", stats.PerDocChunks["chat_b"])
	}
	if stats.ChunksUpserted != stats.ChunksCreated {
		t.Fatalf("upserted %d != created %d", stats.ChunksUpserted, stats.ChunksCreated)
	}

	vectors := store.upserts["tenant-1"]
	if len(vectors) != stats.ChunksUpserted {
		t.Fatalf("store received %d vectors, want %d", len(vectors), stats.ChunksUpserted)
	}
	for _, v := range vectors {
		if v.Metadata["tenant_id"] != "tenant-1" {
			t.Fatalf("vector %s missing tenant metadata: %v", v.ID, v.Metadata)
		}
	}
	if vectors[0].ID != VectorID("email_a", 0) {
		t.Fatalf("unexpected first vector id %s", vectors[0].ID)
	}
}

func TestEmbedAndUpsertRerunsInPlace(t *testing.T) {
	llm := &fakeLLM{}
	store := newFakeStore()
	svc := newTestService(t, llm, store)

	doc := []Document{{DocID: "email_a", Title: "Alpha", Content: "same content"}}
	if _, err := svc.EmbedAndUpsert(context.Background(), "t", doc); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := svc.EmbedAndUpsert(context.Background(), "t", doc); err != nil {
		t.Fatalf("second run: %v", err)
	}
	vectors := store.upserts["t"]
	if len(vectors) != 2 || vectors[0].ID != vectors[1].ID {
		t.Fatalf("rerun must target the same vector id, got %d vectors", len(vectors))
	}
}

func TestHybridSearchTitleBoostOutranksBody(t *testing.T) {
	store := newFakeStore()
	// equal dense scores; roadmap appears in Doc-X's title but only in
	// Doc-Y's body
	store.matches = []pinecone.QueryMatch{
		{ID: "y0", Score: 0.8, Metadata: map[string]any{
			"doc_id": "doc-y", "chunk_idx": float64(0),
			"title": "Weekly notes", "content_preview": "the roadmap shifted last week",
		}},
		{ID: "x0", Score: 0.8, Metadata: map[string]any{
			"doc_id": "doc-x", "chunk_idx": float64(0),
			"title": "Roadmap 2026", "content_preview": "planning doc for next year",
		}},
	}
	svc := newTestService(t, &fakeLLM{}, store)

	results, err := svc.HybridSearch(context.Background(), "t", "roadmap", 2, 0.7, 0.3)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].DocID != "doc-x" {
		t.Fatalf("title match should outrank body match, got %s first", results[0].DocID)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected strict ordering, got %f vs %f", results[0].Score, results[1].Score)
	}
}

func TestSearchInjectsTenantFilter(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, &fakeLLM{}, store)

	// a caller-supplied tenant_id must not override the authenticated one
	_, err := svc.Search(context.Background(), "tenant-a", "query", 5, map[string]any{
		"tenant_id": "tenant-b",
		"source":    "email",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if store.lastFilter["tenant_id"] != "tenant-a" {
		t.Fatalf("tenant filter overridden: %v", store.lastFilter)
	}
	if store.lastFilter["source"] != "email" {
		t.Fatalf("caller filter dropped: %v", store.lastFilter)
	}
}

func TestDeleteDocumentsCoversChunkRange(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, &fakeLLM{}, store)

	err := svc.DeleteDocuments(context.Background(), "t", []string{"email_a"}, map[string]int{"email_a": 3})
	if err != nil {
		t.Fatalf("DeleteDocuments: %v", err)
	}
	ids := store.deletedIDs["t"]
	if len(ids) < 3 {
		t.Fatalf("expected at least the 3 known chunk ids, got %d", len(ids))
	}
	want := VectorID("email_a", 2)
	found := false
	for _, id := range ids {
		if id == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("chunk 2 id missing from delete set")
	}
}

func TestKeywordBoostCap(t *testing.T) {
	terms := []string{"alpha", "beta", "gamma", "delta"}
	boost := keywordBoost(terms, "alpha beta gamma delta", "alpha beta gamma delta")
	if boost != 0.3 {
		t.Fatalf("expected cap at 0.3, got %f", boost)
	}
}
