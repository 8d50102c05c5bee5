package vector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/clients/pinecone"
	"github.com/loomwell/handover-backend/internal/extraction"
	"github.com/loomwell/handover-backend/internal/logger"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
)

const (
	embedBatchSize    = 50
	upsertBatchSize   = 500
	maxInFlightBatch  = 3
	upsertMaxAttempts = 3
	maxEmbedTextChars = 30_000

	titleMetadataMax   = 200
	previewMetadataMax = 500
	scalarMetadataMax  = 500
)

// Document is the embedding-ready view of a stored document.
type Document struct {
	DocID   string
	Title   string
	Content string
	Author  string
	// Extra carries caller-supplied scalar metadata; oversized or
	// non-scalar values are dropped.
	Extra map[string]any
}

type Stats struct {
	DocsEmbedded   int
	ChunksCreated  int
	ChunksUpserted int
	Elapsed        time.Duration
	Throughput     float64 // chunks per second
	// PerDocChunks lets the caller persist chunk counts for delete bounds.
	PerDocChunks map[string]int
}

type SearchResult struct {
	VectorID       string
	Score          float64
	DocID          string
	ChunkIdx       int
	Title          string
	ContentPreview string
	Metadata       map[string]any
}

type Service interface {
	EmbedAndUpsert(ctx context.Context, tenantID string, docs []Document) (*Stats, error)
	Search(ctx context.Context, tenantID string, query string, topK int, filter map[string]any) ([]SearchResult, error)
	HybridSearch(ctx context.Context, tenantID string, query string, topK int, wDense, wSparse float64) ([]SearchResult, error)
	DeleteDocuments(ctx context.Context, tenantID string, docIDs []string, chunkCounts map[string]int) error
	DeleteTenant(ctx context.Context, tenantID string) error
}

type service struct {
	log   *logger.Logger
	llm   openai.Client
	store pinecone.VectorStore

	maxChunksPerDoc int
}

func NewService(log *logger.Logger, llm openai.Client, store pinecone.VectorStore) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}

	maxChunks := 100
	if v := strings.TrimSpace(os.Getenv("VECTOR_MAX_CHUNKS_PER_DOC")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			maxChunks = parsed
		}
	}

	return &service{
		log:             log.With("service", "VectorService"),
		llm:             llm,
		store:           store,
		maxChunksPerDoc: maxChunks,
	}, nil
}

// requireTenant is the application gate: no call crosses the network with an
// empty tenant id.
func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("empty tenant id: %w", apperr.ErrTenantIsolation)
	}
	return nil
}

// VectorID is the deterministic id for one chunk, so reruns upsert in place
// instead of duplicating.
func VectorID(docID string, chunkIdx int) string {
	sum := sha1.Sum([]byte(docID + "|" + strconv.Itoa(chunkIdx)))
	return hex.EncodeToString(sum[:])
}

func (s *service) EmbedAndUpsert(ctx context.Context, tenantID string, docs []Document) (*Stats, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	started := time.Now()

	stats := &Stats{PerDocChunks: map[string]int{}}

	type pendingVector struct {
		id       string
		text     string
		metadata map[string]any
	}
	var pending []pendingVector

	for _, doc := range docs {
		chunks := extraction.ChunkDocument(doc.Title, doc.Author, doc.Content)
		if len(chunks) == 0 {
			continue
		}
		stats.DocsEmbedded++
		stats.ChunksCreated += len(chunks)
		stats.PerDocChunks[doc.DocID] = len(chunks)

		for _, ch := range chunks {
			text := ch.Text
			if len(text) > maxEmbedTextChars {
				s.log.Warn("Chunk text exceeds embedding cap; truncating",
					"doc_id", doc.DocID,
					"chunk_idx", ch.Index,
					"chars", len(text),
				)
				text = text[:maxEmbedTextChars]
			}

			md := map[string]any{
				"tenant_id":       tenantID,
				"doc_id":          doc.DocID,
				"chunk_idx":       ch.Index,
				"title":           truncate(doc.Title, titleMetadataMax),
				"content_preview": truncate(text, previewMetadataMax),
			}
			for k, v := range doc.Extra {
				if !scalarOK(v) {
					continue
				}
				if _, taken := md[k]; taken {
					continue
				}
				md[k] = v
			}

			pending = append(pending, pendingVector{
				id:       VectorID(doc.DocID, ch.Index),
				text:     text,
				metadata: md,
			})
		}
	}

	if len(pending) == 0 {
		stats.Elapsed = time.Since(started)
		return stats, nil
	}

	// embed in fixed batches
	vectors := make([]pinecone.Vector, 0, len(pending))
	for lo := 0; lo < len(pending); lo += embedBatchSize {
		hi := lo + embedBatchSize
		if hi > len(pending) {
			hi = len(pending)
		}
		texts := make([]string, 0, hi-lo)
		for _, p := range pending[lo:hi] {
			texts = append(texts, p.text)
		}

		embedded, err := s.llm.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", lo, hi, err)
		}
		if len(embedded) != hi-lo {
			return nil, fmt.Errorf("embed batch size mismatch: want %d got %d", hi-lo, len(embedded))
		}
		for i, vec := range embedded {
			p := pending[lo+i]
			vectors = append(vectors, pinecone.Vector{
				ID:       p.id,
				Values:   vec,
				Metadata: p.metadata,
			})
		}
	}

	// upsert in batches of 500, at most 3 in flight
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlightBatch)

	upserted := make([]int, (len(vectors)+upsertBatchSize-1)/upsertBatchSize)
	for bi, lo := 0, 0; lo < len(vectors); bi, lo = bi+1, lo+upsertBatchSize {
		hi := lo + upsertBatchSize
		if hi > len(vectors) {
			hi = len(vectors)
		}
		batch := vectors[lo:hi]
		slot := bi
		g.Go(func() error {
			if err := s.upsertWithRetry(gctx, tenantID, batch); err != nil {
				return err
			}
			upserted[slot] = len(batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, n := range upserted {
		stats.ChunksUpserted += n
	}

	stats.Elapsed = time.Since(started)
	if secs := stats.Elapsed.Seconds(); secs > 0 {
		stats.Throughput = float64(stats.ChunksUpserted) / secs
	}

	s.log.Info("Embedding upsert complete",
		"tenant_id", tenantID,
		"docs", stats.DocsEmbedded,
		"chunks", stats.ChunksCreated,
		"upserted", stats.ChunksUpserted,
		"elapsed", stats.Elapsed.String(),
	)
	return stats, nil
}

func (s *service) upsertWithRetry(ctx context.Context, tenantID string, batch []pinecone.Vector) error {
	backoff := 1 * time.Second
	var lastErr error
	for attempt := 1; attempt <= upsertMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.store.Upsert(ctx, tenantID, batch)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < upsertMaxAttempts {
			s.log.Warn("Vector upsert retrying",
				"tenant_id", tenantID,
				"batch_size", len(batch),
				"attempt", attempt,
				"error", err.Error(),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("vector upsert failed after %d attempts: %w", upsertMaxAttempts, lastErr)
}

func (s *service) Search(ctx context.Context, tenantID string, query string, topK int, filter map[string]any) ([]SearchResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	embedded, err := s.llm.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedded) == 0 {
		return nil, fmt.Errorf("embed query returned nothing")
	}

	// defense in depth: tenant filter rides along even though the
	// namespace already scopes the query
	combined := map[string]any{"tenant_id": tenantID}
	for k, v := range filter {
		if k == "tenant_id" {
			continue
		}
		combined[k] = v
	}

	matches, err := s.store.QueryMatches(ctx, tenantID, embedded[0], topK, combined)
	if err != nil {
		return nil, err
	}
	return resultsFromMatches(matches), nil
}

func (s *service) HybridSearch(ctx context.Context, tenantID string, query string, topK int, wDense, wSparse float64) ([]SearchResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	if wDense <= 0 && wSparse <= 0 {
		wDense, wSparse = 0.7, 0.3
	}

	dense, err := s.Search(ctx, tenantID, query, 2*topK, nil)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	for i := range dense {
		boost := keywordBoost(terms, dense[i].ContentPreview, dense[i].Title)
		dense[i].Score = wDense*dense[i].Score + wSparse*boost
	}

	sortByScoreDesc(dense)
	if len(dense) > topK {
		dense = dense[:topK]
	}
	return dense, nil
}

// keywordBoost scores keyword overlap: 0.05 per content match plus 0.15 per
// title match, capped at 0.3.
func keywordBoost(terms []string, content, title string) float64 {
	contentLower := strings.ToLower(content)
	titleLower := strings.ToLower(title)

	boost := 0.0
	for _, t := range terms {
		if strings.Contains(contentLower, t) {
			boost += 0.05
		}
		if strings.Contains(titleLower, t) {
			boost += 0.15
		}
	}
	if boost > 0.3 {
		boost = 0.3
	}
	return boost
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func sortByScoreDesc(rs []SearchResult) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].Score > rs[j-1].Score; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}

func (s *service) DeleteDocuments(ctx context.Context, tenantID string, docIDs []string, chunkCounts map[string]int) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(docIDs) == 0 {
		return nil
	}

	var ids []string
	for _, docID := range docIDs {
		bound := s.maxChunksPerDoc
		if n, ok := chunkCounts[docID]; ok && n > bound {
			bound = n
		}
		for i := 0; i < bound; i++ {
			ids = append(ids, VectorID(docID, i))
		}
	}

	// the delete endpoint takes id lists in reasonable sizes
	for lo := 0; lo < len(ids); lo += 1000 {
		hi := lo + 1000
		if hi > len(ids) {
			hi = len(ids)
		}
		if err := s.store.DeleteIDs(ctx, tenantID, ids[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) DeleteTenant(ctx context.Context, tenantID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.log.Warn("Purging tenant namespace", "tenant_id", tenantID)
	return s.store.DeleteNamespace(ctx, tenantID)
}

func resultsFromMatches(matches []pinecone.QueryMatch) []SearchResult {
	out := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		r := SearchResult{
			VectorID: m.ID,
			Score:    m.Score,
			Metadata: m.Metadata,
		}
		if v, ok := m.Metadata["doc_id"].(string); ok {
			r.DocID = v
		}
		switch v := m.Metadata["chunk_idx"].(type) {
		case float64:
			r.ChunkIdx = int(v)
		case int:
			r.ChunkIdx = v
		}
		if v, ok := m.Metadata["title"].(string); ok {
			r.Title = v
		}
		if v, ok := m.Metadata["content_preview"].(string); ok {
			r.ContentPreview = v
		}
		out = append(out, r)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func scalarOK(v any) bool {
	switch t := v.(type) {
	case string:
		return len(t) < scalarMetadataMax
	case bool, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
