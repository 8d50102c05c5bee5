package pinecone

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/loomwell/handover-backend/internal/logger"
)

// VectorStore is the namespaced index surface the vector service talks to.
// One namespace per tenant; the prefix only guards against collisions when
// several deployments share an index.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]QueryMatch, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	NamespaceCount(ctx context.Context, namespace string) (int64, error)
	ListNamespaces(ctx context.Context) ([]string, error)
}

type vectorStore struct {
	log       *logger.Logger
	pc        Client
	indexName string
	indexHost string
	nsPrefix  string
}

func NewVectorStore(log *logger.Logger, pc Client) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pc == nil {
		return nil, fmt.Errorf("pinecone client required")
	}

	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}

	host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))

	nsPrefix := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE_PREFIX"))
	if nsPrefix == "" {
		nsPrefix = "ho"
	}

	// If host missing, bootstrap via describe_index (fine for local/dev; avoid in prod).
	if host == "" {
		desc, err := pc.DescribeIndex(context.Background(), indexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = strings.TrimSpace(desc.Host)
		if host == "" {
			return nil, fmt.Errorf("pinecone describe_index returned empty host")
		}
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index (avoid this in production)",
			"index_name", indexName,
			"index_host", host,
		)
	}

	return &vectorStore{
		log:       log.With("service", "PineconeVectorStore"),
		pc:        pc,
		indexName: indexName,
		indexHost: host,
		nsPrefix:  nsPrefix,
	}, nil
}

func (s *vectorStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	ns := s.qualifyNamespace(namespace)
	_, err := s.pc.UpsertVectors(ctx, s.indexHost, UpsertRequest{
		Namespace: ns,
		Vectors:   vectors,
	})
	return err
}

func (s *vectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]QueryMatch, error) {
	if s == nil || s.pc == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	ns := s.qualifyNamespace(namespace)
	resp, err := s.pc.Query(ctx, s.indexHost, QueryRequest{
		Namespace:       ns,
		Vector:          q,
		TopK:            topK,
		Filter:          filter,
		IncludeValues:   false,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (s *vectorStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	if len(ids) == 0 {
		return nil
	}
	ns := s.qualifyNamespace(namespace)
	_, err := s.pc.DeleteVectors(ctx, s.indexHost, DeleteRequest{
		Namespace: ns,
		IDs:       ids,
	})
	return err
}

func (s *vectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if s == nil || s.pc == nil {
		return fmt.Errorf("vector store unavailable")
	}
	ns := s.qualifyNamespace(namespace)
	_, err := s.pc.DeleteVectors(ctx, s.indexHost, DeleteRequest{
		Namespace: ns,
		DeleteAll: true,
	})
	return err
}

func (s *vectorStore) NamespaceCount(ctx context.Context, namespace string) (int64, error) {
	if s == nil || s.pc == nil {
		return 0, fmt.Errorf("vector store unavailable")
	}
	stats, err := s.pc.DescribeIndexStats(ctx, s.indexHost)
	if err != nil {
		return 0, err
	}
	ns := s.qualifyNamespace(namespace)
	if entry, ok := stats.Namespaces[ns]; ok {
		return entry.VectorCount, nil
	}
	return 0, nil
}

func (s *vectorStore) ListNamespaces(ctx context.Context) ([]string, error) {
	if s == nil || s.pc == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	stats, err := s.pc.DescribeIndexStats(ctx, s.indexHost)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(stats.Namespaces))
	for ns := range stats.Namespaces {
		out = append(out, ns)
	}
	return out, nil
}

func (s *vectorStore) qualifyNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return s.nsPrefix
	}
	return s.nsPrefix + ":" + ns
}
