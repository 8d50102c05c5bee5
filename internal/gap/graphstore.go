package gap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	neo4jdb "github.com/loomwell/handover-backend/internal/clients/neo4j"
	"github.com/loomwell/handover-backend/internal/logger"
)

// GraphStore persists the assembled knowledge graph so answered gaps and
// later analyses can build on prior runs.
type GraphStore interface {
	SaveGraph(ctx context.Context, tenantID uuid.UUID, g *KnowledgeGraph) error
}

type neoGraphStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

// NewGraphStore returns a nil store when the graph database is not
// configured; callers treat nil as "persistence disabled".
func NewGraphStore(log *logger.Logger, client *neo4jdb.Client) (GraphStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, nil
	}
	return &neoGraphStore{client: client, log: log.With("service", "GraphStore")}, nil
}

func (s *neoGraphStore) SaveGraph(ctx context.Context, tenantID uuid.UUID, g *KnowledgeGraph) error {
	if tenantID == uuid.Nil {
		return fmt.Errorf("graph store: missing tenant")
	}
	if g == nil {
		return nil
	}
	tid := tenantID.String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	people := make([]map[string]any, 0, len(g.People))
	for _, key := range sortedKeys(g.People) {
		pn := g.People[key]
		people = append(people, map[string]any{
			"key":       key,
			"name":      pn.Name,
			"doc_count": int64(len(pn.Docs)),
			"synced_at": now,
		})
	}

	systems := make([]map[string]any, 0, len(g.Systems))
	worksOn := make([]map[string]any, 0)
	for _, key := range sortedKeys(g.Systems) {
		sn := g.Systems[key]
		lastAt := ""
		if !sn.LastAt.IsZero() {
			lastAt = sn.LastAt.UTC().Format(time.RFC3339Nano)
		}
		systems = append(systems, map[string]any{
			"key":       key,
			"name":      sn.Name,
			"doc_count": int64(len(sn.Docs)),
			"last_at":   lastAt,
			"synced_at": now,
		})
		for _, pk := range sortedKeys(sn.People) {
			worksOn = append(worksOn, map[string]any{
				"person_key": pk,
				"system_key": key,
				"weight":     int64(sn.People[pk]),
			})
		}
	}

	topics := make([]map[string]any, 0, len(g.Topics))
	knowsAbout := make([]map[string]any, 0)
	for _, key := range sortedKeys(g.Topics) {
		tn := g.Topics[key]
		topics = append(topics, map[string]any{
			"key":       key,
			"name":      tn.Name,
			"doc_count": int64(len(tn.Docs)),
			"synced_at": now,
		})
		for _, pk := range sortedKeys(tn.People) {
			knowsAbout = append(knowsAbout, map[string]any{
				"person_key": pk,
				"topic_key":  key,
				"weight":     int64(tn.People[pk]),
			})
		}
	}

	// one statement per batch; UNWIND over an empty list would cut off
	// everything after it in a combined query
	statements := []struct {
		name   string
		cypher string
		rows   []map[string]any
	}{
		{"people", `
UNWIND $rows AS p
MERGE (pn:Person {tenant_id: $tenant_id, key: p.key})
SET pn.name = p.name, pn.doc_count = p.doc_count, pn.synced_at = p.synced_at`, people},
		{"systems", `
UNWIND $rows AS s
MERGE (sn:System {tenant_id: $tenant_id, key: s.key})
SET sn.name = s.name, sn.doc_count = s.doc_count,
    sn.last_at = s.last_at, sn.synced_at = s.synced_at`, systems},
		{"topics", `
UNWIND $rows AS tp
MERGE (tn:Topic {tenant_id: $tenant_id, key: tp.key})
SET tn.name = tp.name, tn.doc_count = tp.doc_count, tn.synced_at = tp.synced_at`, topics},
		{"works_on", `
UNWIND $rows AS w
MATCH (pn:Person {tenant_id: $tenant_id, key: w.person_key})
MATCH (sn:System {tenant_id: $tenant_id, key: w.system_key})
MERGE (pn)-[r:WORKS_ON]->(sn)
SET r.weight = w.weight`, worksOn},
		{"knows_about", `
UNWIND $rows AS k
MATCH (pn:Person {tenant_id: $tenant_id, key: k.person_key})
MATCH (tn:Topic {tenant_id: $tenant_id, key: k.topic_key})
MERGE (pn)-[r:KNOWS_ABOUT]->(tn)
SET r.weight = k.weight`, knowsAbout},
	}

	for _, stmt := range statements {
		if len(stmt.rows) == 0 {
			continue
		}
		params := map[string]any{"tenant_id": tid, "rows": stmt.rows}
		if err := s.client.ExecuteWrite(ctx, stmt.cypher, params); err != nil {
			return fmt.Errorf("graph store: save %s: %w", stmt.name, err)
		}
	}
	s.log.Info("Knowledge graph persisted",
		"tenant_id", tid,
		"people", len(people),
		"systems", len(systems),
		"topics", len(topics),
	)
	return nil
}
