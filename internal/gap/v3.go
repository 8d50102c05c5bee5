package gap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/extraction"
	"github.com/loomwell/handover-backend/internal/logger"
)

const StrategyV3 = "v3"

// staleAfter is how far behind the newest document a system or topic must
// fall before the staleness analyzer flags it.
const staleAfter = 180 * 24 * time.Hour

// v3Strategy is the default pipeline: deep extraction fills summary holes,
// the knowledge graph is assembled, eight analyzers emit weighted signals,
// one LLM call turns signals into questions, and multi-factor prioritization
// (scaled by accumulated feedback) sets the final priorities.
type v3Strategy struct {
	log      *logger.Logger
	llm      openai.Client
	feedback FeedbackStore
	graphs   GraphStore
}

// NewV3Strategy wires the default pipeline. feedback and graphs may be nil;
// feedback then defaults to an in-memory store and graph persistence is
// skipped.
func NewV3Strategy(log *logger.Logger, llm openai.Client, feedback FeedbackStore, graphs GraphStore) (Strategy, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	if feedback == nil {
		feedback = NewMemoryFeedback()
	}
	return &v3Strategy{
		log:      log.With("strategy", StrategyV3),
		llm:      llm,
		feedback: feedback,
		graphs:   graphs,
	}, nil
}

func (s *v3Strategy) Name() string { return StrategyV3 }

func (s *v3Strategy) Analyze(ctx context.Context, in Input) (*Result, error) {
	if err := s.deepExtract(ctx, in.Corpus); err != nil {
		// extraction holes degrade signal quality but do not block analysis
		s.log.Warn("Deep extraction failed; proceeding with partial summaries", "error", err.Error())
	}

	graph := BuildGraph(in.Corpus)
	if s.graphs != nil {
		if err := s.graphs.SaveGraph(ctx, in.TenantID, graph); err != nil {
			s.log.Warn("Knowledge graph persistence failed", "error", err.Error())
		}
	}

	signals := s.runAnalyzers(graph, in.Corpus)
	if len(signals) == 0 {
		s.log.Info("Analyzers produced no signals")
		return &Result{AnalysisType: StrategyV3, Stats: in.Corpus.Stats}, nil
	}

	weights := s.feedback.Weights(in.TenantID)
	ranked := rankSignals(signals, weights)
	if len(ranked) > 40 {
		ranked = ranked[:40]
	}

	drafts, err := s.generateQuestions(ctx, in.Corpus, ranked)
	if err != nil {
		return nil, err
	}
	applyPriorities(drafts, ranked)

	s.log.Info("V3 analysis complete",
		"signals", len(signals),
		"ranked", len(ranked),
		"gaps", len(drafts),
	)
	return &Result{AnalysisType: StrategyV3, Drafts: drafts, Stats: in.Corpus.Stats}, nil
}

// -------------------- stage 1: deep extraction --------------------

// deepExtract backfills structured summaries for fallback documents with one
// batched structured call, so the graph sees the whole corpus. Capped at 20
// documents per run to bound the call size.
func (s *v3Strategy) deepExtract(ctx context.Context, c *PreparedCorpus) error {
	missing := make([]*DocView, 0)
	for i := range c.Docs {
		if c.Docs[i].Summary == nil {
			missing = append(missing, &c.Docs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if len(missing) > 20 {
		missing = missing[:20]
	}

	var b strings.Builder
	for _, d := range missing {
		fmt.Fprintf(&b, "=== %s: %s ===\n%s\n\n", d.DocID, d.Title, d.Text)
	}

	obj, err := s.llm.GenerateJSON(ctx, deepExtractPrompt, b.String(), "deep_extraction", deepExtractSchema())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	var parsed struct {
		Documents []struct {
			DocID   string `json:"doc_id"`
			Summary extraction.StructuredSummary
		} `json:"documents"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("deep extraction shape: %w", err)
	}

	byID := make(map[string]*DocView, len(missing))
	for _, d := range missing {
		byID[d.DocID] = d
	}
	filled := 0
	for i := range parsed.Documents {
		d := byID[parsed.Documents[i].DocID]
		if d == nil || strings.TrimSpace(parsed.Documents[i].Summary.Summary) == "" {
			continue
		}
		sum := parsed.Documents[i].Summary
		d.Summary = &sum
		filled++
	}
	s.log.Info("Deep extraction backfilled summaries", "missing", len(missing), "filled", filled)
	return nil
}

const deepExtractPrompt = `For each document below, extract entities, decisions, processes, key topics and
action items exactly as stated. Do not invent facts. Echo each document's ID.`

func deepExtractSchema() map[string]any {
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"documents": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"doc_id":     map[string]any{"type": "string"},
						"summary":    map[string]any{"type": "string"},
						"key_topics": stringArray,
						"entities": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"people":        stringArray,
								"systems":       stringArray,
								"organizations": stringArray,
							},
							"required":             []string{"people", "systems", "organizations"},
							"additionalProperties": false,
						},
						"decisions":    stringArray,
						"processes":    stringArray,
						"action_items": stringArray,
					},
					"required": []string{
						"doc_id", "summary", "key_topics", "entities",
						"decisions", "processes", "action_items",
					},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"documents"},
		"additionalProperties": false,
	}
}

// -------------------- stage 3: the eight analyzers --------------------

func (s *v3Strategy) runAnalyzers(g *KnowledgeGraph, c *PreparedCorpus) []signal {
	var out []signal
	out = append(out, analyzeBusFactor(g)...)
	out = append(out, analyzeDecisionArchaeology(g)...)
	out = append(out, analyzeProcessCompleteness(g)...)
	out = append(out, analyzeTribalKnowledge(g, c)...)
	out = append(out, analyzeDependencyRisk(g, c)...)
	out = append(out, analyzeTemporalStaleness(g)...)
	out = append(out, analyzeContradictions(c)...)
	out = append(out, analyzeOnboardingBarriers(c)...)
	return out
}

// analyzeBusFactor flags systems and topics whose knowledge concentrates in
// a single person.
func analyzeBusFactor(g *KnowledgeGraph) []signal {
	var out []signal
	for _, key := range sortedKeys(g.Systems) {
		sn := g.Systems[key]
		if len(sn.People) != 1 {
			continue
		}
		var only string
		for pk := range sn.People {
			only = g.People[pk].Name
		}
		out = append(out, signal{
			Analyzer: "bus_factor",
			Category: CategoryRelationship,
			Subject:  sn.Name,
			Detail:   fmt.Sprintf("system %q is known only to %s", sn.Name, only),
			DocIDs:   sn.Docs,
			Factors:  factors{Impact: 0.9, Exposure: exposure(len(sn.Docs), len(g.Docs)), Confidence: 0.8},
		})
	}
	for _, key := range sortedKeys(g.Topics) {
		tn := g.Topics[key]
		if len(tn.People) != 1 || len(tn.Docs) < 2 {
			continue
		}
		out = append(out, signal{
			Analyzer: "bus_factor",
			Category: CategoryContext,
			Subject:  tn.Name,
			Detail:   fmt.Sprintf("topic %q depends on a single person across %d documents", tn.Name, len(tn.Docs)),
			DocIDs:   tn.Docs,
			Factors:  factors{Impact: 0.7, Exposure: exposure(len(tn.Docs), len(g.Docs)), Confidence: 0.6},
		})
	}
	return out
}

var rationaleMarkers = []string{"because", "due to", "so that", "chosen", "instead of", "over ", "trade"}

// analyzeDecisionArchaeology flags recorded decisions with no surviving
// rationale.
func analyzeDecisionArchaeology(g *KnowledgeGraph) []signal {
	var out []signal
	for _, id := range sortedKeys(g.Docs) {
		dn := g.Docs[id]
		for _, dec := range dn.Decisions {
			if mentionsAny(dec, rationaleMarkers) {
				continue
			}
			out = append(out, signal{
				Analyzer: "decision_archaeology",
				Category: CategoryRationale,
				Subject:  dec,
				Detail:   fmt.Sprintf("decision recorded without rationale: %q", dec),
				DocIDs:   []string{dn.DocID},
				Factors:  factors{Impact: 0.7, Exposure: 0.2, Confidence: 0.7},
			})
		}
	}
	return out
}

var stepMarkers = []string{"1.", "2.", "first", "then", "next", "after", "step", "finally"}

// analyzeProcessCompleteness flags processes mentioned without any step
// structure.
func analyzeProcessCompleteness(g *KnowledgeGraph) []signal {
	var out []signal
	for _, id := range sortedKeys(g.Docs) {
		dn := g.Docs[id]
		for _, proc := range dn.Processes {
			if mentionsAny(proc, stepMarkers) {
				continue
			}
			out = append(out, signal{
				Analyzer: "process_completeness",
				Category: CategoryProcess,
				Subject:  proc,
				Detail:   fmt.Sprintf("process named but steps not written down: %q", proc),
				DocIDs:   []string{dn.DocID},
				Factors:  factors{Impact: 0.6, Exposure: 0.2, Confidence: 0.6},
			})
		}
	}
	return out
}

var tribalMarkers = []string{"as usual", "the usual", "as always", "like before", "ask ", "ping ", "everyone knows", "you know"}

// analyzeTribalKnowledge flags references to shared understandings that are
// never written down.
func analyzeTribalKnowledge(g *KnowledgeGraph, c *PreparedCorpus) []signal {
	var out []signal
	for _, d := range c.Docs {
		for _, line := range strings.Split(d.Text, "\n") {
			line = strings.TrimSpace(line)
			if len(line) < 15 || len(line) > 300 {
				continue
			}
			if mentionsAny(line, tribalMarkers) {
				out = append(out, signal{
					Analyzer: "tribal_knowledge",
					Category: CategoryContext,
					Subject:  line,
					Detail:   fmt.Sprintf("reference to unwritten shared knowledge: %q", line),
					DocIDs:   []string{d.DocID},
					Factors:  factors{Impact: 0.5, Exposure: 0.2, Confidence: 0.5},
				})
			}
		}
	}
	return out
}

var dependencyMarkers = []string{"depends on", "relies on", "integrat", "upstream", "downstream", "calls the", "api key", "credential"}

// analyzeDependencyRisk flags external dependencies whose operational
// knowledge appears in only one document.
func analyzeDependencyRisk(g *KnowledgeGraph, c *PreparedCorpus) []signal {
	var out []signal
	for _, key := range sortedKeys(g.Systems) {
		sn := g.Systems[key]
		if len(sn.Docs) > 1 {
			continue
		}
		mentioned := false
		for _, d := range c.Docs {
			if len(sn.Docs) > 0 && d.DocID == sn.Docs[0] && mentionsAny(d.Text, dependencyMarkers) {
				mentioned = true
				break
			}
		}
		if !mentioned {
			continue
		}
		out = append(out, signal{
			Analyzer: "dependency_risk",
			Category: CategoryTechnical,
			Subject:  sn.Name,
			Detail:   fmt.Sprintf("dependency %q is documented in a single place", sn.Name),
			DocIDs:   sn.Docs,
			Factors:  factors{Impact: 0.8, Exposure: 0.3, Confidence: 0.6},
		})
	}
	return out
}

// analyzeTemporalStaleness flags systems whose most recent mention trails
// the newest document by more than staleAfter.
func analyzeTemporalStaleness(g *KnowledgeGraph) []signal {
	var newest time.Time
	for _, dn := range g.Docs {
		if dn.At.After(newest) {
			newest = dn.At
		}
	}
	if newest.IsZero() {
		return nil
	}

	var out []signal
	for _, key := range sortedKeys(g.Systems) {
		sn := g.Systems[key]
		if sn.LastAt.IsZero() || newest.Sub(sn.LastAt) < staleAfter {
			continue
		}
		out = append(out, signal{
			Analyzer: "temporal_staleness",
			Category: CategoryTimeline,
			Subject:  sn.Name,
			Detail: fmt.Sprintf("system %q last documented %s; state since then is unknown",
				sn.Name, sn.LastAt.Format("2006-01-02")),
			DocIDs:  sn.Docs,
			Factors: factors{Impact: 0.5, Exposure: exposure(len(sn.Docs), len(g.Docs)), Confidence: 0.7},
		})
	}
	return out
}

// analyzeContradictions reuses the cross-document layer: inconsistent topic
// descriptions become OUTCOME signals, single-source topics CONTEXT signals.
func analyzeContradictions(c *PreparedCorpus) []signal {
	var out []signal
	for _, f := range crossDocumentGaps(c) {
		category := CategoryContext
		impact := 0.4
		if strings.Contains(f.Detail, "inconsistently") {
			category = CategoryOutcome
			impact = 0.8
		}
		out = append(out, signal{
			Analyzer: "contradiction",
			Category: category,
			Subject:  f.Subject,
			Detail:   f.Detail,
			DocIDs:   f.DocIDs,
			Factors:  factors{Impact: impact, Exposure: exposure(len(f.DocIDs), len(c.Docs)), Confidence: 0.5},
		})
	}
	return out
}

// analyzeOnboardingBarriers flags recurring acronyms that no document
// expands: vocabulary a successor would have to ask about.
func analyzeOnboardingBarriers(c *PreparedCorpus) []signal {
	counts := map[string][]string{}
	full := make([]string, 0, len(c.Docs))
	for _, d := range c.Docs {
		full = append(full, d.Text)
		for _, tok := range strings.Fields(d.Text) {
			tok = strings.Trim(tok, ".,;:()[]{}\"'!?")
			if len(tok) < 2 || len(tok) > 6 || tok != strings.ToUpper(tok) {
				continue
			}
			if !isLetters(tok) {
				continue
			}
			counts[tok] = append(counts[tok], d.DocID)
		}
	}
	corpus := strings.Join(full, "\n")

	var out []signal
	for _, acro := range sortedKeys(counts) {
		docs := dedupe(counts[acro])
		if len(counts[acro]) < 3 {
			continue
		}
		// a parenthesized expansion anywhere in the corpus clears the flag
		if strings.Contains(corpus, acro+" (") || strings.Contains(corpus, "("+acro+")") {
			continue
		}
		out = append(out, signal{
			Analyzer: "onboarding_barrier",
			Category: CategoryContext,
			Subject:  acro,
			Detail:   fmt.Sprintf("acronym %q appears %d times and is never expanded", acro, len(counts[acro])),
			DocIDs:   docs,
			Factors:  factors{Impact: 0.3, Exposure: exposure(len(docs), len(c.Docs)), Confidence: 0.6},
		})
	}
	return out
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func exposure(docs, total int) float64 {
	if total == 0 {
		return 0
	}
	e := float64(docs) / float64(total)
	if e > 1 {
		e = 1
	}
	return e
}

// -------------------- stage 4: question generation --------------------

const v3QuestionPrompt = `Below are weighted gap signals from automated analysis of a departing
employee's documents. Turn them into knowledge gaps with concrete questions
the departing person can answer. Merge signals about the same subject. Keep
each gap's category equal to the dominant signal's category. Copy signal
document IDs into source_docs. Do not introduce topics absent from the
signals.`

func (s *v3Strategy) generateQuestions(ctx context.Context, c *PreparedCorpus, ranked []signal) ([]Draft, error) {
	var b strings.Builder
	for i, sig := range ranked {
		fmt.Fprintf(&b, "%d. [%s/%s, score %.2f] %s (docs: %s)\n",
			i+1, sig.Analyzer, sig.Category, sig.Score, sig.Detail, strings.Join(sig.DocIDs, ", "))
	}
	b.WriteString("\nDocument titles for context:\n")
	for _, d := range c.Docs {
		fmt.Fprintf(&b, "- %s: %s\n", d.DocID, d.Title)
	}

	drafts, err := generateDrafts(ctx, s.llm, v3QuestionPrompt, b.String(), "v3_gaps")
	if err != nil {
		return nil, fmt.Errorf("v3 question generation: %w", err)
	}
	for i := range drafts {
		drafts[i].Analyzer = dominantAnalyzer(drafts[i], ranked)
	}
	return drafts, nil
}
