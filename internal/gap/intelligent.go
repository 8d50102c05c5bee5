package gap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/logger"
)

const StrategyIntelligent = "intelligent"

// intelligentStrategy layers deterministic pattern analysis under a single
// grounded LLM call. Layers 1-5 build findings from the corpus without the
// model; layer 6 turns findings into questions. Because most of the work is
// local, this strategy makes at most two LLM calls regardless of corpus size.
type intelligentStrategy struct {
	log *logger.Logger
	llm openai.Client
}

func NewIntelligentStrategy(log *logger.Logger, llm openai.Client) (Strategy, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &intelligentStrategy{log: log.With("strategy", StrategyIntelligent), llm: llm}, nil
}

func (s *intelligentStrategy) Name() string { return StrategyIntelligent }

// finding is one detected gap signal before question generation.
type finding struct {
	Layer   string
	Detail  string
	DocIDs  []string
	Weight  int
	Subject string
}

func (s *intelligentStrategy) Analyze(ctx context.Context, in Input) (*Result, error) {
	findings := make([]finding, 0, 64)

	frames := extractFrames(in.Corpus)
	findings = append(findings, semanticRoleGaps(frames)...)
	findings = append(findings, discourseGaps(in.Corpus)...)
	findings = append(findings, entityGraphGaps(in.Corpus)...)
	findings = append(findings, crossDocumentGaps(in.Corpus)...)

	if len(findings) == 0 {
		s.log.Info("Pattern layers produced no findings")
		return &Result{AnalysisType: StrategyIntelligent, Stats: in.Corpus.Stats}, nil
	}

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Weight > findings[j].Weight })
	if len(findings) > 40 {
		findings = findings[:40]
	}

	drafts, err := s.groundedQuestions(ctx, in.Corpus, findings)
	if err != nil {
		return nil, err
	}
	s.log.Info("Intelligent analysis complete", "findings", len(findings), "gaps", len(drafts))
	return &Result{AnalysisType: StrategyIntelligent, Drafts: drafts, Stats: in.Corpus.Stats}, nil
}

// -------------------- layer 1: frame extraction --------------------

// frame is an action-like statement pulled from a summary: someone decided,
// changed, or runs something.
type frame struct {
	DocID   string
	Kind    string // decision, process, action
	Text    string
	Agent   string // named actor, "" when absent
	Outcome bool   // text mentions a result
}

var outcomeMarkers = []string{"so that", "which led", "resulting", "because", "therefore", "outcome", "as a result"}

func extractFrames(c *PreparedCorpus) []frame {
	var out []frame
	for _, d := range c.Docs {
		if d.Summary == nil {
			continue
		}
		for _, text := range d.Summary.Decisions {
			out = append(out, frame{
				DocID:   d.DocID,
				Kind:    "decision",
				Text:    text,
				Agent:   firstMentioned(d.Summary.Entities.People, text),
				Outcome: mentionsAny(text, outcomeMarkers),
			})
		}
		for _, text := range d.Summary.Processes {
			out = append(out, frame{
				DocID:   d.DocID,
				Kind:    "process",
				Text:    text,
				Agent:   firstMentioned(d.Summary.Entities.People, text),
				Outcome: mentionsAny(text, outcomeMarkers),
			})
		}
		for _, text := range d.Summary.ActionItems {
			out = append(out, frame{
				DocID: d.DocID,
				Kind:  "action",
				Text:  text,
				Agent: firstMentioned(d.Summary.Entities.People, text),
			})
		}
	}
	return out
}

// -------------------- layer 2: semantic-role gaps --------------------

// semanticRoleGaps flags frames with missing roles: decisions without an
// agent (who decided?) and decisions without an outcome (what happened?).
func semanticRoleGaps(frames []frame) []finding {
	var out []finding
	for _, f := range frames {
		switch {
		case f.Kind == "decision" && f.Agent == "":
			out = append(out, finding{
				Layer:   "semantic_role",
				Detail:  fmt.Sprintf("decision with no recorded decision-maker: %q", f.Text),
				DocIDs:  []string{f.DocID},
				Weight:  3,
				Subject: f.Text,
			})
		case f.Kind == "decision" && !f.Outcome:
			out = append(out, finding{
				Layer:   "semantic_role",
				Detail:  fmt.Sprintf("decision with no recorded outcome or rationale: %q", f.Text),
				DocIDs:  []string{f.DocID},
				Weight:  2,
				Subject: f.Text,
			})
		case f.Kind == "action" && f.Agent == "":
			out = append(out, finding{
				Layer:   "semantic_role",
				Detail:  fmt.Sprintf("action item with no owner: %q", f.Text),
				DocIDs:  []string{f.DocID},
				Weight:  1,
				Subject: f.Text,
			})
		}
	}
	return out
}

// -------------------- layer 3: discourse gaps --------------------

var claimMarkers = []string{"must ", "always ", "never ", "required", "critical", "should not", "cannot "}
var evidenceMarkers = []string{"because", "since ", "due to", "so that", "otherwise", "as "}

// discourseGaps finds strong claims stated without supporting evidence.
func discourseGaps(c *PreparedCorpus) []finding {
	var out []finding
	for _, d := range c.Docs {
		for _, line := range strings.Split(d.Text, "\n") {
			line = strings.TrimSpace(line)
			if len(line) < 20 || len(line) > 400 {
				continue
			}
			lower := strings.ToLower(line)
			if mentionsAny(lower, claimMarkers) && !mentionsAny(lower, evidenceMarkers) {
				out = append(out, finding{
					Layer:   "discourse",
					Detail:  fmt.Sprintf("rule stated without justification: %q", line),
					DocIDs:  []string{d.DocID},
					Weight:  2,
					Subject: line,
				})
			}
		}
	}
	return out
}

// -------------------- layer 4: entity-graph gaps --------------------

// entityGraphGaps builds a mention graph over people and systems and flags
// single-owner systems (mentioned with exactly one person) and orphan
// systems (never tied to any person).
func entityGraphGaps(c *PreparedCorpus) []finding {
	systemPeople := map[string]map[string]bool{}
	systemDocs := map[string][]string{}

	for _, d := range c.Docs {
		if d.Summary == nil {
			continue
		}
		for _, sys := range d.Summary.Entities.Systems {
			sys = strings.TrimSpace(sys)
			if sys == "" {
				continue
			}
			if systemPeople[sys] == nil {
				systemPeople[sys] = map[string]bool{}
			}
			for _, p := range d.Summary.Entities.People {
				systemPeople[sys][p] = true
			}
			systemDocs[sys] = append(systemDocs[sys], d.DocID)
		}
	}

	systems := make([]string, 0, len(systemPeople))
	for sys := range systemPeople {
		systems = append(systems, sys)
	}
	sort.Strings(systems)

	var out []finding
	for _, sys := range systems {
		people := systemPeople[sys]
		switch len(people) {
		case 0:
			out = append(out, finding{
				Layer:   "entity_graph",
				Detail:  fmt.Sprintf("system %q appears with no associated person", sys),
				DocIDs:  dedupe(systemDocs[sys]),
				Weight:  2,
				Subject: sys,
			})
		case 1:
			var only string
			for p := range people {
				only = p
			}
			out = append(out, finding{
				Layer:   "entity_graph",
				Detail:  fmt.Sprintf("system %q is associated with only %s", sys, only),
				DocIDs:  dedupe(systemDocs[sys]),
				Weight:  3,
				Subject: sys,
			})
		}
	}
	return out
}

// -------------------- layer 5: cross-document verification --------------------

var contradictionPairs = [][2]string{
	{"deprecated", "we use"},
	{"disabled", "enabled"},
	{"removed", "still"},
	{"weekly", "daily"},
	{"manual", "automated"},
}

// crossDocumentGaps flags topics described inconsistently across documents
// and topics covered by exactly one document (single-source knowledge).
func crossDocumentGaps(c *PreparedCorpus) []finding {
	topicDocs := map[string][]string{}
	topicTexts := map[string][]string{}

	for _, d := range c.Docs {
		if d.Summary == nil {
			continue
		}
		for _, t := range d.Summary.KeyTopics {
			key := strings.ToLower(strings.TrimSpace(t))
			if key == "" {
				continue
			}
			topicDocs[key] = append(topicDocs[key], d.DocID)
			topicTexts[key] = append(topicTexts[key], strings.ToLower(d.Text))
		}
	}

	topics := make([]string, 0, len(topicDocs))
	for t := range topicDocs {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	var out []finding
	for _, t := range topics {
		docs := dedupe(topicDocs[t])
		if len(docs) == 1 {
			out = append(out, finding{
				Layer:   "cross_document",
				Detail:  fmt.Sprintf("topic %q is covered by a single document", t),
				DocIDs:  docs,
				Weight:  2,
				Subject: t,
			})
			continue
		}
		joined := strings.Join(topicTexts[t], "\n")
		for _, pair := range contradictionPairs {
			if strings.Contains(joined, pair[0]) && strings.Contains(joined, pair[1]) {
				out = append(out, finding{
					Layer:   "cross_document",
					Detail:  fmt.Sprintf("topic %q described inconsistently (%q vs %q)", t, pair[0], pair[1]),
					DocIDs:  docs,
					Weight:  4,
					Subject: t,
				})
				break
			}
		}
	}
	return out
}

// -------------------- layer 6: grounded question generation --------------------

const intelligentQuestionPrompt = `Below are gap findings detected by pattern analysis over a departing employee's
documents, each tagged with the documents it came from. Turn them into
knowledge gaps with concrete questions. Merge findings about the same subject
into one gap. Every question must be answerable by the departing person and
grounded in a listed finding; do not introduce new topics.

Each gap: title, description, category (DECISION, TECHNICAL, PROCESS, CONTEXT,
RELATIONSHIP, TIMELINE, OUTCOME, RATIONALE), priority 1..5, questions,
source_docs (copy the finding document IDs).`

func (s *intelligentStrategy) groundedQuestions(ctx context.Context, c *PreparedCorpus, findings []finding) ([]Draft, error) {
	var b strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. [%s] %s (docs: %s)\n", i+1, f.Layer, f.Detail, strings.Join(f.DocIDs, ", "))
	}
	b.WriteString("\nDocument titles for context:\n")
	for _, d := range c.Docs {
		fmt.Fprintf(&b, "- %s: %s\n", d.DocID, d.Title)
	}

	drafts, err := generateDrafts(ctx, s.llm, intelligentQuestionPrompt, b.String(), "grounded_gaps")
	if err != nil {
		return nil, fmt.Errorf("grounded question generation: %w", err)
	}
	return drafts, nil
}

// -------------------- helpers --------------------

func mentionsAny(s string, markers []string) bool {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func firstMentioned(people []string, text string) string {
	lower := strings.ToLower(text)
	for _, p := range people {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
