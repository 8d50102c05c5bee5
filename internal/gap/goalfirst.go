package gap

import (
	"context"
	"fmt"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/logger"
)

const StrategyGoalFirst = "goalfirst"

// goalFirstStrategy digs into technical decision rationale: what was built,
// what was chosen, what the alternatives were, and why X over Y. It never
// asks about business, strategy, or timeline topics.
type goalFirstStrategy struct {
	log *logger.Logger
	llm openai.Client
}

func NewGoalFirstStrategy(log *logger.Logger, llm openai.Client) (Strategy, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &goalFirstStrategy{log: log.With("strategy", StrategyGoalFirst), llm: llm}, nil
}

func (s *goalFirstStrategy) Name() string { return StrategyGoalFirst }

const goalContextPrompt = `From these work documents, describe the technical landscape only: the systems,
services, languages, frameworks, data stores, and integrations in use, and how
they connect. Ignore business, people, and scheduling topics entirely.`

const goalDecisionsPrompt = `Given the technical landscape and the documents, list the concrete technical
decisions that were made: technology choices, architecture shapes, protocols,
data models, build/deploy approaches. For each, note what the documents say
about it and what they leave unsaid.`

const goalAlternativesPrompt = `For each technical decision below, infer the plausible alternatives the team
would have weighed (e.g. a different database, a different queue, monolith vs
services). Note which decisions have NO recorded rationale.`

const goalQuestionsPrompt = `Turn the decision/alternative notes into knowledge gaps about technical
rationale. Questions must be of the form "why X over Y", "what constraint drove
X", or "what breaks if X changes". STRICTLY FORBIDDEN: questions about business
goals, strategy, budgets, stakeholders, deadlines, or timelines — technical
rationale only.

Each gap: title, description, category (prefer TECHNICAL, DECISION, or
RATIONALE), priority 1..5, questions, source_docs (document IDs when known).`

func (s *goalFirstStrategy) Analyze(ctx context.Context, in Input) (*Result, error) {
	corpus := in.Corpus.Text()

	landscape, err := generateText(ctx, s.llm, goalContextPrompt, corpus)
	if err != nil {
		return nil, fmt.Errorf("technical context: %w", err)
	}

	decisions, err := generateText(ctx, s.llm, goalDecisionsPrompt,
		"Technical landscape:\n"+landscape+"\n\nDocuments:\n"+corpus)
	if err != nil {
		return nil, fmt.Errorf("technical decisions: %w", err)
	}

	alternatives, err := generateText(ctx, s.llm, goalAlternativesPrompt, decisions)
	if err != nil {
		return nil, fmt.Errorf("alternatives inference: %w", err)
	}

	notes := fmt.Sprintf(
		"Technical landscape:\n%s\n\nDecisions:\n%s\n\nAlternatives and missing rationale:\n%s",
		landscape, decisions, alternatives,
	)
	drafts, err := generateDrafts(ctx, s.llm, goalQuestionsPrompt, notes, "rationale_gaps")
	if err != nil {
		return nil, fmt.Errorf("rationale questions: %w", err)
	}

	s.log.Info("Goal-first analysis complete", "gaps", len(drafts))
	return &Result{AnalysisType: StrategyGoalFirst, Drafts: drafts, Stats: in.Corpus.Stats}, nil
}
