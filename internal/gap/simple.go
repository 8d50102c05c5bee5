package gap

import (
	"context"
	"fmt"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/logger"
)

const StrategySimple = "simple"

// simpleStrategy makes one LLM pass over the prepared corpus and produces
// one gap per topic cluster. Cheapest mode; useful for small corpora and as
// the baseline the richer strategies are compared against.
type simpleStrategy struct {
	log *logger.Logger
	llm openai.Client
}

func NewSimpleStrategy(log *logger.Logger, llm openai.Client) (Strategy, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &simpleStrategy{log: log.With("strategy", StrategySimple), llm: llm}, nil
}

func (s *simpleStrategy) Name() string { return StrategySimple }

const simpleSystemPrompt = `You analyze a departing employee's work documents and identify knowledge gaps:
things a successor would need to know that the documents do not explain.

Group related gaps into clusters and emit ONE gap per cluster. Each gap has:
- title: short, specific
- description: what is missing and why it matters
- category: one of DECISION, TECHNICAL, PROCESS, CONTEXT, RELATIONSHIP, TIMELINE, OUTCOME, RATIONALE
- priority: 5 = work halts without this, 4 = significant delay or error,
  3 = prevents mistakes, 2 = efficiency, 1 = background
- questions: 1-4 concrete questions the departing person could answer in minutes
- source_docs: IDs of the documents that surfaced the gap

Only flag gaps grounded in the documents. Do not invent topics.`

func (s *simpleStrategy) Analyze(ctx context.Context, in Input) (*Result, error) {
	drafts, err := generateDrafts(ctx, s.llm, simpleSystemPrompt, in.Corpus.Text(), "knowledge_gaps")
	if err != nil {
		return nil, fmt.Errorf("simple analysis: %w", err)
	}
	s.log.Info("Simple analysis complete", "gaps", len(drafts))
	return &Result{AnalysisType: StrategySimple, Drafts: drafts, Stats: in.Corpus.Stats}, nil
}
