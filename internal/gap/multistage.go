package gap

import (
	"context"
	"fmt"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/logger"
)

const StrategyMultiStage = "multistage"

// multiStageStrategy runs five sequential reasoning passes, each consuming
// the previous pass's output. The intermediate passes return prose; only the
// final synthesis call is structured.
type multiStageStrategy struct {
	log *logger.Logger
	llm openai.Client
}

func NewMultiStageStrategy(log *logger.Logger, llm openai.Client) (Strategy, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &multiStageStrategy{log: log.With("strategy", StrategyMultiStage), llm: llm}, nil
}

func (s *multiStageStrategy) Name() string { return StrategyMultiStage }

const stageCorpusPrompt = `You are building a map of a departing employee's work from their documents.
Identify: the people and their roles, the projects and systems in play, the
rough timeline of events, and who depends on whom. Report as concise notes.`

const stageExpertPrompt = `You are the departing employee. Reading the corpus map below, list the tacit
knowledge you carry that the documents do NOT spell out: unwritten rules,
implicit decisions, things "everyone knows", judgment calls you make on
autopilot. Be specific; cite the project or system each item belongs to.`

const stageNewHirePrompt = `You are a new hire replacing the departing employee, with only these documents.
List where you would get stuck: undefined vocabulary and acronyms, referenced
processes with no steps written down, systems mentioned but never explained,
approvals whose owner is unclear.`

const stageFailurePrompt = `You are doing a failure-mode review of this work. From the corpus map and the
gap notes below, list: incidents or breakages that were clearly recovered from
but whose recovery steps are undocumented, edge cases that were handled ad hoc,
and workarounds that exist only in someone's head.`

const stageSynthesisPrompt = `Synthesize the analysis notes below into knowledge gaps. Group related findings
into one gap each. Each gap has:
- title, description
- category: one of DECISION, TECHNICAL, PROCESS, CONTEXT, RELATIONSHIP, TIMELINE, OUTCOME, RATIONALE
- priority 1..5 (5 = work halts without this, 1 = background)
- questions: concrete, answerable questions for the departing person
- source_docs: document IDs when the notes name them, else empty

Drop findings that are speculation rather than grounded in the notes.`

func (s *multiStageStrategy) Analyze(ctx context.Context, in Input) (*Result, error) {
	corpus := in.Corpus.Text()

	corpusMap, err := generateText(ctx, s.llm, stageCorpusPrompt, corpus)
	if err != nil {
		return nil, fmt.Errorf("corpus understanding: %w", err)
	}

	expert, err := generateText(ctx, s.llm, stageExpertPrompt,
		"Corpus map:\n"+corpusMap+"\n\nDocuments:\n"+corpus)
	if err != nil {
		return nil, fmt.Errorf("expert simulation: %w", err)
	}

	newHire, err := generateText(ctx, s.llm, stageNewHirePrompt, corpus)
	if err != nil {
		return nil, fmt.Errorf("new-hire simulation: %w", err)
	}

	failures, err := generateText(ctx, s.llm, stageFailurePrompt,
		"Corpus map:\n"+corpusMap+"\n\nTacit knowledge:\n"+expert+"\n\nNew-hire blockers:\n"+newHire)
	if err != nil {
		return nil, fmt.Errorf("failure-mode analysis: %w", err)
	}

	notes := fmt.Sprintf(
		"Corpus map:\n%s\n\nTacit knowledge (expert view):\n%s\n\nNew-hire blockers:\n%s\n\nFailure modes:\n%s",
		corpusMap, expert, newHire, failures,
	)
	drafts, err := generateDrafts(ctx, s.llm, stageSynthesisPrompt, notes, "knowledge_gaps")
	if err != nil {
		return nil, fmt.Errorf("question synthesis: %w", err)
	}

	s.log.Info("Multi-stage analysis complete", "gaps", len(drafts))
	return &Result{AnalysisType: StrategyMultiStage, Drafts: drafts, Stats: in.Corpus.Stats}, nil
}
