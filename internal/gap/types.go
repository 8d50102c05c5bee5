package gap

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Categories form a closed set; anything the model invents maps to CONTEXT.
const (
	CategoryDecision     = "DECISION"
	CategoryTechnical    = "TECHNICAL"
	CategoryProcess      = "PROCESS"
	CategoryContext      = "CONTEXT"
	CategoryRelationship = "RELATIONSHIP"
	CategoryTimeline     = "TIMELINE"
	CategoryOutcome      = "OUTCOME"
	CategoryRationale    = "RATIONALE"
)

var knownCategories = map[string]bool{
	CategoryDecision:     true,
	CategoryTechnical:    true,
	CategoryProcess:      true,
	CategoryContext:      true,
	CategoryRelationship: true,
	CategoryTimeline:     true,
	CategoryOutcome:      true,
	CategoryRationale:    true,
}

func ParseCategory(s string) string {
	c := strings.ToUpper(strings.TrimSpace(s))
	if knownCategories[c] {
		return c
	}
	return CategoryContext
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

// PrepStats describes how the corpus view was assembled.
type PrepStats struct {
	Total        int `json:"total"`
	Included     int `json:"included"`
	WithSummary  int `json:"with_summary"`
	WithFallback int `json:"with_fallback"`
	Skipped      int `json:"skipped"`
	TotalChars   int `json:"total_chars"`
	EstTokens    int `json:"est_tokens"`
}

// Draft is one gap a strategy proposes before persistence. Analyzer is set
// only by the default pipeline and feeds the feedback loop.
type Draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    int      `json:"priority"`
	Questions   []string `json:"questions"`
	SourceDocs  []string `json:"source_docs,omitempty"`
	Analyzer    string   `json:"analyzer,omitempty"`
}

// Input is what every strategy receives.
type Input struct {
	TenantID  uuid.UUID
	ProjectID *uuid.UUID
	Corpus    *PreparedCorpus
}

// Result is what every strategy returns; persistence happens in the
// Analyzer, not the strategy.
type Result struct {
	AnalysisType string
	Drafts       []Draft
	Stats        PrepStats
}

// Strategy is the shared contract all five analysis modes implement.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, in Input) (*Result, error)
}
