package gap

import (
	"testing"

	"github.com/google/uuid"
)

func TestRankSignalsWeightedScore(t *testing.T) {
	signals := []signal{
		{Analyzer: "bus_factor", Factors: factors{Impact: 1, Exposure: 1, Confidence: 1}},
		{Analyzer: "temporal_staleness", Factors: factors{Impact: 0.4, Exposure: 0.2, Confidence: 0.9}},
	}
	ranked := rankSignals(signals, nil)
	if ranked[0].Analyzer != "bus_factor" {
		t.Fatalf("expected bus_factor first, got %s", ranked[0].Analyzer)
	}
	if ranked[0].Score != 1.0 {
		t.Fatalf("full factors should score 1.0, got %f", ranked[0].Score)
	}
	want := 0.5*0.4 + 0.3*0.2 + 0.2*0.9
	if diff := ranked[1].Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("score = %f, want %f", ranked[1].Score, want)
	}
}

func TestRankSignalsFeedbackScaling(t *testing.T) {
	signals := []signal{
		{Analyzer: "contradiction", Factors: factors{Impact: 0.8, Exposure: 0.8, Confidence: 0.8}},
		{Analyzer: "onboarding_barrier", Factors: factors{Impact: 0.8, Exposure: 0.8, Confidence: 0.8}},
	}
	ranked := rankSignals(signals, map[string]float64{"onboarding_barrier": 1.3})
	if ranked[0].Analyzer != "onboarding_barrier" {
		t.Fatalf("boosted analyzer should rank first, got %s", ranked[0].Analyzer)
	}
}

func TestPriorityFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  int
	}{
		{0, 1},
		{0.25, 2},
		{0.5, 3},
		{0.75, 4},
		{1.0, 5},
		{1.5, 5}, // feedback can push the score past 1; priority stays capped
	}
	for _, c := range cases {
		if got := priorityFromScore(c.score); got != c.want {
			t.Fatalf("priorityFromScore(%f) = %d, want %d", c.score, got, c.want)
		}
	}
}

func TestApplyPrioritiesMatchesBySubjectAndDocs(t *testing.T) {
	ranked := []signal{
		{Analyzer: "bus_factor", Subject: "payments-service", Score: 1.0},
		{Analyzer: "dependency_risk", DocIDs: []string{"email_m7"}, Score: 0.5},
	}
	drafts := []Draft{
		{Title: "Who else knows payments-service?", Priority: 2},
		{Title: "Unclear vendor integration", SourceDocs: []string{"email_m7"}, Priority: 2},
		{Title: "Completely unrelated", Priority: 2},
	}
	applyPriorities(drafts, ranked)

	if drafts[0].Priority != 5 {
		t.Fatalf("subject match should set priority 5, got %d", drafts[0].Priority)
	}
	if drafts[1].Priority != 3 {
		t.Fatalf("doc match should set priority 3, got %d", drafts[1].Priority)
	}
	if drafts[2].Priority != 2 {
		t.Fatalf("unmatched draft keeps the model's priority, got %d", drafts[2].Priority)
	}
}

func TestMemoryFeedbackDriftAndClamp(t *testing.T) {
	fb := NewMemoryFeedback()
	tenant := uuid.New()

	for i := 0; i < 10; i++ {
		fb.Record(tenant, "bus_factor", true)
	}
	if w := fb.Weights(tenant)["bus_factor"]; w != 1.5 {
		t.Fatalf("weight should clamp at 1.5, got %f", w)
	}

	for i := 0; i < 20; i++ {
		fb.Record(tenant, "bus_factor", false)
	}
	if w := fb.Weights(tenant)["bus_factor"]; w != 0.5 {
		t.Fatalf("weight should clamp at 0.5, got %f", w)
	}

	// tenants do not share weights
	other := uuid.New()
	if _, ok := fb.Weights(other)["bus_factor"]; ok {
		t.Fatalf("weights leaked across tenants")
	}

	// a single positive nudges off the default
	fb.Record(other, "contradiction", true)
	if w := fb.Weights(other)["contradiction"]; w < 1.09 || w > 1.11 {
		t.Fatalf("expected ~1.1, got %f", w)
	}
}

func TestParseCategoryFallback(t *testing.T) {
	if got := ParseCategory("TECHNICAL"); got != CategoryTechnical {
		t.Fatalf("got %s", got)
	}
	if got := ParseCategory(" decision "); got != CategoryDecision {
		t.Fatalf("got %s", got)
	}
	if got := ParseCategory("SOMETHING_ELSE"); got != CategoryContext {
		t.Fatalf("unknown category must fall back to CONTEXT, got %s", got)
	}
	if got := ParseCategory(""); got != CategoryContext {
		t.Fatalf("empty category must fall back to CONTEXT, got %s", got)
	}
}

func TestClampPriority(t *testing.T) {
	if clampPriority(0) != 1 || clampPriority(9) != 5 || clampPriority(3) != 3 {
		t.Fatalf("clampPriority out of range")
	}
}
