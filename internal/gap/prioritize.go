package gap

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// signal is one analyzer finding before question generation. Score is
// filled by rankSignals.
type signal struct {
	Analyzer string
	Category string
	Subject  string
	Detail   string
	DocIDs   []string
	Factors  factors
	Score    float64
}

// factors feed multi-factor prioritization; each is 0..1.
type factors struct {
	Impact     float64 // how badly work degrades without this knowledge
	Exposure   float64 // how much of the corpus the subject touches
	Confidence float64 // how reliable the detection heuristic is
}

// rankSignals scores every signal and sorts best-first. Feedback weights
// scale per-analyzer: analyzers whose gaps get answered gain weight,
// analyzers whose gaps get dismissed lose it.
func rankSignals(signals []signal, weights map[string]float64) []signal {
	out := make([]signal, len(signals))
	copy(out, signals)
	for i := range out {
		f := out[i].Factors
		score := 0.5*f.Impact + 0.3*f.Exposure + 0.2*f.Confidence
		if w, ok := weights[out[i].Analyzer]; ok {
			score *= w
		}
		out[i].Score = score
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// applyPriorities overrides model-chosen priorities with the factor score of
// the best matching signal. Drafts no signal matches keep the model's pick.
func applyPriorities(drafts []Draft, ranked []signal) {
	for i := range drafts {
		if sig, ok := matchSignal(drafts[i], ranked); ok {
			drafts[i].Priority = priorityFromScore(sig.Score)
		}
	}
}

func matchSignal(d Draft, ranked []signal) (signal, bool) {
	text := strings.ToLower(d.Title + " " + d.Description)
	docs := make(map[string]bool, len(d.SourceDocs))
	for _, id := range d.SourceDocs {
		docs[id] = true
	}

	for _, sig := range ranked {
		subject := strings.ToLower(strings.TrimSpace(sig.Subject))
		if subject != "" && len(subject) >= 4 && strings.Contains(text, subject) {
			return sig, true
		}
		for _, id := range sig.DocIDs {
			if docs[id] {
				return sig, true
			}
		}
	}
	return signal{}, false
}

func dominantAnalyzer(d Draft, ranked []signal) string {
	if sig, ok := matchSignal(d, ranked); ok {
		return sig.Analyzer
	}
	return ""
}

// priorityFromScore maps a 0..~1.5 score onto the 1..5 scale.
func priorityFromScore(score float64) int {
	return clampPriority(int(math.Round(score*4)) + 1)
}

// -------------------- feedback hooks --------------------

// FeedbackStore accumulates per-tenant signal about which analyzers produce
// gaps people actually answer. Weights start at 1.0 and drift with usage.
type FeedbackStore interface {
	Weights(tenantID uuid.UUID) map[string]float64
	Record(tenantID uuid.UUID, analyzer string, helpful bool)
}

const (
	feedbackStep      = 0.1
	feedbackMinWeight = 0.5
	feedbackMaxWeight = 1.5
)

type memoryFeedback struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]map[string]float64
}

func NewMemoryFeedback() FeedbackStore {
	return &memoryFeedback{tenants: map[uuid.UUID]map[string]float64{}}
}

func (m *memoryFeedback) Weights(tenantID uuid.UUID) map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]float64{}
	for k, v := range m.tenants[tenantID] {
		out[k] = v
	}
	return out
}

func (m *memoryFeedback) Record(tenantID uuid.UUID, analyzer string, helpful bool) {
	if analyzer == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byAnalyzer := m.tenants[tenantID]
	if byAnalyzer == nil {
		byAnalyzer = map[string]float64{}
		m.tenants[tenantID] = byAnalyzer
	}
	w, ok := byAnalyzer[analyzer]
	if !ok {
		w = 1.0
	}
	if helpful {
		w += feedbackStep
	} else {
		w -= feedbackStep
	}
	if w < feedbackMinWeight {
		w = feedbackMinWeight
	}
	if w > feedbackMaxWeight {
		w = feedbackMaxWeight
	}
	byAnalyzer[analyzer] = w
}
