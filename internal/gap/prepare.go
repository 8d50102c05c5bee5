package gap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loomwell/handover-backend/internal/extraction"
	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/types"
)

const (
	// CorpusCharBudget bounds the assembled corpus view (~100K tokens),
	// leaving headroom for prompt and response.
	CorpusCharBudget = 400_000

	rawFallbackChars    = 4_000
	rawFallbackMinChars = 2_000
)

// DocView is one document's contribution to the corpus view. Summary is
// non-nil when the view came from a structured summary; pattern-based
// analyzers use it directly instead of re-parsing text.
type DocView struct {
	DocID       string
	Title       string
	Sender      string
	Text        string
	FromSummary bool
	Summary     *extraction.StructuredSummary
	At          time.Time
}

// PreparedCorpus is the budgeted view every strategy analyzes.
type PreparedCorpus struct {
	Docs  []DocView
	Stats PrepStats
}

// Text renders the corpus as one prompt block.
func (c *PreparedCorpus) Text() string {
	var b strings.Builder
	for i, d := range c.Docs {
		fmt.Fprintf(&b, "=== Document %d: %s ===\n", i+1, d.Title)
		if d.Sender != "" {
			fmt.Fprintf(&b, "Author: %s\n", d.Sender)
		}
		fmt.Fprintf(&b, "ID: %s\n\n%s\n\n", d.DocID, d.Text)
	}
	return b.String()
}

func (c *PreparedCorpus) DocIDs() []string {
	out := make([]string, 0, len(c.Docs))
	for _, d := range c.Docs {
		out = append(out, d.DocID)
	}
	return out
}

// PrepareCorpus assembles the budgeted corpus view. Structured summaries are
// preferred; without one the raw content is truncated to 4,000 chars, then
// retried at 2,000 when the budget is tight, then skipped.
func PrepareCorpus(log *logger.Logger, docs []*types.Document) *PreparedCorpus {
	ordered := make([]*types.Document, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return docTime(ordered[i]).After(docTime(ordered[j]))
	})

	out := &PreparedCorpus{}
	out.Stats.Total = len(ordered)
	remaining := CorpusCharBudget

	for _, d := range ordered {
		view, summary := renderDoc(d, rawFallbackChars)
		if view == "" {
			continue
		}

		if len(view) > remaining {
			// tighter retry before giving up on the document
			view, summary = renderDoc(d, rawFallbackMinChars)
			if view == "" || len(view) > remaining {
				continue
			}
		}

		out.Docs = append(out.Docs, DocView{
			DocID:       docID(d),
			Title:       d.Title,
			Sender:      d.Sender,
			Text:        view,
			FromSummary: summary != nil,
			Summary:     summary,
			At:          docTime(d),
		})
		out.Stats.Included++
		if summary != nil {
			out.Stats.WithSummary++
		} else {
			out.Stats.WithFallback++
		}
		out.Stats.TotalChars += len(view)
		remaining -= len(view)
		if remaining <= 0 {
			break
		}
	}

	// unseen docs past the budget count as skipped
	out.Stats.Skipped = out.Stats.Total - out.Stats.Included

	out.Stats.EstTokens = out.Stats.TotalChars / 4
	if log != nil {
		log.Info("Corpus prepared",
			"total", out.Stats.Total,
			"included", out.Stats.Included,
			"with_summary", out.Stats.WithSummary,
			"with_fallback", out.Stats.WithFallback,
			"skipped", out.Stats.Skipped,
			"total_chars", out.Stats.TotalChars,
		)
	}
	return out
}

func renderDoc(d *types.Document, rawCap int) (string, *extraction.StructuredSummary) {
	if len(d.StructuredSummary) > 0 {
		var s extraction.StructuredSummary
		if err := json.Unmarshal(d.StructuredSummary, &s); err == nil && strings.TrimSpace(s.Summary) != "" {
			return summaryView(&s), &s
		}
	}
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return "", nil
	}
	if len(content) > rawCap {
		content = content[:rawCap]
	}
	return content, nil
}

// summaryView flattens a structured summary into prompt-friendly lines.
func summaryView(s *extraction.StructuredSummary) string {
	var b strings.Builder
	b.WriteString(s.Summary)
	writeList(&b, "Topics", s.KeyTopics)
	writeList(&b, "People", s.Entities.People)
	writeList(&b, "Systems", s.Entities.Systems)
	writeList(&b, "Decisions", s.Decisions)
	writeList(&b, "Processes", s.Processes)
	writeList(&b, "Action items", s.ActionItems)
	writeList(&b, "Technical", s.TechnicalDetails)
	if len(s.Dates) > 0 {
		b.WriteString("\nDates:")
		for _, de := range s.Dates {
			fmt.Fprintf(&b, " %s (%s);", de.Event, de.Date)
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s: %s", label, strings.Join(items, "; "))
}

func docTime(d *types.Document) time.Time {
	if d.SourceCreatedAt != nil {
		return *d.SourceCreatedAt
	}
	return d.CreatedAt
}

func docID(d *types.Document) string {
	return d.SourceType + "_" + d.ExternalID
}
