package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/logger"
)

// MaxExtractionChars caps the text sent to the model for one document.
const MaxExtractionChars = 50_000

// StructuredSummary is the fixed-shape extraction result persisted on the
// document. It is the primary input to gap analysis; raw content is only a
// fallback.
type StructuredSummary struct {
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
	Entities  struct {
		People        []string `json:"people"`
		Systems       []string `json:"systems"`
		Organizations []string `json:"organizations"`
	} `json:"entities"`
	Decisions        []string    `json:"decisions"`
	Processes        []string    `json:"processes"`
	Dates            []DateEvent `json:"dates"`
	ActionItems      []string    `json:"action_items"`
	TechnicalDetails []string    `json:"technical_details"`
	WordCount        int         `json:"word_count"`
}

type DateEvent struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

type Extractor interface {
	// Extract produces the structured summary for one document. The raw
	// JSON is returned alongside for persistence. An LLM or parse error
	// leaves the document without a summary; the caller records and
	// continues.
	Extract(ctx context.Context, title, content string) (*StructuredSummary, []byte, error)
}

type extractor struct {
	log *logger.Logger
	llm openai.Client
}

func NewExtractor(log *logger.Logger, llm openai.Client) (Extractor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &extractor{
		log: log.With("service", "Extractor"),
		llm: llm,
	}, nil
}

const extractionSystemPrompt = `You are an information extraction engine for workplace knowledge transfer.
Given one document, extract only what the text states. Do not invent facts.
Keep the summary under 200 words. Use empty arrays when a field has nothing.`

func (e *extractor) Extract(ctx context.Context, title, content string) (*StructuredSummary, []byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, fmt.Errorf("empty content")
	}

	wordCount := len(strings.Fields(content))
	if len(content) > MaxExtractionChars {
		e.log.Warn("Extraction input truncated",
			"title", title,
			"original_chars", len(content),
			"cap", MaxExtractionChars,
		)
		content = content[:MaxExtractionChars]
	}

	user := fmt.Sprintf("Document title: %s\n\nDocument content:\n%s", title, content)

	obj, err := e.llm.GenerateJSON(ctx, extractionSystemPrompt, user, "document_summary", summarySchema())
	if err != nil {
		return nil, nil, fmt.Errorf("extraction llm call: %w", err)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}

	var out StructuredSummary
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("extraction result shape: %w", err)
	}
	// the model's word_count is an estimate; ours is exact
	out.WordCount = wordCount
	raw, _ = json.Marshal(out)
	return &out, raw, nil
}

func summarySchema() map[string]any {
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
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
			"decisions": stringArray,
			"processes": stringArray,
			"dates": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date":  map[string]any{"type": "string"},
						"event": map[string]any{"type": "string"},
					},
					"required":             []string{"date", "event"},
					"additionalProperties": false,
				},
			},
			"action_items":      stringArray,
			"technical_details": stringArray,
			"word_count":        map[string]any{"type": "integer"},
		},
		"required": []string{
			"summary", "key_topics", "entities", "decisions", "processes",
			"dates", "action_items", "technical_details", "word_count",
		},
		"additionalProperties": false,
	}
}
