package gap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomwell/handover-backend/internal/clients/openai"
)

// gapsSchema is the structured-output shape every question-generating call
// shares: a single "gaps" array of drafts.
func gapsSchema() map[string]any {
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"gaps": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"category":    map[string]any{"type": "string"},
						"priority":    map[string]any{"type": "integer"},
						"questions":   stringArray,
						"source_docs": stringArray,
					},
					"required": []string{
						"title", "description", "category",
						"priority", "questions", "source_docs",
					},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"gaps"},
		"additionalProperties": false,
	}
}

// generateDrafts runs one structured gap-generation call and normalizes the
// result: categories snap to the known set, priorities clamp to 1..5, drafts
// without any question are dropped.
func generateDrafts(ctx context.Context, llm openai.Client, system, user, schemaName string) ([]Draft, error) {
	obj, err := llm.GenerateJSON(ctx, system, user, schemaName, gapsSchema())
	if err != nil {
		return nil, err
	}
	return decodeDrafts(obj)
}

func decodeDrafts(obj map[string]any) ([]Draft, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Gaps []Draft `json:"gaps"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("gap result shape: %w", err)
	}

	out := make([]Draft, 0, len(parsed.Gaps))
	for _, d := range parsed.Gaps {
		d.Title = strings.TrimSpace(d.Title)
		if d.Title == "" {
			continue
		}
		d.Category = ParseCategory(d.Category)
		d.Priority = clampPriority(d.Priority)
		questions := make([]string, 0, len(d.Questions))
		for _, q := range d.Questions {
			if q = strings.TrimSpace(q); q != "" {
				questions = append(questions, q)
			}
		}
		if len(questions) == 0 {
			continue
		}
		d.Questions = questions
		out = append(out, d)
	}
	return out, nil
}

// generateText is a thin wrapper so intermediate analysis stages read the
// same in every strategy.
func generateText(ctx context.Context, llm openai.Client, system, user string) (string, error) {
	text, err := llm.GenerateText(ctx, system, user)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
