package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/types"
)

// borderlineBelow marks classifications the UI should surface for manual
// confirmation.
const borderlineBelow = 0.7

// classifyMaxChars keeps the classification call cheap; the opening of a
// document is almost always enough to tell work from personal.
const classifyMaxChars = 4_000

// Classification is the work-relevance verdict for one document.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Borderline bool    `json:"borderline"`
}

type Classifier interface {
	Classify(ctx context.Context, title, content string) (*Classification, error)
}

type classifier struct {
	log *logger.Logger
	llm openai.Client
}

func NewClassifier(log *logger.Logger, llm openai.Client) (Classifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &classifier{
		log: log.With("service", "Classifier"),
		llm: llm,
	}, nil
}

const classifySystemPrompt = `Classify the document as WORK (job-related content a successor would need),
PERSONAL (private, not job-related), or SPAM (marketing, automated noise).
Return a confidence between 0 and 1.`

func (c *classifier) Classify(ctx context.Context, title, content string) (*Classification, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return &Classification{Label: types.ClassificationUnknown, Confidence: 0, Borderline: true}, nil
	}
	if len(content) > classifyMaxChars {
		content = content[:classifyMaxChars]
	}

	user := fmt.Sprintf("Title: %s\n\n%s", title, content)
	obj, err := c.llm.GenerateJSON(ctx, classifySystemPrompt, user, "document_class", classifySchema())
	if err != nil {
		return nil, fmt.Errorf("classification llm call: %w", err)
	}

	label, _ := obj["label"].(string)
	confidence, _ := obj["confidence"].(float64)

	switch strings.ToUpper(strings.TrimSpace(label)) {
	case types.ClassificationWork:
		label = types.ClassificationWork
	case types.ClassificationPersonal:
		label = types.ClassificationPersonal
	case types.ClassificationSpam:
		label = types.ClassificationSpam
	default:
		label = types.ClassificationUnknown
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Classification{
		Label:      label,
		Confidence: confidence,
		Borderline: confidence < borderlineBelow,
	}, nil
}

func classifySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"label": map[string]any{
				"type": "string",
				"enum": []string{"WORK", "PERSONAL", "SPAM"},
			},
			"confidence": map[string]any{"type": "number"},
		},
		"required":             []string{"label", "confidence"},
		"additionalProperties": false,
	}
}
