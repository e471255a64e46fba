// Package ai provides the question-explanation capability. The bot treats
// it as optional: a not-configured variant keeps the command working with
// a fixed notice.
package ai

import (
	"context"

	"github.com/korjavin/quizbot/models"
)

// Explainer produces a human-readable explanation for one question. It is
// always invoked off the quiz session's critical path.
type Explainer interface {
	Explain(ctx context.Context, q models.Question) (string, error)
}

const notConfiguredText = "AI explanations are not configured for this bot. " +
	"Set DEEPSEEK_API_KEY to enable them."

// NotConfigured is the placeholder explainer used when no API key is set.
type NotConfigured struct{}

func (NotConfigured) Explain(context.Context, models.Question) (string, error) {
	return notConfiguredText, nil
}
