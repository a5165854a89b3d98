package analysis

import (
	"context"
	"errors"
)

// Assistant answers questions about a result without going through the
// analysis service.
type Assistant interface {
	Ask(ctx context.Context, question string, rc ResultContext) (string, error)
}

type withAssistant struct {
	Service
	assistant Assistant
}

// WithAssistant routes AskAssistant to a, keeping svc for scans and progress.
func WithAssistant(svc Service, a Assistant) Service {
	if a == nil {
		return svc
	}
	return &withAssistant{Service: svc, assistant: a}
}

func (w *withAssistant) AskAssistant(ctx context.Context, question string, rc ResultContext) (Answer, error) {
	text, err := w.assistant.Ask(ctx, question, rc)
	if err != nil {
		var ae *AssistantError
		if errors.As(err, &ae) {
			return Answer{}, err
		}
		return Answer{}, &AssistantError{Err: err}
	}
	return Answer{Text: text}, nil
}
