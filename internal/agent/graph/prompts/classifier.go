package prompts

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type ClassifierInput struct {
	UserKind string
	// Context is the rendered "Usuario:"/"Asistente:" transcript of prior turns.
	Context string
	Message string
}

// RenderClassifier returns the system and user messages for the intent classifier.
func RenderClassifier(ctx context.Context, in ClassifierInput) ([]*schema.Message, error) {
	return render(ctx, "classifier", map[string]any{
		"UserKind": in.UserKind,
		"Context":  in.Context,
		"Message":  in.Message,
	},
		schema.SystemMessage(classifierSystem),
		schema.UserMessage(classifierUser),
	)
}
