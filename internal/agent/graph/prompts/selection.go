package prompts

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ToolOption is one catalog entry offered to the selector.
type ToolOption struct {
	ID          string
	Description string
}

type SelectionInput struct {
	Tools    []ToolOption
	Message  string
	Episodic string
}

// RenderSelection returns the single user message asking the selector model
// for tool ids.
func RenderSelection(ctx context.Context, in SelectionInput) ([]*schema.Message, error) {
	return render(ctx, "selection", map[string]any{
		"Tools":    in.Tools,
		"Message":  in.Message,
		"Episodic": in.Episodic,
	}, schema.UserMessage(selectionPrompt))
}
