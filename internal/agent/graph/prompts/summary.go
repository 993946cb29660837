package prompts

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
)

type SummaryInput struct {
	Now          string
	Category     string
	Tools        []string
	Conversation string
	Expired      bool
}

// RenderSummary returns the audit summary request for a finished turn.
func RenderSummary(ctx context.Context, in SummaryInput) ([]*schema.Message, error) {
	return render(ctx, "summary", map[string]any{
		"Now":          in.Now,
		"Category":     in.Category,
		"Tools":        strings.Join(in.Tools, ", "),
		"Conversation": in.Conversation,
		"Expired":      in.Expired,
	}, schema.UserMessage(summaryPrompt))
}
