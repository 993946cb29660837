// Package prompts renders the model prompts of the agent graph through the
// eino prompt component, so every render is visible to the prompt callbacks.
package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

var (
	//go:embed template/classifier_system.txt
	classifierSystem string
	//go:embed template/classifier_user.txt
	classifierUser string
	//go:embed template/selection.txt
	selectionPrompt string
	//go:embed template/response_system.txt
	responseSystem string
	//go:embed template/chat_system.txt
	chatSystem string
	//go:embed template/summary.txt
	summaryPrompt string
)

func render(ctx context.Context, name string, vars map[string]any, templates ...schema.MessagesTemplate) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate, templates...)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs, nil
}
