package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/model"
)

// MessagesManager keeps the per-thread WhatsApp transcript and renders it for
// the models.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
	contextTurns     int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	turns := config.ContextTurns
	if turns <= 0 {
		turns = 10
	}
	return &MessagesManager{
		conversationRepo: conversationRepo,
		contextTurns:     turns,
	}
}

// LoadContext returns the most recent messages of the thread.
func (cm *MessagesManager) LoadContext(ctx context.Context, threadID string) ([]*schema.Message, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return trimTail(history.Messages, cm.contextTurns), nil
}

func (cm *MessagesManager) SaveUser(ctx context.Context, threadID string, content string) error {
	return cm.conversationRepo.AddMessage(ctx, threadID, schema.UserMessage(content))
}

func (cm *MessagesManager) SaveResponse(ctx context.Context, threadID string, content string) error {
	assistantMsg := schema.AssistantMessage(content, nil)
	return cm.conversationRepo.AddMessage(ctx, threadID, assistantMsg)
}

// Clear drops the transcript of a thread.
func (cm *MessagesManager) Clear(ctx context.Context, threadID string) error {
	return cm.conversationRepo.ClearHistory(ctx, threadID)
}

// ====================== Rendering ======================

// RenderTranscript renders user and assistant messages as "Usuario: ..." and
// "Asistente: ..." lines. Tool traffic and empty messages are skipped.
func RenderTranscript(messages []*schema.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			b.WriteString("Usuario: ")
		case schema.Assistant:
			if len(msg.ToolCalls) > 0 {
				continue
			}
			b.WriteString("Asistente: ")
		default:
			continue
		}
		b.WriteString(strings.TrimSpace(msg.Content))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// LastAssistant returns the content of the latest assistant message.
func LastAssistant(messages []*schema.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m != nil && m.Role == schema.Assistant && len(m.ToolCalls) == 0 {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

// ====================== Helper function ======================
func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if len(messages) <= maxTurns {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxTurns:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
