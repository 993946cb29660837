package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessage adds a message to the conversation history for the given thread
	AddMessage(ctx context.Context, threadID string, message *schema.Message) error

	// LoadHistory retrieves the conversation history for a thread
	LoadHistory(ctx context.Context, threadID string) (*ConversationHistory, error)

	// ClearHistory removes all conversation history for a thread
	ClearHistory(ctx context.Context, threadID string) error
}

// FlowRepository persists the receptionist flow of a thread between messages.
type FlowRepository interface {
	LoadFlow(ctx context.Context, threadID string) (*FlowState, error)
	SaveFlow(ctx context.Context, threadID string, flow *FlowState) error
	ClearFlow(ctx context.Context, threadID string) error
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	ThreadID string
	Messages []*schema.Message
}
