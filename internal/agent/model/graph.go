package model

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// AppState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
type AppState struct {
	Input          MessageInput
	Caller         Caller
	ThreadID       string
	SessionExpired bool

	Context []*schema.Message // prior turns loaded from Redis, current message excluded
	Flow    *FlowState

	ClassifyStarted     time.Time
	Classification      *Classification
	ClassificationLogID uint
	OfferedTools        []string
	SelectedTools       []string
	Episodic            string
	Medical             string // doctor's practice context, empty for other callers

	History              []*schema.Message // response model working set, mutated only inside handlers
	ToolCallCount        int
	ToolCallLimitReached bool
	ToolCallIDSeq        int

	Touched []TouchedAppointment
	Reply   string
	Summary string

	TotalCostUSD float64
}

// MessageInput is one inbound WhatsApp message.
type MessageInput struct {
	ChatID     string `json:"chat_id"`
	Message    string `json:"message"`
	SenderName string `json:"sender_name,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	ThreadID   string `json:"thread_id,omitempty"`
}

// Reply is what the graph hands back to the transport.
type Reply struct {
	Text      string `json:"response"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Appointment actions that require a calendar sync.
const (
	ActionCreated     = "creada"
	ActionRescheduled = "reagendada"
	ActionCancelled   = "cancelada"
	ActionConfirmed   = "confirmada"
)

// TouchedAppointment records an appointment changed during the turn.
type TouchedAppointment struct {
	ID     uint   `json:"cita_id"`
	Action string `json:"accion"`
}
