package nodes

import (
	"context"
	"time"

	"github.com/clinic-agent/server/internal/agent/graph/tools"
	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/memory"
	"github.com/clinic-agent/server/internal/receptionist"
	"github.com/clinic-agent/server/internal/session"
)

// Sessions identifies senders, resolves their thread and keeps the
// classification audit log. *session.Manager implements it.
type Sessions interface {
	Identify(ctx context.Context, chatID, senderName string) (*session.Identity, error)
	Resolve(ctx context.Context, userID, phone, threadID string) (*session.Session, error)
	LogClassification(ctx context.Context, rec *session.ClassificationRecord) error
	AttachTools(ctx context.Context, id uint, tools []string) error
}

// Memory is the episodic store. *memory.Store implements it.
type Memory interface {
	Search(ctx context.Context, userID, text string) ([]memory.Episode, error)
	Save(ctx context.Context, ep memory.Episode) error
}

// Catalog lists the tools a user kind may select. *tools.Catalog implements it.
type Catalog interface {
	For(ctx context.Context, k session.Kind) []tools.Entry
}

type Receptionist interface {
	Handle(ctx context.Context, caller model.Caller, flow *model.FlowState, msg string) (receptionist.Outcome, error)
}

// Practice loads a doctor's agenda, recent patients and notes. *clinic.Service implements it.
type Practice interface {
	Practice(ctx context.Context, doctorID uint) (*clinic.Practice, error)
}

// CalendarSyncer mirrors an appointment change to the external calendar.
type CalendarSyncer interface {
	Sync(ctx context.Context, appointmentID uint, action string) error
}

// Settings are the static knobs shared by the nodes.
type Settings struct {
	ClinicName    string
	Location      *time.Location
	Now           func() time.Time
	ToolMaxCalls  int
	SummaryUseLLM bool
}

func (s Settings) now() time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	if s.Now == nil {
		return time.Now().In(loc)
	}
	return s.Now().In(loc)
}
