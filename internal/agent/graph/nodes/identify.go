package nodes

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/compose"

	"github.com/clinic-agent/server/internal/agent/graph/conversations"
	"github.com/clinic-agent/server/internal/agent/model"
	errx "github.com/clinic-agent/server/internal/core/error"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// NewIdentifyPreHandler stores the input and resets the per-turn counters.
func NewIdentifyPreHandler() func(context.Context, model.MessageInput, *model.AppState) (model.MessageInput, error) {
	return func(ctx context.Context, in model.MessageInput, s *model.AppState) (model.MessageInput, error) {
		s.Input = in
		s.ToolCallCount = 0
		s.ToolCallLimitReached = false
		s.ToolCallIDSeq = 0
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewIdentifyUserNode resolves who is writing and stores the caller in state.
func NewIdentifyUserNode(sessions Sessions) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.MessageInput) (model.MessageInput, error) {
		if strings.TrimSpace(in.Message) == "" {
			return in, errx.Validation("el mensaje no puede estar vacío")
		}
		id, err := sessions.Identify(ctx, in.ChatID, in.SenderName)
		if err != nil {
			return in, err
		}
		caller := model.Caller{
			UserID:      id.UserID,
			Phone:       id.User.PhoneNumber,
			DisplayName: id.User.DisplayName,
			Kind:        id.Kind,
			DoctorID:    id.DoctorID,
			PatientID:   id.PatientID,
		}
		if err := writeState(ctx, func(s *model.AppState) { s.Caller = caller }); err != nil {
			return in, err
		}
		logx.Info().
			Str("user_id", caller.UserID).
			Str("kind", string(caller.Kind)).
			Bool("patient", caller.PatientID != nil).
			Msg("user identified")
		return in, nil
	})
}

// NewSessionCacheNode picks the thread, loads recent context and the
// receptionist flow, and appends the incoming message to the transcript.
// Redis failures degrade to an empty context.
func NewSessionCacheNode(sessions Sessions, mm *conversations.MessagesManager, flows model.FlowRepository) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.MessageInput) (string, error) {
		caller, err := readState(ctx, func(s *model.AppState) model.Caller { return s.Caller })
		if err != nil {
			return "", err
		}
		sess, err := sessions.Resolve(ctx, caller.UserID, caller.Phone, in.ThreadID)
		if err != nil {
			return "", err
		}
		threadID := sess.ThreadID
		if sess.Expired && sess.Previous != "" {
			if err := mm.Clear(ctx, sess.Previous); err != nil {
				logx.Warn().Err(err).Str("thread_id", sess.Previous).Msg("failed to clear expired transcript")
			}
			if err := flows.ClearFlow(ctx, sess.Previous); err != nil {
				logx.Warn().Err(err).Str("thread_id", sess.Previous).Msg("failed to clear expired flow")
			}
		}

		history, err := mm.LoadContext(ctx, threadID)
		if err != nil {
			logx.Warn().Err(err).Str("thread_id", threadID).Msg("conversation context unavailable")
		}
		msg := strings.TrimSpace(in.Message)
		if err := mm.SaveUser(ctx, threadID, msg); err != nil {
			logx.Warn().Err(err).Str("thread_id", threadID).Msg("failed to store user message")
		}
		flow, err := flows.LoadFlow(ctx, threadID)
		if err != nil {
			logx.Warn().Err(err).Str("thread_id", threadID).Msg("flow state unavailable, starting over")
			flow = model.NewFlow()
		}

		err = writeState(ctx, func(s *model.AppState) {
			s.ThreadID = threadID
			s.Caller.ThreadID = threadID
			s.SessionExpired = sess.Expired
			s.Context = history
			s.Flow = flow
		})
		if err != nil {
			return "", err
		}
		logx.Debug().
			Str("thread_id", threadID).
			Bool("new_session", sess.Created).
			Bool("expired", sess.Expired).
			Int("context_messages", len(history)).
			Str("flow", string(flow.Stage)).
			Msg("session resolved")
		return msg, nil
	})
}
