package nodes

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/graph/conversations"
	"github.com/clinic-agent/server/internal/agent/graph/prompts"
	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/memory"
	"github.com/clinic-agent/server/internal/receptionist"
	logx "github.com/clinic-agent/server/pkg/logger"
)

const (
	minSummaryRunes = 10
	resumedPrefix   = "[Sesión reanudada] "

	episodeTurn    = "resumen_conversacion"
	episodeResumed = "sesion_reanudada"
)

// NewReceptionistNode advances the patient booking flow and persists it.
func NewReceptionistNode(r Receptionist, mm *conversations.MessagesManager, flows model.FlowRepository) *compose.Lambda {
	type view struct {
		caller   model.Caller
		flow     *model.FlowState
		message  string
		threadID string
	}
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Classification) (*schema.Message, error) {
		v, err := readState(ctx, func(s *model.AppState) view {
			return view{caller: s.Caller, flow: s.Flow, message: s.Input.Message, threadID: s.ThreadID}
		})
		if err != nil {
			return nil, err
		}

		out, err := r.Handle(ctx, v.caller, v.flow, strings.TrimSpace(v.message))
		if err != nil {
			logx.Error().Err(err).Str("thread_id", v.threadID).Msg("receptionist failed")
			out = receptionist.Outcome{Reply: FallbackReply, Flow: v.flow}
		}
		if out.Flow != nil {
			if err := flows.SaveFlow(ctx, v.threadID, out.Flow); err != nil {
				logx.Warn().Err(err).Str("thread_id", v.threadID).Msg("failed to store flow state")
			}
		}
		reply := strings.TrimSpace(out.Reply)
		if reply == "" {
			reply = FallbackReply
		}
		if err := mm.SaveResponse(ctx, v.threadID, reply); err != nil {
			logx.Warn().Err(err).Str("thread_id", v.threadID).Msg("failed to store receptionist reply")
		}

		err = writeState(ctx, func(s *model.AppState) {
			if out.Flow != nil {
				s.Flow = out.Flow
			}
			s.Touched = append(s.Touched, out.Touched...)
			s.Reply = reply
		})
		if err != nil {
			return nil, err
		}
		logx.Info().
			Str("thread_id", v.threadID).
			Str("flow", flowStage(out.Flow)).
			Int("touched", len(out.Touched)).
			Msg("receptionist replied")
		return schema.AssistantMessage(reply, nil), nil
	})
}

// NewAfterReceptionistCondition syncs the calendar when an appointment changed.
func NewAfterReceptionistCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, _ *schema.Message) (string, error) {
		n, err := readState(ctx, func(s *model.AppState) int { return len(s.Touched) })
		if err != nil {
			return "", err
		}
		return afterReply(n), nil
	}
}

// NewCalendarSyncNode mirrors the appointments changed during the turn.
// Failures are left to the retry worker.
func NewCalendarSyncNode(syncer CalendarSyncer) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		touched, err := readState(ctx, func(s *model.AppState) []model.TouchedAppointment { return s.Touched })
		if err != nil {
			return nil, err
		}
		if syncer == nil {
			return in, nil
		}
		for _, t := range touched {
			if err := syncer.Sync(ctx, t.ID, t.Action); err != nil {
				logx.Warn().Err(err).Uint("appointment_id", t.ID).Str("action", t.Action).Msg("calendar sync failed")
			}
		}
		return in, nil
	})
}

// NewSummaryNode summarizes the turn for episodic memory. Without a model,
// or when it fails, a one-line summary is built from the state.
func NewSummaryNode(summarizer einomodel.BaseChatModel, settings Settings) *compose.Lambda {
	type view struct {
		category string
		tools    []string
		userID   string
		expired  bool
		stage    string
		convo    []*schema.Message
	}
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		v, err := readState(ctx, func(s *model.AppState) view {
			out := view{
				tools:   s.SelectedTools,
				userID:  s.Caller.UserID,
				expired: s.SessionExpired,
				stage:   flowStage(s.Flow),
			}
			if s.Classification != nil {
				out.category = string(s.Classification.Category)
			}
			out.convo = append(append([]*schema.Message{}, s.Context...), schema.UserMessage(s.Input.Message))
			if s.Reply != "" {
				out.convo = append(out.convo, schema.AssistantMessage(s.Reply, nil))
			}
			return out
		})
		if err != nil {
			return nil, err
		}

		summary := ""
		if settings.SummaryUseLLM && summarizer != nil {
			summary = llmSummary(ctx, summarizer, settings, v.category, v.tools, v.convo, v.expired)
		}
		if summary == "" {
			summary = BasicSummary(v.category, v.userID, v.stage)
		}
		if v.expired && !strings.HasPrefix(summary, resumedPrefix) {
			summary = resumedPrefix + summary
		}
		if err := writeState(ctx, func(s *model.AppState) { s.Summary = summary }); err != nil {
			return nil, err
		}
		return in, nil
	})
}

func llmSummary(ctx context.Context, m einomodel.BaseChatModel, settings Settings, category string, tools []string, convo []*schema.Message, expired bool) string {
	now := settings.now()
	msgs, err := prompts.RenderSummary(ctx, prompts.SummaryInput{
		Now:          clinic.FormatDateTime(now),
		Category:     category,
		Tools:        tools,
		Conversation: conversations.RenderTranscript(convo),
		Expired:      expired,
	})
	if err != nil {
		logx.Warn().Err(err).Msg("summary prompt failed")
		return ""
	}
	out, err := m.Generate(ctx, msgs)
	if err != nil || out == nil {
		logx.Warn().Err(err).Msg("summary model failed, using basic summary")
		return ""
	}
	return strings.TrimSpace(out.Content)
}

// BasicSummary is the summary used when no model is available.
func BasicSummary(category, userID, stage string) string {
	if category == "" {
		category = "general"
	}
	return fmt.Sprintf("Conversación %s - Usuario: %s... - Estado: %s", category, truncateRunes(userID, 10), stage)
}

func flowStage(f *model.FlowState) string {
	if f == nil || f.Stage == "" || f.Stage == model.StageInitial {
		return string(model.StageCompleted)
	}
	return string(f.Stage)
}

// NewPersistMemoryNode stores the summary as an episode and returns the
// final reply.
func NewPersistMemoryNode(mem Memory, settings Settings) *compose.Lambda {
	type view struct {
		episode memory.Episode
		skip    bool
		final   *schema.Message
	}
	return compose.InvokableLambda(func(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
		v, err := readState(ctx, func(s *model.AppState) view {
			out := view{final: finalMessage(s)}
			noFlow := s.Flow == nil || s.Flow.Stage == model.StageInitial
			if len([]rune(strings.TrimSpace(s.Summary))) < minSummaryRunes || (s.Classification == nil && noFlow) {
				out.skip = true
				return out
			}
			tipo := episodeTurn
			if s.SessionExpired {
				tipo = episodeResumed
			}
			md := memory.Metadata{Tipo: tipo, ThreadID: s.ThreadID, Herramientas: s.SelectedTools}
			if s.Classification != nil {
				md.Clasificacion = string(s.Classification.Category)
			}
			out.episode = memory.Episode{
				UserID:    s.Caller.UserID,
				SessionID: s.ThreadID,
				Summary:   s.Summary,
				Metadata:  md,
				Timestamp: settings.now().UTC(),
			}
			return out
		})
		if err != nil {
			return nil, err
		}
		if v.skip || mem == nil {
			logx.Debug().Msg("episode not stored")
			return v.final, nil
		}
		if err := mem.Save(ctx, v.episode); err != nil {
			logx.Warn().Err(err).Str("user_id", v.episode.UserID).Msg("failed to store episode")
		} else {
			logx.Debug().Str("user_id", v.episode.UserID).Str("tipo", v.episode.Metadata.Tipo).Msg("episode stored")
		}
		return v.final, nil
	})
}
