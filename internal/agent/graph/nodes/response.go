package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/graph/conversations"
	"github.com/clinic-agent/server/internal/agent/graph/prompts"
	"github.com/clinic-agent/server/internal/agent/graph/tools"
	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/clinic"
	logx "github.com/clinic-agent/server/pkg/logger"
)

func persona(s *model.AppState, settings Settings) prompts.Persona {
	now := settings.now()
	p := prompts.Persona{
		ClinicName:  settings.ClinicName,
		Now:         fmt.Sprintf("%s %s", clinic.DayName(now.Weekday()), clinic.FormatDateTime(now)),
		DisplayName: s.Caller.DisplayName,
		UserKind:    describeKind(s.Caller.Kind),
	}
	if p.DisplayName == "" {
		p.DisplayName = "Usuario"
	}
	if s.Caller.PatientID != nil {
		p.PatientID = *s.Caller.PatientID
	}
	if s.Caller.DoctorID != nil {
		p.DoctorID = *s.Caller.DoctorID
	}
	return p
}

// NewResponseAssemblerNode builds the response model input: system prompt,
// recent context and the current message.
func NewResponseAssemblerNode(settings Settings) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, sel model.ToolSelection) ([]*schema.Message, error) {
		var (
			in      prompts.ResponseInput
			history []*schema.Message
			message string
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			if s.Classification == nil {
				return fmt.Errorf("missing classification in state")
			}
			in = prompts.ResponseInput{
				Persona:   persona(s, settings),
				Category:  string(s.Classification.Category),
				Episodic:  s.Episodic,
				Medical:   s.Medical,
				Tools:     sel.IDs,
				SlotsTool: tools.ToolAvailableSlots,
			}
			history = s.Context
			message = s.Input.Message
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		if in.Episodic == "" {
			in.Episodic = "(sin memoria disponible)"
		}

		sys, err := prompts.RenderResponseSystem(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("generate response prompt: %w", err)
		}
		out := make([]*schema.Message, 0, len(history)+2)
		out = append(out, schema.SystemMessage(sys))
		out = append(out, history...)
		out = append(out, schema.UserMessage(message))
		return out, nil
	})
}

// NewResponseChatModelPreHandler creates the pre-handler for ResponseChatModel node
func NewResponseChatModelPreHandler(maxToolCalls int) func(context.Context, []*schema.Message, *model.AppState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.AppState) ([]*schema.Message, error) {
		// Tool results must carry the id of the call they answer.
		if len(in) > 0 {
			last := in[len(in)-1]
			if last != nil && last.Role == schema.Tool && strings.TrimSpace(last.ToolCallID) == "" {
				for i := len(state.History) - 1; i >= 0; i-- {
					msg := state.History[i]
					if msg == nil || msg.Role != schema.Assistant || len(msg.ToolCalls) == 0 {
						continue
					}
					if id := msg.ToolCalls[0].ID; strings.TrimSpace(id) != "" {
						last.ToolCallID = id
					}
					break
				}
			}
		}

		state.History = append(state.History, in...)

		if checkAndMarkToolLimit(state, maxToolCalls) {
			maxToolCalls = normalizeMaxToolCalls(maxToolCalls)
			state.History = append(state.History, schema.SystemMessage(fmt.Sprintf(
				"AVISO DEL SISTEMA: alcanzaste el límite de %d llamadas a herramientas. "+
					"Responde ahora con la información que ya tienes y, si algo quedó pendiente, dilo con claridad.",
				maxToolCalls,
			)))
		}

		logx.Debug().Int("messages", len(state.History)).Msg("response model thinking")
		return state.History, nil
	}
}

// NewResponseChatModelPostHandler records usage, normalizes tool call ids and
// stores the final answer.
func NewResponseChatModelPostHandler(
	mm *conversations.MessagesManager,
	modelName string,
) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		if out == nil {
			out = schema.AssistantMessage(FallbackReply, nil)
		}
		recordUsage(state, out, NodeResponseChatModel, modelName)

		// Some providers omit tool call ids.
		for i := range out.ToolCalls {
			if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
				state.ToolCallIDSeq++
				out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
			}
		}

		state.History = append(state.History, out)

		if len(out.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("calling tools")
		} else {
			logx.Debug().Msg("response ready")
		}

		final := len(out.ToolCalls) == 0 || state.ToolCallLimitReached
		if out.Role == schema.Assistant && final {
			text := strings.TrimSpace(out.Content)
			switch {
			case text != "":
			case state.ToolCallLimitReached:
				text = ToolLimitReply
			default:
				text = FallbackReply
			}
			state.Reply = text
			if err := mm.SaveResponse(ctx, state.ThreadID, text); err != nil {
				logx.Error().Err(err).Str("thread_id", state.ThreadID).Msg("failed to store assistant response")
			}
		}
		return out, nil
	}
}

// NewAfterResponseCondition loops through the tool executor while the model
// asks for tools, then moves on to calendar sync or the summary.
func NewAfterResponseCondition() func(context.Context, *schema.Message) (string, error) {
	type view struct {
		limitReached bool
		touched      int
	}
	return func(ctx context.Context, in *schema.Message) (string, error) {
		v, err := readState(ctx, func(s *model.AppState) view {
			return view{limitReached: s.ToolCallLimitReached, touched: len(s.Touched)}
		})
		if err != nil {
			return "", err
		}
		if in != nil && len(in.ToolCalls) > 0 && !v.limitReached {
			logx.Debug().Int("tool_count", len(in.ToolCalls)).Msg("routing to tool executor")
			return NodeToolExecutor, nil
		}
		if v.limitReached {
			logx.Debug().Msg("tool limit reached, finishing turn")
		}
		return afterReply(v.touched), nil
	}
}

func afterReply(touched int) string {
	if touched > 0 {
		return NodeCalendarSync
	}
	return NodeSummary
}

// NewToolExecutorPreHandler counts tool rounds and blocks calls to tools that
// were not selected for the turn.
func NewToolExecutorPreHandler(reg *tools.Registry, maxToolCalls int) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.AppState) (*schema.Message, error) {
		exceeded := incrementToolCallAndCheck(state, maxToolCalls)

		logx.Debug().
			Int("tool_call_count", state.ToolCallCount).
			Str("thread_id", state.ThreadID).
			Msg("tool execution attempt")

		if exceeded {
			logx.Warn().
				Int("tool_call_count", state.ToolCallCount).
				Int("max_tool_calls", normalizeMaxToolCalls(maxToolCalls)).
				Str("thread_id", state.ThreadID).
				Msg("tool call limit exceeded, flagging and continuing")
		}

		if blocked := reg.Guard(in, state.SelectedTools, state.Caller); blocked > 0 {
			logx.Warn().Int("blocked", blocked).Str("thread_id", state.ThreadID).Msg("tool calls blocked")
		}
		return in, nil
	}
}

// NewToolExecutorPostHandler remembers appointments changed by the tools.
func NewToolExecutorPostHandler() func(context.Context, []*schema.Message, *model.AppState) ([]*schema.Message, error) {
	return func(ctx context.Context, out []*schema.Message, state *model.AppState) ([]*schema.Message, error) {
		state.Touched = append(state.Touched, tools.TouchedFrom(out)...)
		return out, nil
	}
}

// NewChatPromptNode builds the input of the conversational model.
func NewChatPromptNode(settings Settings) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Classification) ([]*schema.Message, error) {
		var (
			p       prompts.Persona
			history []*schema.Message
			message string
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			p = persona(s, settings)
			history = s.Context
			message = s.Input.Message
			return nil
		})
		if err != nil {
			return nil, err
		}
		sys, err := prompts.RenderChatSystem(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("generate chat prompt: %w", err)
		}
		out := make([]*schema.Message, 0, len(history)+2)
		out = append(out, schema.SystemMessage(sys))
		out = append(out, history...)
		out = append(out, schema.UserMessage(message))
		return out, nil
	})
}

// NewChatModelPostHandler records usage and stores the conversational answer.
func NewChatModelPostHandler(mm *conversations.MessagesManager, modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		if out == nil {
			out = schema.AssistantMessage(FallbackReply, nil)
		}
		recordUsage(state, out, NodeChatModel, modelName)
		text := strings.TrimSpace(out.Content)
		if text == "" {
			text = FallbackReply
		}
		state.Reply = text
		if err := mm.SaveResponse(ctx, state.ThreadID, text); err != nil {
			logx.Error().Err(err).Str("thread_id", state.ThreadID).Msg("failed to store chat response")
		}
		return out, nil
	}
}
