package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/graph/conversations"
	"github.com/clinic-agent/server/internal/agent/graph/parsers"
	"github.com/clinic-agent/server/internal/agent/graph/prompts"
	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/metrics"
	"github.com/clinic-agent/server/internal/session"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// NewClassifyPromptNode renders the classifier prompt with the recent transcript.
func NewClassifyPromptNode(settings Settings) *compose.Lambda {
	type view struct {
		kind    session.Kind
		context string
	}
	return compose.InvokableLambda(func(ctx context.Context, msg string) ([]*schema.Message, error) {
		v, err := readState(ctx, func(s *model.AppState) view {
			s.ClassifyStarted = settings.now()
			return view{kind: s.Caller.Kind, context: conversations.RenderTranscript(s.Context)}
		})
		if err != nil {
			return nil, err
		}
		return prompts.RenderClassifier(ctx, prompts.ClassifierInput{
			UserKind: string(v.kind),
			Context:  v.context,
			Message:  msg,
		})
	})
}

// NewModelUsagePostHandler records token usage of a model node.
func NewModelUsagePostHandler(node, modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		recordUsage(state, out, node, modelName)
		return out, nil
	}
}

// NewClassifyParserNode parses the classifier answer. Unparseable output
// falls back to chat.
func NewClassifyParserNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, out *schema.Message) (*model.Classification, error) {
		content := ""
		if out != nil {
			content = out.Content
		}
		c, err := parsers.ParseClassification(content)
		if err != nil {
			logx.Warn().Err(err).Msg("classifier output rejected, falling back to chat")
			return parsers.FallbackClassification(err.Error()), nil
		}
		return c, nil
	})
}

// NewClassifiedNode stores the classification in state and in the audit log.
// Patients never reach the medical or personal flows; those become
// appointment requests.
func NewClassifiedNode(sessions Sessions, settings Settings, classifierModel string) *compose.Lambda {
	type view struct {
		caller  model.Caller
		message string
		started time.Time
	}
	return compose.InvokableLambda(func(ctx context.Context, c *model.Classification) (*model.Classification, error) {
		if c == nil {
			c = parsers.FallbackClassification("sin clasificación")
		}
		v, err := readState(ctx, func(s *model.AppState) view {
			return view{caller: s.Caller, message: s.Input.Message, started: s.ClassifyStarted}
		})
		if err != nil {
			return nil, err
		}

		if !v.caller.Kind.IsStaff() && (c.Category == model.CategoryMedical || c.Category == model.CategoryPersonal) {
			logx.Debug().Str("category", string(c.Category)).Msg("patient classification coerced to appointment request")
			c.Category = model.CategoryAppointment
		}

		rec := &session.ClassificationRecord{
			SessionID:     v.caller.ThreadID,
			UserID:        v.caller.UserID,
			Modelo:        c.Source,
			Clasificacion: string(c.Category),
			Confianza:     c.Confidence,
			Fuente:        c.Source,
			Mensaje:       strings.TrimSpace(v.message),
		}
		if c.Source == model.SourceLLM {
			rec.Modelo = classifierModel
		}
		if !v.started.IsZero() {
			rec.TiempoMS = settings.now().Sub(v.started).Milliseconds()
		}
		if err := sessions.LogClassification(ctx, rec); err != nil {
			logx.Warn().Err(err).Str("user_id", v.caller.UserID).Msg("failed to log classification")
		}

		err = writeState(ctx, func(s *model.AppState) {
			s.Classification = c
			s.ClassificationLogID = rec.ID
		})
		if err != nil {
			return nil, err
		}
		metrics.Classifications.WithLabelValues(string(c.Category), c.Source).Inc()
		logx.Info().
			Str("user_id", v.caller.UserID).
			Str("category", string(c.Category)).
			Float64("confidence", c.Confidence).
			Str("source", c.Source).
			Msg("message classified")
		return c, nil
	})
}

// NewRouteCondition picks the handler of a classified message.
func NewRouteCondition() func(context.Context, *model.Classification) (string, error) {
	return func(ctx context.Context, c *model.Classification) (string, error) {
		kind, err := readState(ctx, func(s *model.AppState) session.Kind { return s.Caller.Kind })
		if err != nil {
			return "", err
		}
		next := route(c, kind)
		metrics.Messages.WithLabelValues(next).Inc()
		logx.Debug().Str("next", next).Msg("routing classified message")
		return next, nil
	}
}

func route(c *model.Classification, kind session.Kind) string {
	if c == nil {
		return NodeChatPrompt
	}
	switch c.Category {
	case model.CategoryClarification:
		return NodeClarify
	case model.CategoryAppointment:
		if kind.IsStaff() {
			return NodeEpisodic
		}
		return NodeReceptionist
	case model.CategoryMedical, model.CategoryPersonal:
		return NodeEpisodic
	default:
		return NodeChatPrompt
	}
}

// NewClarifyNode asks the user to clarify and ends the turn.
func NewClarifyNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, c *model.Classification) (*schema.Message, error) {
		text := DefaultClarifyText
		if c != nil && strings.TrimSpace(c.Clarification) != "" {
			text = strings.TrimSpace(c.Clarification)
		}
		var out *schema.Message
		err := compose.ProcessState(ctx, func(ctx context.Context, s *model.AppState) error {
			if err := mm.SaveResponse(ctx, s.ThreadID, text); err != nil {
				logx.Warn().Err(err).Str("thread_id", s.ThreadID).Msg("failed to store clarification")
			}
			s.Reply = text
			out = finalMessage(s)
			return nil
		})
		return out, err
	})
}

// finalMessage builds the message returned by the graph.
func finalMessage(s *model.AppState) *schema.Message {
	text := strings.TrimSpace(s.Reply)
	if text == "" {
		text = FallbackReply
	}
	out := schema.AssistantMessage(text, nil)
	out.Extra = map[string]any{
		ExtraUserID:    s.Caller.UserID,
		ExtraSessionID: s.ThreadID,
		ExtraTotalCost: s.TotalCostUSD,
	}
	if s.Classification != nil {
		out.Extra[ExtraCategory] = string(s.Classification.Category)
	}
	return out
}

// Keys of the final message Extra.
const (
	ExtraUserID    = "user_id"
	ExtraSessionID = "session_id"
	ExtraTotalCost = "usage_cost_total_usd"
	ExtraCategory  = "clasificacion"
)

func describeKind(k session.Kind) string {
	switch k {
	case session.KindAdmin:
		return "administrador"
	case session.KindDoctor:
		return "doctor"
	default:
		return "paciente"
	}
}
