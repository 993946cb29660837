package nodes

import (
	"context"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/compose"

	"github.com/clinic-agent/server/internal/agent/graph/conversations"
	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/metrics"
	logx "github.com/clinic-agent/server/pkg/logger"
)

const maxSmallTalkWords = 5

var smallTalkWords = map[string]bool{
	"hola": true, "holi": true, "hey": true, "hi": true, "hello": true, "saludos": true,
	"buenos": true, "buenas": true, "buen": true,
	"gracias": true, "graciass": true, "agradezco": true,
	"ok": true, "okay": true, "oki": true, "vale": true, "perfecto": true, "entendido": true,
	"listo": true, "genial": true, "excelente": true,
	"adios": true, "adiós": true, "bye": true, "chao": true,
}

var actionWords = []string{"cita", "necesito", "quiero", "agendar", "cancel", "reagend", "horario", "disponib", "doctor", "paciente", "ayuda"}

// IsSmallTalk reports whether msg is a short greeting, thanks or
// acknowledgment that needs no classification. A reply to a question from the
// assistant is never small talk.
func IsSmallTalk(msg, lastAssistant string) bool {
	if strings.HasSuffix(strings.TrimSpace(lastAssistant), "?") {
		return false
	}
	norm := normalizeText(msg)
	words := strings.FieldsFunc(norm, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	if len(words) == 0 || len(words) > maxSmallTalkWords {
		return false
	}
	for _, a := range actionWords {
		if strings.Contains(norm, a) {
			return false
		}
	}
	for _, w := range words {
		if smallTalkWords[w] {
			return true
		}
	}
	return false
}

// NewEntryCondition sends an open receptionist flow straight back to the
// receptionist, small talk to the heuristic classifier, and everything else
// to the LLM classifier.
func NewEntryCondition() func(context.Context, string) (string, error) {
	type entryView struct {
		active bool
		stage  model.FlowStage
		last   string
	}
	return func(ctx context.Context, msg string) (string, error) {
		v, err := readState(ctx, func(s *model.AppState) entryView {
			out := entryView{last: conversations.LastAssistant(s.Context)}
			if s.Flow != nil {
				out.active, out.stage = s.Flow.Stage.Active(), s.Flow.Stage
			}
			return out
		})
		if err != nil {
			return "", err
		}
		switch {
		case v.active:
			logx.Debug().Str("flow", string(v.stage)).Msg("active flow, skipping classification")
			metrics.Messages.WithLabelValues(NodeReceptionist).Inc()
			return NodeResumeFlow, nil
		case IsSmallTalk(msg, v.last):
			return NodeQuickClassify, nil
		default:
			return NodeClassifyPrompt, nil
		}
	}
}

// NewResumeFlowNode continues the booking flow without classifying.
func NewResumeFlowNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ string) (*model.Classification, error) {
		c := &model.Classification{
			Category:   model.CategoryAppointment,
			Confidence: 1,
			Reasoning:  "flujo de agendamiento activo",
			Source:     model.SourceFlow,
		}
		if err := writeState(ctx, func(s *model.AppState) { s.Classification = c }); err != nil {
			return nil, err
		}
		metrics.Classifications.WithLabelValues(string(c.Category), c.Source).Inc()
		return c, nil
	})
}

// NewQuickClassifyNode classifies small talk as chat without the LLM.
func NewQuickClassifyNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (*model.Classification, error) {
		logx.Debug().Str("message", truncateRunes(msg, 50)).Msg("small talk, classifying without llm")
		return &model.Classification{
			Category:   model.CategoryChat,
			Confidence: 0.9,
			Reasoning:  "saludo, agradecimiento o confirmación breve",
			Source:     model.SourceHeuristic,
		}, nil
	})
}
