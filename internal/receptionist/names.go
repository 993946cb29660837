package receptionist

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	logx "github.com/clinic-agent/server/pkg/logger"
)

// NameExtractor pulls a patient's full name out of a free-form message.
type NameExtractor interface {
	ExtractName(ctx context.Context, msg string) (string, error)
}

// HeuristicExtractor uses HeuristicName only.
type HeuristicExtractor struct{}

func (HeuristicExtractor) ExtractName(_ context.Context, msg string) (string, error) {
	return HeuristicName(msg), nil
}

const namePrompt = `Extrae el nombre completo del paciente de este mensaje.
Responde solamente con el nombre, sin comillas ni texto adicional.
Si el mensaje no contiene un nombre, responde exactamente: desconocido`

// LLMExtractor asks a chat model for the name and falls back to the heuristic
// when the model fails or finds nothing.
type LLMExtractor struct {
	model einomodel.BaseChatModel
}

func NewLLMExtractor(m einomodel.BaseChatModel) *LLMExtractor {
	return &LLMExtractor{model: m}
}

func (e *LLMExtractor) ExtractName(ctx context.Context, msg string) (string, error) {
	out, err := e.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(namePrompt),
		schema.UserMessage(msg),
	})
	if err != nil {
		logx.Warn().Err(err).Msg("name extraction model failed, using heuristic")
		return HeuristicName(msg), nil
	}
	name := strings.Trim(strings.TrimSpace(out.Content), "\"'.")
	if name == "" || strings.EqualFold(name, "desconocido") {
		return HeuristicName(msg), nil
	}
	return name, nil
}
