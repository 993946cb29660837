package prompts

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Persona describes who the assistant is talking to.
type Persona struct {
	ClinicName  string
	Now         string
	DisplayName string
	UserKind    string
	PatientID   uint
	DoctorID    uint
}

type ResponseInput struct {
	Persona
	Category  string
	Episodic  string
	Medical   string
	Tools     []string
	SlotsTool string
}

// RenderResponseSystem renders the system prompt of the tool-using response model.
func RenderResponseSystem(ctx context.Context, in ResponseInput) (string, error) {
	msgs, err := render(ctx, "response", map[string]any{
		"ClinicName":  in.ClinicName,
		"Now":         in.Now,
		"DisplayName": in.DisplayName,
		"UserKind":    in.UserKind,
		"PatientID":   in.PatientID,
		"DoctorID":    in.DoctorID,
		"Category":    in.Category,
		"Episodic":    in.Episodic,
		"Medical":     in.Medical,
		"Tools":       in.Tools,
		"SlotsTool":   in.SlotsTool,
	}, schema.SystemMessage(responseSystem))
	if err != nil {
		return "", err
	}
	return msgs[0].Content, nil
}

// RenderChatSystem renders the system prompt of the conversational model.
func RenderChatSystem(ctx context.Context, p Persona) (string, error) {
	msgs, err := render(ctx, "chat", map[string]any{
		"ClinicName":  p.ClinicName,
		"Now":         p.Now,
		"DisplayName": p.DisplayName,
	}, schema.SystemMessage(chatSystem))
	if err != nil {
		return "", err
	}
	return msgs[0].Content, nil
}
