package model

// Category is the intent assigned to a message.
type Category string

const (
	CategoryPersonal      Category = "personal"
	CategoryMedical       Category = "medica"
	CategoryAppointment   Category = "solicitud_cita_paciente"
	CategoryChat          Category = "chat"
	CategoryClarification Category = "necesita_aclaracion"
)

// ParseCategory maps free text to a known category; unknown values become chat.
func ParseCategory(s string) Category {
	switch c := Category(s); c {
	case CategoryPersonal, CategoryMedical, CategoryAppointment, CategoryChat, CategoryClarification:
		return c
	}
	return CategoryChat
}

// Where a classification came from.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristica"
	SourceFlow      = "flujo"
	SourceFallback  = "fallback"
)

type Classification struct {
	Category      Category `json:"clasificacion"`
	Confidence    float64  `json:"confianza"`
	Reasoning     string   `json:"razonamiento"`
	Clarification string   `json:"pregunta_aclaracion,omitempty"`
	Source        string   `json:"-"`
}

// ToolSelection is the parsed output of the tool selection model.
type ToolSelection struct {
	IDs []string
}
