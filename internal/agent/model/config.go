package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL           time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`
	ContextTurns  int           `envconfig:"CONVERSATION_CONTEXT_TURNS" default:"10"`
	SessionWindow time.Duration `envconfig:"SESSION_WINDOW" default:"24h"`
	Tools         struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"6"`
	}
}

type ClassifierModelConfig struct {
	Model       string  `envconfig:"CLASSIFIER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"CLASSIFIER_MAX_TOKENS" default:"500"`
	Temperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" default:"0.1"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
}

type EmbeddingConfig struct {
	Model      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	Dimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
}

type EpisodicConfig struct {
	TopK          int     `envconfig:"EPISODIC_TOP_K" default:"5"`
	MinSimilarity float64 `envconfig:"EPISODIC_MIN_SIMILARITY" default:"0.5"`
	SummaryUseLLM bool    `envconfig:"SUMMARY_USE_LLM" default:"true"`
}

type ClinicPromptConfig struct {
	ClinicName      string `envconfig:"CLINIC_NAME" default:"Clínica"`
	SlotSuggestions int    `envconfig:"SLOT_SUGGESTIONS" default:"3"`
}
