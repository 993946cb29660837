package nodes

// Graph node keys.
const (
	NodeIdentifyUser      = "identify_user"
	NodeSessionCache      = "session_cache"
	NodeResumeFlow        = "resume_flow"
	NodeQuickClassify     = "quick_classify"
	NodeClassifyPrompt    = "classify_prompt"
	NodeClassifierModel   = "classifier_model"
	NodeClassifyParser    = "classify_parser"
	NodeClassified        = "classified"
	NodeClarify           = "clarify"
	NodeReceptionist      = "receptionist"
	NodeEpisodic          = "episodic_retrieval"
	NodeMedicalContext    = "medical_context"
	NodeSelectionPrompt   = "selection_prompt"
	NodeSelectorModel     = "selector_model"
	NodeSelectionParser   = "selection_parser"
	NodeResponseAssembler = "response_assembler"
	NodeResponseChatModel = "response_model"
	NodeToolExecutor      = "tool_executor"
	NodeChatPrompt        = "chat_prompt"
	NodeChatModel         = "chat_model"
	NodeCalendarSync      = "calendar_sync"
	NodeSummary           = "summary"
	NodePersistMemory     = "persist_memory"
)

// Fixed replies.
const (
	FallbackReply      = "Disculpa, tuve un problema técnico. ¿Podrías intentarlo de nuevo en unos momentos?"
	DefaultClarifyText = "¿En qué puedo ayudarte hoy?"
	ToolLimitReply     = "No alcancé a completar todo lo que pediste en este mensaje. ¿Me dices qué parte quieres que revise primero?"
)
