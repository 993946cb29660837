package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/graph/conversations"
	"github.com/clinic-agent/server/internal/agent/graph/nodes"
	"github.com/clinic-agent/server/internal/agent/graph/observers"
	"github.com/clinic-agent/server/internal/agent/graph/tools"
	"github.com/clinic-agent/server/internal/agent/model"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// Runner executes the compiled graph for one inbound message.
type Runner interface {
	Invoke(ctx context.Context, in model.MessageInput) (*model.Reply, error)
}

// GraphConfig holds everything the nodes depend on.
type GraphConfig struct {
	ChatModels      *nodes.ChatModels
	MessagesManager *conversations.MessagesManager
	Flows           model.FlowRepository
	Sessions        nodes.Sessions
	Memory          nodes.Memory
	Practice        nodes.Practice
	Catalog         nodes.Catalog
	Registry        *tools.Registry
	Receptionist    nodes.Receptionist
	Calendar        nodes.CalendarSyncer
	Settings        nodes.Settings
}

// GraphBuilder handles the construction of the agent conversation graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.MessageInput, *schema.Message]
}

type graphRunner struct {
	runnable compose.Runnable[model.MessageInput, *schema.Message]
}

func (r *graphRunner) Invoke(ctx context.Context, in model.MessageInput) (*model.Reply, error) {
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return nil, err
	}
	reply := &model.Reply{Text: nodes.FallbackReply}
	if out == nil {
		return reply, nil
	}
	if out.Content != "" {
		reply.Text = out.Content
	}
	if v, ok := out.Extra[nodes.ExtraUserID].(string); ok {
		reply.UserID = v
	}
	if v, ok := out.Extra[nodes.ExtraSessionID].(string); ok {
		reply.SessionID = v
	}
	if cost, ok := out.Extra[nodes.ExtraTotalCost].(float64); ok && cost > 0 {
		logx.Debug().Str("session_id", reply.SessionID).Float64("total_cost_usd", cost).Msg("turn cost")
	}
	return reply, nil
}

// NewRunner builds the graph and wraps it in a Runner.
func NewRunner(ctx context.Context, config *GraphConfig) (Runner, error) {
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	logx.Debug().Msg("Response graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled agent graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.MessageInput, *schema.Message], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	cms := config.ChatModels
	if cms == nil || cms.Classifier == nil || cms.Response == nil || cms.Chat == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if config.MessagesManager == nil || config.Flows == nil {
		return nil, fmt.Errorf("conversation storage is nil")
	}
	if config.Sessions == nil || config.Catalog == nil || config.Registry == nil || config.Receptionist == nil {
		return nil, fmt.Errorf("graph dependencies are incomplete")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.MessageInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}
	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

// setupTools binds the clinic tools to the response model and adds the tools node.
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	reg := b.config.Registry
	toolInfos, err := reg.Infos(ctx)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to get tool infos")
		return fmt.Errorf("failed to get tool infos: %w", err)
	}

	if err := b.config.ChatModels.BindToolsToResponseModel(ctx, toolInfos); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools to response model")
		return fmt.Errorf("failed to bind tools to response model: %w", err)
	}

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               reg.Tools(),
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			if name != tools.BlockedToolName {
				logx.Warn().
					Str("tool_name", name).
					Str("arguments", input).
					Msg("Unknown or invalid tool call; returning fallback result")
			}
			return tools.BlockedResult, nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			return tools.SanitizeArguments(arguments), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	maxCalls := b.config.Settings.ToolMaxCalls
	return b.graph.AddToolsNode(nodes.NodeToolExecutor, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolExecutorPreHandler(reg, maxCalls)),
		compose.WithStatePostHandler(nodes.NewToolExecutorPostHandler()),
	)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	cfg := b.config
	cms := cfg.ChatModels
	settings := cfg.Settings
	mm := cfg.MessagesManager

	add := []func() error{
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeIdentifyUser,
				nodes.NewIdentifyUserNode(cfg.Sessions),
				compose.WithStatePreHandler(nodes.NewIdentifyPreHandler()),
			)
		},
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeSessionCache, nodes.NewSessionCacheNode(cfg.Sessions, mm, cfg.Flows))
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeResumeFlow, nodes.NewResumeFlowNode()) },
		func() error { return b.graph.AddLambdaNode(nodes.NodeQuickClassify, nodes.NewQuickClassifyNode()) },
		func() error { return b.graph.AddLambdaNode(nodes.NodeClassifyPrompt, nodes.NewClassifyPromptNode(settings)) },
		func() error {
			return b.graph.AddChatModelNode(nodes.NodeClassifierModel,
				nodes.Degrading(cms.Classifier, nodes.NodeClassifierModel, ""),
				compose.WithStatePostHandler(nodes.NewModelUsagePostHandler(nodes.NodeClassifierModel, cms.ClassifierModelName)),
			)
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeClassifyParser, nodes.NewClassifyParserNode()) },
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeClassified, nodes.NewClassifiedNode(cfg.Sessions, settings, cms.ClassifierModelName))
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeClarify, nodes.NewClarifyNode(mm)) },
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeReceptionist, nodes.NewReceptionistNode(cfg.Receptionist, mm, cfg.Flows))
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeEpisodic, nodes.NewEpisodicNode(cfg.Memory, settings)) },
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeMedicalContext, nodes.NewMedicalContextNode(cfg.Practice, settings))
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeSelectionPrompt, nodes.NewSelectionPromptNode(cfg.Catalog)) },
		func() error {
			return b.graph.AddChatModelNode(nodes.NodeSelectorModel,
				nodes.Degrading(cms.Classifier, nodes.NodeSelectorModel, ""),
				compose.WithStatePostHandler(nodes.NewModelUsagePostHandler(nodes.NodeSelectorModel, cms.ClassifierModelName)),
			)
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeSelectionParser, nodes.NewSelectionParserNode(cfg.Sessions)) },
		func() error {
			return b.graph.AddLambdaNode(nodes.NodeResponseAssembler, nodes.NewResponseAssemblerNode(settings))
		},
		func() error {
			return b.graph.AddChatModelNode(nodes.NodeResponseChatModel,
				nodes.Degrading(cms.Response, nodes.NodeResponseChatModel, nodes.FallbackReply),
				compose.WithStatePreHandler(nodes.NewResponseChatModelPreHandler(settings.ToolMaxCalls)),
				compose.WithStatePostHandler(nodes.NewResponseChatModelPostHandler(mm, cms.ResponseModelName)),
			)
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeChatPrompt, nodes.NewChatPromptNode(settings)) },
		func() error {
			return b.graph.AddChatModelNode(nodes.NodeChatModel,
				nodes.Degrading(cms.Chat, nodes.NodeChatModel, nodes.FallbackReply),
				compose.WithStatePostHandler(nodes.NewChatModelPostHandler(mm, cms.ResponseModelName)),
			)
		},
		func() error { return b.graph.AddLambdaNode(nodes.NodeCalendarSync, nodes.NewCalendarSyncNode(cfg.Calendar)) },
		func() error {
			var summarizer = cms.Classifier
			if !settings.SummaryUseLLM {
				summarizer = nil
			}
			return b.graph.AddLambdaNode(nodes.NodeSummary, nodes.NewSummaryNode(summarizer, settings))
		},
		func() error {
			return b.graph.AddLambdaNode(nodes.NodePersistMemory, nodes.NewPersistMemoryNode(cfg.Memory, settings))
		},
	}
	for _, f := range add {
		if err := f(); err != nil {
			logx.Error().Err(err).Msg("Error adding graph node")
			return fmt.Errorf("error adding graph node: %w", err)
		}
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeIdentifyUser},
		{nodes.NodeIdentifyUser, nodes.NodeSessionCache},
		{nodes.NodeResumeFlow, nodes.NodeReceptionist},
		{nodes.NodeQuickClassify, nodes.NodeClassified},
		{nodes.NodeClassifyPrompt, nodes.NodeClassifierModel},
		{nodes.NodeClassifierModel, nodes.NodeClassifyParser},
		{nodes.NodeClassifyParser, nodes.NodeClassified},
		{nodes.NodeClarify, compose.END},
		{nodes.NodeEpisodic, nodes.NodeMedicalContext},
		{nodes.NodeMedicalContext, nodes.NodeSelectionPrompt},
		{nodes.NodeSelectionPrompt, nodes.NodeSelectorModel},
		{nodes.NodeSelectorModel, nodes.NodeSelectionParser},
		{nodes.NodeSelectionParser, nodes.NodeResponseAssembler},
		{nodes.NodeResponseAssembler, nodes.NodeResponseChatModel},
		{nodes.NodeToolExecutor, nodes.NodeResponseChatModel},
		{nodes.NodeChatPrompt, nodes.NodeChatModel},
		{nodes.NodeChatModel, nodes.NodeSummary},
		{nodes.NodeCalendarSync, nodes.NodeSummary},
		{nodes.NodeSummary, nodes.NodePersistMemory},
		{nodes.NodePersistMemory, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	branches := []struct {
		from   string
		branch *compose.GraphBranch
	}{
		{nodes.NodeSessionCache, compose.NewGraphBranch(nodes.NewEntryCondition(), map[string]bool{
			nodes.NodeResumeFlow:     true,
			nodes.NodeQuickClassify:  true,
			nodes.NodeClassifyPrompt: true,
		})},
		{nodes.NodeClassified, compose.NewGraphBranch(nodes.NewRouteCondition(), map[string]bool{
			nodes.NodeClarify:      true,
			nodes.NodeReceptionist: true,
			nodes.NodeEpisodic:     true,
			nodes.NodeChatPrompt:   true,
		})},
		{nodes.NodeReceptionist, compose.NewGraphBranch(nodes.NewAfterReceptionistCondition(), map[string]bool{
			nodes.NodeCalendarSync: true,
			nodes.NodeSummary:      true,
		})},
		{nodes.NodeResponseChatModel, compose.NewGraphBranch(nodes.NewAfterResponseCondition(), map[string]bool{
			nodes.NodeToolExecutor: true,
			nodes.NodeCalendarSync: true,
			nodes.NodeSummary:      true,
		})},
	}

	for _, br := range branches {
		if err := b.graph.AddBranch(br.from, br.branch); err != nil {
			logx.Error().Err(err).Str("from", br.from).Msg("Error adding branch")
			return fmt.Errorf("error adding branch after %s: %w", br.from, err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.MessageInput, *schema.Message], error) {
	// Limit total run steps to avoid infinite loops in branching or tool retries
	maxSteps := 20 + nodes.MaxToolCalls(b.config.Settings.ToolMaxCalls)*2
	if maxSteps < 24 {
		maxSteps = 24
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
