package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/clinic-agent/server/internal/agent/model"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey     string
	BaseURL    string
	Classifier *model.ClassifierModelConfig
	Response   *model.ResponseModelConfig
}

// ChatModels holds the Gemini models used by the graph. Response gets the
// clinic tools bound; Chat is a separate, tool-free instance of the same model.
type ChatModels struct {
	Client              *genai.Client
	Classifier          einomodel.BaseChatModel
	Response            einomodel.ChatModel
	Chat                einomodel.BaseChatModel
	ClassifierModelName string
	ResponseModelName   string
}

// NewGenAIClient creates the Gemini API client shared by chat models and embeddings.
func NewGenAIClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates the classifier, response and chat models on one client.
func NewChatModels(ctx context.Context, client *genai.Client, config ChatModelConfig) (*ChatModels, error) {
	if config.Classifier == nil || config.Response == nil {
		return nil, fmt.Errorf("chat model config is incomplete")
	}

	classifier, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Classifier.Model,
		Temperature: &config.Classifier.Temperature,
		MaxTokens:   &config.Classifier.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating classifier model")
		return nil, fmt.Errorf("error creating classifier model: %w", err)
	}

	response, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Response.Model,
		Temperature: &config.Response.Temperature,
		MaxTokens:   &config.Response.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(2000)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}

	chatTemp := float32(0.7)
	chatTokens := 300
	chat, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Response.Model,
		Temperature: &chatTemp,
		MaxTokens:   &chatTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}

	return &ChatModels{
		Client:              client,
		Classifier:          classifier,
		Response:            response,
		Chat:                chat,
		ClassifierModelName: config.Classifier.Model,
		ResponseModelName:   config.Response.Model,
	}, nil
}

// BindToolsToResponseModel binds tools to the response chat model
func (cm *ChatModels) BindToolsToResponseModel(ctx context.Context, tools []*schema.ToolInfo) error {
	return bindTools(cm.Response, tools)
}

func bindTools(m einomodel.ChatModel, tools []*schema.ToolInfo) error {
	if err := m.BindTools(tools); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools")
		return fmt.Errorf("failed to bind tools: %w", err)
	}
	logx.Debug().Int("tools", len(tools)).Msg("Successfully bound tools to response model")
	return nil
}

// degrading answers with a fixed assistant message when the wrapped model fails.
type degrading struct {
	einomodel.BaseChatModel
	node     string
	fallback string
}

// Degrading wraps m so that a failed Generate yields fallback instead of an error.
func Degrading(m einomodel.BaseChatModel, node, fallback string) einomodel.BaseChatModel {
	return &degrading{BaseChatModel: m, node: node, fallback: fallback}
}

func (d *degrading) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	out, err := d.BaseChatModel.Generate(ctx, input, opts...)
	if err != nil {
		logx.Error().Err(err).Str("node", d.node).Msg("model call failed, using fallback answer")
		return schema.AssistantMessage(d.fallback, nil), nil
	}
	return out, nil
}

// The wrapped model keeps reporting its own callbacks, so the graph does not
// emit them twice.
func (d *degrading) IsCallbacksEnabled() bool {
	return components.IsCallbacksEnabled(d.BaseChatModel)
}

func (d *degrading) GetType() string {
	if t, ok := components.GetType(d.BaseChatModel); ok {
		return t
	}
	return "Degrading"
}
