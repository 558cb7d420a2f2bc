package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"videoinsight/internal/config"
	"videoinsight/internal/logging"
	"videoinsight/internal/models"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	AgentName      = "Video AI Summarizer"
	defaultMaxStep = 12
)

const systemInstructions = "You are " + AgentName + ". You watch the video attached by the user and answer their question about it. " +
	"Use the web_search tool when outside context would make the answer more accurate or more useful. " +
	"Always format the answer in markdown."

var ErrNoMedia = errors.New("remote media handle is required")

// Agent is the multimodal analysis agent. It is built once at startup and
// is safe for concurrent use.
type Agent struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	tools     []tool.BaseTool
	logger    *slog.Logger
}

// NewClient builds the Gemini API client shared by the agent and the media registrar.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, config.ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiAgent wires the gemini chat model with the search tools.
func NewGeminiAgent(ctx context.Context, client *genai.Client, provider config.ProviderConfig, search config.SearchConfig, logger *slog.Logger) (*Agent, error) {
	if client == nil {
		return nil, errors.New("gemini client required")
	}
	modelName := provider.Model
	if modelName == "" {
		modelName = config.DefaultModel
	}
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini chat model: %w", err)
	}
	return NewAgent(ctx, chatModel, InitToolsChain(ctx, search, logger), logger)
}

// NewAgent builds the agent around any tool calling model. Without tools the
// model is called directly.
func NewAgent(ctx context.Context, chatModel model.ToolCallingChatModel, tools []tool.BaseTool, logger *slog.Logger) (*Agent, error) {
	if chatModel == nil {
		return nil, errors.New("chat model required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	a := &Agent{
		chatModel: chatModel,
		tools:     tools,
		logger:    logging.WithComponent(logger, "agent"),
	}
	if len(tools) > 0 {
		reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
			MaxStep: defaultMaxStep,
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		a.agent = reactAgent
	}
	return a, nil
}

// Run sends the prompt together with the registered video and returns the
// model's markdown answer unchanged.
func (a *Agent) Run(ctx context.Context, prompt string, media *models.RemoteMedia) (*models.AgentReply, error) {
	if media == nil || media.URI == "" {
		return nil, ErrNoMedia
	}
	if runID := logging.RunIDFromContext(ctx); runID != "" {
		defer a.endRun(runID)
	}
	messages := []*schema.Message{
		schema.SystemMessage(systemInstructions),
		videoMessage(prompt, media),
	}

	var (
		reply *schema.Message
		err   error
	)
	if a.agent != nil {
		reply, err = a.agent.Generate(ctx, messages)
	} else {
		reply, err = a.chatModel.Generate(ctx, messages)
	}
	if err != nil {
		return nil, fmt.Errorf("generate analysis: %w", err)
	}
	if reply == nil {
		return nil, errors.New("model returned no message")
	}
	a.logger.Debug("analysis generated", "run_id", logging.RunIDFromContext(ctx), "chars", len(reply.Content))
	return &models.AgentReply{Content: reply.Content}, nil
}

func (a *Agent) endRun(runID string) {
	for _, t := range a.tools {
		if e, ok := t.(runEnder); ok {
			e.EndRun(runID)
		}
	}
}

// videoMessage builds the user turn. The gemini adapter only turns Files API
// URIs into file parts through MultiContent.
func videoMessage(prompt string, media *models.RemoteMedia) *schema.Message {
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeVideoURL,
				VideoURL: &schema.ChatMessageVideoURL{
					URI:      media.URI,
					MIMEType: media.MIMEType,
				},
			},
			{
				Type: schema.ChatMessagePartTypeText,
				Text: prompt,
			},
		},
	}
}
