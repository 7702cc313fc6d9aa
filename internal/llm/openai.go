package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/reqforge/reqforge/internal/model"
)

// finalizeFunctionName is the function the structuring and repair calls are
// forced to answer through.
const finalizeFunctionName = "finalize_requirements"

// OpenAIClient implements the Client interface for OpenAI-compatible APIs
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient creates a new OpenAI-backed oracle client
func NewOpenAIClient(config Config) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return "openai"
}

// IsAvailable checks if the provider is properly configured
func (c *OpenAIClient) IsAvailable(ctx context.Context) bool {
	_, err := c.client.ListModels(ctx)
	return err == nil
}

// Structure asks the model to normalize raw requirement text through the
// finalize_requirements function.
func (c *OpenAIClient) Structure(ctx context.Context, req StructureRequest) (*StructureResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: structureSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildStructureUserMessage(req)},
		},
		Tools:      []openai.Tool{c.finalizeTool()},
		ToolChoice: c.finalizeToolChoice(),
	}

	return c.completeStructured(ctx, chatReq)
}

// Repair asks the model for a single corrected payload. Retry policy, if
// any, belongs to the transport configuration, not to this method.
func (c *OpenAIClient) Repair(ctx context.Context, req RepairRequest) (*StructureResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: repairSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildRepairUserMessage(req)},
		},
		Tools:      []openai.Tool{c.finalizeTool()},
		ToolChoice: c.finalizeToolChoice(),
	}

	return c.completeStructured(ctx, chatReq)
}

// ClassifyPairs runs the lightweight semantic contradiction check over one
// batch of suspicious pairs.
func (c *OpenAIClient) ClassifyPairs(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 256
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: semanticSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildSemanticUserMessage(req.Pairs)},
		},
		MaxTokens:   maxTokens,
		Temperature: 0,
	}

	ctxWithTimeout, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctxWithTimeout, chatReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	return &ClassifyResponse{
		Response: completionToMap(resp),
		Model:    resp.Model,
		Usage:    usageFromResponse(resp),
	}, nil
}

func (c *OpenAIClient) completeStructured(ctx context.Context, chatReq openai.ChatCompletionRequest) (*StructureResponse, error) {
	ctxWithTimeout, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctxWithTimeout, chatReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	return &StructureResponse{
		Response: completionToMap(resp),
		Model:    resp.Model,
		Usage:    usageFromResponse(resp),
	}, nil
}

func (c *OpenAIClient) model() string {
	if c.config.Model != "" {
		return c.config.Model
	}
	return openai.GPT4oMini
}

func (c *OpenAIClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *OpenAIClient) finalizeTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        finalizeFunctionName,
			Description: "Finalize and normalize software requirements.",
			Parameters:  functionSchema(),
		},
	}
}

func (c *OpenAIClient) finalizeToolChoice() any {
	return openai.ToolChoice{
		Type:     openai.ToolTypeFunction,
		Function: openai.ToolFunction{Name: finalizeFunctionName},
	}
}

// completionToMap converts the typed completion into the generic shape the
// tolerant payload extraction works on.
func completionToMap(resp openai.ChatCompletionResponse) map[string]any {
	data, err := json.Marshal(resp)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func usageFromResponse(resp openai.ChatCompletionResponse) *model.TokenUsage {
	return &model.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
}
