package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/faultline-io/faultline/pkg/config"
)

// AnthropicClient implements Client using the Anthropic Messages API.
// Safe for concurrent use; a shared limiter spreads calls across the
// whole process so parallel agents cannot exhaust the provider quota.
type AnthropicClient struct {
	client       anthropic.Client
	primaryModel string
	visionModel  string
	maxTokens    int64
	limiter      *rate.Limiter
}

// NewAnthropicClient builds a client from configuration. The API key is
// read from the environment variable named by cfg.APIKeyEnv.
func NewAnthropicClient(cfg config.LLMConfig) (*AnthropicClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key not set: environment variable %s is empty", cfg.APIKeyEnv)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		primaryModel: cfg.PrimaryModel,
		visionModel:  cfg.VisionModel,
		maxTokens:    int64(cfg.MaxTokens),
		limiter:      rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}, nil
}

// Complete implements Client.Complete against the primary model.
func (c *AnthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.send(ctx, c.primaryModel, system, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}, nil)
	if err != nil {
		return "", err
	}
	return textOf(resp), nil
}

// CompleteVision implements Client.CompleteVision against the vision model.
func (c *AnthropicClient) CompleteVision(ctx context.Context, system, prompt string, images []ImageInput) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Base64))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	resp, err := c.send(ctx, c.visionModel, system, []anthropic.MessageParam{
		anthropic.NewUserMessage(blocks...),
	}, nil)
	if err != nil {
		return "", err
	}
	return textOf(resp), nil
}

// Chat implements Client.Chat against the primary model.
func (c *AnthropicClient) Chat(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (*Response, error) {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		params = append(params, convertMessage(msg))
	}

	var toolParams []anthropic.ToolUnionParam
	for _, tool := range tools {
		toolParams = append(toolParams, convertToolDefinition(tool))
	}

	resp, err := c.send(ctx, c.primaryModel, system, params, toolParams)
	if err != nil {
		return nil, err
	}
	return convertResponse(resp), nil
}

func (c *AnthropicClient) send(ctx context.Context, model, system string, messages []anthropic.MessageParam, tools []anthropic.ToolUnionParam) (*anthropic.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}
	return resp, nil
}

func convertMessage(msg Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults)+len(msg.ToolCalls)+1)

	for _, tr := range msg.ToolResults {
		blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
	}
	if msg.Content != "" && len(msg.ToolResults) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
	}

	if msg.Role == RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

func convertToolDefinition(tool ToolDefinition) anthropic.ToolUnionParam {
	properties := tool.InputSchema["properties"]
	required, _ := tool.InputSchema["required"].([]string)

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		},
	}
}

func convertResponse(resp *anthropic.Message) *Response {
	out := &Response{
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	var textParts []string
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	out.Text = strings.Join(textParts, "")

	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		out.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out
}

func textOf(resp *anthropic.Message) string {
	var parts []string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			parts = append(parts, resp.Content[i].Text)
		}
	}
	return strings.Join(parts, "")
}
