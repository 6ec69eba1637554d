package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/railwatch/railwatch/pkg/models"
)

const defaultAnthropicModel = anthropic.ModelClaudeSonnet4_5

// AnthropicClient calls the Anthropic messages API through the official SDK.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	logger *slog.Logger
}

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultAnthropicModel,
		logger: slog.Default().With("component", "anthropic-client"),
	}
}

// NewAnthropicClientWithOptions creates a client with extra SDK options
// (used by tests to point at a mock server).
func NewAnthropicClientWithOptions(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	allOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(allOpts...),
		model:  defaultAnthropicModel,
		logger: slog.Default().With("component", "anthropic-client"),
	}
}

// Name implements Client.
func (c *AnthropicClient) Name() models.LLMProvider { return models.ProviderAnthropic }

// Classify implements Client.
func (c *AnthropicClient) Classify(ctx context.Context, serviceName string, lines []string) (*Judgment, error) {
	reply, err := c.complete(ctx, classifySystemPrompt, []Message{
		{Role: models.RoleUser, Content: buildClassifyPrompt(serviceName, lines)},
	})
	if err != nil {
		return nil, err
	}
	return parseJudgment(reply)
}

// Chat implements Client.
func (c *AnthropicClient) Chat(ctx context.Context, system string, history []Message) (string, error) {
	return c.complete(ctx, system, history)
}

func (c *AnthropicClient) complete(ctx context.Context, system string, history []Message) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == models.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			// System turns inside history are folded into user turns; the
			// real system prompt travels in the dedicated field below.
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.logger.Error("Anthropic request failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrParseFailure)
	}
	return text, nil
}
