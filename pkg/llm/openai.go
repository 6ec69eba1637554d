package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/railwatch/railwatch/pkg/models"
)

const (
	openAIAPIURL       = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
	llmRequestTimeout  = 30 * time.Second
)

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey string
	model  string
	apiURL string
	http   *http.Client
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI client. Model defaults to gpt-4o-mini.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		apiKey: apiKey,
		model:  model,
		apiURL: openAIAPIURL,
		http:   &http.Client{Timeout: llmRequestTimeout},
		logger: slog.Default().With("component", "openai-client"),
	}
}

// NewOpenAIClientWithURL targets a custom API URL (used by tests).
func NewOpenAIClientWithURL(apiKey, model, apiURL string) *OpenAIClient {
	c := NewOpenAIClient(apiKey, model)
	c.apiURL = apiURL
	return c
}

// Name implements Client.
func (c *OpenAIClient) Name() models.LLMProvider { return models.ProviderOpenAI }

// Classify implements Client.
func (c *OpenAIClient) Classify(ctx context.Context, serviceName string, lines []string) (*Judgment, error) {
	reply, err := c.complete(ctx, classifySystemPrompt, []Message{
		{Role: models.RoleUser, Content: buildClassifyPrompt(serviceName, lines)},
	})
	if err != nil {
		return nil, err
	}
	return parseJudgment(reply)
}

// Chat implements Client.
func (c *OpenAIClient) Chat(ctx context.Context, system string, history []Message) (string, error) {
	return c.complete(ctx, system, history)
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// complete posts one chat-completions request and returns the first choice.
func (c *OpenAIClient) complete(ctx context.Context, system string, history []Message) (string, error) {
	messages := make([]openAIMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		messages = append(messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	reqBody, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("OpenAI request failed", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrParseFailure)
	}
	return result.Choices[0].Message.Content, nil
}
