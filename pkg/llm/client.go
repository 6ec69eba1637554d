// Package llm provides the language-model clients used by the detector's
// classification lane and the conversation manager.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/railwatch/railwatch/pkg/models"
)

var (
	// ErrProviderUnavailable is returned when no configured provider can
	// serve a request.
	ErrProviderUnavailable = errors.New("llm: provider unavailable")

	// ErrParseFailure is returned when a provider response cannot be
	// decoded into a structured judgment.
	ErrParseFailure = errors.New("llm: response parse failure")
)

// Judgment is the structured classification returned for a log batch.
type Judgment struct {
	Severity          models.Severity   `json:"severity"`
	RootCause         string            `json:"root_cause"`
	RecommendedAction models.ActionType `json:"recommended_action"`
	Confidence        float64           `json:"confidence"`
	Reasoning         string            `json:"reasoning"`
}

// Message is one turn of a conversation sent to a provider.
type Message struct {
	Role    models.MessageRole
	Content string
}

// Client is a single LLM provider.
type Client interface {
	// Name identifies the provider.
	Name() models.LLMProvider
	// Classify judges a batch of log lines for one service.
	Classify(ctx context.Context, serviceName string, lines []string) (*Judgment, error)
	// Chat produces an assistant reply for a conversation.
	Chat(ctx context.Context, system string, history []Message) (string, error)
}

const classifySystemPrompt = `You are a production incident classifier for cloud services.
Given recent log lines from one service, respond with ONLY a JSON object:
{"severity":"critical|high|medium|low","root_cause":"...","recommended_action":"restart|redeploy|scale_memory|scale_replicas|rollback|stop|manual_fix|none","confidence":0.0,"reasoning":"..."}`

// buildClassifyPrompt renders the user prompt for a classification call.
func buildClassifyPrompt(serviceName string, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Service: %s\nRecent logs (%d lines):\n", serviceName, len(lines))
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// parseJudgment decodes a provider's text reply into a Judgment. The reply
// may wrap the JSON object in prose or markdown fences.
func parseJudgment(text string) (*Judgment, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrParseFailure)
	}

	var j Judgment
	if err := json.Unmarshal([]byte(text[start:end+1]), &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if !j.Severity.IsValid() {
		return nil, fmt.Errorf("%w: invalid severity %q", ErrParseFailure, j.Severity)
	}
	if !j.RecommendedAction.IsValid() {
		j.RecommendedAction = models.ActionTypeNone
	}
	if j.Confidence < 0 {
		j.Confidence = 0
	}
	if j.Confidence > 1 {
		j.Confidence = 1
	}
	return &j, nil
}
