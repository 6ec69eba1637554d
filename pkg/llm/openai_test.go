package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railwatch/railwatch/pkg/models"
)

func completionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestOpenAIClassify(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(completionResponse(
			`{"severity":"high","root_cause":"oom","recommended_action":"scale_memory","confidence":0.9,"reasoning":"r"}`))
	}))
	defer srv.Close()

	c := NewOpenAIClientWithURL("sk-test", "", srv.URL)
	j, err := c.Classify(context.Background(), "api", []string{"[fatal] out of memory"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"], "empty model falls back to the default")
	assert.Equal(t, models.SeverityHigh, j.Severity)
	assert.Equal(t, models.ActionTypeScaleMemory, j.RecommendedAction)
	assert.InDelta(t, 0.9, j.Confidence, 0.001)
}

func TestOpenAIChatSendsSystemAndHistory(t *testing.T) {
	var gotBody struct {
		Model    string          `json:"model"`
		Messages []openAIMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(completionResponse("hello there"))
	}))
	defer srv.Close()

	c := NewOpenAIClientWithURL("sk-test", "gpt-4o", srv.URL)
	reply, err := c.Chat(context.Background(), "be helpful", []Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hey"},
		{Role: models.RoleUser, Content: "status?"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", reply)
	assert.Equal(t, "gpt-4o", gotBody.Model)
	require.Len(t, gotBody.Messages, 4)
	assert.Equal(t, openAIMessage{Role: "system", Content: "be helpful"}, gotBody.Messages[0])
	assert.Equal(t, "assistant", gotBody.Messages[2].Role)
}

func TestOpenAINonOKStatusIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClientWithURL("sk-test", "", srv.URL)
	_, err := c.Chat(context.Background(), "", []Message{{Role: models.RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestOpenAIEmptyCompletionIsParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewOpenAIClientWithURL("sk-test", "", srv.URL)
	_, err := c.Chat(context.Background(), "", []Message{{Role: models.RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrParseFailure)
}
