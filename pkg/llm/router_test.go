package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railwatch/railwatch/pkg/models"
)

type stubClient struct {
	name     models.LLMProvider
	judgment *Judgment
	reply    string
	err      error
	calls    int
}

func (s *stubClient) Name() models.LLMProvider { return s.name }

func (s *stubClient) Classify(_ context.Context, _ string, _ []string) (*Judgment, error) {
	s.calls++
	return s.judgment, s.err
}

func (s *stubClient) Chat(_ context.Context, _ string, _ []Message) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestRouterAvailable(t *testing.T) {
	assert.False(t, NewRouter(models.ProviderAuto).Available())
	assert.False(t, NewRouter(models.ProviderAuto, nil).Available())
	assert.True(t, NewRouter(models.ProviderAuto, &stubClient{name: models.ProviderOpenAI}).Available())
}

func TestRouterPrefersAnthropicByDefault(t *testing.T) {
	anthro := &stubClient{name: models.ProviderAnthropic, judgment: &Judgment{Severity: models.SeverityHigh}}
	openai := &stubClient{name: models.ProviderOpenAI, judgment: &Judgment{Severity: models.SeverityLow}}
	r := NewRouter(models.ProviderAuto, anthro, openai)

	j, err := r.Classify(context.Background(), "api", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, j.Severity)
	assert.Equal(t, 1, anthro.calls)
	assert.Equal(t, 0, openai.calls)
}

func TestRouterFallsBackOnProviderFailure(t *testing.T) {
	anthro := &stubClient{name: models.ProviderAnthropic, err: errors.New("overloaded")}
	openai := &stubClient{name: models.ProviderOpenAI, judgment: &Judgment{Severity: models.SeverityMedium}}
	r := NewRouter(models.ProviderAuto, anthro, openai)

	j, err := r.Classify(context.Background(), "api", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, j.Severity)
	assert.Equal(t, 1, anthro.calls)
	assert.Equal(t, 1, openai.calls)
}

func TestRouterClassifyWithProviderPreference(t *testing.T) {
	anthro := &stubClient{name: models.ProviderAnthropic, judgment: &Judgment{Severity: models.SeverityHigh}}
	openai := &stubClient{name: models.ProviderOpenAI, judgment: &Judgment{Severity: models.SeverityLow}}
	r := NewRouter(models.ProviderAuto, anthro, openai)

	j, err := r.ClassifyWith(context.Background(), models.ProviderOpenAI, "api", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityLow, j.Severity)
	assert.Equal(t, 0, anthro.calls)

	// Auto defers to the router default chain.
	_, err = r.ClassifyWith(context.Background(), models.ProviderAuto, "api", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, anthro.calls)
}

func TestRouterNoProvidersIsUnavailable(t *testing.T) {
	r := NewRouter(models.ProviderAuto)

	_, err := r.Classify(context.Background(), "api", nil)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = r.Chat(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestRouterChatReturnsLastErrorWhenAllFail(t *testing.T) {
	errA := errors.New("anthropic down")
	errO := errors.New("openai down")
	r := NewRouter(models.ProviderAuto,
		&stubClient{name: models.ProviderAnthropic, err: errA},
		&stubClient{name: models.ProviderOpenAI, err: errO})

	_, err := r.Chat(context.Background(), "sys", []Message{{Role: models.RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, errO)
}
