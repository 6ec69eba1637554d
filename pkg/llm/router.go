package llm

import (
	"context"
	"log/slog"

	"github.com/railwatch/railwatch/pkg/models"
)

// Router selects a provider per request. With provider "auto" it prefers
// Anthropic and falls back to OpenAI when the preferred provider fails.
type Router struct {
	clients map[models.LLMProvider]Client
	def     models.LLMProvider
	logger  *slog.Logger
}

// NewRouter builds a router from the available provider clients. Nil
// clients are skipped, so an unconfigured provider is simply absent.
func NewRouter(def models.LLMProvider, clients ...Client) *Router {
	m := make(map[models.LLMProvider]Client, len(clients))
	for _, c := range clients {
		if c != nil {
			m[c.Name()] = c
		}
	}
	return &Router{
		clients: m,
		def:     def,
		logger:  slog.Default().With("component", "llm-router"),
	}
}

// Available reports whether at least one provider is configured.
func (r *Router) Available() bool { return len(r.clients) > 0 }

// Name implements Client.
func (r *Router) Name() models.LLMProvider { return r.def }

// Classify implements Client by routing to the resolved provider chain.
func (r *Router) Classify(ctx context.Context, serviceName string, lines []string) (*Judgment, error) {
	return classifyVia(ctx, r.chain(r.def), serviceName, lines, r.logger)
}

// ClassifyWith routes with a per-service provider preference (from
// ServicePolicy), falling back to the router default for "auto".
func (r *Router) ClassifyWith(ctx context.Context, provider models.LLMProvider, serviceName string, lines []string) (*Judgment, error) {
	if provider == "" || provider == models.ProviderAuto {
		provider = r.def
	}
	return classifyVia(ctx, r.chain(provider), serviceName, lines, r.logger)
}

// Chat implements Client.
func (r *Router) Chat(ctx context.Context, system string, history []Message) (string, error) {
	chain := r.chain(r.def)
	if len(chain) == 0 {
		return "", ErrProviderUnavailable
	}
	var lastErr error
	for _, c := range chain {
		reply, err := c.Chat(ctx, system, history)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		r.logger.Warn("Provider chat failed, trying next", "provider", c.Name(), "error", err)
	}
	return "", lastErr
}

// chain orders the configured clients by preference.
func (r *Router) chain(preferred models.LLMProvider) []Client {
	order := []models.LLMProvider{models.ProviderAnthropic, models.ProviderOpenAI}
	if preferred == models.ProviderOpenAI {
		order = []models.LLMProvider{models.ProviderOpenAI, models.ProviderAnthropic}
	}

	var chain []Client
	for _, p := range order {
		if c, ok := r.clients[p]; ok {
			chain = append(chain, c)
		}
	}
	return chain
}

func classifyVia(ctx context.Context, chain []Client, serviceName string, lines []string, logger *slog.Logger) (*Judgment, error) {
	if len(chain) == 0 {
		return nil, ErrProviderUnavailable
	}
	var lastErr error
	for _, c := range chain {
		j, err := c.Classify(ctx, serviceName, lines)
		if err == nil {
			return j, nil
		}
		lastErr = err
		logger.Warn("Provider classification failed, trying next", "provider", c.Name(), "error", err)
	}
	return nil, lastErr
}
