// Package platform wraps the hosting platform's GraphQL query/mutation API.
// All calls carry the bearer token, honor a global token bucket
// (per-second and per-hour), and retry transient failures with
// exponential backoff.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultEndpoint = "https://backboard.railway.app/graphql/v2"
	requestTimeout  = 30 * time.Second
	maxRetries      = 3
	retryBase       = 1 * time.Second
)

// Client is the typed RPC wrapper over the platform API. Stateless apart
// from rate limiting and circuit breaking; safe for concurrent use.
type Client struct {
	token    string
	endpoint string
	http     *http.Client
	logger   *slog.Logger

	secLimiter  *rate.Limiter
	hourLimiter *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
}

// Option customizes the client.
type Option func(*Client)

// WithEndpoint overrides the API endpoint (used by tests).
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimits overrides the global token bucket sizes.
func WithRateLimits(perSec, perHour int) Option {
	return func(c *Client) {
		c.secLimiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		c.hourLimiter = rate.NewLimiter(rate.Limit(float64(perHour)/3600.0), perHour)
	}
}

// NewClient creates a platform client. An empty token is allowed; every
// call will then return ErrNotConfigured without network I/O.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:       token,
		endpoint:    defaultEndpoint,
		http:        &http.Client{Timeout: requestTimeout},
		logger:      slog.Default().With("component", "platform-client"),
		secLimiter:  rate.NewLimiter(rate.Limit(50), 50),
		hourLimiter: rate.NewLimiter(rate.Limit(10000.0/3600.0), 10000),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "platform-mutations",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Platform circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a token is present.
func (c *Client) Configured() bool { return c.token != "" }

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// execute posts one GraphQL document and decodes into out. It retries
// transient failures (network, 5xx) up to 3 times with exponential
// backoff base·2^(n−1); 429 has its own 3-attempt backoff budget.
// Other 4xx responses are surfaced without retry.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	if c.token == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return &TransportError{Cause: err}
	}

	var lastErr error
	transientAttempts := 0
	rateLimitAttempts := 0

	for transientAttempts < maxRetries && rateLimitAttempts < maxRetries {
		if err := c.waitForBudget(ctx); err != nil {
			return &TransportError{Cause: err}
		}

		data, err := c.post(ctx, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return &TransportError{Cause: fmt.Errorf("decoding response data: %w", err)}
			}
			return nil
		}
		lastErr = err

		var retryAfter time.Duration
		switch e := err.(type) {
		case *StatusError:
			if e.Code == http.StatusTooManyRequests {
				rateLimitAttempts++
				retryAfter = backoffDelay(rateLimitAttempts)
			} else if e.Code >= 500 {
				transientAttempts++
				retryAfter = backoffDelay(transientAttempts)
			} else {
				return e // non-retryable 4xx
			}
		case *APIError:
			return e // semantic errors are never retried
		default:
			transientAttempts++
			retryAfter = backoffDelay(transientAttempts)
		}

		if transientAttempts >= maxRetries || rateLimitAttempts >= maxRetries {
			break
		}

		c.logger.Warn("Retrying platform request",
			"transient_attempts", transientAttempts,
			"rate_limit_attempts", rateLimitAttempts,
			"delay", retryAfter,
			"error", err)

		select {
		case <-ctx.Done():
			return &TransportError{Cause: ctx.Err()}
		case <-time.After(retryAfter):
		}
	}

	if rateLimitAttempts >= maxRetries {
		return fmt.Errorf("%w: %v", ErrRateLimited, lastErr)
	}
	if _, ok := lastErr.(*StatusError); ok {
		return lastErr
	}
	if _, ok := lastErr.(*TransportError); ok {
		return lastErr
	}
	return &TransportError{Cause: lastErr}
}

// post performs a single HTTP round-trip and classifies the response.
func (c *Client) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(payload)}
	}

	var gql graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return nil, &TransportError{Cause: err}
	}

	if len(gql.Errors) > 0 {
		msgs := make([]string, len(gql.Errors))
		for i, e := range gql.Errors {
			msgs[i] = e.Message
		}
		return nil, &APIError{Messages: strings.Join(msgs, "; ")}
	}

	return gql.Data, nil
}

// waitForBudget blocks until both token buckets admit the request.
func (c *Client) waitForBudget(ctx context.Context) error {
	if err := c.hourLimiter.Wait(ctx); err != nil {
		return err
	}
	return c.secLimiter.Wait(ctx)
}

// mutate routes a mutation through the circuit breaker so a flapping
// platform does not absorb the whole retry budget on every action.
func (c *Client) mutate(ctx context.Context, query string, variables map[string]any, out any) error {
	if c.token == "" {
		return ErrNotConfigured
	}
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.execute(ctx, query, variables, out)
	})
	return err
}

func backoffDelay(attempt int) time.Duration {
	return retryBase * time.Duration(1<<(attempt-1))
}
