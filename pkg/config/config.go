// Package config builds the immutable runtime configuration from the
// environment. Each feature gate is an explicit boolean derived from
// "all required keys present".
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/railwatch/railwatch/pkg/models"
)

// Config is the umbrella configuration object constructed once at startup
// and treated as immutable afterwards.
type Config struct {
	Env string // "production" or "development"

	Platform    PlatformConfig
	Slack       SlackConfig
	LLM         LLMConfig
	Performance PerformanceConfig
	Retention   RetentionConfig
}

// PlatformConfig covers the hosting platform API and monitored targets.
type PlatformConfig struct {
	APIToken     string
	Projects     []string
	Environments []string
	Services     []string
}

// Enabled reports whether the platform client can make authenticated calls.
func (p PlatformConfig) Enabled() bool { return p.APIToken != "" }

// SlackConfig covers chat alerting and the interactive webhook.
type SlackConfig struct {
	BotToken      string
	SigningSecret string
	ChannelID     string
}

// Enabled reports whether alerts can be posted.
func (s SlackConfig) Enabled() bool {
	return s.BotToken != "" && s.ChannelID != ""
}

// LLMConfig covers language-model classification.
type LLMConfig struct {
	DefaultProvider models.LLMProvider
	OpenAIKey       string
	AnthropicKey    string
}

// Enabled reports whether at least one provider is usable.
func (l LLMConfig) Enabled() bool {
	return l.OpenAIKey != "" || l.AnthropicKey != ""
}

// PerformanceConfig holds the pipeline tuning knobs.
type PerformanceConfig struct {
	ConnectionTimeout time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxRetryAttempts  int
	MaxBackoff        time.Duration
	RateLimitPerHour  int
	RateLimitPerSec   int
	PollingInterval   time.Duration
	BatchMin          int
	BatchMax          int
	BatchWindowMin    time.Duration
	BatchWindowMax    time.Duration
	BufferRetention   time.Duration
	MemoryLimitMB     int
}

// RetentionConfig controls the daily retention sweep.
type RetentionConfig struct {
	RetentionDays int
	SweepInterval time.Duration
}

// Load constructs the configuration from the environment. In production
// (APP_ENV=production) missing required keys are a hard error; in
// development the affected feature is disabled instead.
func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	prod := env == "production"

	cfg := &Config{
		Env: env,
		Platform: PlatformConfig{
			APIToken:     os.Getenv("API_TOKEN"),
			Projects:     splitCSV(os.Getenv("MONITORED_PROJECTS")),
			Environments: splitCSV(getEnv("MONITORED_ENVIRONMENTS", "production")),
			Services:     splitCSV(os.Getenv("MONITORED_SERVICES")),
		},
		Slack: SlackConfig{
			BotToken:      os.Getenv("BOT_TOKEN"),
			SigningSecret: os.Getenv("SIGNING_SECRET"),
			ChannelID:     os.Getenv("CHANNEL_ID"),
		},
		LLM: LLMConfig{
			OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
			AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		},
		Performance: PerformanceConfig{
			ConnectionTimeout: getDuration("CONNECTION_TIMEOUT_S", 30*time.Second),
			HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL_S", 30*time.Second),
			HeartbeatTimeout:  getDuration("HEARTBEAT_TIMEOUT_S", 45*time.Second),
			MaxRetryAttempts:  getInt("MAX_RETRY_ATTEMPTS", 10),
			MaxBackoff:        getDuration("MAX_BACKOFF_S", 60*time.Second),
			RateLimitPerHour:  getInt("RATE_LIMIT_HR", 10000),
			RateLimitPerSec:   getInt("RATE_LIMIT_SEC", 50),
			PollingInterval:   getDuration("POLLING_INTERVAL_S", 30*time.Second),
			BatchMin:          getInt("BATCH_MIN", 10),
			BatchMax:          getInt("BATCH_MAX", 1000),
			BatchWindowMin:    getDuration("BATCH_WINDOW_MIN_S", 5*time.Second),
			BatchWindowMax:    getDuration("BATCH_WINDOW_MAX_S", 300*time.Second),
			BufferRetention:   getDuration("BUFFER_RETENTION_H", 24*time.Hour),
			MemoryLimitMB:     getInt("MEMORY_LIMIT_MB", 512),
		},
		Retention: RetentionConfig{
			RetentionDays: getInt("RETENTION_DAYS", 90),
			SweepInterval: getDuration("RETENTION_SWEEP_INTERVAL_S", 24*time.Hour),
		},
	}

	provider := getEnv("DEFAULT_PROVIDER", string(models.ProviderAuto))
	p, err := models.ParseLLMProvider(provider)
	if err != nil {
		return nil, &InvalidEnumError{Key: "DEFAULT_PROVIDER", Value: provider}
	}
	cfg.LLM.DefaultProvider = p

	if prod {
		if err := cfg.validateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// validateProduction enforces the required-in-production key set.
func (c *Config) validateProduction() error {
	if c.Platform.APIToken == "" {
		return &MissingKeyError{Key: "API_TOKEN", Feature: "platform"}
	}
	if len(c.Platform.Projects) == 0 {
		return &MissingKeyError{Key: "MONITORED_PROJECTS", Feature: "platform"}
	}
	if c.Slack.BotToken == "" {
		return &MissingKeyError{Key: "BOT_TOKEN", Feature: "slack"}
	}
	if c.Slack.SigningSecret == "" {
		return &MissingKeyError{Key: "SIGNING_SECRET", Feature: "slack"}
	}
	if c.Slack.ChannelID == "" {
		return &MissingKeyError{Key: "CHANNEL_ID", Feature: "slack"}
	}
	if !c.LLM.Enabled() {
		return &MissingKeyError{Key: "OPENAI_API_KEY|ANTHROPIC_API_KEY", Feature: "llm"}
	}
	return nil
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Targets expands the configured projects × environments × services.
func (c *Config) Targets() []models.MonitoringTarget {
	return models.ExpandTargets(c.Platform.Projects, c.Platform.Environments, c.Platform.Services)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// getDuration reads a numeric env value whose unit is encoded in the key
// suffix (_S for seconds, _H for hours).
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	switch {
	case strings.HasSuffix(key, "_H"):
		return time.Duration(n) * time.Hour
	case strings.HasSuffix(key, "_S"):
		return time.Duration(n) * time.Second
	default:
		return time.Duration(n) * time.Second
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// String renders a redacted summary for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("env=%s platform=%t slack=%t llm=%t projects=%d",
		c.Env, c.Platform.Enabled(), c.Slack.Enabled(), c.LLM.Enabled(), len(c.Platform.Projects))
}
