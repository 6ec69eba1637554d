// Package notifier posts incident alerts to the chat channel and handles
// the interactive button flows. All operations are nil-safe: with no bot
// token configured they return config.ErrNotConfigured without failing
// the pipeline.
package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/railwatch/railwatch/pkg/broker"
	"github.com/railwatch/railwatch/pkg/config"
	"github.com/railwatch/railwatch/pkg/models"
	"github.com/railwatch/railwatch/pkg/telemetry"
)

// ChatAPI is the subset of the Slack client the notifier uses.
type ChatAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// ThreadRecorder persists the alert's thread timestamp on the incident.
type ThreadRecorder interface {
	SetThreadTS(ctx context.Context, incidentID, threadTS string) error
}

// Notifier posts block-structured alerts and thread replies.
type Notifier struct {
	api       ChatAPI
	channelID string
	threads   ThreadRecorder
	metrics   *telemetry.Collector
	logger    *slog.Logger
}

// New creates a notifier. With chat unconfigured the notifier is inert.
func New(cfg config.SlackConfig, threads ThreadRecorder, metrics *telemetry.Collector) *Notifier {
	n := &Notifier{
		channelID: cfg.ChannelID,
		threads:   threads,
		metrics:   metrics,
		logger:    slog.Default().With("component", "notifier"),
	}
	if cfg.Enabled() {
		n.api = slack.New(cfg.BotToken)
	} else {
		n.logger.Info("Chat integration not configured, alerts disabled")
	}
	return n
}

// NewWithAPI injects a ChatAPI directly (tests).
func NewWithAPI(api ChatAPI, channelID string, threads ThreadRecorder, metrics *telemetry.Collector) *Notifier {
	return &Notifier{
		api:       api,
		channelID: channelID,
		threads:   threads,
		metrics:   metrics,
		logger:    slog.Default().With("component", "notifier"),
	}
}

// Enabled reports whether alerts will actually be posted.
func (n *Notifier) Enabled() bool { return n.api != nil }

// PostIncidentAlert posts the alert for an incident and returns the
// message timestamp used as thread_ts for follow-ups.
func (n *Notifier) PostIncidentAlert(ctx context.Context, inc *models.Incident) (string, error) {
	if n.api == nil {
		return "", config.ErrNotConfigured
	}

	blocks := buildAlertBlocks(inc)
	_, ts, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText("Incident detected: "+inc.ServiceName, false))
	if err != nil {
		if n.metrics != nil {
			n.metrics.Error("notifier", "post_alert")
		}
		return "", err
	}

	if n.metrics != nil {
		n.metrics.AlertLatency(time.Since(inc.DetectedAt))
	}
	if n.threads != nil {
		if err := n.threads.SetThreadTS(ctx, inc.ID, ts); err != nil {
			n.logger.Warn("Failed to record thread timestamp", "incident_id", inc.ID, "error", err)
		}
	}
	return ts, nil
}

// PostThreadReply posts a plain-text reply into an alert thread.
func (n *Notifier) PostThreadReply(ctx context.Context, threadTS, text string) error {
	if n.api == nil {
		return config.ErrNotConfigured
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS))
	return err
}

// PostConfirmation posts the auto-fix confirmation with its button row.
func (n *Notifier) PostConfirmation(ctx context.Context, threadTS string, inc *models.Incident, recommendation string) error {
	if n.api == nil {
		return config.ErrNotConfigured
	}
	blocks := buildConfirmBlocks(inc, recommendation)
	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText("Confirm auto-fix for "+inc.ServiceName, false),
		slack.MsgOptionTS(threadTS))
	return err
}

// Run consumes incidents:new until ctx is done, posting one alert per
// created incident. Recurrences of an open incident arrive as updated or
// skipped outcomes and stay silent; the alert thread is the single post.
func (n *Notifier) Run(ctx context.Context, bus broker.Broker) {
	sub := bus.Subscribe(broker.TopicIncidentsNew, 64)
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			detected, ok := msg.Payload.(broker.IncidentDetected)
			if !ok || detected.Incident == nil || detected.Outcome != models.UpsertCreated {
				continue
			}
			if _, err := n.PostIncidentAlert(ctx, detected.Incident); err != nil {
				if err != config.ErrNotConfigured {
					n.logger.Error("Failed to post incident alert",
						"incident_id", detected.Incident.ID, "error", err)
				}
			}
		}
	}
}
