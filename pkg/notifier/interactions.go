package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/railwatch/railwatch/pkg/broker"
	"github.com/railwatch/railwatch/pkg/llm"
	"github.com/railwatch/railwatch/pkg/models"
	"github.com/railwatch/railwatch/pkg/platform"
)

const refineLogLimit = 50

// IncidentReader loads and transitions incidents for button dispatch.
type IncidentReader interface {
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	UpdateStatus(ctx context.Context, id string, to models.IncidentStatus) (*models.Incident, error)
}

// DeploymentReader fetches recent deployment logs for the refinement step.
type DeploymentReader interface {
	LatestDeploymentID(ctx context.Context, serviceID, environmentID string) (string, error)
	GetDeploymentLogs(ctx context.Context, deploymentID string, limit int) ([]platform.LogLine, error)
}

// Refiner asks the LLM for a refined recommendation before confirmation.
type Refiner interface {
	Available() bool
	ClassifyWith(ctx context.Context, provider models.LLMProvider, serviceName string, lines []string) (*llm.Judgment, error)
}

// Interaction is one decoded button press. ActionName is the explicit
// remediation carried by confirm presses; empty otherwise.
type Interaction struct {
	ActionID   string
	IncidentID string
	ActionName string
	UserID     string
	ChannelID  string
	ThreadTS   string
}

// InteractionHandler dispatches alert button presses. The webhook layer
// decodes and verifies payloads; this handler does the work.
type InteractionHandler struct {
	notifier    *Notifier
	incidents   IncidentReader
	deployments DeploymentReader
	refiner     Refiner
	bus         broker.Broker
	logger      *slog.Logger
}

// NewInteractionHandler wires the dispatch dependencies. deployments and
// refiner may be nil; the refinement step then falls back to the stored
// recommendation.
func NewInteractionHandler(n *Notifier, incidents IncidentReader, deployments DeploymentReader, refiner Refiner, bus broker.Broker) *InteractionHandler {
	return &InteractionHandler{
		notifier:    n,
		incidents:   incidents,
		deployments: deployments,
		refiner:     refiner,
		bus:         bus,
		logger:      slog.Default().With("component", "interactions"),
	}
}

// Handle dispatches one button press. It is called from a background task;
// the webhook has already been acknowledged.
func (h *InteractionHandler) Handle(ctx context.Context, in Interaction) error {
	inc, err := h.incidents.GetByID(ctx, in.IncidentID)
	if err != nil {
		return fmt.Errorf("load incident %s: %w", in.IncidentID, err)
	}

	switch in.ActionID {
	case ActionAutoFix:
		return h.handleAutoFix(ctx, inc, in)
	case ActionConfirm:
		actionType := models.ActionType(in.ActionName)
		if !actionType.IsValid() || actionType == models.ActionTypeNone {
			actionType = inc.RecommendedAction
		}
		h.bus.Publish(broker.TopicRemediation, broker.AutoFixRequested{
			IncidentID:   inc.ID,
			ActionType:   actionType,
			Initiator:    models.InitiatorUser,
			InitiatorRef: in.UserID,
		})
		return h.reply(ctx, in.ThreadTS, fmt.Sprintf("Auto-fix confirmed by <@%s>, executing `%s`...", in.UserID, actionType))
	case ActionCancelAutoFix:
		return h.reply(ctx, in.ThreadTS, fmt.Sprintf("Auto-fix cancelled by <@%s>.", in.UserID))
	case ActionStartChat:
		h.bus.Publish(broker.TopicConversations, broker.StartChat{
			IncidentID: inc.ID,
			ChannelID:  in.ChannelID,
			UserID:     in.UserID,
			ThreadTS:   in.ThreadTS,
		})
		return nil
	case ActionIgnore:
		return h.handleIgnore(ctx, inc, in)
	default:
		return fmt.Errorf("unknown action id %q", in.ActionID)
	}
}

// handleAutoFix fetches recent deployment logs, asks the LLM for a refined
// recommendation, and posts the confirmation buttons.
func (h *InteractionHandler) handleAutoFix(ctx context.Context, inc *models.Incident, in Interaction) error {
	if inc.Status.IsTerminal() {
		return h.reply(ctx, in.ThreadTS, "This incident is already resolved.")
	}

	recommendation := inc.Reasoning
	if lines := h.recentLogs(ctx, inc); len(lines) > 0 && h.refiner != nil && h.refiner.Available() {
		j, err := h.refiner.ClassifyWith(ctx, models.ProviderAuto, inc.ServiceName, lines)
		if err != nil {
			h.logger.Warn("Recommendation refinement failed", "incident_id", inc.ID, "error", err)
		} else {
			recommendation = j.Reasoning
			if j.RecommendedAction != models.ActionTypeNone {
				inc.RecommendedAction = j.RecommendedAction
			}
		}
	}
	if recommendation == "" {
		recommendation = "No additional analysis available."
	}

	return h.notifier.PostConfirmation(ctx, in.ThreadTS, inc, recommendation)
}

func (h *InteractionHandler) handleIgnore(ctx context.Context, inc *models.Incident, in Interaction) error {
	if inc.Status.IsTerminal() {
		return h.reply(ctx, in.ThreadTS, "This incident is already resolved.")
	}
	if _, err := h.incidents.UpdateStatus(ctx, inc.ID, models.IncidentStatusIgnored); err != nil {
		return fmt.Errorf("ignore incident: %w", err)
	}
	summary := fmt.Sprintf("Incident for *%s* ignored by <@%s>. Severity was %s, detected %s.",
		inc.ServiceName, in.UserID, inc.Severity,
		inc.DetectedAt.Format(time.RFC3339))
	return h.reply(ctx, in.ThreadTS, summary)
}

// recentLogs fetches up to 50 lines from the latest deployment.
func (h *InteractionHandler) recentLogs(ctx context.Context, inc *models.Incident) []string {
	if h.deployments == nil || inc.EnvironmentID == "" {
		return nil
	}
	depID, err := h.deployments.LatestDeploymentID(ctx, inc.ServiceID, inc.EnvironmentID)
	if err != nil {
		h.logger.Warn("Could not resolve latest deployment", "incident_id", inc.ID, "error", err)
		return nil
	}
	logs, err := h.deployments.GetDeploymentLogs(ctx, depID, refineLogLimit)
	if err != nil {
		h.logger.Warn("Could not fetch deployment logs", "deployment_id", depID, "error", err)
		return nil
	}
	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		lines = append(lines, "["+strings.ToLower(l.Severity)+"] "+l.Message)
	}
	return lines
}

func (h *InteractionHandler) reply(ctx context.Context, threadTS, text string) error {
	err := h.notifier.PostThreadReply(ctx, threadTS, text)
	if err != nil {
		h.logger.Error("Failed to post thread reply", "error", err)
	}
	return err
}
