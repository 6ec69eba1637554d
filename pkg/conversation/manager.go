// Package conversation owns chat-thread sessions with the bot: session
// lifecycle, message persistence, intent parsing, and the free-form LLM
// dialogue path.
package conversation

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
	"github.com/railwatch/railwatch/pkg/telemetry"
)

const (
	defaultIdleTimeout = 60 * time.Minute
	idleSweepInterval  = 5 * time.Minute
	historyLimit       = 40
	logReplyLimit      = 20
	deploymentsLimit   = 5
)

// Sessions is the conversation store surface the manager uses.
type Sessions interface {
	FindOrCreateSession(ctx context.Context, channel, channelRef, participantID string, incidentID *string) (*models.ConversationSession, bool, error)
	AppendMessage(ctx context.Context, m *models.ConversationMessage) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error)
	CloseSession(ctx context.Context, sessionID string) error
	CloseIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Incidents is the incident store surface the manager uses.
type Incidents interface {
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	UpdateStatus(ctx context.Context, id string, to models.IncidentStatus) (*models.Incident, error)
}

// PlatformReader serves the read-only intents.
type PlatformReader interface {
	LatestDeploymentID(ctx context.Context, serviceID, environmentID string) (string, error)
	GetDeploymentLogs(ctx context.Context, deploymentID string, limit int) ([]platform.LogLine, error)
	ListDeployments(ctx context.Context, projectID, environmentID, serviceID string, limit int) ([]platform.Deployment, error)
}

// Chatter produces free-form assistant replies. *llm.Router satisfies it.
type Chatter interface {
	Available() bool
	Chat(ctx context.Context, system string, history []llm.Message) (string, error)
}

// Manager runs the conversation task.
type Manager struct {
	sessions  Sessions
	incidents Incidents
	reader    PlatformReader
	chatter   Chatter
	bus       broker.Broker
	metrics   *telemetry.Collector
	projectID string
	idle      time.Duration
	logger    *slog.Logger
}

// New creates a manager. reader and chatter may be nil; the corresponding
// intents then answer with an unavailability message.
func New(sessions Sessions, incidents Incidents, reader PlatformReader, chatter Chatter, bus broker.Broker, metrics *telemetry.Collector, projectID string, idle time.Duration) *Manager {
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &Manager{
		sessions:  sessions,
		incidents: incidents,
		reader:    reader,
		chatter:   chatter,
		bus:       bus,
		metrics:   metrics,
		projectID: projectID,
		idle:      idle,
		logger:    slog.Default().With("component", "conversation"),
	}
}

// Run consumes conversations:events and sweeps idle sessions until ctx
// is done.
func (m *Manager) Run(ctx context.Context) {
	sub := m.bus.Subscribe(broker.TopicConversations, 64)
	defer m.bus.Unsubscribe(sub)

	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.sessions.CloseIdleSessions(ctx, time.Now().Add(-m.idle))
			if err != nil {
				m.logger.Warn("Idle session sweep failed", "error", err)
			} else if n > 0 {
				m.logger.Info("Closed idle sessions", "count", n)
			}
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if sc, ok := msg.Payload.(broker.StartChat); ok {
				if _, err := m.OpenSession(ctx, sc); err != nil {
					m.logger.Error("Cannot open chat session", "incident_id", sc.IncidentID, "error", err)
				}
			}
		}
	}
}

// OpenSession finds or creates the thread's session and seeds the system
// opening message on first use.
func (m *Manager) OpenSession(ctx context.Context, sc broker.StartChat) (*models.ConversationSession, error) {
	var incidentID *string
	if sc.IncidentID != "" {
		incidentID = &sc.IncidentID
	}
	ref := threadRef(sc.ChannelID, sc.ThreadTS)

	sess, created, err := m.sessions.FindOrCreateSession(ctx, models.ChannelChat, ref, sc.UserID, incidentID)
	if err != nil {
		return nil, err
	}
	if created {
		err = m.sessions.AppendMessage(ctx, &models.ConversationMessage{
			SessionID: sess.ID,
			Role:      models.RoleSystem,
			Content:   "Chat session started",
		})
		if err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// HandleThreadMessage processes one inbound post in an alert thread and
// returns the assistant reply to post back.
func (m *Manager) HandleThreadMessage(ctx context.Context, channelID, threadTS, userID, text string) (string, error) {
	return m.handle(ctx, models.ChannelChat, threadRef(channelID, threadTS), userID, nil, text)
}

// HandleSlashCommand processes a slash-style command, keyed per user so
// each user gets their own running session.
func (m *Manager) HandleSlashCommand(ctx context.Context, channelID, userID, text string) (string, error) {
	ref := channelID + ":slash:" + userID
	return m.handle(ctx, models.ChannelChat, ref, userID, nil, text)
}

func (m *Manager) handle(ctx context.Context, channel, channelRef, userID string, incidentID *string, text string) (string, error) {
	start := time.Now()

	sess, created, err := m.sessions.FindOrCreateSession(ctx, channel, channelRef, userID, incidentID)
	if err != nil {
		return "", err
	}
	if created {
		_ = m.sessions.AppendMessage(ctx, &models.ConversationMessage{
			SessionID: sess.ID,
			Role:      models.RoleSystem,
			Content:   "Chat session started",
		})
	}

	if err := m.sessions.AppendMessage(ctx, &models.ConversationMessage{
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Content:   text,
	}); err != nil {
		return "", err
	}

	reply := m.respond(ctx, sess, userID, text)

	if err := m.sessions.AppendMessage(ctx, &models.ConversationMessage{
		SessionID: sess.ID,
		Role:      models.RoleAssistant,
		Content:   reply,
	}); err != nil {
		m.logger.Warn("Cannot persist assistant reply", "session_id", sess.ID, "error", err)
	}
	if m.metrics != nil {
		m.metrics.ConversationResponse(time.Since(start))
	}
	return reply, nil
}

func (m *Manager) respond(ctx context.Context, sess *models.ConversationSession, userID, text string) string {
	intent := ParseIntent(text)

	var inc *models.Incident
	if sess.IncidentID != nil {
		var err error
		inc, err = m.incidents.GetByID(ctx, *sess.IncidentID)
		if err != nil {
			m.logger.Warn("Cannot load session incident", "session_id", sess.ID, "error", err)
		}
	}

	switch intent.Kind {
	case IntentHelp:
		return helpText

	case IntentStatus:
		if inc == nil {
			return "No incident is linked to this chat."
		}
		return fmt.Sprintf("*%s* — status `%s`, severity %s, confidence %.0f%%.\nRoot cause: %s",
			inc.ServiceName, inc.Status, inc.Severity, inc.Confidence*100, orDash(inc.RootCause))

	case IntentLogs:
		return m.answerLogs(ctx, inc)

	case IntentDeployments:
		return m.answerDeployments(ctx, inc)

	case IntentResolve:
		if inc == nil {
			return "No incident is linked to this chat."
		}
		if _, err := m.incidents.UpdateStatus(ctx, inc.ID, models.IncidentStatusManualResolved); err != nil {
			return "Could not resolve the incident: " + err.Error()
		}
		if err := m.sessions.CloseSession(ctx, sess.ID); err != nil {
			m.logger.Warn("Cannot close session", "session_id", sess.ID, "error", err)
		}
		return "Incident marked resolved. Closing this chat."

	default:
		if intent.Mutating() {
			return m.requestRemediation(ctx, inc, userID, intent)
		}
		return m.freeform(ctx, sess, inc)
	}
}

// requestRemediation synthesizes an auto_fix_requested emission for a
// mutating intent, with the user as initiator.
func (m *Manager) requestRemediation(ctx context.Context, inc *models.Incident, userID string, intent Intent) string {
	if inc == nil {
		return "No incident is linked to this chat, so I cannot run that action."
	}

	var actionType models.ActionType
	params := models.JSONMap{}
	switch intent.Kind {
	case IntentRestart:
		actionType = models.ActionTypeRestart
	case IntentRedeploy:
		actionType = models.ActionTypeRedeploy
	case IntentStop:
		actionType = models.ActionTypeStop
	case IntentRollback:
		actionType = models.ActionTypeRollback
	case IntentScaleMemory:
		actionType = models.ActionTypeScaleMemory
		params["memory_mb"] = intent.MemoryMB
	case IntentScaleReplicas:
		actionType = models.ActionTypeScaleReplicas
		params["replicas"] = intent.Replicas
	}

	m.bus.Publish(broker.TopicRemediation, broker.AutoFixRequested{
		IncidentID:   inc.ID,
		ActionType:   actionType,
		Initiator:    models.InitiatorUser,
		InitiatorRef: userID,
		Parameters:   params,
	})
	return fmt.Sprintf("Requested `%s` for *%s*. I will post the outcome here.", actionType, inc.ServiceName)
}

func (m *Manager) answerLogs(ctx context.Context, inc *models.Incident) string {
	if inc == nil {
		return "No incident is linked to this chat."
	}
	if m.reader == nil {
		return "The platform API is not configured, so I cannot fetch logs."
	}
	depID, err := m.reader.LatestDeploymentID(ctx, inc.ServiceID, inc.EnvironmentID)
	if err != nil {
		return "Could not resolve the latest deployment: " + err.Error()
	}
	lines, err := m.reader.GetDeploymentLogs(ctx, depID, logReplyLimit)
	if err != nil {
		return "Could not fetch deployment logs: " + err.Error()
	}
	if len(lines) == 0 {
		return "The latest deployment has no recent log lines."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent logs for *%s*:\n```", inc.ServiceName)
	for _, l := range lines {
		fmt.Fprintf(&b, "\n[%s] %s", strings.ToLower(l.Severity), l.Message)
	}
	b.WriteString("\n```")
	return b.String()
}

func (m *Manager) answerDeployments(ctx context.Context, inc *models.Incident) string {
	if inc == nil {
		return "No incident is linked to this chat."
	}
	if m.reader == nil {
		return "The platform API is not configured, so I cannot list deployments."
	}
	deployments, err := m.reader.ListDeployments(ctx, m.projectID, inc.EnvironmentID, inc.ServiceID, deploymentsLimit)
	if err != nil {
		return "Could not list deployments: " + err.Error()
	}
	if len(deployments) == 0 {
		return "No deployments found for this service."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent deployments for *%s*:", inc.ServiceName)
	for _, d := range deployments {
		fmt.Fprintf(&b, "\n• `%s` — %s (%s)", d.ID, d.Status, d.CreatedAt.Format(time.RFC3339))
	}
	return b.String()
}

// freeform sends the session history to the LLM for an open-ended reply.
func (m *Manager) freeform(ctx context.Context, sess *models.ConversationSession, inc *models.Incident) string {
	if m.chatter == nil || !m.chatter.Available() {
		return "I could not parse that as a command. Try *help* for what I can do."
	}

	msgs, err := m.sessions.ListMessages(ctx, sess.ID, historyLimit)
	if err != nil {
		m.logger.Warn("Cannot load session history", "session_id", sess.ID, "error", err)
	}
	history := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			continue
		}
		history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
	}

	system := "You are an SRE assistant helping with a production incident. Be concise and concrete."
	if inc != nil {
		system += fmt.Sprintf(" Incident context: service %s, severity %s, status %s, root cause: %s.",
			inc.ServiceName, inc.Severity, inc.Status, orDash(inc.RootCause))
	}

	reply, err := m.chatter.Chat(ctx, system, history)
	if err != nil {
		m.logger.Warn("LLM chat failed", "session_id", sess.ID, "error", err)
		if m.metrics != nil {
			m.metrics.Error("conversation", "llm_chat")
		}
		return "The assistant is unavailable right now. Try *help* for the built-in commands."
	}
	return reply
}

func threadRef(channelID, threadTS string) string {
	return channelID + ":" + threadTS
}

func orDash(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
