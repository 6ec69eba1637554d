package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railwatch/railwatch/pkg/broker"
	"github.com/railwatch/railwatch/pkg/llm"
	"github.com/railwatch/railwatch/pkg/models"
	"github.com/railwatch/railwatch/pkg/platform"
)

type fakeSessions struct {
	mu         sync.Mutex
	sess       *models.ConversationSession
	messages   []models.ConversationMessage
	closed     []string
	idleClosed int64
}

func (f *fakeSessions) FindOrCreateSession(_ context.Context, channel, channelRef, participantID string, incidentID *string) (*models.ConversationSession, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess == nil {
		f.sess = &models.ConversationSession{
			ID:            "sess-1",
			IncidentID:    incidentID,
			Channel:       channel,
			ChannelRef:    channelRef,
			ParticipantID: participantID,
			StartedAt:     time.Now().UTC(),
		}
		return f.sess, true, nil
	}
	return f.sess, false, nil
}

func (f *fakeSessions) AppendMessage(_ context.Context, m *models.ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeSessions) snapshot() (*models.ConversationSession, []models.ConversationMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, append([]models.ConversationMessage(nil), f.messages...)
}

func (f *fakeSessions) ListMessages(_ context.Context, _ string, _ int) ([]models.ConversationMessage, error) {
	return f.messages, nil
}

func (f *fakeSessions) CloseSession(_ context.Context, sessionID string) error {
	f.closed = append(f.closed, sessionID)
	return nil
}

func (f *fakeSessions) CloseIdleSessions(_ context.Context, _ time.Time) (int64, error) {
	return f.idleClosed, nil
}

type fakeIncidents struct {
	inc       *models.Incident
	getErr    error
	updatedTo models.IncidentStatus
	updateErr error
}

func (f *fakeIncidents) GetByID(_ context.Context, _ string) (*models.Incident, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.inc, nil
}

func (f *fakeIncidents) UpdateStatus(_ context.Context, _ string, to models.IncidentStatus) (*models.Incident, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updatedTo = to
	f.inc.Status = to
	return f.inc, nil
}

type fakeReader struct {
	lines     []platform.LogLine
	deploys   []platform.Deployment
	latestErr error
}

func (f *fakeReader) LatestDeploymentID(_ context.Context, _, _ string) (string, error) {
	if f.latestErr != nil {
		return "", f.latestErr
	}
	return "dep-1", nil
}

func (f *fakeReader) GetDeploymentLogs(_ context.Context, _ string, _ int) ([]platform.LogLine, error) {
	return f.lines, nil
}

func (f *fakeReader) ListDeployments(_ context.Context, _, _, _ string, _ int) ([]platform.Deployment, error) {
	return f.deploys, nil
}

type fakeChatter struct {
	available bool
	reply     string
	err       error
	system    string
	history   []llm.Message
}

func (f *fakeChatter) Available() bool { return f.available }

func (f *fakeChatter) Chat(_ context.Context, system string, history []llm.Message) (string, error) {
	f.system = system
	f.history = history
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func chatIncident() *models.Incident {
	return &models.Incident{
		ID:                "inc-1",
		ServiceID:         "svc-1",
		ServiceName:       "api",
		EnvironmentID:     "env-1",
		Severity:          models.SeverityHigh,
		Status:            models.IncidentStatusDetected,
		Confidence:        0.85,
		RootCause:         "connection pool exhausted",
		RecommendedAction: models.ActionTypeRestart,
		DetectedAt:        time.Now().UTC(),
	}
}

type managerFixture struct {
	sessions  *fakeSessions
	incidents *fakeIncidents
	reader    *fakeReader
	chatter   *fakeChatter
	bus       *broker.MemoryBroker
	mgr       *Manager
}

func newManagerFixture(t *testing.T, linked bool) *managerFixture {
	t.Helper()
	fx := &managerFixture{
		sessions:  &fakeSessions{},
		incidents: &fakeIncidents{inc: chatIncident()},
		reader:    &fakeReader{},
		chatter:   &fakeChatter{},
		bus:       broker.New(),
	}
	t.Cleanup(fx.bus.Close)
	if linked {
		incidentID := "inc-1"
		fx.sessions.sess = &models.ConversationSession{
			ID:            "sess-1",
			IncidentID:    &incidentID,
			Channel:       models.ChannelChat,
			ChannelRef:    "C1:111.222",
			ParticipantID: "U123",
			StartedAt:     time.Now().UTC(),
		}
	}
	fx.mgr = New(fx.sessions, fx.incidents, fx.reader, fx.chatter, fx.bus, nil, "proj-1", time.Hour)
	return fx
}

func (fx *managerFixture) post(t *testing.T, text string) string {
	t.Helper()
	reply, err := fx.mgr.HandleThreadMessage(context.Background(), "C1", "111.222", "U123", text)
	require.NoError(t, err)
	return reply
}

func TestHelpReply(t *testing.T) {
	fx := newManagerFixture(t, false)

	reply := fx.post(t, "help")
	assert.Equal(t, helpText, reply)

	// Opening system message, user post, assistant reply.
	require.Len(t, fx.sessions.messages, 3)
	assert.Equal(t, models.RoleSystem, fx.sessions.messages[0].Role)
	assert.Equal(t, models.RoleUser, fx.sessions.messages[1].Role)
	assert.Equal(t, "help", fx.sessions.messages[1].Content)
	assert.Equal(t, models.RoleAssistant, fx.sessions.messages[2].Role)
}

func TestStatusReply(t *testing.T) {
	fx := newManagerFixture(t, true)

	reply := fx.post(t, "status")
	assert.Contains(t, reply, "api")
	assert.Contains(t, reply, "detected")
	assert.Contains(t, reply, "connection pool exhausted")
}

func TestStatusWithoutIncident(t *testing.T) {
	fx := newManagerFixture(t, false)
	assert.Contains(t, fx.post(t, "status"), "No incident is linked")
}

func TestLogsReply(t *testing.T) {
	fx := newManagerFixture(t, true)
	fx.reader.lines = []platform.LogLine{
		{Severity: "ERROR", Message: "boom"},
		{Severity: "INFO", Message: "recovered"},
	}

	reply := fx.post(t, "logs")
	assert.Contains(t, reply, "[error] boom")
	assert.Contains(t, reply, "[info] recovered")
	assert.Contains(t, reply, "```")
}

func TestLogsWithoutReader(t *testing.T) {
	fx := newManagerFixture(t, true)
	fx.mgr = New(fx.sessions, fx.incidents, nil, fx.chatter, fx.bus, nil, "proj-1", time.Hour)

	assert.Contains(t, fx.post(t, "logs"), "not configured")
}

func TestLogsDeploymentLookupFailure(t *testing.T) {
	fx := newManagerFixture(t, true)
	fx.reader.latestErr = errors.New("no deployment")

	assert.Contains(t, fx.post(t, "logs"), "Could not resolve the latest deployment")
}

func TestDeploymentsReply(t *testing.T) {
	fx := newManagerFixture(t, true)
	fx.reader.deploys = []platform.Deployment{
		{ID: "dep-2", Status: "SUCCESS", CreatedAt: time.Now().UTC()},
		{ID: "dep-1", Status: "FAILED", CreatedAt: time.Now().UTC().Add(-time.Hour)},
	}

	reply := fx.post(t, "deployments")
	assert.Contains(t, reply, "dep-2")
	assert.Contains(t, reply, "FAILED")
}

func TestResolveClosesIncidentAndSession(t *testing.T) {
	fx := newManagerFixture(t, true)

	reply := fx.post(t, "resolve")
	assert.Contains(t, reply, "resolved")
	assert.Equal(t, models.IncidentStatusManualResolved, fx.incidents.updatedTo)
	assert.Equal(t, []string{"sess-1"}, fx.sessions.closed)
}

func TestResolveTransitionFailure(t *testing.T) {
	fx := newManagerFixture(t, true)
	fx.incidents.updateErr = errors.New("already terminal")

	reply := fx.post(t, "resolve")
	assert.Contains(t, reply, "Could not resolve")
	assert.Empty(t, fx.sessions.closed)
}

func TestRestartIntentPublishesRemediation(t *testing.T) {
	fx := newManagerFixture(t, true)
	sub := fx.bus.Subscribe(broker.TopicRemediation, 4)

	reply := fx.post(t, "restart the service")
	assert.Contains(t, reply, "`restart`")

	select {
	case msg := <-sub.C:
		req, ok := msg.Payload.(broker.AutoFixRequested)
		require.True(t, ok)
		assert.Equal(t, "inc-1", req.IncidentID)
		assert.Equal(t, models.ActionTypeRestart, req.ActionType)
		assert.Equal(t, models.InitiatorUser, req.Initiator)
		assert.Equal(t, "U123", req.InitiatorRef)
	case <-time.After(time.Second):
		t.Fatal("no remediation request published")
	}
}

func TestScaleMemoryIntentCarriesSize(t *testing.T) {
	fx := newManagerFixture(t, true)
	sub := fx.bus.Subscribe(broker.TopicRemediation, 4)

	fx.post(t, "scale memory to 2048")

	select {
	case msg := <-sub.C:
		req := msg.Payload.(broker.AutoFixRequested)
		assert.Equal(t, models.ActionTypeScaleMemory, req.ActionType)
		assert.Equal(t, 2048, req.Parameters["memory_mb"])
	case <-time.After(time.Second):
		t.Fatal("no remediation request published")
	}
}

func TestMutatingIntentWithoutIncident(t *testing.T) {
	fx := newManagerFixture(t, false)
	sub := fx.bus.Subscribe(broker.TopicRemediation, 4)

	reply := fx.post(t, "restart")
	assert.Contains(t, reply, "cannot run that action")
	select {
	case <-sub.C:
		t.Fatal("unlinked chats must not trigger remediation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFreeformUsesChatter(t *testing.T) {
	fx := newManagerFixture(t, true)
	fx.chatter.available = true
	fx.chatter.reply = "Check the connection pool settings."

	reply := fx.post(t, "what do you think is going on here?")
	assert.Equal(t, "Check the connection pool settings.", reply)
	assert.Contains(t, fx.chatter.system, "service api")
	assert.Contains(t, fx.chatter.system, "connection pool exhausted")

	for _, msg := range fx.chatter.history {
		assert.NotEqual(t, models.RoleSystem, msg.Role, "system rows stay out of the history")
	}
}

func TestFreeformWithoutChatter(t *testing.T) {
	fx := newManagerFixture(t, false)

	reply := fx.post(t, "what happened?")
	assert.Contains(t, reply, "help")
}

func TestFreeformChatterFailure(t *testing.T) {
	fx := newManagerFixture(t, true)
	fx.chatter.available = true
	fx.chatter.err = errors.New("provider down")

	reply := fx.post(t, "any ideas?")
	assert.Contains(t, reply, "unavailable")
}

func TestHandleSlashCommandKeysPerUser(t *testing.T) {
	fx := newManagerFixture(t, false)

	_, err := fx.mgr.HandleSlashCommand(context.Background(), "C1", "U123", "help")
	require.NoError(t, err)
	assert.Equal(t, "C1:slash:U123", fx.sessions.sess.ChannelRef)
}

func TestRunOpensSessionFromBus(t *testing.T) {
	fx := newManagerFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.mgr.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	fx.bus.Publish(broker.TopicConversations, broker.StartChat{
		IncidentID: "inc-1",
		ChannelID:  "C1",
		UserID:     "U123",
		ThreadTS:   "111.222",
	})

	require.Eventually(t, func() bool {
		sess, msgs := fx.sessions.snapshot()
		return sess != nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	sess, msgs := fx.sessions.snapshot()
	assert.Equal(t, "C1:111.222", sess.ChannelRef)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
}
