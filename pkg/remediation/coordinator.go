// Package remediation drives bounded side-effecting operations against
// the hosting platform in response to confirmed or policy-gated auto-fix
// requests.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/railwatch/railwatch/pkg/broker"
	"github.com/railwatch/railwatch/pkg/models"
	"github.com/railwatch/railwatch/pkg/platform"
	"github.com/railwatch/railwatch/pkg/store"
	"github.com/railwatch/railwatch/pkg/telemetry"
)

const (
	staleActionAge     = 10 * time.Minute
	staleSweepInterval = 5 * time.Minute
	paramDeploymentID  = "deployment_id"
	paramMemoryMB      = "memory_mb"
	paramReplicas      = "replicas"
)

// PlatformAPI is the subset of the platform client the coordinator uses.
type PlatformAPI interface {
	RestartDeployment(ctx context.Context, deploymentID string) error
	RedeployService(ctx context.Context, environmentID, serviceID string) error
	StopDeployment(ctx context.Context, deploymentID string) error
	RollbackDeployment(ctx context.Context, deploymentID string) error
	UpdateServiceInstance(ctx context.Context, environmentID, serviceID string, numReplicas int) error
	UpdateServiceLimits(ctx context.Context, environmentID, serviceID string, memoryMB int) error
	LatestDeploymentID(ctx context.Context, serviceID, environmentID string) (string, error)
	PreviousSuccessfulDeploymentID(ctx context.Context, projectID, environmentID, serviceID string) (string, error)
	DeploymentStatus(ctx context.Context, deploymentID string) (string, error)
}

// Incidents is the incident store surface the coordinator needs.
type Incidents interface {
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	UpdateStatus(ctx context.Context, id string, to models.IncidentStatus) (*models.Incident, error)
}

// Actions is the action store surface the coordinator needs.
type Actions interface {
	Create(ctx context.Context, a *models.RemediationAction) error
	MarkInProgress(ctx context.Context, id, correlationID string) error
	Complete(ctx context.Context, id string, status models.ActionStatus, resultMessage, failureReason string) error
	StaleInProgress(ctx context.Context, cutoff time.Time) ([]models.RemediationAction, error)
}

// Policies gates automated remediation per service.
type Policies interface {
	GetOrCreate(ctx context.Context, serviceID, serviceName string) (*models.ServicePolicy, error)
}

// Replier posts progress updates into the incident's alert thread.
type Replier interface {
	PostThreadReply(ctx context.Context, threadTS, text string) error
}

// Coordinator consumes remediation:actions and executes each request.
type Coordinator struct {
	platform  PlatformAPI
	incidents Incidents
	actions   Actions
	policies  Policies
	replier   Replier
	bus       broker.Broker
	metrics   *telemetry.Collector
	projectID string
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a coordinator. projectID scopes rollback target lookups;
// replier and metrics may be nil.
func New(p PlatformAPI, incidents Incidents, actions Actions, policies Policies, replier Replier, bus broker.Broker, metrics *telemetry.Collector, projectID string) *Coordinator {
	return &Coordinator{
		platform:  p,
		incidents: incidents,
		actions:   actions,
		policies:  policies,
		replier:   replier,
		bus:       bus,
		metrics:   metrics,
		projectID: projectID,
		logger:    slog.Default().With("component", "remediation"),
	}
}

// Run consumes auto-fix requests until ctx is done, sweeping stale
// in-progress actions periodically.
func (c *Coordinator) Run(ctx context.Context) {
	sub := c.bus.Subscribe(broker.TopicRemediation, 64)
	defer c.bus.Unsubscribe(sub)
	incidents := c.bus.Subscribe(broker.TopicIncidentsNew, 64)
	defer c.bus.Unsubscribe(incidents)
	defer c.wg.Wait()

	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()

	c.ReevaluateStale(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ReevaluateStale(ctx)
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			req, ok := msg.Payload.(broker.AutoFixRequested)
			if !ok {
				continue
			}
			c.spawn(ctx, req)
		case msg, ok := <-incidents.C:
			if !ok {
				return
			}
			detected, ok := msg.Payload.(broker.IncidentDetected)
			if !ok || detected.Incident == nil {
				continue
			}
			c.maybeAutoTrigger(ctx, detected.Incident)
		}
	}
}

func (c *Coordinator) spawn(ctx context.Context, req broker.AutoFixRequested) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Execute(ctx, req)
	}()
}

// maybeAutoTrigger fires an automated remediation when the service policy
// allows it. Execute re-checks the gate against fresh state.
func (c *Coordinator) maybeAutoTrigger(ctx context.Context, inc *models.Incident) {
	if inc.Status.IsTerminal() || !inc.RecommendedAction.HasSideEffects() {
		return
	}
	policy, err := c.policies.GetOrCreate(ctx, inc.ServiceID, inc.ServiceName)
	if err != nil {
		c.logger.Warn("Cannot load policy for auto trigger", "service_id", inc.ServiceID, "error", err)
		return
	}
	if !policy.AutoRemediationEnabled || inc.Confidence < policy.ConfidenceThreshold {
		return
	}
	c.spawn(ctx, broker.AutoFixRequested{
		IncidentID: inc.ID,
		ActionType: inc.RecommendedAction,
		Initiator:  models.InitiatorAutomated,
	})
}

// Execute runs one remediation request end to end.
func (c *Coordinator) Execute(ctx context.Context, req broker.AutoFixRequested) {
	inc, err := c.incidents.GetByID(ctx, req.IncidentID)
	if err != nil {
		c.logger.Error("Cannot load incident for remediation", "incident_id", req.IncidentID, "error", err)
		return
	}
	threadTS := threadTS(inc)

	if inc.Status.IsTerminal() {
		c.reply(ctx, threadTS, "This incident is already resolved.")
		return
	}

	actionType := req.ActionType
	if actionType == "" || actionType == models.ActionTypeNone {
		actionType = inc.RecommendedAction
	}

	policy, err := c.policies.GetOrCreate(ctx, inc.ServiceID, inc.ServiceName)
	if err != nil {
		c.logger.Error("Cannot load service policy", "service_id", inc.ServiceID, "error", err)
		return
	}
	if req.Initiator == models.InitiatorAutomated {
		if !policy.AutoRemediationEnabled {
			c.logger.Info("Automated remediation disabled by policy", "service_id", inc.ServiceID)
			return
		}
		if inc.Confidence < policy.ConfidenceThreshold {
			c.logger.Info("Confidence below policy threshold",
				"incident_id", inc.ID, "confidence", inc.Confidence,
				"threshold", policy.ConfidenceThreshold)
			return
		}
	}

	params := models.JSONMap{}
	for k, v := range req.Parameters {
		params[k] = v
	}
	if deployID := c.resolveDeployment(ctx, inc, actionType); deployID != "" {
		params[paramDeploymentID] = deployID
	}

	action := &models.RemediationAction{
		IncidentID:    inc.ID,
		InitiatorType: req.Initiator,
		InitiatorRef:  req.InitiatorRef,
		ActionType:    actionType,
		Parameters:    params,
		Status:        models.ActionStatusPending,
	}
	if err := c.actions.Create(ctx, action); err != nil {
		if errors.Is(err, store.ErrConcurrentActionInProgress) {
			c.reply(ctx, threadTS, "Another remediation is already in progress for this incident.")
			return
		}
		c.logger.Error("Cannot create remediation action", "incident_id", inc.ID, "error", err)
		return
	}

	correlationID := platform.NewCorrelationID()
	if err := c.actions.MarkInProgress(ctx, action.ID, correlationID); err != nil {
		c.logger.Error("Cannot mark action in progress", "action_id", action.ID, "error", err)
		return
	}
	if _, err := c.incidents.UpdateStatus(ctx, inc.ID, models.IncidentStatusAwaitingAction); err != nil {
		var invalid *store.InvalidTransitionError
		if !errors.As(err, &invalid) {
			c.logger.Error("Cannot transition incident", "incident_id", inc.ID, "error", err)
		}
	}

	start := time.Now()
	resultMsg, err := c.dispatch(ctx, inc, policy, actionType, params)
	if err != nil {
		c.finishFailed(ctx, inc, action, threadTS, err)
		return
	}
	c.finishSucceeded(ctx, inc, action, threadTS, actionType, resultMsg, time.Since(start))
}

// resolveDeployment pins the target deployment before dispatch so a stale
// action can later be re-evaluated against the real platform state.
func (c *Coordinator) resolveDeployment(ctx context.Context, inc *models.Incident, actionType models.ActionType) string {
	switch actionType {
	case models.ActionTypeRestart, models.ActionTypeStop:
		id, err := c.platform.LatestDeploymentID(ctx, inc.ServiceID, inc.EnvironmentID)
		if err != nil {
			return ""
		}
		return id
	case models.ActionTypeRollback:
		id, err := c.platform.PreviousSuccessfulDeploymentID(ctx, c.projectID, inc.EnvironmentID, inc.ServiceID)
		if err != nil {
			return ""
		}
		return id
	default:
		return ""
	}
}

// dispatch issues the platform RPC for one action type.
func (c *Coordinator) dispatch(ctx context.Context, inc *models.Incident, policy *models.ServicePolicy, actionType models.ActionType, params models.JSONMap) (string, error) {
	deployID, _ := params[paramDeploymentID].(string)

	switch actionType {
	case models.ActionTypeRestart:
		if deployID == "" {
			// No deployment to restart; redeploy brings the service up.
			if err := c.platform.RedeployService(ctx, inc.EnvironmentID, inc.ServiceID); err != nil {
				return "", err
			}
			return "service redeployed", nil
		}
		if err := c.platform.RestartDeployment(ctx, deployID); err != nil {
			return "", err
		}
		return "deployment restarted", nil

	case models.ActionTypeRedeploy:
		if err := c.platform.RedeployService(ctx, inc.EnvironmentID, inc.ServiceID); err != nil {
			return "", err
		}
		return "service redeployed", nil

	case models.ActionTypeScaleMemory:
		memoryMB := intParam(params, paramMemoryMB)
		if memoryMB <= 0 && policy.DefaultMemoryMB != nil {
			memoryMB = *policy.DefaultMemoryMB
		}
		if memoryMB <= 0 {
			return "", fmt.Errorf("scale_memory requires a memory_mb parameter or a policy default")
		}
		if err := c.platform.UpdateServiceLimits(ctx, inc.EnvironmentID, inc.ServiceID, memoryMB); err != nil {
			return "", err
		}
		return fmt.Sprintf("memory limit set to %d MB", memoryMB), nil

	case models.ActionTypeScaleReplicas:
		replicas := intParam(params, paramReplicas)
		if replicas <= 0 && policy.DefaultReplicas != nil {
			replicas = *policy.DefaultReplicas
		}
		if replicas <= 0 {
			return "", fmt.Errorf("scale_replicas requires a replicas parameter or a policy default")
		}
		if err := c.platform.UpdateServiceInstance(ctx, inc.EnvironmentID, inc.ServiceID, replicas); err != nil {
			return "", err
		}
		return fmt.Sprintf("scaled to %d replicas", replicas), nil

	case models.ActionTypeRollback:
		if deployID == "" {
			var err error
			deployID, err = c.platform.PreviousSuccessfulDeploymentID(ctx, c.projectID, inc.EnvironmentID, inc.ServiceID)
			if err != nil {
				return "", err
			}
		}
		if err := c.platform.RollbackDeployment(ctx, deployID); err != nil {
			return "", err
		}
		return "rolled back to previous successful deployment", nil

	case models.ActionTypeStop:
		if deployID == "" {
			var err error
			deployID, err = c.platform.LatestDeploymentID(ctx, inc.ServiceID, inc.EnvironmentID)
			if err != nil {
				return "", err
			}
		}
		if err := c.platform.StopDeployment(ctx, deployID); err != nil {
			return "", err
		}
		return "deployment stopped", nil

	case models.ActionTypeDiagnostic, models.ActionTypeManualFix, models.ActionTypeNone:
		return "no action", nil

	default:
		return "", fmt.Errorf("unsupported action type %q", actionType)
	}
}

func (c *Coordinator) finishSucceeded(ctx context.Context, inc *models.Incident, action *models.RemediationAction, threadTS string, actionType models.ActionType, resultMsg string, latency time.Duration) {
	if err := c.actions.Complete(ctx, action.ID, models.ActionStatusSucceeded, resultMsg, ""); err != nil {
		c.logger.Error("Cannot complete action", "action_id", action.ID, "error", err)
	}
	if _, err := c.incidents.UpdateStatus(ctx, inc.ID, models.IncidentStatusAutoRemediated); err != nil {
		c.logger.Error("Cannot resolve incident", "incident_id", inc.ID, "error", err)
	}
	if c.metrics != nil {
		c.metrics.RemediationOutcome(string(models.ActionStatusSucceeded))
		c.metrics.IncidentResolved(time.Since(inc.DetectedAt))
	}
	c.logger.Info("Remediation succeeded",
		"incident_id", inc.ID, "action_type", actionType, "latency", latency)
	c.reply(ctx, threadTS, fmt.Sprintf("✅ Remediation `%s` succeeded: %s", actionType, resultMsg))
}

func (c *Coordinator) finishFailed(ctx context.Context, inc *models.Incident, action *models.RemediationAction, threadTS string, cause error) {
	if err := c.actions.Complete(ctx, action.ID, models.ActionStatusFailed, "", cause.Error()); err != nil {
		c.logger.Error("Cannot complete action", "action_id", action.ID, "error", err)
	}
	if _, err := c.incidents.UpdateStatus(ctx, inc.ID, models.IncidentStatusFailed); err != nil {
		c.logger.Error("Cannot fail incident", "incident_id", inc.ID, "error", err)
	}
	if c.metrics != nil {
		c.metrics.RemediationOutcome(string(models.ActionStatusFailed))
		c.metrics.Error("remediation", "dispatch")
	}
	c.logger.Error("Remediation failed",
		"incident_id", inc.ID, "action_id", action.ID, "error", cause)
	c.reply(ctx, threadTS, fmt.Sprintf("❌ Remediation `%s` failed: %s", action.ActionType, cause))
}

// ReevaluateStale resolves in-progress actions older than the threshold
// against the platform's real deployment state instead of re-running them.
func (c *Coordinator) ReevaluateStale(ctx context.Context) {
	stale, err := c.actions.StaleInProgress(ctx, time.Now().Add(-staleActionAge))
	if err != nil {
		c.logger.Error("Cannot list stale actions", "error", err)
		return
	}
	for _, action := range stale {
		c.reevaluateOne(ctx, action)
	}
}

func (c *Coordinator) reevaluateOne(ctx context.Context, action models.RemediationAction) {
	deployID, _ := action.Parameters[paramDeploymentID].(string)
	if deployID == "" {
		if err := c.actions.Complete(ctx, action.ID, models.ActionStatusFailed, "",
			"stale action with no recorded deployment"); err != nil {
			c.logger.Error("Cannot fail stale action", "action_id", action.ID, "error", err)
		}
		c.transition(ctx, action.IncidentID, models.IncidentStatusFailed)
		return
	}

	status, err := c.platform.DeploymentStatus(ctx, deployID)
	if err != nil {
		c.logger.Warn("Cannot query deployment status for stale action",
			"action_id", action.ID, "deployment_id", deployID, "error", err)
		return
	}

	switch status {
	case "SUCCESS":
		if err := c.actions.Complete(ctx, action.ID, models.ActionStatusSucceeded,
			"verified deployment success after restart", ""); err != nil {
			c.logger.Error("Cannot complete stale action", "action_id", action.ID, "error", err)
		}
		c.transition(ctx, action.IncidentID, models.IncidentStatusAutoRemediated)
	case "FAILED", "CRASHED", "REMOVED":
		if err := c.actions.Complete(ctx, action.ID, models.ActionStatusFailed, "",
			"deployment ended in "+status); err != nil {
			c.logger.Error("Cannot fail stale action", "action_id", action.ID, "error", err)
		}
		c.transition(ctx, action.IncidentID, models.IncidentStatusFailed)
	default:
		// Still deploying; the next sweep decides.
	}
}

func (c *Coordinator) transition(ctx context.Context, incidentID string, to models.IncidentStatus) {
	if _, err := c.incidents.UpdateStatus(ctx, incidentID, to); err != nil {
		var invalid *store.InvalidTransitionError
		if !errors.As(err, &invalid) {
			c.logger.Error("Cannot transition incident", "incident_id", incidentID, "error", err)
		}
	}
}

func (c *Coordinator) reply(ctx context.Context, threadTS, text string) {
	if c.replier == nil || threadTS == "" {
		return
	}
	if err := c.replier.PostThreadReply(ctx, threadTS, text); err != nil {
		c.logger.Warn("Cannot post remediation update", "error", err)
	}
}

func threadTS(inc *models.Incident) string {
	if inc.Metadata == nil {
		return ""
	}
	ts, _ := inc.Metadata["thread_ts"].(string)
	return ts
}

func intParam(params models.JSONMap, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
