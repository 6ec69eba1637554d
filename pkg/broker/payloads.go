package broker

import "github.com/railwatch/railwatch/pkg/models"

// IncidentDetected is published on incidents:new and dashboard:incidents
// when the store reports a created or updated incident.
type IncidentDetected struct {
	Incident *models.Incident     `json:"incident"`
	Outcome  models.UpsertOutcome `json:"outcome"`
}

// AutoFixRequested is published on remediation:actions when a user confirms
// an auto-fix or a policy gate fires.
type AutoFixRequested struct {
	IncidentID   string               `json:"incident_id"`
	ActionType   models.ActionType    `json:"action_type"`
	Initiator    models.InitiatorType `json:"initiator"`
	InitiatorRef string               `json:"initiator_ref,omitempty"`
	Parameters   models.JSONMap       `json:"parameters,omitempty"`
}

// StartChat is published on conversations:events when a user opens a
// chat thread from an alert.
type StartChat struct {
	IncidentID string `json:"incident_id"`
	ChannelID  string `json:"channel_id"`
	UserID     string `json:"user_id"`
	ThreadTS   string `json:"thread_ts"`
}

// PolicyUpdated invalidates read-mostly policy caches.
type PolicyUpdated struct {
	ServiceID string `json:"service_id"`
}

// ConnectionStatus is published on railway:connections:<project> when a
// subscription changes state.
type ConnectionStatus struct {
	Target models.MonitoringTarget   `json:"target"`
	Status models.SubscriptionStatus `json:"status"`
	Error  string                    `json:"error,omitempty"`
}
