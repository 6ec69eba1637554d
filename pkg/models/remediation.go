package models

import "time"

// RemediationAction is one bounded side-effecting operation against the
// hosting platform, linked to an incident. At most one pending or
// in_progress action may exist per incident at any instant.
type RemediationAction struct {
	ID            string        `db:"id" json:"id"`
	IncidentID    string        `db:"incident_id" json:"incident_id"`
	InitiatorType InitiatorType `db:"initiator_type" json:"initiator_type"`
	InitiatorRef  string        `db:"initiator_ref" json:"initiator_ref,omitempty"`
	ActionType    ActionType    `db:"action_type" json:"action_type"`
	Parameters    JSONMap       `db:"parameters" json:"parameters,omitempty"`
	CorrelationID string        `db:"correlation_id" json:"correlation_id,omitempty"`
	RequestedAt   time.Time     `db:"requested_at" json:"requested_at"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	Status        ActionStatus  `db:"status" json:"status"`
	ResultMessage string        `db:"result_message" json:"result_message,omitempty"`
	FailureReason string        `db:"failure_reason" json:"failure_reason,omitempty"`
}

// ServicePolicy controls per-service remediation behavior. One row per service.
type ServicePolicy struct {
	ServiceID              string      `db:"service_id" json:"service_id"`
	ServiceName            string      `db:"service_name" json:"service_name"`
	AutoRemediationEnabled bool        `db:"auto_remediation_enabled" json:"auto_remediation_enabled"`
	DefaultMemoryMB        *int        `db:"default_memory_mb" json:"default_memory_mb,omitempty"`
	DefaultReplicas        *int        `db:"default_replicas" json:"default_replicas,omitempty"`
	LLMProvider            LLMProvider `db:"llm_provider" json:"llm_provider"`
	ConfidenceThreshold    float64     `db:"confidence_threshold" json:"confidence_threshold"`
	CreatedAt              time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time   `db:"updated_at" json:"updated_at"`
}
