package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a map persisted as a JSONB column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(data, m)
}

// Incident is a deduplicated production failure detected from log streams.
// Unique per (service_id, fingerprint).
type Incident struct {
	ID                string         `db:"id" json:"id"`
	ServiceID         string         `db:"service_id" json:"service_id"`
	ServiceName       string         `db:"service_name" json:"service_name"`
	EnvironmentID     string         `db:"environment_id" json:"environment_id,omitempty"`
	Fingerprint       string         `db:"fingerprint" json:"fingerprint"`
	Severity          Severity       `db:"severity" json:"severity"`
	Status            IncidentStatus `db:"status" json:"status"`
	Confidence        float64        `db:"confidence" json:"confidence"`
	RootCause         string         `db:"root_cause" json:"root_cause,omitempty"`
	RecommendedAction ActionType     `db:"recommended_action" json:"recommended_action"`
	Reasoning         string         `db:"reasoning" json:"reasoning,omitempty"`
	LogContext        JSONMap        `db:"log_context" json:"log_context,omitempty"`
	DetectedAt        time.Time      `db:"detected_at" json:"detected_at"`
	ResolvedAt        *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	Metadata          JSONMap        `db:"metadata" json:"metadata,omitempty"`
}

// UpsertOutcome reports what an incident upsert did.
type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
	UpsertSkipped UpsertOutcome = "skipped"
)

// IncidentCandidate is the detector's classification output before persistence.
type IncidentCandidate struct {
	ServiceID         string
	ServiceName       string
	EnvironmentID     string
	Fingerprint       string
	Severity          Severity
	Confidence        float64
	RootCause         string
	RecommendedAction ActionType
	Reasoning         string
	LogContext        JSONMap
}
