package models

import "time"

// MaxLogMessageLength bounds a normalized log message.
const MaxLogMessageLength = 10000

// LogEvent is a normalized log entry received from a platform log stream.
type LogEvent struct {
	ServiceID     string    `db:"service_id" json:"service_id"`
	EnvironmentID string    `db:"environment_id" json:"environment_id,omitempty"`
	ServiceName   string    `db:"service_name" json:"service_name,omitempty"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"`
	Level         LogLevel  `db:"level" json:"level"`
	Message       string    `db:"message" json:"message"`
	SeverityScore int       `db:"severity_score" json:"severity_score"`
	RawMetadata   JSONMap   `db:"raw_metadata" json:"raw_metadata,omitempty"`
	Source        string    `db:"source" json:"source,omitempty"`
}

// MonitoringTarget identifies one log subscription. An empty ServiceID
// means "all services in the environment".
type MonitoringTarget struct {
	ProjectID     string `json:"project_id"`
	EnvironmentID string `json:"environment_id"`
	ServiceID     string `json:"service_id,omitempty"`
}

// Key returns the map key used by the subscription supervisor.
func (t MonitoringTarget) Key() string {
	return t.ProjectID + "/" + t.EnvironmentID + "/" + t.ServiceID
}

// ExpandTargets produces the cartesian expansion of projects × environments
// × services. With no services configured, one env-wide target per pair.
func ExpandTargets(projects, environments, services []string) []MonitoringTarget {
	var targets []MonitoringTarget
	for _, p := range projects {
		for _, e := range environments {
			if len(services) == 0 {
				targets = append(targets, MonitoringTarget{ProjectID: p, EnvironmentID: e})
				continue
			}
			for _, s := range services {
				targets = append(targets, MonitoringTarget{ProjectID: p, EnvironmentID: e, ServiceID: s})
			}
		}
	}
	return targets
}
