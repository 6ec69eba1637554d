package ingest

import (
	"time"
	"unicode/utf8"

	"github.com/railwatch/railwatch/pkg/models"
)

// normalizeEntry converts a raw stream entry into a LogEvent. Timestamps
// are parsed as ISO-8601 and converted to UTC, falling back to now;
// levels are lowercased and clamped to the enum; messages are bounded.
func normalizeEntry(entry logEntry, target models.MonitoringTarget, serviceName string) models.LogEvent {
	ts := time.Now().UTC()
	if entry.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err == nil {
			ts = parsed.UTC()
		} else if parsed, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	level := models.ClampLogLevel(entry.Severity)

	msg := entry.Message
	if len(msg) > models.MaxLogMessageLength {
		cut := models.MaxLogMessageLength
		// Back off to a rune boundary so the cut never splits a character.
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}

	meta := models.JSONMap{}
	for k, v := range entry.Tags {
		meta[k] = v
	}
	for k, v := range entry.Attrs {
		meta[k] = v
	}

	serviceID := target.ServiceID
	if serviceID == "" {
		// Env-wide subscriptions carry the service in the tags.
		if sid, ok := entry.Tags["serviceId"].(string); ok {
			serviceID = sid
		}
	}
	if name, ok := entry.Tags["serviceName"].(string); ok && name != "" {
		serviceName = name
	}

	return models.LogEvent{
		ServiceID:     serviceID,
		EnvironmentID: target.EnvironmentID,
		ServiceName:   serviceName,
		Timestamp:     ts,
		Level:         level,
		Message:       msg,
		SeverityScore: level.Score(),
		RawMetadata:   meta,
		Source:        "stream",
	}
}
