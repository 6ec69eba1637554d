package store

import (
	"context"
	"fmt"
	"time"

	"github.com/railwatch/railwatch/pkg/database"
	"github.com/railwatch/railwatch/pkg/models"
)

// LogEventStore persists raw log events for the diagnostics buffer.
type LogEventStore struct {
	db *database.Client
}

// NewLogEventStore creates a log event store.
func NewLogEventStore(db *database.Client) *LogEventStore {
	return &LogEventStore{db: db}
}

// InsertLogEvent appends one event to the buffer.
func (s *LogEventStore) InsertLogEvent(ctx context.Context, ev models.LogEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_events (service_id, environment_id, service_name,
			timestamp, level, message, severity_score, raw_metadata, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ServiceID, ev.EnvironmentID, ev.ServiceName,
		ev.Timestamp, ev.Level, ev.Message, ev.SeverityScore, ev.RawMetadata, ev.Source)
	if err != nil {
		return fmt.Errorf("insert log event: %w", err)
	}
	return nil
}

// RecentByService returns a service's newest events first.
func (s *LogEventStore) RecentByService(ctx context.Context, serviceID string, limit int) ([]models.LogEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.LogEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT service_id, environment_id, service_name, timestamp, level,
			message, severity_score, raw_metadata, source
		 FROM log_events
		 WHERE service_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list log events: %w", err)
	}
	return events, nil
}

// DeleteOlderThan trims the buffer past its retention horizon.
func (s *LogEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM log_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old log events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
