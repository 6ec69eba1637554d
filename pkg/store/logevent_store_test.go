package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railwatch/railwatch/pkg/models"
)

func TestInsertLogEvent(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewLogEventStore(db)

	mock.ExpectExec(`INSERT INTO log_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertLogEvent(context.Background(), models.LogEvent{
		ServiceID: "svc-1",
		Timestamp: time.Now().UTC(),
		Level:     models.LogLevelError,
		Message:   "boom",
	})
	assert.NoError(t, err)
}

func TestRecentByService(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewLogEventStore(db)

	rows := sqlmock.NewRows([]string{
		"service_id", "environment_id", "service_name", "timestamp", "level",
		"message", "severity_score", "raw_metadata", "source",
	}).AddRow("svc-1", "env-1", "api", time.Now().UTC(), "error", "boom", 4, []byte(`{}`), "stream")

	mock.ExpectQuery(`FROM log_events\s+WHERE service_id = \$1`).
		WithArgs("svc-1", 100).
		WillReturnRows(rows)

	events, err := s.RecentByService(context.Background(), "svc-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "boom", events[0].Message)
}

func TestLogEventsDeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewLogEventStore(db)

	mock.ExpectExec(`DELETE FROM log_events WHERE timestamp < \$1`).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.DeleteOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
