package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railwatch/railwatch/pkg/database"
	"github.com/railwatch/railwatch/pkg/models"
)

func newMockDB(t *testing.T) (*database.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return database.NewClientFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

var incidentRowColumns = []string{
	"id", "service_id", "service_name", "environment_id", "fingerprint",
	"severity", "status", "confidence", "root_cause", "recommended_action",
	"reasoning", "log_context", "detected_at", "resolved_at", "metadata",
}

func incidentRow(id string, status models.IncidentStatus) *sqlmock.Rows {
	return sqlmock.NewRows(incidentRowColumns).AddRow(
		id, "svc-1", "api", "env-1", "fp-1",
		"high", string(status), 0.8, "cause", "restart",
		"reasoning", []byte(`{}`), time.Now().UTC(), nil, []byte(`{}`),
	)
}

func testCandidate() models.IncidentCandidate {
	return models.IncidentCandidate{
		ServiceID:         "svc-1",
		ServiceName:       "api",
		EnvironmentID:     "env-1",
		Fingerprint:       "fp-1",
		Severity:          models.SeverityHigh,
		Confidence:        0.9,
		RootCause:         "cause",
		RecommendedAction: models.ActionTypeRestart,
		Reasoning:         "pattern match",
	}
}

func TestUpsertInsertsWhenNoRow(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM incidents\s+WHERE service_id = \$1 AND fingerprint = \$2 FOR UPDATE`).
		WithArgs("svc-1", "fp-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO incidents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inc, outcome, err := s.Upsert(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, models.UpsertCreated, outcome)
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, models.IncidentStatusDetected, inc.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRefreshesOpenIncident(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents`).
		WillReturnRows(incidentRow("inc-1", models.IncidentStatusDetected))
	mock.ExpectExec(`UPDATE incidents SET`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "detected", "inc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inc, outcome, err := s.Upsert(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, models.UpsertUpdated, outcome)
	assert.Equal(t, "inc-1", inc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFailedIncidentReopensAsDetected(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents`).
		WillReturnRows(incidentRow("inc-1", models.IncidentStatusFailed))
	mock.ExpectExec(`UPDATE incidents SET`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "detected", "inc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inc, outcome, err := s.Upsert(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, models.UpsertUpdated, outcome)
	assert.Equal(t, models.IncidentStatusDetected, inc.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSkipsTerminalIncident(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents`).
		WillReturnRows(incidentRow("inc-1", models.IncidentStatusAutoRemediated))
	mock.ExpectRollback()

	inc, outcome, err := s.Upsert(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, models.UpsertSkipped, outcome)
	assert.Equal(t, models.IncidentStatusAutoRemediated, inc.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRetriesOnceOnInsertRace(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	// First attempt: the concurrent writer wins the insert race.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents`).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO incidents`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	// Retry lands on the update path.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents`).
		WillReturnRows(incidentRow("inc-1", models.IncidentStatusDetected))
	mock.ExpectExec(`UPDATE incidents SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, outcome, err := s.Upsert(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, models.UpsertUpdated, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectQuery(`FROM incidents WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(incidentRow("inc-1", models.IncidentStatusDetected))
	mock.ExpectRollback()

	_, err := s.UpdateStatus(context.Background(), "inc-1", models.IncidentStatusAutoRemediated)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.IncidentStatusDetected, invalid.From)
	assert.Equal(t, models.IncidentStatusAutoRemediated, invalid.To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusStampsResolvedAt(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(incidentRow("inc-1", models.IncidentStatusAwaitingAction))
	mock.ExpectExec(`UPDATE incidents SET status = \$1, resolved_at = COALESCE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inc, err := s.UpdateStatus(context.Background(), "inc-1", models.IncidentStatusAutoRemediated)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusAutoRemediated, inc.Status)
	require.NotNil(t, inc.ResolvedAt)
	assert.WithinDuration(t, time.Now().UTC(), *inc.ResolvedAt, time.Minute)
}

func TestUpdateStatusIgnoredStampsResolvedAt(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(incidentRow("inc-1", models.IncidentStatusDetected))
	mock.ExpectExec(`UPDATE incidents SET status = \$1, resolved_at = COALESCE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inc, err := s.UpdateStatus(context.Background(), "inc-1", models.IncidentStatusIgnored)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusIgnored, inc.Status)
	require.NotNil(t, inc.ResolvedAt, "ignored is terminal and must close the incident")
	assert.WithinDuration(t, time.Now().UTC(), *inc.ResolvedAt, time.Minute)
}

func TestUpdateStatusTerminalIsDeadEnd(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM incidents WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(incidentRow("inc-1", models.IncidentStatusManualResolved))
	mock.ExpectRollback()

	_, err := s.UpdateStatus(context.Background(), "inc-1", models.IncidentStatusDetected)
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestSetThreadTSMissingIncident(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	mock.ExpectExec(`UPDATE incidents SET metadata = metadata`).
		WithArgs("123.456", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.SetThreadTS(context.Background(), "missing", "123.456"), ErrNotFound)
}

func TestDeleteOlderThanReportsCount(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewIncidentStore(db)

	cutoff := time.Now().AddDate(0, 0, -90)
	mock.ExpectExec(`DELETE FROM incidents WHERE detected_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from    models.IncidentStatus
		to      models.IncidentStatus
		allowed bool
	}{
		{models.IncidentStatusDetected, models.IncidentStatusAwaitingAction, true},
		{models.IncidentStatusDetected, models.IncidentStatusIgnored, true},
		{models.IncidentStatusDetected, models.IncidentStatusManualResolved, true},
		{models.IncidentStatusDetected, models.IncidentStatusAutoRemediated, false},
		{models.IncidentStatusAwaitingAction, models.IncidentStatusAutoRemediated, true},
		{models.IncidentStatusAwaitingAction, models.IncidentStatusFailed, true},
		{models.IncidentStatusAwaitingAction, models.IncidentStatusIgnored, false},
		{models.IncidentStatusFailed, models.IncidentStatusDetected, true},
		{models.IncidentStatusFailed, models.IncidentStatusAwaitingAction, true},
		{models.IncidentStatusAutoRemediated, models.IncidentStatusDetected, false},
		{models.IncidentStatusIgnored, models.IncidentStatusManualResolved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, transitionAllowed(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
