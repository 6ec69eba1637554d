package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/railwatch/railwatch/pkg/database"
	"github.com/railwatch/railwatch/pkg/models"
)

// IncidentStore persists incidents with deduplication by
// (service_id, fingerprint).
type IncidentStore struct {
	db     *database.Client
	logger *slog.Logger
}

// NewIncidentStore creates an incident store.
func NewIncidentStore(db *database.Client) *IncidentStore {
	return &IncidentStore{
		db:     db,
		logger: slog.Default().With("component", "incident-store"),
	}
}

const incidentColumns = `id, service_id, service_name, environment_id, fingerprint,
severity, status, confidence, root_cause, recommended_action, reasoning,
log_context, detected_at, resolved_at, metadata`

// Upsert applies the dedup contract for a candidate:
//   - no row: insert with status detected
//   - row in detected/awaiting_action/failed: refresh mutable fields,
//     failed flips back to detected on the new signal
//   - row in a terminal state: skipped, no mutation
//
// Races between concurrent writers are resolved by the unique constraint
// plus one retry that lands on the update path.
func (s *IncidentStore) Upsert(ctx context.Context, cand models.IncidentCandidate) (*models.Incident, models.UpsertOutcome, error) {
	for attempt := 0; attempt < 2; attempt++ {
		inc, outcome, err := s.upsertOnce(ctx, cand)
		if errors.Is(err, ErrDuplicateFingerprint) {
			continue
		}
		return inc, outcome, err
	}
	return nil, "", fmt.Errorf("upsert incident: %w", ErrDuplicateFingerprint)
}

func (s *IncidentStore) upsertOnce(ctx context.Context, cand models.IncidentCandidate) (*models.Incident, models.UpsertOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing models.Incident
	err = tx.GetContext(ctx, &existing,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE service_id = $1 AND fingerprint = $2 FOR UPDATE`,
		cand.ServiceID, cand.Fingerprint)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		inc, err := s.insert(ctx, tx, cand)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, "", ErrDuplicateFingerprint
			}
			return nil, "", err
		}
		if err := tx.Commit(); err != nil {
			return nil, "", fmt.Errorf("commit insert: %w", err)
		}
		return inc, models.UpsertCreated, nil

	case err != nil:
		return nil, "", fmt.Errorf("read incident for upsert: %w", err)
	}

	if existing.Status.IsTerminal() {
		return &existing, models.UpsertSkipped, nil
	}

	status := existing.Status
	if status == models.IncidentStatusFailed {
		status = models.IncidentStatusDetected
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE incidents SET
			severity = $1, confidence = $2, root_cause = $3,
			recommended_action = $4, reasoning = $5, log_context = $6,
			metadata = $7, status = $8
		 WHERE id = $9`,
		cand.Severity, cand.Confidence, cand.RootCause,
		cand.RecommendedAction, cand.Reasoning, cand.LogContext,
		existing.Metadata, status, existing.ID)
	if err != nil {
		return nil, "", fmt.Errorf("update incident: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit update: %w", err)
	}

	existing.Severity = cand.Severity
	existing.Confidence = cand.Confidence
	existing.RootCause = cand.RootCause
	existing.RecommendedAction = cand.RecommendedAction
	existing.Reasoning = cand.Reasoning
	existing.LogContext = cand.LogContext
	existing.Status = status
	return &existing, models.UpsertUpdated, nil
}

func (s *IncidentStore) insert(ctx context.Context, tx *sqlx.Tx, cand models.IncidentCandidate) (*models.Incident, error) {
	inc := &models.Incident{
		ID:                uuid.New().String(),
		ServiceID:         cand.ServiceID,
		ServiceName:       cand.ServiceName,
		EnvironmentID:     cand.EnvironmentID,
		Fingerprint:       cand.Fingerprint,
		Severity:          cand.Severity,
		Status:            models.IncidentStatusDetected,
		Confidence:        cand.Confidence,
		RootCause:         cand.RootCause,
		RecommendedAction: cand.RecommendedAction,
		Reasoning:         cand.Reasoning,
		LogContext:        cand.LogContext,
		DetectedAt:        time.Now().UTC(),
		Metadata:          models.JSONMap{},
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO incidents (`+incidentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		inc.ID, inc.ServiceID, inc.ServiceName, inc.EnvironmentID, inc.Fingerprint,
		inc.Severity, inc.Status, inc.Confidence, inc.RootCause, inc.RecommendedAction,
		inc.Reasoning, inc.LogContext, inc.DetectedAt, nil, inc.Metadata)
	if err != nil {
		return nil, err
	}
	return inc, nil
}

// GetByID loads one incident.
func (s *IncidentStore) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	var inc models.Incident
	err := s.db.GetContext(ctx, &inc,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return &inc, nil
}

// SetThreadTS records the alert thread timestamp in incident metadata.
func (s *IncidentStore) SetThreadTS(ctx context.Context, id, threadTS string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET metadata = metadata || jsonb_build_object('thread_ts', $1::text)
		 WHERE id = $2`, threadTS, id)
	if err != nil {
		return fmt.Errorf("set thread ts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// allowedTransitions is the caller-driven status machine. manual_resolved
// is reachable from any non-terminal state.
var allowedTransitions = map[models.IncidentStatus][]models.IncidentStatus{
	models.IncidentStatusDetected: {
		models.IncidentStatusAwaitingAction,
		models.IncidentStatusIgnored,
		models.IncidentStatusManualResolved,
	},
	models.IncidentStatusAwaitingAction: {
		models.IncidentStatusAutoRemediated,
		models.IncidentStatusFailed,
		models.IncidentStatusManualResolved,
	},
	models.IncidentStatusFailed: {
		models.IncidentStatusDetected,
		models.IncidentStatusAwaitingAction,
		models.IncidentStatusManualResolved,
	},
}

func transitionAllowed(from, to models.IncidentStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}

// UpdateStatus transitions an incident, enforcing the status machine.
// Entering a terminal status stamps resolved_at.
func (s *IncidentStore) UpdateStatus(ctx context.Context, id string, to models.IncidentStatus) (*models.Incident, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inc models.Incident
	err = tx.GetContext(ctx, &inc,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read incident for transition: %w", err)
	}

	if !transitionAllowed(inc.Status, to) {
		return nil, &InvalidTransitionError{From: inc.Status, To: to}
	}

	var resolvedAt *time.Time
	if to == models.IncidentStatusAutoRemediated || to == models.IncidentStatusManualResolved ||
		to == models.IncidentStatusIgnored {
		now := time.Now().UTC()
		resolvedAt = &now
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE incidents SET status = $1, resolved_at = COALESCE($2, resolved_at) WHERE id = $3`,
		to, resolvedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	inc.Status = to
	if resolvedAt != nil {
		inc.ResolvedAt = resolvedAt
	}
	s.logger.Info("Incident status changed", "incident_id", id, "status", to)
	return &inc, nil
}

// ListByStatus returns incidents in a status, newest first.
func (s *IncidentStore) ListByStatus(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	var incidents []models.Incident
	err := s.db.SelectContext(ctx, &incidents,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE status = $1 ORDER BY detected_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents by status: %w", err)
	}
	return incidents, nil
}

// ListRecent returns the most recently detected incidents.
func (s *IncidentStore) ListRecent(ctx context.Context, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	var incidents []models.Incident
	err := s.db.SelectContext(ctx, &incidents,
		`SELECT `+incidentColumns+` FROM incidents
		 ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent incidents: %w", err)
	}
	return incidents, nil
}

// DeleteOlderThan removes incidents detected before the cutoff. Actions
// cascade with their incident.
func (s *IncidentStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM incidents WHERE detected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old incidents: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
