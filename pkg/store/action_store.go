package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/railwatch/railwatch/pkg/database"
	"github.com/railwatch/railwatch/pkg/models"
)

// ActionStore persists remediation actions. The partial unique index on
// (incident_id) WHERE status IN ('pending','in_progress') enforces at
// most one active action per incident.
type ActionStore struct {
	db     *database.Client
	logger *slog.Logger
}

const actionColumns = `id, incident_id, initiator_type, initiator_ref, action_type,
parameters, correlation_id, requested_at, completed_at, status,
result_message, failure_reason`

// NewActionStore creates an action store.
func NewActionStore(db *database.Client) *ActionStore {
	return &ActionStore{
		db:     db,
		logger: slog.Default().With("component", "action-store"),
	}
}

// Create inserts a pending action. A second active action for the same
// incident fails with ErrConcurrentActionInProgress.
func (s *ActionStore) Create(ctx context.Context, a *models.RemediationAction) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = models.ActionStatusPending
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = time.Now().UTC()
	}
	if a.Parameters == nil {
		a.Parameters = models.JSONMap{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remediation_actions (`+actionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.IncidentID, a.InitiatorType, a.InitiatorRef, a.ActionType,
		a.Parameters, a.CorrelationID, a.RequestedAt, a.CompletedAt, a.Status,
		a.ResultMessage, a.FailureReason)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConcurrentActionInProgress
		}
		return fmt.Errorf("create action: %w", err)
	}
	return nil
}

// MarkInProgress transitions a pending action to in_progress and records
// the platform correlation id.
func (s *ActionStore) MarkInProgress(ctx context.Context, id, correlationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE remediation_actions SET status = $1, correlation_id = $2
		 WHERE id = $3 AND status = $4`,
		models.ActionStatusInProgress, correlationID, id, models.ActionStatusPending)
	if err != nil {
		return fmt.Errorf("mark action in progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete finishes an action as succeeded or failed, stamping completed_at.
func (s *ActionStore) Complete(ctx context.Context, id string, status models.ActionStatus, resultMessage, failureReason string) error {
	if status != models.ActionStatusSucceeded && status != models.ActionStatusFailed {
		return fmt.Errorf("complete action: %q is not a terminal status", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE remediation_actions SET
			status = $1, result_message = $2, failure_reason = $3, completed_at = $4
		 WHERE id = $5 AND status IN ($6, $7)`,
		status, resultMessage, failureReason, time.Now().UTC(), id,
		models.ActionStatusPending, models.ActionStatusInProgress)
	if err != nil {
		return fmt.Errorf("complete action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID loads one action.
func (s *ActionStore) GetByID(ctx context.Context, id string) (*models.RemediationAction, error) {
	var a models.RemediationAction
	err := s.db.GetContext(ctx, &a,
		`SELECT `+actionColumns+` FROM remediation_actions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return &a, nil
}

// ActiveForIncident returns the incident's pending or in_progress action,
// or ErrNotFound when none exists.
func (s *ActionStore) ActiveForIncident(ctx context.Context, incidentID string) (*models.RemediationAction, error) {
	var a models.RemediationAction
	err := s.db.GetContext(ctx, &a,
		`SELECT `+actionColumns+` FROM remediation_actions
		 WHERE incident_id = $1 AND status IN ($2, $3)`,
		incidentID, models.ActionStatusPending, models.ActionStatusInProgress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active action: %w", err)
	}
	return &a, nil
}

// ListByIncident returns an incident's actions oldest first.
func (s *ActionStore) ListByIncident(ctx context.Context, incidentID string) ([]models.RemediationAction, error) {
	var actions []models.RemediationAction
	err := s.db.SelectContext(ctx, &actions,
		`SELECT `+actionColumns+` FROM remediation_actions
		 WHERE incident_id = $1 ORDER BY requested_at`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

// StaleInProgress returns in_progress actions requested before the cutoff.
// The coordinator re-evaluates them against the platform's deployment
// status instead of blindly re-running them.
func (s *ActionStore) StaleInProgress(ctx context.Context, cutoff time.Time) ([]models.RemediationAction, error) {
	var actions []models.RemediationAction
	err := s.db.SelectContext(ctx, &actions,
		`SELECT `+actionColumns+` FROM remediation_actions
		 WHERE status = $1 AND requested_at < $2 ORDER BY requested_at`,
		models.ActionStatusInProgress, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale actions: %w", err)
	}
	return actions, nil
}
