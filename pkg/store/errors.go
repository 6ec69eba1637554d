// Package store implements the persistence layer over PostgreSQL:
// deduplicating incident upserts, remediation action records, service
// policies, conversation sessions, and raw log events.
package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/railwatch/railwatch/pkg/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateFingerprint is returned when an insert races another
	// writer on the same (service_id, fingerprint).
	ErrDuplicateFingerprint = errors.New("store: duplicate fingerprint")

	// ErrConcurrentActionInProgress is returned when an incident already
	// has a pending or in_progress remediation action.
	ErrConcurrentActionInProgress = errors.New("store: another action is already in progress for this incident")
)

// InvalidTransitionError reports a disallowed incident status change.
type InvalidTransitionError struct {
	From models.IncidentStatus
	To   models.IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("store: invalid status transition %s -> %s", e.From, e.To)
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
