// Package retention deletes aged rows on a daily jittered schedule.
package retention

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

const sweepInterval = 24 * time.Hour

// Deleter removes rows whose anchor timestamp is older than the cutoff.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker runs the retention sweeps. Incident deletes cascade to their
// remediation actions, session deletes cascade to their messages.
type Worker struct {
	incidents     Deleter
	sessions      Deleter
	logEvents     Deleter
	retentionDays int
	bufferHours   int
	logger        *slog.Logger
}

// New creates a retention worker. logEvents may be nil when the raw
// buffer is not persisted.
func New(incidents, sessions, logEvents Deleter, retentionDays, bufferHours int) *Worker {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if bufferHours <= 0 {
		bufferHours = 24
	}
	return &Worker{
		incidents:     incidents,
		sessions:      sessions,
		logEvents:     logEvents,
		retentionDays: retentionDays,
		bufferHours:   bufferHours,
		logger:        slog.Default().With("component", "retention"),
	}
}

// Run sweeps once per 24h with up to one hour of jitter so replicas do
// not delete in lockstep. Sweep failures are logged and swallowed; the
// next tick retries.
func (w *Worker) Run(ctx context.Context) {
	for {
		delay := sweepInterval + time.Duration(rand.Int64N(int64(time.Hour)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one deletion pass.
func (w *Worker) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -w.retentionDays)

	w.delete(ctx, "incidents", w.incidents, cutoff)
	w.delete(ctx, "sessions", w.sessions, cutoff)
	w.delete(ctx, "log_events", w.logEvents, now.Add(-time.Duration(w.bufferHours)*time.Hour))
}

func (w *Worker) delete(ctx context.Context, kind string, d Deleter, cutoff time.Time) {
	if d == nil {
		return
	}
	n, err := d.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Error("Retention sweep failed", "kind", kind, "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("Retention sweep deleted rows", "kind", kind, "rows", n, "cutoff", cutoff)
	}
}
