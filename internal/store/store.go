// Package store persists jobs, sent-log rows and notification templates.
// Two interchangeable backends implement the same contract; nothing above
// this package branches on backend identity.
package store

import (
	"context"
	"fmt"
	"time"

	"massmail/internal/models"
)

// Store is the job state capability used by the orchestration core.
//
// ApplySendOutcome is the only contended write path: it must be a single
// conditional update per call (increment-if-still-below-total) so
// concurrent send workers never double-count or race executed_count past
// total_count. Percent-completed and elapsed time are derived inside the
// same statement, after the increment.
type Store interface {
	// Ping verifies connectivity and schema presence.
	Ping(ctx context.Context) error

	// CreateSchema creates the tables if missing and seeds the default
	// notification templates.
	CreateSchema(ctx context.Context) error

	InsertJob(ctx context.Context, job *models.Job) error

	// GetJob returns (nil, nil) when the job does not exist.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// ApplySendOutcome increments executed_count and exactly one of
	// sent_count / not_sent_count, recomputes percent and elapsed time,
	// and flips the status to Processing or, exactly when executed_count
	// first reaches total_count, to Completed with ended_at set. No-op
	// once the job is full or canceled, so retry-round outcomes never
	// push counters past total_count.
	ApplySendOutcome(ctx context.Context, jobID string, status models.SentStatus, at time.Time) error

	// SetRetryNumber records the current retry round. Monotonic: a lower
	// round number never overwrites a higher one.
	SetRetryNumber(ctx context.Context, jobID string, retryNumber int) error

	// MarkCanceled transitions to Canceled and writes off the remaining
	// recipients as canceled in the same statement. No-op on jobs already
	// in a terminal state.
	MarkCanceled(ctx context.Context, jobID string, at time.Time) error

	InsertSentLog(ctx context.Context, rec *models.SentLogRecord) error

	// TemplateByCode returns (nil, nil) when the template does not exist.
	TemplateByCode(ctx context.Context, code string) (*models.Template, error)

	// NotSentEnvelopes returns the envelopes of every Not-Sent sent-log
	// row for the job and round, oldest first. A non-empty codes list
	// restricts the result to those failure classification codes.
	NotSentEnvelopes(ctx context.Context, jobID string, retryNumber int, codes []string) ([]models.Envelope, error)

	// PurgeBefore deletes jobs started at or before the cutoff; sent-log
	// rows cascade. Returns the number of jobs removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// New builds the backend selected by driver: "postgres" or "sqlite3".
func New(ctx context.Context, driver, url string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, url)
	case "sqlite3":
		return NewSQLite(url)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
