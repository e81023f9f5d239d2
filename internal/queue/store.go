// internal/queue/store.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notification-engine/internal/models"
)

var (
	// ErrNotClaimed is returned by the settle operations when the job is not
	// currently processing under the given worker. The store is left unchanged.
	ErrNotClaimed = errors.New("job is not claimed by this worker")

	// ErrStoreUnavailable wraps infrastructure failures of the backing store.
	ErrStoreUnavailable = errors.New("queue store unavailable")
)

// Store owns every NotificationJob state transition. Each mutating call
// appends its attempt record in the same atomic step as the transition.
type Store interface {
	// ClaimDueJobs moves up to limit due pending jobs to processing under
	// workerID and returns only the rows whose claim applied, oldest
	// scheduled_for first with created_at breaking ties.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int, workerID string) ([]*models.NotificationJob, error)

	// MarkSent transitions processing -> sent.
	MarkSent(ctx context.Context, jobID, workerID string, rec models.AttemptRecord) error

	// MarkRetry transitions processing -> pending with retry_count+1 and the
	// new scheduled_for, or to failed when retry_count+1 exceeds max_retries.
	// The resulting status is returned.
	MarkRetry(ctx context.Context, jobID, workerID string, rec models.AttemptRecord, next time.Time) (models.JobStatus, error)

	// MarkFailed transitions processing -> failed.
	MarkFailed(ctx context.Context, jobID, workerID string, rec models.AttemptRecord) error

	// MarkDeferred transitions processing -> pending at next without
	// touching retry_count. Used when no provider call was made.
	MarkDeferred(ctx context.Context, jobID, workerID string, rec models.AttemptRecord, next time.Time) error

	// ReclaimStale returns processing jobs claimed before now-olderThan to
	// pending with a stale_claim entry, using MarkRetry's retry accounting.
	ReclaimStale(ctx context.Context, now time.Time, olderThan time.Duration, workerID string) (int, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func staleClaimRecord(now time.Time, job *models.NotificationJob, workerID string) models.AttemptRecord {
	claimedBy := ""
	if job.ClaimedBy != nil {
		claimedBy = *job.ClaimedBy
	}
	return models.AttemptRecord{
		Timestamp: now,
		Outcome:   models.OutcomeStaleClaim,
		Detail:    fmt.Sprintf("claim by %s expired before the job was settled", claimedBy),
		WorkerID:  workerID,
		Attempt:   job.RetryCount + 1,
	}
}
