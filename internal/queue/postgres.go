// internal/queue/postgres.go
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notification-engine/internal/models"
)

const jobColumns = `id, tenant_id, event_type, channel, payload, status, scheduled_for,
	retry_count, max_retries, execution_log, created_at, updated_at, claimed_by, claimed_at`

// The inner SELECT picks candidates without blocking on rows another
// invocation holds; the outer status predicate is the compare-and-swap.
const claimQuery = `
UPDATE notification_jobs
SET status = 'processing', claimed_by = $3, claimed_at = $1, updated_at = $1
WHERE id IN (
	SELECT id FROM notification_jobs
	WHERE status = 'pending' AND scheduled_for <= $1
	ORDER BY scheduled_for, created_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
AND status = 'pending'
RETURNING ` + jobColumns

const settleQuery = `
UPDATE notification_jobs
SET status = $3, execution_log = execution_log || jsonb_build_array($4::jsonb), updated_at = $5
WHERE id = $1 AND status = 'processing' AND claimed_by = $2`

const deferQuery = `
UPDATE notification_jobs
SET status = 'pending', scheduled_for = $4, claimed_by = NULL, claimed_at = NULL,
    execution_log = execution_log || jsonb_build_array($3::jsonb), updated_at = $5
WHERE id = $1 AND status = 'processing' AND claimed_by = $2`

const retryQuery = `
UPDATE notification_jobs
SET status        = CASE WHEN retry_count + 1 > max_retries THEN 'failed' ELSE 'pending' END,
    retry_count   = CASE WHEN retry_count + 1 > max_retries THEN retry_count ELSE retry_count + 1 END,
    scheduled_for = CASE WHEN retry_count + 1 > max_retries THEN scheduled_for ELSE $4 END,
    claimed_by    = CASE WHEN retry_count + 1 > max_retries THEN claimed_by ELSE NULL END,
    claimed_at    = CASE WHEN retry_count + 1 > max_retries THEN claimed_at ELSE NULL END,
    execution_log = execution_log || jsonb_build_array($3::jsonb),
    updated_at    = $5
WHERE id = $1 AND status = 'processing' AND claimed_by = $2
RETURNING status`

const staleQuery = `
SELECT id, claimed_by, retry_count FROM notification_jobs
WHERE status = 'processing' AND claimed_at < $1
ORDER BY claimed_at
FOR UPDATE SKIP LOCKED`

// PostgresStore implements Store on the notification_jobs table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int, workerID string) ([]*models.NotificationJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, claimQuery, now, limit, workerID)
	if err != nil {
		return nil, unavailable("claim due jobs", err)
	}
	defer rows.Close()

	jobs := make([]*models.NotificationJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, unavailable("scan claimed job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("claim due jobs", err)
	}

	// RETURNING does not preserve the subquery order.
	sortDue(jobs)
	return jobs, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, jobID, workerID string, rec models.AttemptRecord) error {
	return s.settle(ctx, jobID, workerID, models.StatusSent, rec)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, jobID, workerID string, rec models.AttemptRecord) error {
	return s.settle(ctx, jobID, workerID, models.StatusFailed, rec)
}

func (s *PostgresStore) MarkDeferred(ctx context.Context, jobID, workerID string, rec models.AttemptRecord, next time.Time) error {
	entry, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode attempt record: %w", err)
	}

	res, err := s.db.ExecContext(ctx, deferQuery, jobID, workerID, string(entry), next, rec.Timestamp)
	if err != nil {
		return unavailable("mark deferred", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("mark deferred", err)
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *PostgresStore) settle(ctx context.Context, jobID, workerID string, status models.JobStatus, rec models.AttemptRecord) error {
	entry, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode attempt record: %w", err)
	}

	res, err := s.db.ExecContext(ctx, settleQuery, jobID, workerID, string(status), string(entry), rec.Timestamp)
	if err != nil {
		return unavailable("mark "+string(status), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("mark "+string(status), err)
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *PostgresStore) MarkRetry(ctx context.Context, jobID, workerID string, rec models.AttemptRecord, next time.Time) (models.JobStatus, error) {
	return markRetry(ctx, s.db, jobID, workerID, rec, next)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func markRetry(ctx context.Context, q queryRower, jobID, workerID string, rec models.AttemptRecord, next time.Time) (models.JobStatus, error) {
	entry, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode attempt record: %w", err)
	}

	var status string
	err = q.QueryRowContext(ctx, retryQuery, jobID, workerID, string(entry), next, rec.Timestamp).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotClaimed
	}
	if err != nil {
		return "", unavailable("mark retry", err)
	}
	return models.JobStatus(status), nil
}

func (s *PostgresStore) ReclaimStale(ctx context.Context, now time.Time, olderThan time.Duration, workerID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin reclaim", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, staleQuery, now.Add(-olderThan))
	if err != nil {
		return 0, unavailable("select stale claims", err)
	}

	var stale []*models.NotificationJob
	for rows.Next() {
		var (
			id         string
			claimedBy  string
			retryCount int
		)
		if err := rows.Scan(&id, &claimedBy, &retryCount); err != nil {
			rows.Close()
			return 0, unavailable("scan stale claim", err)
		}
		stale = append(stale, &models.NotificationJob{ID: id, ClaimedBy: &claimedBy, RetryCount: retryCount})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, unavailable("select stale claims", err)
	}
	rows.Close()

	for _, job := range stale {
		if _, err := markRetry(ctx, tx, job.ID, *job.ClaimedBy, staleClaimRecord(now, job, workerID), now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit reclaim", err)
	}
	return len(stale), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.NotificationJob, error) {
	var (
		job       models.NotificationJob
		channel   string
		status    string
		payload   []byte
		log       []byte
		claimedBy sql.NullString
		claimedAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID, &job.TenantID, &job.EventType, &channel, &payload, &status, &job.ScheduledFor,
		&job.RetryCount, &job.MaxRetries, &log, &job.CreatedAt, &job.UpdatedAt, &claimedBy, &claimedAt,
	); err != nil {
		return nil, err
	}

	job.Channel = models.Channel(channel)
	job.Status = models.JobStatus(status)
	job.Payload = json.RawMessage(payload)
	if len(log) > 0 {
		if err := json.Unmarshal(log, &job.ExecutionLog); err != nil {
			return nil, fmt.Errorf("decode execution log of job %s: %w", job.ID, err)
		}
	}
	if claimedBy.Valid {
		job.ClaimedBy = &claimedBy.String
	}
	if claimedAt.Valid {
		job.ClaimedAt = &claimedAt.Time
	}
	return &job, nil
}
