// internal/queue/memory.go
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"notification-engine/internal/models"
)

// MemoryStore is an in-process Store. A single mutex makes every claim and
// settle a compare-and-swap on the job's status, matching the Postgres store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.NotificationJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.NotificationJob)}
}

// Enqueue inserts a pending job. It stands in for the external producer.
func (s *MemoryStore) Enqueue(job *models.NotificationJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	c := job.Clone()
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.jobs[c.ID] = c
	return nil
}

// Get returns a copy of the job.
func (s *MemoryStore) Get(jobID string) (*models.NotificationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

func (s *MemoryStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int, workerID string) ([]*models.NotificationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("claim due jobs", err)
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*models.NotificationJob, 0)
	for _, job := range s.jobs {
		if job.Status == models.StatusPending && !job.ScheduledFor.After(now) {
			due = append(due, job)
		}
	}
	sortDue(due)
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.NotificationJob, 0, len(due))
	for _, job := range due {
		owner := workerID
		at := now
		job.Status = models.StatusProcessing
		job.ClaimedBy = &owner
		job.ClaimedAt = &at
		job.UpdatedAt = now
		claimed = append(claimed, job.Clone())
	}
	return claimed, nil
}

func (s *MemoryStore) MarkSent(ctx context.Context, jobID, workerID string, rec models.AttemptRecord) error {
	return s.settle(ctx, jobID, workerID, func(job *models.NotificationJob) {
		job.Status = models.StatusSent
		job.ExecutionLog = append(job.ExecutionLog, rec)
		job.UpdatedAt = rec.Timestamp
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, jobID, workerID string, rec models.AttemptRecord) error {
	return s.settle(ctx, jobID, workerID, func(job *models.NotificationJob) {
		job.Status = models.StatusFailed
		job.ExecutionLog = append(job.ExecutionLog, rec)
		job.UpdatedAt = rec.Timestamp
	})
}

func (s *MemoryStore) MarkRetry(ctx context.Context, jobID, workerID string, rec models.AttemptRecord, next time.Time) (models.JobStatus, error) {
	var status models.JobStatus
	err := s.settle(ctx, jobID, workerID, func(job *models.NotificationJob) {
		applyRetry(job, rec, next)
		status = job.Status
	})
	return status, err
}

func (s *MemoryStore) MarkDeferred(ctx context.Context, jobID, workerID string, rec models.AttemptRecord, next time.Time) error {
	return s.settle(ctx, jobID, workerID, func(job *models.NotificationJob) {
		job.ExecutionLog = append(job.ExecutionLog, rec)
		job.UpdatedAt = rec.Timestamp
		job.Status = models.StatusPending
		job.ScheduledFor = next
		job.ClaimedBy = nil
		job.ClaimedAt = nil
	})
}

func (s *MemoryStore) ReclaimStale(ctx context.Context, now time.Time, olderThan time.Duration, workerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("reclaim stale claims", err)
	}
	cutoff := now.Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if job.Status != models.StatusProcessing || job.ClaimedAt == nil || !job.ClaimedAt.Before(cutoff) {
			continue
		}
		applyRetry(job, staleClaimRecord(now, job, workerID), now)
		n++
	}
	return n, nil
}

func (s *MemoryStore) settle(ctx context.Context, jobID, workerID string, apply func(*models.NotificationJob)) error {
	if err := ctx.Err(); err != nil {
		return unavailable("settle job", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.StatusProcessing || job.ClaimedBy == nil || *job.ClaimedBy != workerID {
		return ErrNotClaimed
	}
	apply(job)
	return nil
}

func applyRetry(job *models.NotificationJob, rec models.AttemptRecord, next time.Time) {
	job.ExecutionLog = append(job.ExecutionLog, rec)
	job.UpdatedAt = rec.Timestamp
	if job.RetryCount+1 > job.MaxRetries {
		job.Status = models.StatusFailed
		return
	}
	job.RetryCount++
	job.Status = models.StatusPending
	job.ScheduledFor = next
	job.ClaimedBy = nil
	job.ClaimedAt = nil
}

func sortDue(jobs []*models.NotificationJob) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].ScheduledFor.Equal(jobs[k].ScheduledFor) {
			return jobs[i].ScheduledFor.Before(jobs[k].ScheduledFor)
		}
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
