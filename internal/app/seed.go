// internal/app/seed.go
package app

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"notification-engine/internal/models"
	"notification-engine/internal/queue"
	"notification-engine/internal/tenantconfig"

	"github.com/google/uuid"
)

// Seed is the content of a memory-driver seed file.
type Seed struct {
	Jobs      []SeedJob                         `json:"jobs"`
	Configs   []models.TenantNotificationConfig `json:"configs"`
	Templates []models.Template                 `json:"templates"`
}

// SeedJob is a pending job as the enqueuing side would insert it.
type SeedJob struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	EventType    string          `json:"eventType"`
	Channel      models.Channel  `json:"channel"`
	Payload      json.RawMessage `json:"payload"`
	ScheduledFor *time.Time      `json:"scheduledFor"`
	MaxRetries   *int            `json:"maxRetries"`
}

// LoadSeedFile reads path and loads its contents into the memory store and
// source. Jobs without maxRetries get defaultMaxRetries; jobs without
// scheduledFor are due immediately.
func LoadSeedFile(path string, store *queue.MemoryStore, source *tenantconfig.MemorySource, defaultMaxRetries int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return ApplySeed(seed, store, source, defaultMaxRetries, time.Now().UTC())
}

func ApplySeed(seed Seed, store *queue.MemoryStore, source *tenantconfig.MemorySource, defaultMaxRetries int, now time.Time) error {
	for _, c := range seed.Configs {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		source.AddConfig(c)
	}
	for _, t := range seed.Templates {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		source.AddTemplate(t)
	}

	for i, j := range seed.Jobs {
		if !j.Channel.Valid() {
			return fmt.Errorf("seed job %d: unknown channel %q", i, j.Channel)
		}
		job := &models.NotificationJob{
			ID:           j.ID,
			TenantID:     j.TenantID,
			EventType:    j.EventType,
			Channel:      j.Channel,
			Payload:      j.Payload,
			Status:       models.StatusPending,
			ScheduledFor: now,
			MaxRetries:   defaultMaxRetries,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if j.ScheduledFor != nil {
			job.ScheduledFor = j.ScheduledFor.UTC()
		}
		if j.MaxRetries != nil {
			if *j.MaxRetries < 0 {
				return fmt.Errorf("seed job %s: maxRetries must not be negative", job.ID)
			}
			job.MaxRetries = *j.MaxRetries
		}
		if err := store.Enqueue(job); err != nil {
			return fmt.Errorf("seed job %s: %w", job.ID, err)
		}
	}
	return nil
}
