// internal/models/notification.go
package models

import (
	"encoding/json"
	"time"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWebhook:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a NotificationJob.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusSent       JobStatus = "sent"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// AttemptOutcome classifies a single execution_log entry.
type AttemptOutcome string

const (
	OutcomeSuccess        AttemptOutcome = "success"
	OutcomeTransientError AttemptOutcome = "transient_error"
	OutcomePermanentError AttemptOutcome = "permanent_error"
	OutcomeConfigError    AttemptOutcome = "configuration_error"
	OutcomePayloadError   AttemptOutcome = "payload_error"
	OutcomeStaleClaim     AttemptOutcome = "stale_claim"
	OutcomeRateLimited    AttemptOutcome = "rate_limited"
)

// AttemptRecord is one append-only execution_log entry.
type AttemptRecord struct {
	Timestamp         time.Time      `json:"timestamp"`
	Outcome           AttemptOutcome `json:"outcome"`
	Success           bool           `json:"success"`
	Detail            string         `json:"detail,omitempty"`
	ErrorCode         string         `json:"errorCode,omitempty"`
	ProviderID        string         `json:"providerId,omitempty"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	WorkerID          string         `json:"workerId,omitempty"`
	Attempt           int            `json:"attempt"`
	DurationMs        int64          `json:"durationMs,omitempty"`
}

// NotificationJob is one required delivery attempt sequence.
type NotificationJob struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	EventType    string          `json:"eventType"`
	Channel      Channel         `json:"channel"`
	Payload      json.RawMessage `json:"payload"`
	Status       JobStatus       `json:"status"`
	ScheduledFor time.Time       `json:"scheduledFor"`
	RetryCount   int             `json:"retryCount"`
	MaxRetries   int             `json:"maxRetries"`
	ExecutionLog []AttemptRecord `json:"executionLog"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	ClaimedBy    *string         `json:"claimedBy,omitempty"`
	ClaimedAt    *time.Time      `json:"claimedAt,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (j *NotificationJob) Clone() *NotificationJob {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.ExecutionLog = append([]AttemptRecord(nil), j.ExecutionLog...)
	if j.ClaimedBy != nil {
		v := *j.ClaimedBy
		c.ClaimedBy = &v
	}
	if j.ClaimedAt != nil {
		v := *j.ClaimedAt
		c.ClaimedAt = &v
	}
	return &c
}

// TenantNotificationConfig is a per-tenant, per-channel delivery configuration row.
type TenantNotificationConfig struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	Channel    Channel         `json:"channel"`
	ProviderID string          `json:"providerId"`
	Config     json.RawMessage `json:"config"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Template is the content definition for an (optional tenant, channel, event type).
// An empty TenantID marks the global default.
type Template struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenantId,omitempty"`
	Channel   Channel `json:"channel"`
	EventType string  `json:"eventType"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
}
