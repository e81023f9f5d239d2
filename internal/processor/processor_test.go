package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"
	"notification-engine/internal/tenantconfig"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// ==========================
// Test Helper Functions
// ==========================

type fakeProvider struct {
	mu     sync.Mutex
	calls  []provider.Message
	sendFn func(ctx context.Context, msg provider.Message) provider.Result
}

func (f *fakeProvider) Send(ctx context.Context, _ tenantconfig.ProviderConfig, msg provider.Message) provider.Result {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	if f.sendFn == nil {
		return provider.Delivered("msg-" + msg.JobID)
	}
	return f.sendFn(ctx, msg)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	store     *queue.MemoryStore
	source    *tenantconfig.MemorySource
	providers *provider.Registry
	email     *fakeProvider
	hook      *fakeProvider
	proc      *Processor
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	f := &fixture{
		store:     queue.NewMemoryStore(),
		source:    tenantconfig.NewMemorySource(),
		providers: provider.NewRegistry(),
		email:     &fakeProvider{},
		hook:      &fakeProvider{},
	}
	f.providers.Register(tenantconfig.ProviderSMTP, f.email)
	f.providers.Register(tenantconfig.ProviderWebhook, f.hook)

	f.source.AddConfig(models.TenantNotificationConfig{
		ID: "cfg-email", TenantID: "T1", Channel: models.ChannelEmail, ProviderID: tenantconfig.ProviderSMTP, IsActive: true,
		Config: json.RawMessage(`{"from_address":"noreply@acme.test","credentials":{"host":"smtp.acme.test","port":587}}`),
	})
	f.source.AddConfig(models.TenantNotificationConfig{
		ID: "cfg-hook", TenantID: "T1", Channel: models.ChannelWebhook, ProviderID: tenantconfig.ProviderWebhook, IsActive: true,
		Config: json.RawMessage(`{"endpoint":"https://hooks.acme.test/n"}`),
	})
	f.source.AddTemplate(models.Template{ID: "tpl-email", Channel: models.ChannelEmail, EventType: "status_update",
		Subject: "Shipment {{shipment_id}}", Body: "Status: {{status}}"})
	f.source.AddTemplate(models.Template{ID: "tpl-hook", Channel: models.ChannelWebhook, EventType: "status_update",
		Body: "{{shipment_id}}:{{status}}"})

	resolver := tenantconfig.NewResolver(f.source, logger.NewTestLogger(t))
	f.proc = New(f.store, resolver, f.providers, cfg, logger.NewTestLogger(t), opts...)
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SendTimeout = time.Second
	return cfg
}

func (f *fixture) enqueue(t *testing.T, id, tenant string, channel models.Channel, maxRetries int, payload string) {
	require.NoError(t, f.store.Enqueue(&models.NotificationJob{
		ID:           id,
		TenantID:     tenant,
		EventType:    "status_update",
		Channel:      channel,
		Payload:      json.RawMessage(payload),
		ScheduledFor: t0,
		MaxRetries:   maxRetries,
		CreatedAt:    t0,
	}))
}

func (f *fixture) job(t *testing.T, id string) *models.NotificationJob {
	job, ok := f.store.Get(id)
	require.True(t, ok)
	return job
}

const emailPayload = `{"recipient":"ana@example.com","shipment_id":"SH-1","status":"in_transit"}`

// ==========================
// Scenario Tests
// ==========================

func TestRunPass_TransientUntilExhausted(t *testing.T) {
	f := newFixture(t, testConfig())
	f.email.sendFn = func(context.Context, provider.Message) provider.Result {
		return provider.Transient("smtp rcpt to: 451 try again later")
	}
	f.enqueue(t, "J1", "T1", models.ChannelEmail, 3, emailPayload)

	passes := []struct {
		at      time.Duration
		retried int
		failed  int
	}{
		{0, 1, 0},
		{60 * time.Second, 1, 0},
		{180 * time.Second, 1, 0},
		{420 * time.Second, 0, 1},
	}

	var prevDelay time.Duration
	for i, pass := range passes {
		now := t0.Add(pass.at)

		// not due one second earlier
		if pass.at > 0 {
			early, err := f.proc.RunPass(context.Background(), now.Add(-time.Second), 10, "early")
			require.NoError(t, err)
			assert.Zero(t, early.Processed, "pass %d ran early", i)
		}

		res, err := f.proc.RunPass(context.Background(), now, 10, fmt.Sprintf("w%d", i))
		require.NoError(t, err)
		assert.Equal(t, PassResult{Processed: 1, Retried: pass.retried, Failed: pass.failed}, res, "pass %d", i)

		job := f.job(t, "J1")
		assert.LessOrEqual(t, job.RetryCount, job.MaxRetries)
		if i < len(passes)-1 {
			delay := job.ScheduledFor.Sub(now)
			assert.Greater(t, delay, prevDelay)
			prevDelay = delay
		}
	}

	job := f.job(t, "J1")
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	require.Len(t, job.ExecutionLog, 4)
	for i, entry := range job.ExecutionLog {
		assert.Equal(t, models.OutcomeTransientError, entry.Outcome)
		assert.False(t, entry.Success)
		assert.Equal(t, i+1, entry.Attempt)
		assert.True(t, entry.Timestamp.Equal(t0.Add(passes[i].at)), "entry %d at %s", i, entry.Timestamp)
		assert.Equal(t, string(apperrors.ErrCodeProviderTransient), entry.ErrorCode)
	}
	assert.Equal(t, 4, f.email.callCount())

	// terminal: later passes never touch it again
	res, err := f.proc.RunPass(context.Background(), t0.Add(24*time.Hour), 10, "late")
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestRunPass_NotConfigured(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueue(t, "J2", "T-unknown", models.ChannelEmail, 5, emailPayload)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 1, Failed: 1}, res)

	job := f.job(t, "J2")
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	require.Len(t, job.ExecutionLog, 1)
	assert.Equal(t, models.OutcomeConfigError, job.ExecutionLog[0].Outcome)
	assert.Equal(t, string(apperrors.ErrCodeConfigNotConfigured), job.ExecutionLog[0].ErrorCode)
	assert.Zero(t, f.email.callCount())
}

func TestRunPass_TemplateMissing(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.store.Enqueue(&models.NotificationJob{
		ID:           "J4",
		TenantID:     "T1",
		EventType:    "delivery_exception",
		Channel:      models.ChannelEmail,
		Payload:      json.RawMessage(emailPayload),
		ScheduledFor: t0,
		MaxRetries:   5,
		CreatedAt:    t0,
	}))

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 1, Failed: 1}, res)

	job := f.job(t, "J4")
	assert.Equal(t, models.StatusFailed, job.Status)
	require.Len(t, job.ExecutionLog, 1)
	assert.Equal(t, models.OutcomeConfigError, job.ExecutionLog[0].Outcome)
	assert.Equal(t, string(apperrors.ErrCodeConfigTemplateMissing), job.ExecutionLog[0].ErrorCode)
	assert.Zero(t, f.email.callCount())
}

func TestRunPass_SentFirstAttempt(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueue(t, "J3", "T1", models.ChannelEmail, 5, emailPayload)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 1, Sent: 1}, res)

	job := f.job(t, "J3")
	assert.Equal(t, models.StatusSent, job.Status)
	require.Len(t, job.ExecutionLog, 1)
	entry := job.ExecutionLog[0]
	assert.True(t, entry.Success)
	assert.Equal(t, models.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, "msg-J3", entry.ProviderMessageID)
	assert.Equal(t, tenantconfig.ProviderSMTP, entry.ProviderID)
	assert.Equal(t, "w1", entry.WorkerID)

	require.Equal(t, 1, f.email.callCount())
	sent := f.email.calls[0]
	assert.Equal(t, "ana@example.com", sent.Recipient)
	assert.Equal(t, "Shipment SH-1", sent.Subject)
	assert.Equal(t, "Status: in_transit", sent.Body)
}

func TestRunPass_PermanentFailsImmediately(t *testing.T) {
	f := newFixture(t, testConfig())
	f.email.sendFn = func(context.Context, provider.Message) provider.Result {
		return provider.Permanent("smtp rcpt to: 550 mailbox unavailable")
	}
	f.enqueue(t, "J4", "T1", models.ChannelEmail, 5, emailPayload)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 1, Failed: 1}, res)

	job := f.job(t, "J4")
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	require.Len(t, job.ExecutionLog, 1)
	assert.Equal(t, models.OutcomePermanentError, job.ExecutionLog[0].Outcome)
	assert.Contains(t, job.ExecutionLog[0].Detail, "550")
}

func TestRunPass_MissingRecipient(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueue(t, "J5", "T1", models.ChannelEmail, 5, `{"shipment_id":"SH-1"}`)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	job := f.job(t, "J5")
	assert.Equal(t, models.OutcomePayloadError, job.ExecutionLog[0].Outcome)
	assert.Equal(t, string(apperrors.ErrCodePayloadInvalid), job.ExecutionLog[0].ErrorCode)
	assert.Zero(t, f.email.callCount())
}

func TestRunPass_WebhookAddressedToEndpoint(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueue(t, "J6", "T1", models.ChannelWebhook, 5, `{"shipment_id":"SH-7","status":"delivered"}`)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	require.Equal(t, 1, f.hook.callCount())
	assert.Equal(t, "https://hooks.acme.test/n", f.hook.calls[0].Recipient)
	assert.Equal(t, "SH-7:delivered", f.hook.calls[0].Body)
	assert.JSONEq(t, `{"shipment_id":"SH-7","status":"delivered"}`, string(f.hook.calls[0].Payload))
}

func TestRunPass_UnregisteredProvider(t *testing.T) {
	f := newFixture(t, testConfig())
	f.source.AddConfig(models.TenantNotificationConfig{
		ID: "cfg-sms", TenantID: "T1", Channel: models.ChannelSMS, ProviderID: tenantconfig.ProviderTwilio, IsActive: true,
		Config: json.RawMessage(`{"from_address":"+15550001111","credentials":{"account_sid":"AC1","auth_token":"t"}}`),
	})
	f.source.AddTemplate(models.Template{ID: "tpl-sms", Channel: models.ChannelSMS, EventType: "status_update", Body: "x"})
	f.enqueue(t, "J7", "T1", models.ChannelSMS, 5, `{"recipient":"+15550002222"}`)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, string(apperrors.ErrCodeConfigInvalid), f.job(t, "J7").ExecutionLog[0].ErrorCode)
}

// ==========================
// Concurrency & Isolation Tests
// ==========================

func TestRunPass_JobsAreIsolated(t *testing.T) {
	cfg := testConfig()
	cfg.SendTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg)

	block := make(chan struct{})
	defer close(block)
	f.email.sendFn = func(ctx context.Context, msg provider.Message) provider.Result {
		switch msg.Recipient {
		case "stuck@example.com":
			<-block
			return provider.Delivered("too-late")
		case "panic@example.com":
			panic("adapter bug")
		case "bounce@example.com":
			return provider.Permanent("550")
		default:
			return provider.Delivered("ok")
		}
	}

	f.enqueue(t, "ok", "T1", models.ChannelEmail, 5, `{"recipient":"ok@example.com"}`)
	f.enqueue(t, "stuck", "T1", models.ChannelEmail, 5, `{"recipient":"stuck@example.com"}`)
	f.enqueue(t, "panic", "T1", models.ChannelEmail, 5, `{"recipient":"panic@example.com"}`)
	f.enqueue(t, "bounce", "T1", models.ChannelEmail, 5, `{"recipient":"bounce@example.com"}`)
	f.enqueue(t, "unconfigured", "T9", models.ChannelEmail, 5, `{"recipient":"x@example.com"}`)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 5, Sent: 1, Retried: 2, Failed: 2}, res)

	assert.Equal(t, models.StatusSent, f.job(t, "ok").Status)
	assert.Equal(t, models.StatusFailed, f.job(t, "bounce").Status)
	assert.Equal(t, models.StatusFailed, f.job(t, "unconfigured").Status)

	stuck := f.job(t, "stuck")
	assert.Equal(t, models.StatusPending, stuck.Status)
	assert.Contains(t, stuck.ExecutionLog[0].Detail, "timed out")

	panicked := f.job(t, "panic")
	assert.Equal(t, models.StatusPending, panicked.Status)
	assert.Contains(t, panicked.ExecutionLog[0].Detail, "adapter bug")
}

func TestRunPass_ConcurrentPassesClaimEachJobOnce(t *testing.T) {
	f := newFixture(t, testConfig())
	for i := 0; i < 40; i++ {
		f.enqueue(t, fmt.Sprintf("J%02d", i), "T1", models.ChannelEmail, 5, emailPayload)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total PassResult
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			res, err := f.proc.RunPass(context.Background(), t0, 15, workerID)
			assert.NoError(t, err)
			mu.Lock()
			total.Processed += res.Processed
			total.Sent += res.Sent
			mu.Unlock()
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	// 4 passes x 15 >= 40 so every job is taken exactly once
	assert.Equal(t, 40, total.Processed)
	assert.Equal(t, 40, total.Sent)
	assert.Equal(t, 40, f.email.callCount())

	seen := make(map[string]bool)
	for _, msg := range f.email.calls {
		assert.False(t, seen[msg.JobID], "job %s sent twice", msg.JobID)
		seen[msg.JobID] = true
	}
}

func TestRunPass_BatchSizeIsBounded(t *testing.T) {
	f := newFixture(t, testConfig())
	for i := 0; i < 60; i++ {
		f.enqueue(t, fmt.Sprintf("J%02d", i), "T1", models.ChannelEmail, 5, emailPayload)
	}

	res, err := f.proc.RunPass(context.Background(), t0, 500, "w1")
	require.NoError(t, err)
	assert.Equal(t, 50, res.Processed)

	res, err = f.proc.RunPass(context.Background(), t0, 0, "w2")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Processed)
}

// ==========================
// Rate Limit Tests
// ==========================

type fakeLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, perMinute int) (bool, error) {
	l.keys = append(l.keys, fmt.Sprintf("%s/%d", key, perMinute))
	return l.allowed, l.err
}

func TestRunPass_RateLimited(t *testing.T) {
	limiter := &fakeLimiter{allowed: false}
	f := newFixture(t, testConfig(), WithLimiter(limiter))
	f.source.AddConfig(models.TenantNotificationConfig{
		ID: "cfg-limited", TenantID: "T2", Channel: models.ChannelEmail, ProviderID: tenantconfig.ProviderSMTP, IsActive: true,
		Config: json.RawMessage(`{"from_address":"a@b.test","credentials":{"host":"h","port":25},"rateLimitPerMinute":10}`),
	})
	f.enqueue(t, "limited", "T2", models.ChannelEmail, 5, emailPayload)
	f.enqueue(t, "unlimited", "T1", models.ChannelEmail, 5, emailPayload)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 2, Sent: 1, Retried: 1}, res)

	assert.Equal(t, []string{"T2:smtp/10"}, limiter.keys)
	job := f.job(t, "limited")
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.True(t, job.ScheduledFor.Equal(t0.Add(time.Minute)))
	require.Len(t, job.ExecutionLog, 1)
	assert.Equal(t, models.OutcomeRateLimited, job.ExecutionLog[0].Outcome)
	assert.Contains(t, job.ExecutionLog[0].Detail, "rate limit")
	assert.Equal(t, 1, f.email.callCount())
}

func TestRunPass_RateLimitDoesNotExhaustRetries(t *testing.T) {
	limiter := &fakeLimiter{allowed: false}
	f := newFixture(t, testConfig(), WithLimiter(limiter))
	f.source.AddConfig(models.TenantNotificationConfig{
		ID: "cfg-limited", TenantID: "T2", Channel: models.ChannelEmail, ProviderID: tenantconfig.ProviderSMTP, IsActive: true,
		Config: json.RawMessage(`{"from_address":"a@b.test","credentials":{"host":"h","port":25},"rateLimitPerMinute":1}`),
	})
	f.enqueue(t, "burst", "T2", models.ChannelEmail, 1, emailPayload)

	now := t0.Add(30 * time.Second)
	for i := 0; i < 4; i++ {
		res, err := f.proc.RunPass(context.Background(), now, 10, "w1")
		require.NoError(t, err)
		assert.Equal(t, PassResult{Processed: 1, Retried: 1}, res)
		now = f.job(t, "burst").ScheduledFor
	}

	job := f.job(t, "burst")
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Len(t, job.ExecutionLog, 4)
	assert.Zero(t, f.email.callCount())

	limiter.allowed = true
	res, err := f.proc.RunPass(context.Background(), now, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 1, Sent: 1}, res)
	assert.Equal(t, models.StatusSent, f.job(t, "burst").Status)
}

func TestRunPass_LimiterErrorSendsAnyway(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis: connection refused")}
	f := newFixture(t, testConfig(), WithLimiter(limiter))
	f.source.AddConfig(models.TenantNotificationConfig{
		ID: "cfg-limited", TenantID: "T2", Channel: models.ChannelEmail, ProviderID: tenantconfig.ProviderSMTP, IsActive: true,
		Config: json.RawMessage(`{"from_address":"a@b.test","credentials":{"host":"h","port":25},"rateLimitPerMinute":10}`),
	})
	f.enqueue(t, "limited", "T2", models.ChannelEmail, 5, emailPayload)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

// ==========================
// Store Failure Tests
// ==========================

type flakyStore struct {
	*queue.MemoryStore
	claimErr  error
	settleErr error
}

func (s *flakyStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int, workerID string) ([]*models.NotificationJob, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.MemoryStore.ClaimDueJobs(ctx, now, limit, workerID)
}

func (s *flakyStore) MarkSent(ctx context.Context, jobID, workerID string, rec models.AttemptRecord) error {
	if s.settleErr != nil {
		return s.settleErr
	}
	return s.MemoryStore.MarkSent(ctx, jobID, workerID, rec)
}

func newFlakyFixture(t *testing.T, claimErr, settleErr error) (*fixture, *flakyStore) {
	f := newFixture(t, testConfig())
	flaky := &flakyStore{MemoryStore: f.store, claimErr: claimErr, settleErr: settleErr}
	resolver := tenantconfig.NewResolver(f.source, logger.NewTestLogger(t))
	f.proc = New(flaky, resolver, f.providers, testConfig(), logger.NewTestLogger(t))
	return f, flaky
}

func TestRunPass_ClaimFailureAbortsPass(t *testing.T) {
	claimErr := fmt.Errorf("%w: claim due jobs: connection refused", queue.ErrStoreUnavailable)
	f, _ := newFlakyFixture(t, claimErr, nil)
	f.enqueue(t, "J", "T1", models.ChannelEmail, 5, emailPayload)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)
	assert.Equal(t, PassResult{}, res)
	assert.Zero(t, f.email.callCount())
}

func TestRunPass_SettleFailureLeavesJobClaimed(t *testing.T) {
	settleErr := fmt.Errorf("%w: mark sent: connection reset", queue.ErrStoreUnavailable)
	f, _ := newFlakyFixture(t, nil, settleErr)
	f.enqueue(t, "J", "T1", models.ChannelEmail, 5, emailPayload)
	f.enqueue(t, "bad", "T9", models.ChannelEmail, 5, emailPayload)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)
	assert.Equal(t, PassResult{Processed: 2, Failed: 1, Errored: 1}, res)

	job := f.job(t, "J")
	assert.Equal(t, models.StatusProcessing, job.Status)
	assert.Empty(t, job.ExecutionLog)
}

func TestRunPass_LostClaimIsNotAnError(t *testing.T) {
	f, _ := newFlakyFixture(t, nil, queue.ErrNotClaimed)
	f.enqueue(t, "J", "T1", models.ChannelEmail, 5, emailPayload)

	res, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 1, Errored: 1}, res)
}

type brokenSource struct{}

func (brokenSource) ActiveConfigs(context.Context, string, models.Channel) ([]models.TenantNotificationConfig, error) {
	return nil, errors.New("pq: connection refused")
}

func (brokenSource) Template(context.Context, string, models.Channel, string) (*models.Template, error) {
	return nil, nil
}

func TestRunPass_ConfigSourceDown(t *testing.T) {
	store := queue.NewMemoryStore()
	require.NoError(t, store.Enqueue(&models.NotificationJob{ID: "J", TenantID: "T1", Channel: models.ChannelEmail, ScheduledFor: t0, MaxRetries: 5}))

	resolver := tenantconfig.NewResolver(brokenSource{}, logger.NewTestLogger(t))
	proc := New(store, resolver, provider.NewRegistry(), testConfig(), logger.NewTestLogger(t))

	res, err := proc.RunPass(context.Background(), t0, 10, "w1")
	assert.ErrorIs(t, err, tenantconfig.ErrSourceUnavailable)
	assert.Equal(t, PassResult{Processed: 1, Errored: 1}, res)

	job, _ := store.Get("J")
	assert.Equal(t, models.StatusProcessing, job.Status)
}

// ==========================
// Reclaim & Audit Tests
// ==========================

func TestRunPass_ReclaimsStaleClaims(t *testing.T) {
	cfg := testConfig()
	cfg.StaleClaimAfter = 10 * time.Minute
	f := newFixture(t, cfg)
	f.enqueue(t, "J", "T1", models.ChannelEmail, 5, emailPayload)

	_, err := f.store.ClaimDueJobs(context.Background(), t0, 10, "crashed-worker")
	require.NoError(t, err)

	res, err := f.proc.RunPass(context.Background(), t0.Add(5*time.Minute), 10, "w1")
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	res, err = f.proc.RunPass(context.Background(), t0.Add(11*time.Minute), 10, "w2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	job := f.job(t, "J")
	assert.Equal(t, models.StatusSent, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.Len(t, job.ExecutionLog, 2)
	assert.Equal(t, models.OutcomeStaleClaim, job.ExecutionLog[0].Outcome)
	assert.Equal(t, models.OutcomeSuccess, job.ExecutionLog[1].Outcome)
	assert.Equal(t, 2, job.ExecutionLog[1].Attempt)
}

type captureRecorder struct {
	mu      sync.Mutex
	records []models.AttemptRecord
	status  []models.JobStatus
}

func (c *captureRecorder) Record(_ context.Context, _ *models.NotificationJob, rec models.AttemptRecord, status models.JobStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	c.status = append(c.status, status)
}

func TestRunPass_RecordsEveryAttempt(t *testing.T) {
	rec := &captureRecorder{}
	f := newFixture(t, testConfig(), WithRecorder(rec))
	f.enqueue(t, "J", "T1", models.ChannelEmail, 5, emailPayload)

	_, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)

	require.Len(t, rec.records, 1)
	assert.Equal(t, models.OutcomeSuccess, rec.records[0].Outcome)
	assert.Equal(t, models.StatusSent, rec.status[0])
}

func TestRunPass_LogIsAppendOnly(t *testing.T) {
	f := newFixture(t, testConfig())
	f.email.sendFn = func(context.Context, provider.Message) provider.Result { return provider.Transient("busy") }
	f.enqueue(t, "J", "T1", models.ChannelEmail, 5, emailPayload)

	_, err := f.proc.RunPass(context.Background(), t0, 10, "w1")
	require.NoError(t, err)
	first, err := json.Marshal(f.job(t, "J").ExecutionLog[0])
	require.NoError(t, err)

	_, err = f.proc.RunPass(context.Background(), t0.Add(time.Minute), 10, "w2")
	require.NoError(t, err)
	job := f.job(t, "J")
	require.Len(t, job.ExecutionLog, 2)

	again, err := json.Marshal(job.ExecutionLog[0])
	require.NoError(t, err)
	assert.Equal(t, string(first), string(again))
}

// ==========================
// Cancellation Tests
// ==========================

// ctxResolver fails once its context is done, like a database-backed source.
type ctxResolver struct {
	Resolver
}

func (r ctxResolver) Resolve(ctx context.Context, tenantID string, channel models.Channel, eventType string) (*tenantconfig.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Resolver.Resolve(ctx, tenantID, channel, eventType)
}

func TestRunPass_CancelledPassSettlesClaimedJobs(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 1
	f := newFixture(t, cfg)
	f.enqueue(t, "A", "T1", models.ChannelEmail, 5, emailPayload)
	f.enqueue(t, "B", "T1", models.ChannelEmail, 5, emailPayload)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sendErrs []error
	f.email.sendFn = func(sendCtx context.Context, msg provider.Message) provider.Result {
		cancel()
		sendErrs = append(sendErrs, sendCtx.Err())
		return provider.Delivered("msg-" + msg.JobID)
	}

	resolver := ctxResolver{tenantconfig.NewResolver(f.source, logger.NewTestLogger(t))}
	proc := New(f.store, resolver, f.providers, cfg, logger.NewTestLogger(t))

	res, err := proc.RunPass(ctx, t0, 10, "w1")
	require.NoError(t, err)
	assert.Equal(t, PassResult{Processed: 2, Sent: 2}, res)
	assert.Equal(t, []error{nil, nil}, sendErrs)

	for _, id := range []string{"A", "B"} {
		job := f.job(t, id)
		assert.Equal(t, models.StatusSent, job.Status, id)
		require.Len(t, job.ExecutionLog, 1, id)
		assert.True(t, job.ExecutionLog[0].Success, id)
	}
}

func TestRunPass_CancelledBeforeClaim(t *testing.T) {
	f := newFixture(t, testConfig())
	f.enqueue(t, "A", "T1", models.ChannelEmail, 5, emailPayload)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.proc.RunPass(ctx, t0, 10, "w1")
	require.Error(t, err)
	assert.Equal(t, models.StatusPending, f.job(t, "A").Status)
	assert.Zero(t, f.email.callCount())
}
