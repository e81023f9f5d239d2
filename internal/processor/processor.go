// internal/processor/processor.go
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"notification-engine/internal/audit"
	"notification-engine/internal/common/config"
	apperrors "notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/common/observability"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"
	"notification-engine/internal/ratelimit"
	"notification-engine/internal/render"
	"notification-engine/internal/tenantconfig"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Resolver resolves the active provider configuration and template for a job.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string, channel models.Channel, eventType string) (*tenantconfig.Resolution, error)
}

// ProviderLookup returns the adapter registered for a provider_id.
type ProviderLookup interface {
	Get(providerID string) (provider.Provider, bool)
}

// PassResult holds the aggregate counts of one pass. Errored counts claimed
// jobs that were not settled: their store update failed or they were no
// longer claimed by this worker. Retried includes jobs deferred by the
// tenant rate limit.
type PassResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Errored   int `json:"errored"`
}

type jobOutcome int

const (
	outcomeSent jobOutcome = iota
	outcomeRetried
	outcomeFailed
	outcomeErrored
)

// Processor runs processing passes. It holds no job state between passes.
type Processor struct {
	store     queue.Store
	resolver  Resolver
	providers ProviderLookup
	limiter   ratelimit.Limiter
	recorder  audit.Recorder
	obs       *observability.Observability
	cfg       Config
	logger    logger.Logger
}

type Option func(*Processor)

func WithLimiter(l ratelimit.Limiter) Option {
	return func(p *Processor) { p.limiter = l }
}

func WithRecorder(r audit.Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

func WithObservability(o *observability.Observability) Option {
	return func(p *Processor) { p.obs = o }
}

func New(store queue.Store, resolver Resolver, providers ProviderLookup, cfg Config, log logger.Logger, opts ...Option) *Processor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultConfig().SettleTimeout
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	p := &Processor{
		store:     store,
		resolver:  resolver,
		providers: providers,
		limiter:   ratelimit.NoopLimiter{},
		recorder:  audit.NoopRecorder{},
		obs:       observability.NewNoop(),
		cfg:       cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "queue-processor"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunPass claims up to batchSize due jobs and settles each independently.
// A batchSize of zero or less uses the configured batch size. Per-job
// failures are folded into the counts; the returned error is non-nil only
// for store faults. When the claim itself fails the pass is aborted.
//
// Cancelling ctx only stops the claim. Claimed jobs are carried through to
// settlement, each step bounded by SendTimeout or SettleTimeout.
func (p *Processor) RunPass(ctx context.Context, now time.Time, batchSize int, workerID string) (PassResult, error) {
	start := time.Now()
	batch := p.batchSize(batchSize)
	log := p.logger.WithFields(map[string]interface{}{"workerId": workerID})

	ctx, span := p.obs.StartSpan(ctx, "queue.run_pass",
		attribute.String("worker.id", workerID),
		attribute.Int("batch.size", batch),
	)
	defer span.End()

	if p.cfg.StaleClaimAfter > 0 {
		n, err := p.store.ReclaimStale(ctx, now, p.cfg.StaleClaimAfter, workerID)
		if err != nil {
			log.Warn("stale claim reclaim failed", map[string]interface{}{"error": err})
		} else if n > 0 {
			log.Warn("reclaimed stale claims", map[string]interface{}{"count": n})
		}
	}

	jobs, err := p.store.ClaimDueJobs(ctx, now, batch, workerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		p.obs.RecordPass(ctx, "claim_failed")
		log.Error("failed to claim due jobs", map[string]interface{}{"error": err})
		return PassResult{}, err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	result := PassResult{Processed: len(jobs)}
	jobCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			metrics.JobsInFlight.Inc()
			defer metrics.JobsInFlight.Dec()

			outcome, err := p.processJob(jobCtx, now, job, workerID)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				result.Sent++
			case outcomeRetried:
				result.Retried++
			case outcomeFailed:
				result.Failed++
			case outcomeErrored:
				result.Errored++
				if err != nil {
					errs = append(errs, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	passErr := errors.Join(errs...)
	if passErr != nil {
		span.RecordError(passErr)
		span.SetStatus(codes.Error, "store errors while settling")
		p.obs.RecordPass(ctx, "partial")
	} else {
		p.obs.RecordPass(ctx, "ok")
	}

	span.SetAttributes(
		attribute.Int("jobs.processed", result.Processed),
		attribute.Int("jobs.sent", result.Sent),
		attribute.Int("jobs.retried", result.Retried),
		attribute.Int("jobs.failed", result.Failed),
		attribute.Int("jobs.errored", result.Errored),
	)

	fields := map[string]interface{}{
		"processed":  result.Processed,
		"sent":       result.Sent,
		"retried":    result.Retried,
		"failed":     result.Failed,
		"errored":    result.Errored,
		"durationMs": time.Since(start).Milliseconds(),
	}
	if result.Processed > 0 || passErr != nil {
		log.Info("processing pass completed", fields)
	} else {
		log.Debug("processing pass completed", fields)
	}
	return result, passErr
}

func (p *Processor) batchSize(requested int) int {
	n := requested
	if n <= 0 {
		n = p.cfg.BatchSize
	}
	if n <= 0 {
		n = DefaultConfig().BatchSize
	}
	if n > config.MaxBatchSize {
		n = config.MaxBatchSize
	}
	return n
}

// processJob runs resolve, render, send and settle for one claimed job.
// The returned error is set only when the job could not be settled because
// the store is unavailable.
func (p *Processor) processJob(ctx context.Context, now time.Time, job *models.NotificationJob, workerID string) (jobOutcome, error) {
	start := time.Now()
	attempt := job.RetryCount + 1
	log := p.logger.WithFields(map[string]interface{}{
		"jobId":     job.ID,
		"tenantId":  job.TenantID,
		"channel":   job.Channel,
		"eventType": job.EventType,
		"workerId":  workerID,
		"attempt":   attempt,
	})

	ctx, span := p.obs.StartSpan(ctx, "queue.process_job",
		attribute.String("job.id", job.ID),
		attribute.String("tenant.id", job.TenantID),
		attribute.String("channel", string(job.Channel)),
	)
	defer span.End()

	rec := models.AttemptRecord{
		Timestamp: now,
		WorkerID:  workerID,
		Attempt:   attempt,
	}

	res, err := p.resolve(ctx, job)
	if err != nil {
		if !apperrors.IsConfigurationError(err) {
			log.Error("tenant config lookup failed, leaving job claimed", map[string]interface{}{"error": err})
			span.RecordError(err)
			metrics.JobsErrored.WithLabelValues(string(apperrors.ErrCodeStoreUnavailable)).Inc()
			return outcomeErrored, fmt.Errorf("job %s: %w", job.ID, err)
		}
		return p.fail(ctx, log, job, workerID, withError(rec, models.OutcomeConfigError, err), start)
	}
	rec.ProviderID = res.ProviderID

	adapter, ok := p.providers.Get(res.ProviderID)
	if !ok {
		err := apperrors.NewConfigInvalidError(res.ProviderID, "no adapter registered for provider").WithCause(tenantconfig.ErrInvalidConfig)
		return p.fail(ctx, log, job, workerID, withError(rec, models.OutcomeConfigError, err), start)
	}

	content, err := render.Render(res.Template, job)
	if err != nil {
		return p.fail(ctx, log, job, workerID, withError(rec, models.OutcomePayloadError, err), start)
	}

	msg := provider.Message{
		JobID:     job.ID,
		TenantID:  job.TenantID,
		EventType: job.EventType,
		Channel:   job.Channel,
		Recipient: content.Recipient,
		Subject:   content.Subject,
		Body:      content.Body,
		Payload:   job.Payload,
	}
	if job.Channel == models.ChannelWebhook {
		msg.Recipient = res.Provider.Endpoint
	}

	if !p.allow(ctx, log, job, res) {
		rec.Outcome = models.OutcomeRateLimited
		rec.Detail = fmt.Sprintf("rate limit of %d/min for provider %s exceeded", res.Provider.RateLimitPerMinute, res.ProviderID)
		return p.deferJob(ctx, log, job, workerID, rec, now, start)
	}

	result := p.deliver(ctx, adapter, res, msg)
	rec.DurationMs = time.Since(start).Milliseconds()

	switch {
	case result.Success:
		rec.Outcome = models.OutcomeSuccess
		rec.Success = true
		rec.ProviderMessageID = result.ProviderMessageID
		return p.sent(ctx, log, job, workerID, rec, start)

	case result.ErrorKind == provider.ErrorKindPermanent:
		rec.Outcome = models.OutcomePermanentError
		rec.ErrorCode = string(apperrors.ErrCodeProviderPermanent)
		rec.Detail = result.ErrorDetail
		return p.fail(ctx, log, job, workerID, rec, start)

	default:
		rec.Outcome = models.OutcomeTransientError
		rec.ErrorCode = string(apperrors.ErrCodeProviderTransient)
		rec.Detail = result.ErrorDetail
		return p.retry(ctx, log, job, workerID, rec, now, start)
	}
}

func (p *Processor) resolve(ctx context.Context, job *models.NotificationJob) (*tenantconfig.Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SettleTimeout)
	defer cancel()
	return p.resolver.Resolve(ctx, job.TenantID, job.Channel, job.EventType)
}

// allow applies the tenant's rateLimitPerMinute. Limiter errors allow the send.
func (p *Processor) allow(ctx context.Context, log logger.Logger, job *models.NotificationJob, res *tenantconfig.Resolution) bool {
	limit := res.Provider.RateLimitPerMinute
	if limit <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SettleTimeout)
	defer cancel()

	allowed, err := p.limiter.Allow(ctx, ratelimit.Key(job.TenantID, res.ProviderID), limit)
	if err != nil {
		log.Warn("rate limiter unavailable, sending without limit", map[string]interface{}{"error": err})
		return true
	}
	if !allowed {
		metrics.RateLimited.WithLabelValues(res.ProviderID).Inc()
	}
	return allowed
}

// deliver calls the adapter bounded by SendTimeout and records its latency.
func (p *Processor) deliver(ctx context.Context, adapter provider.Provider, res *tenantconfig.Resolution, msg provider.Message) provider.Result {
	start := time.Now()
	result := p.send(ctx, adapter, res.Provider, msg)

	label := "success"
	if !result.Success {
		label = string(result.ErrorKind)
	}
	metrics.ProviderSendDuration.WithLabelValues(res.ProviderID, label).Observe(time.Since(start).Seconds())
	return result
}

// send calls the adapter and stops waiting once SendTimeout elapses. The
// adapter's context is cancelled at that point but the call is not awaited.
func (p *Processor) send(ctx context.Context, adapter provider.Provider, cfg tenantconfig.ProviderConfig, msg provider.Message) provider.Result {
	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	done := make(chan provider.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- provider.Transient("provider panicked: %v", r)
			}
		}()
		done <- adapter.Send(sendCtx, cfg, msg)
	}()

	select {
	case res := <-done:
		return res
	case <-sendCtx.Done():
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return provider.Transient("send timed out after %s", p.cfg.SendTimeout)
		}
		return provider.Transient("send cancelled: %v", sendCtx.Err())
	}
}

func (p *Processor) sent(ctx context.Context, log logger.Logger, job *models.NotificationJob, workerID string, rec models.AttemptRecord, start time.Time) (jobOutcome, error) {
	settleCtx, cancel := p.settleContext(ctx)
	defer cancel()

	if err := p.store.MarkSent(settleCtx, job.ID, workerID, rec); err != nil {
		return p.settleError(log, job, err)
	}
	p.settled(ctx, job, rec, models.StatusSent, start)
	log.Info("notification sent", map[string]interface{}{
		"providerId":        rec.ProviderID,
		"providerMessageId": rec.ProviderMessageID,
	})
	return outcomeSent, nil
}

func (p *Processor) fail(ctx context.Context, log logger.Logger, job *models.NotificationJob, workerID string, rec models.AttemptRecord, start time.Time) (jobOutcome, error) {
	if rec.DurationMs == 0 {
		rec.DurationMs = time.Since(start).Milliseconds()
	}
	settleCtx, cancel := p.settleContext(ctx)
	defer cancel()

	if err := p.store.MarkFailed(settleCtx, job.ID, workerID, rec); err != nil {
		return p.settleError(log, job, err)
	}
	p.settled(ctx, job, rec, models.StatusFailed, start)
	log.Error("notification failed", map[string]interface{}{
		"outcome":   rec.Outcome,
		"errorCode": rec.ErrorCode,
		"detail":    rec.Detail,
	})
	return outcomeFailed, nil
}

func (p *Processor) retry(ctx context.Context, log logger.Logger, job *models.NotificationJob, workerID string, rec models.AttemptRecord, now, start time.Time) (jobOutcome, error) {
	delay := Backoff(job.RetryCount, p.cfg.BaseBackoff, p.cfg.MaxBackoff)
	next := now.Add(delay)

	settleCtx, cancel := p.settleContext(ctx)
	defer cancel()

	status, err := p.store.MarkRetry(settleCtx, job.ID, workerID, rec, next)
	if err != nil {
		return p.settleError(log, job, err)
	}
	p.settled(ctx, job, rec, status, start)

	if status == models.StatusFailed {
		log.Error("notification failed, retries exhausted", map[string]interface{}{
			"maxRetries": job.MaxRetries,
			"detail":     rec.Detail,
		})
		return outcomeFailed, nil
	}
	log.Warn("notification send failed, retry scheduled", map[string]interface{}{
		"detail":      rec.Detail,
		"nextAttempt": next,
		"backoffMs":   delay.Milliseconds(),
		"retriesLeft": job.MaxRetries - job.RetryCount - 1,
	})
	return outcomeRetried, nil
}

// deferJob returns a rate-limited job to pending at the start of the next
// one-minute window. No provider call was made, so retry_count is unchanged.
func (p *Processor) deferJob(ctx context.Context, log logger.Logger, job *models.NotificationJob, workerID string, rec models.AttemptRecord, now, start time.Time) (jobOutcome, error) {
	next := now.Truncate(time.Minute).Add(time.Minute)
	rec.DurationMs = time.Since(start).Milliseconds()

	settleCtx, cancel := p.settleContext(ctx)
	defer cancel()

	if err := p.store.MarkDeferred(settleCtx, job.ID, workerID, rec, next); err != nil {
		return p.settleError(log, job, err)
	}
	p.settled(ctx, job, rec, models.StatusPending, start)
	log.Warn("notification deferred by rate limit", map[string]interface{}{
		"detail":      rec.Detail,
		"nextAttempt": next,
	})
	return outcomeRetried, nil
}

func (p *Processor) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.SettleTimeout)
}

func (p *Processor) settleError(log logger.Logger, job *models.NotificationJob, err error) (jobOutcome, error) {
	if errors.Is(err, queue.ErrNotClaimed) {
		log.Warn("job no longer claimed by this worker, outcome not recorded", nil)
		metrics.JobsErrored.WithLabelValues(string(apperrors.ErrCodeJobNotClaimed)).Inc()
		return outcomeErrored, nil
	}
	log.WithError(err).Error("failed to settle job, leaving it claimed", nil)
	metrics.JobsErrored.WithLabelValues(string(apperrors.ErrCodeStoreUnavailable)).Inc()
	return outcomeErrored, fmt.Errorf("job %s: %w", job.ID, err)
}

func (p *Processor) settled(ctx context.Context, job *models.NotificationJob, rec models.AttemptRecord, status models.JobStatus, start time.Time) {
	metrics.JobsSettled.WithLabelValues(string(job.Channel), string(rec.Outcome)).Inc()
	p.obs.RecordJobDuration(ctx, time.Since(start), string(rec.Outcome))
	p.recorder.Record(ctx, job, rec, status)
}

func withError(rec models.AttemptRecord, outcome models.AttemptOutcome, err error) models.AttemptRecord {
	rec.Outcome = outcome
	rec.ErrorCode = string(apperrors.CodeOf(err))
	rec.Detail = err.Error()
	return rec
}
