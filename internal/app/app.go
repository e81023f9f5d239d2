// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notification-engine/internal/audit"
	"notification-engine/internal/common/camunda"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/database"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/observability"
	"notification-engine/internal/processor"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"
	"notification-engine/internal/ratelimit"
	"notification-engine/internal/tenantconfig"
	"notification-engine/internal/trigger"
	"notification-engine/migrations"

	"go.uber.org/zap"
)

// App holds the wired engine shared by the daemon and the run-pass tool.
type App struct {
	Processor *processor.Processor
	Invoker   *trigger.Invoker
	Checks    map[string]trigger.ReadinessCheck

	closers []func() error
	logger  logger.Logger
}

// Options tunes how dependencies are connected.
type Options struct {
	// ConnectAttempts bounds the startup retries per dependency.
	ConnectAttempts int
	RetryDelay      time.Duration
	Observability   *observability.Observability
}

// Build connects the configured store, config source, rate limiter and audit
// index and assembles the processor.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 1
	}
	if opts.Observability == nil {
		opts.Observability = observability.NewNoop()
	}

	a := &App{
		Checks: make(map[string]trigger.ReadinessCheck),
		logger: log,
	}

	store, source, err := a.buildStore(ctx, cfg, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	limiter, err := a.buildLimiter(ctx, cfg, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	recorder, err := a.buildRecorder(ctx, cfg, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Processor = processor.New(
		store,
		tenantconfig.NewResolver(source, log),
		provider.NewDefaultRegistry(),
		processor.NewConfig(cfg.Processor),
		log,
		processor.WithLimiter(limiter),
		processor.WithRecorder(recorder),
		processor.WithObservability(opts.Observability),
	)
	a.Invoker = trigger.NewInvoker(a.Processor, log)
	return a, nil
}

func (a *App) buildStore(ctx context.Context, cfg *config.Config, opts Options) (queue.Store, tenantconfig.Source, error) {
	if cfg.Queue.Driver == config.DriverMemory {
		store := queue.NewMemoryStore()
		source := tenantconfig.NewMemorySource()
		if cfg.Queue.SeedFile != "" {
			if err := LoadSeedFile(cfg.Queue.SeedFile, store, source, cfg.Processor.DefaultMaxRetries); err != nil {
				return nil, nil, err
			}
		}
		a.logger.Warn("using in-memory queue store, state is lost on exit", map[string]interface{}{"seedFile": cfg.Queue.SeedFile})
		return store, source, nil
	}

	var pg *database.PostgresClient
	err := retry(ctx, a.logger, "PostgreSQL connection", opts, func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, pg.Close)
	a.Checks["postgres"] = pg.Ping
	a.logger.Info("PostgreSQL connected successfully", nil)

	if cfg.Queue.MigrateOnStart {
		if err := database.Migrate(ctx, pg.DB, migrations.FS, a.logger); err != nil {
			return nil, nil, err
		}
	}

	return queue.NewPostgresStore(pg.DB), tenantconfig.NewPostgresSource(pg.DB), nil
}

func (a *App) buildLimiter(ctx context.Context, cfg *config.Config, opts Options) (ratelimit.Limiter, error) {
	if cfg.Database.Redis.Address == "" {
		a.logger.Warn("redis not configured, rateLimitPerMinute is not enforced", nil)
		return ratelimit.NoopLimiter{}, nil
	}

	var rdb *database.RedisClient
	err := retry(ctx, a.logger, "Redis connection", opts, func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		if err := rdb.Ping(ctx); err != nil {
			rdb.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	a.Checks["redis"] = rdb.Ping
	a.logger.Info("Redis connected successfully", nil)

	return ratelimit.NewRedisLimiter(rdb.Client, ratelimit.WithPrefix(cfg.App.Name+":ratelimit")), nil
}

func (a *App) buildRecorder(ctx context.Context, cfg *config.Config, opts Options) (audit.Recorder, error) {
	if !cfg.Audit.Enabled {
		return audit.NoopRecorder{}, nil
	}

	var es *database.ElasticsearchClient
	err := retry(ctx, a.logger, "Elasticsearch connection", opts, func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	})
	if err != nil {
		return nil, err
	}
	a.Checks["elasticsearch"] = es.Ping
	a.logger.Info("Elasticsearch connected successfully", nil)

	return audit.NewElasticsearchIndexer(es.Client, cfg.Audit.Index, a.logger), nil
}

// StartZeebeTrigger connects to the broker and opens the run-pass job
// worker. Broker errors that do not look transient stop the retries early.
func (a *App) StartZeebeTrigger(ctx context.Context, cfg *config.Config, opts Options, zapLog *zap.Logger) error {
	var client *camunda.Client
	err := retry(ctx, a.logger, "Zeebe client initialization", opts, func() error {
		var err error
		client, err = camunda.NewClient(ctx, cfg.Camunda)
		if err != nil && !camunda.IsRetryableError(err) {
			return permanent{err}
		}
		return err
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)
	a.Checks["zeebe"] = client.HealthCheck
	a.logger.Info("Zeebe client connected successfully", nil)

	timeout := config.GetDuration(cfg.Camunda.Timeout)
	jobWorker := camunda.NewJobWorker(
		client.GetClient(),
		cfg.Trigger.ZeebeJobType,
		cfg.Camunda.MaxJobsActive,
		timeout,
		trigger.NewZeebeHandler(a.Invoker, timeout, a.logger),
		zapLog,
	)
	a.closers = append(a.closers, func() error {
		jobWorker.Stop()
		return nil
	})
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// retry attempts operation with exponential backoff until it succeeds,
// attempts run out or ctx is done.
func retry(ctx context.Context, log logger.Logger, operationName string, opts Options, operation func() error) error {
	var err error
	delay := opts.RetryDelay

	for i := 0; i < opts.ConnectAttempts; i++ {
		err = operation()
		if err == nil {
			return nil
		}
		var p permanent
		if errors.As(err, &p) {
			return fmt.Errorf("%s: %w", operationName, p.err)
		}

		if i < opts.ConnectAttempts-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  opts.ConnectAttempts,
				"nextRetryIn": delay.String(),
			})
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", operationName, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, opts.ConnectAttempts, err)
}

// permanent marks an error that retrying will not fix.
type permanent struct {
	err error
}

func (p permanent) Error() string { return p.err.Error() }
