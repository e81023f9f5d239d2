// internal/trigger/invoker.go
package trigger

import (
	"context"
	"os"
	"time"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/processor"

	"github.com/google/uuid"
)

const (
	SourceSchedule = "schedule"
	SourceHTTP     = "http"
	SourceZeebe    = "zeebe"
	SourceCLI      = "cli"
)

// Runner runs one processing pass.
type Runner interface {
	RunPass(ctx context.Context, now time.Time, batchSize int, workerID string) (processor.PassResult, error)
}

// Invocation is the outcome of one triggered pass.
type Invocation struct {
	WorkerID string               `json:"workerId"`
	Source   string               `json:"trigger"`
	Result   processor.PassResult `json:"result"`
	Duration time.Duration        `json:"-"`
}

// Invoker starts passes on behalf of every trigger. It owns no job state.
type Invoker struct {
	runner Runner
	logger logger.Logger
	now    func() time.Time
}

func NewInvoker(runner Runner, log logger.Logger) *Invoker {
	return &Invoker{
		runner: runner,
		logger: log.WithFields(map[string]interface{}{"component": "trigger"}),
		now:    time.Now,
	}
}

// Invoke runs a pass under a fresh worker id.
func (i *Invoker) Invoke(ctx context.Context, source string, batchSize int) (Invocation, error) {
	inv := Invocation{WorkerID: NewWorkerID(), Source: source}
	start := time.Now()

	result, err := i.runner.RunPass(ctx, i.now().UTC(), batchSize, inv.WorkerID)
	inv.Result = result
	inv.Duration = time.Since(start)
	metrics.PassDuration.WithLabelValues(source).Observe(inv.Duration.Seconds())

	if err != nil {
		i.logger.Error("pass finished with errors", map[string]interface{}{
			"trigger":  source,
			"workerId": inv.WorkerID,
			"errored":  result.Errored,
			"error":    err,
		})
	}
	return inv, err
}

// NewWorkerID returns "<hostname>-<uuid>".
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "notification-engine"
	}
	return host + "-" + uuid.NewString()
}
