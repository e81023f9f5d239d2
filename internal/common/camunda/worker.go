// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"
)

// JobHandler handles a single activated Zeebe job. The handler completes or
// fails the job itself; a returned error is only logged.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job) error
}

type JobWorker struct {
	worker  worker.JobWorker
	logger  *zap.Logger
	jobType string
}

// NewJobWorker opens a job worker for jobType on client.
func NewJobWorker(
	client zbc.Client,
	jobType string,
	maxJobsActive int,
	timeout time.Duration,
	handler JobHandler,
	logger *zap.Logger,
) *JobWorker {
	jobWorker := client.NewJobWorker().
		JobType(jobType).
		Handler(func(client worker.JobClient, job entities.Job) {
			if err := handler.Handle(client, job); err != nil {
				logger.Error("job handler returned error", zap.Error(err), zap.Int64("jobKey", job.Key))
			}
		}).
		MaxJobsActive(maxJobsActive).
		Timeout(timeout).
		Open()

	logger.Info("zeebe job worker started", zap.String("jobType", jobType))
	return &JobWorker{worker: jobWorker, logger: logger, jobType: jobType}
}

func (w *JobWorker) Stop() {
	w.logger.Info("stopping zeebe job worker", zap.String("jobType", w.jobType))
	w.worker.Close()
	w.worker.AwaitClose()
}
