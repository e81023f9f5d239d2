// internal/trigger/zeebe.go
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const JobType = "notification-run-pass"

type ZeebeInput struct {
	BatchSize int `json:"batchSize"`
}

type ZeebeOutput struct {
	WorkerID  string `json:"workerId"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Retried   int    `json:"retried"`
	Failed    int    `json:"failed"`
	Errored   int    `json:"errored"`
}

// ZeebeHandler runs a pass for each activated workflow job and completes
// the job with the pass counts.
type ZeebeHandler struct {
	invoker      *Invoker
	errorHandler *apperrors.ErrorHandler
	timeout      time.Duration
	logger       logger.Logger
}

func NewZeebeHandler(invoker *Invoker, timeout time.Duration, log logger.Logger) *ZeebeHandler {
	l := log.WithFields(map[string]interface{}{"taskType": JobType})
	return &ZeebeHandler{
		invoker:      invoker,
		errorHandler: apperrors.NewErrorHandler(l),
		timeout:      timeout,
		logger:       l,
	}
}

func (h *ZeebeHandler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	input, err := parseInput(job.Variables)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return nil
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return nil
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("create complete job command: %w", err)
	}
	if _, err := cmd.Send(ctx); err != nil {
		return fmt.Errorf("send complete job command: %w", err)
	}
	return nil
}

// Execute runs one pass. Store faults surface as retryable STORE_UNAVAILABLE
// errors so the broker retries the job.
func (h *ZeebeHandler) Execute(ctx context.Context, input *ZeebeInput) (*ZeebeOutput, error) {
	if input == nil {
		input = &ZeebeInput{}
	}
	if input.BatchSize < 0 {
		return nil, apperrors.NewPayloadInvalidError(fmt.Sprintf("batchSize must not be negative, got %d", input.BatchSize))
	}

	inv, err := h.invoker.Invoke(ctx, SourceZeebe, input.BatchSize)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("run pass", err).
			WithMetadata(map[string]interface{}{"workerId": inv.WorkerID, "errored": inv.Result.Errored})
	}

	return &ZeebeOutput{
		WorkerID:  inv.WorkerID,
		Processed: inv.Result.Processed,
		Sent:      inv.Result.Sent,
		Retried:   inv.Result.Retried,
		Failed:    inv.Result.Failed,
		Errored:   inv.Result.Errored,
	}, nil
}

func parseInput(variables string) (*ZeebeInput, error) {
	var input ZeebeInput
	if strings.TrimSpace(variables) == "" {
		return &input, nil
	}
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewPayloadInvalidError(fmt.Sprintf("parse job variables: %v", err))
	}
	return &input, nil
}
