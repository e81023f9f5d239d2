// internal/audit/indexer.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

// Recorder receives every attempt record after it has been stored.
type Recorder interface {
	Record(ctx context.Context, job *models.NotificationJob, rec models.AttemptRecord, status models.JobStatus)
}

// AttemptDocument is the search document for one execution_log entry.
type AttemptDocument struct {
	JobID     string         `json:"jobId"`
	TenantID  string         `json:"tenantId"`
	EventType string         `json:"eventType"`
	Channel   models.Channel `json:"channel"`
	Status    string         `json:"status"`
	models.AttemptRecord
}

// ElasticsearchIndexer mirrors attempt records into an index. Failures are
// logged only; the queue store stays the source of truth.
type ElasticsearchIndexer struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	logger  logger.Logger
}

func NewElasticsearchIndexer(client *elasticsearch.Client, index string, log logger.Logger) *ElasticsearchIndexer {
	return &ElasticsearchIndexer{
		client:  client,
		index:   index,
		timeout: 5 * time.Second,
		logger:  log.WithFields(map[string]interface{}{"component": "audit-indexer", "index": index}),
	}
}

func (i *ElasticsearchIndexer) Record(ctx context.Context, job *models.NotificationJob, rec models.AttemptRecord, status models.JobStatus) {
	if err := i.Index(ctx, job, rec, status); err != nil {
		i.logger.Warn("failed to index attempt record", map[string]interface{}{
			"jobId":   job.ID,
			"attempt": rec.Attempt,
			"error":   err,
		})
	}
}

// Index writes one document. The document ID is derived from the job and
// attempt so re-indexing the same record overwrites it.
func (i *ElasticsearchIndexer) Index(ctx context.Context, job *models.NotificationJob, rec models.AttemptRecord, status models.JobStatus) error {
	body, err := json.Marshal(AttemptDocument{
		JobID:         job.ID,
		TenantID:      job.TenantID,
		EventType:     job.EventType,
		Channel:       job.Channel,
		Status:        string(status),
		AttemptRecord: rec,
	})
	if err != nil {
		return fmt.Errorf("encode attempt document: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	res, err := i.client.Index(
		i.index,
		bytes.NewReader(body),
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(DocumentID(job.ID, rec)),
	)
	if err != nil {
		return fmt.Errorf("index attempt: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index attempt: %s: %s", res.Status(), msg)
	}
	return nil
}

func DocumentID(jobID string, rec models.AttemptRecord) string {
	return jobID + "-" + strconv.Itoa(rec.Attempt) + "-" + string(rec.Outcome) + "-" + strconv.FormatInt(rec.Timestamp.UnixNano(), 10)
}

// NoopRecorder discards records.
type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, *models.NotificationJob, models.AttemptRecord, models.JobStatus) {
}
