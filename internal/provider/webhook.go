// internal/provider/webhook.go
package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	commonhttp "notification-engine/internal/common/http"
	"notification-engine/internal/tenantconfig"

	"github.com/google/uuid"
)

const (
	HeaderWebhookID        = "X-Webhook-ID"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderIdempotencyKey   = "Idempotency-Key"
)

// WebhookEnvelope is the JSON body POSTed to tenant endpoints.
type WebhookEnvelope struct {
	ID        string          `json:"id"`
	JobID     string          `json:"jobId"`
	TenantID  string          `json:"tenantId"`
	EventType string          `json:"eventType"`
	Subject   string          `json:"subject,omitempty"`
	Body      string          `json:"body"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SentAt    time.Time       `json:"sentAt"`
}

// Webhook POSTs a JSON envelope to the tenant's configured endpoint.
type Webhook struct {
	client *http.Client
	now    func() time.Time
}

// NewWebhook uses client, or a pooled default client when nil.
func NewWebhook(client *http.Client) *Webhook {
	if client == nil {
		client = commonhttp.NewClient(30 * time.Second)
	}
	return &Webhook{client: client, now: time.Now}
}

func (p *Webhook) Send(ctx context.Context, cfg tenantconfig.ProviderConfig, msg Message) Result {
	deliveryID := uuid.NewString()
	sentAt := p.now().UTC()

	body, err := json.Marshal(WebhookEnvelope{
		ID:        deliveryID,
		JobID:     msg.JobID,
		TenantID:  msg.TenantID,
		EventType: msg.EventType,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Payload:   msg.Payload,
		SentAt:    sentAt,
	})
	if err != nil {
		return Permanent("encode webhook body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent("build webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "notification-engine/1.0")
	req.Header.Set(HeaderWebhookID, deliveryID)
	req.Header.Set(HeaderIdempotencyKey, msg.JobID)
	if secret := cfg.Credentials.SigningSecret; secret != "" {
		ts := sentAt.Unix()
		req.Header.Set(HeaderWebhookTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderWebhookSignature, Sign(secret, ts, body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if res, ok := classifyNetError(err); ok {
			return res
		}
		return Transient("webhook: %v", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Delivered(deliveryID)
	}
	detail := fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	if permanentHTTPStatus(resp.StatusCode) {
		return Permanent("%s", detail)
	}
	return Transient("%s", detail)
}

// Sign returns hex(HMAC-SHA256(secret, "<timestamp>.<body>")).
func Sign(secret string, timestamp int64, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", timestamp)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
