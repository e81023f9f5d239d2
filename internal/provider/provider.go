// internal/provider/provider.go
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"notification-engine/internal/models"
	"notification-engine/internal/tenantconfig"
)

// ErrorKind decides whether a failed send is retried.
type ErrorKind string

const (
	// ErrorKindTransient covers network errors, timeouts, throttling and 5xx.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers invalid recipients, auth failures and other 4xx.
	ErrorKindPermanent ErrorKind = "permanent"
)

// Result is the outcome of a single provider call.
type Result struct {
	Success           bool
	ProviderMessageID string
	ErrorKind         ErrorKind
	ErrorDetail       string
}

func Delivered(messageID string) Result {
	return Result{Success: true, ProviderMessageID: messageID}
}

func Transient(format string, args ...interface{}) Result {
	return Result{ErrorKind: ErrorKindTransient, ErrorDetail: fmt.Sprintf(format, args...)}
}

func Permanent(format string, args ...interface{}) Result {
	return Result{ErrorKind: ErrorKindPermanent, ErrorDetail: fmt.Sprintf(format, args...)}
}

// Message is rendered content addressed to one recipient.
type Message struct {
	JobID     string
	TenantID  string
	EventType string
	Channel   models.Channel
	Recipient string
	Subject   string
	Body      string
	Payload   json.RawMessage
}

// Provider sends a message using a tenant's provider configuration. Failures
// are reported in the Result, never as panics or errors.
type Provider interface {
	Send(ctx context.Context, cfg tenantconfig.ProviderConfig, msg Message) Result
}

// Registry maps provider_id to its adapter.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// NewDefaultRegistry registers every built-in adapter with production clients.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(tenantconfig.ProviderSMTP, NewSMTPEmail())
	r.Register(tenantconfig.ProviderSES, NewSESEmail())
	r.Register(tenantconfig.ProviderPostmark, NewPostmarkEmail())
	r.Register(tenantconfig.ProviderSNS, NewSNSSMS())
	r.Register(tenantconfig.ProviderTwilio, NewTwilioSMS())
	r.Register(tenantconfig.ProviderWebhook, NewWebhook(nil))
	return r
}

func (r *Registry) Register(providerID string, p Provider) {
	r.providers[providerID] = p
}

func (r *Registry) Get(providerID string) (Provider, bool) {
	p, ok := r.providers[providerID]
	return p, ok
}

// classifyNetError maps context and network failures, which are always
// transient. It returns false when err is neither.
func classifyNetError(err error) (Result, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Transient("timed out: %v", err), true
	case errors.Is(err, context.Canceled):
		return Transient("cancelled: %v", err), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient("network error: %v", err), true
	}
	return Result{}, false
}

// permanentHTTPStatus reports whether an HTTP status will not change on retry.
func permanentHTTPStatus(status int) bool {
	if status >= 400 && status < 500 {
		switch status {
		case 408, 425, 429:
			return false
		default:
			return true
		}
	}
	return false
}
