// internal/common/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a standardized error code.
type ErrorCode string

const (
	ErrCodeConfigNotConfigured   ErrorCode = "CONFIG_NOT_CONFIGURED"
	ErrCodeConfigAmbiguous       ErrorCode = "CONFIG_AMBIGUOUS"
	ErrCodeConfigTemplateMissing ErrorCode = "CONFIG_TEMPLATE_MISSING"
	ErrCodeConfigInvalid         ErrorCode = "CONFIG_INVALID"

	ErrCodeProviderTransient ErrorCode = "PROVIDER_TRANSIENT"
	ErrCodeProviderPermanent ErrorCode = "PROVIDER_PERMANENT"

	ErrCodePayloadInvalid ErrorCode = "PAYLOAD_INVALID"

	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeJobNotClaimed    ErrorCode = "JOB_NOT_CLAIMED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError is the internal error shape carried through job settlement.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

// Unwrap exposes the sentinel or underlying cause for errors.Is.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error and returns the receiver.
func (e *StandardError) WithCause(err error) *StandardError {
	e.cause = err
	return e
}

// WithMetadata merges metadata and returns the receiver.
func (e *StandardError) WithMetadata(fields map[string]interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		e.Metadata[k] = v
	}
	return e
}

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewConfigNotConfiguredError(tenantID, channel string) *StandardError {
	return newError(ErrCodeConfigNotConfigured,
		"No active notification configuration",
		fmt.Sprintf("tenantId: %s, channel: %s", tenantID, channel), false)
}

func NewConfigAmbiguousError(tenantID, channel string, active int) *StandardError {
	return newError(ErrCodeConfigAmbiguous,
		"Multiple active notification configurations",
		fmt.Sprintf("tenantId: %s, channel: %s, active: %d", tenantID, channel, active), false)
}

func NewConfigTemplateMissingError(tenantID, channel, eventType string) *StandardError {
	return newError(ErrCodeConfigTemplateMissing,
		"Template not found for event type",
		fmt.Sprintf("tenantId: %s, channel: %s, eventType: %s", tenantID, channel, eventType), false)
}

func NewConfigInvalidError(providerID, details string) *StandardError {
	return newError(ErrCodeConfigInvalid,
		"Invalid provider configuration",
		fmt.Sprintf("provider: %s, %s", providerID, details), false)
}

func NewPayloadInvalidError(details string) *StandardError {
	return newError(ErrCodePayloadInvalid, "Job payload cannot be rendered", details, false)
}

func NewStoreUnavailableError(operation string, err error) *StandardError {
	return newError(ErrCodeStoreUnavailable,
		"Queue store operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true).WithCause(err)
}

// Normalize converts any error into a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false).WithCause(err)
}

// CodeOf returns the code of a StandardError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsConfigurationError reports whether err carries one of the CONFIG_* codes.
func IsConfigurationError(err error) bool {
	return GetErrorCategory(CodeOf(err)) == "CONFIGURATION"
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "CONFIG_"):
		return "CONFIGURATION"
	case strings.HasPrefix(codeStr, "PROVIDER_"):
		return "PROVIDER"
	case strings.HasPrefix(codeStr, "PAYLOAD_"):
		return "PAYLOAD"
	case strings.HasPrefix(codeStr, "STORE_") || code == ErrCodeJobNotClaimed:
		return "STORE"
	default:
		return "OTHER"
	}
}
