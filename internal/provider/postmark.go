// internal/provider/postmark.go
package provider

import (
	"context"
	"errors"
	"net/mail"

	"notification-engine/internal/tenantconfig"

	"github.com/mrz1836/postmark"
)

// PostmarkService is the part of the Postmark client the adapter uses.
type PostmarkService interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Postmark API error codes that clear up on their own.
const postmarkMaintenance = 100

// PostmarkEmail sends email through the Postmark transactional API.
type PostmarkEmail struct {
	newClient func(serverToken string) PostmarkService
}

func NewPostmarkEmail() *PostmarkEmail {
	return &PostmarkEmail{newClient: func(serverToken string) PostmarkService {
		return postmark.NewClient(serverToken, "")
	}}
}

func NewPostmarkEmailWithClient(svc PostmarkService) *PostmarkEmail {
	return &PostmarkEmail{newClient: func(string) PostmarkService { return svc }}
}

func (p *PostmarkEmail) Send(ctx context.Context, cfg tenantconfig.ProviderConfig, msg Message) Result {
	client := p.newClient(cfg.Credentials.ServerToken)

	resp, err := client.SendEmail(ctx, postmark.Email{
		From:       (&mail.Address{Name: cfg.FromName, Address: cfg.FromAddress}).String(),
		To:         msg.Recipient,
		Subject:    msg.Subject,
		TextBody:   msg.Body,
		Tag:        msg.EventType,
		TrackOpens: true,
	})
	var apiErr postmark.APIError
	switch {
	case errors.As(err, &apiErr):
		return classifyPostmarkError(apiErr.ErrorCode, apiErr.Message)
	case resp.ErrorCode != 0:
		return classifyPostmarkError(resp.ErrorCode, resp.Message)
	case err != nil:
		if res, ok := classifyNetError(err); ok {
			return res
		}
		return Transient("postmark: %v", err)
	}
	return Delivered(resp.MessageID)
}

// classifyPostmarkError maps a Postmark API error code. A zero code comes
// from an error body without one, usually a 5xx from a proxy.
func classifyPostmarkError(code int64, message string) Result {
	switch code {
	case 0, postmarkMaintenance:
		return Transient("postmark error %d: %s", code, message)
	default:
		// invalid request, inactive recipient, bad token, unverified sender
		return Permanent("postmark error %d: %s", code, message)
	}
}
