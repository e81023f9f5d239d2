// internal/provider/twilio.go
package provider

import (
	"context"
	"errors"

	"notification-engine/internal/tenantconfig"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioService is the part of the Twilio REST API the adapter uses.
type TwilioService interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSMS sends SMS through the Twilio Messages API.
type TwilioSMS struct {
	newClient func(accountSID, authToken string) TwilioService
}

func NewTwilioSMS() *TwilioSMS {
	return &TwilioSMS{newClient: func(accountSID, authToken string) TwilioService {
		return twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}).Api
	}}
}

func NewTwilioSMSWithClient(svc TwilioService) *TwilioSMS {
	return &TwilioSMS{newClient: func(string, string) TwilioService { return svc }}
}

func (p *TwilioSMS) Send(_ context.Context, cfg tenantconfig.ProviderConfig, msg Message) Result {
	client := p.newClient(cfg.Credentials.AccountSID, cfg.Credentials.AuthToken)

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.Recipient)
	params.SetFrom(cfg.FromAddress)
	params.SetBody(msg.Body)

	// The Twilio client takes no context; the caller's send timeout bounds it.
	resp, err := client.CreateMessage(params)
	if err != nil {
		return classifyTwilioError(err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	return Delivered(sid)
}

func classifyTwilioError(err error) Result {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		if permanentHTTPStatus(restErr.Status) {
			return Permanent("twilio %d (code %d): %s", restErr.Status, restErr.Code, restErr.Message)
		}
		return Transient("twilio %d (code %d): %s", restErr.Status, restErr.Code, restErr.Message)
	}
	if res, ok := classifyNetError(err); ok {
		return res
	}
	return Transient("twilio: %v", err)
}
