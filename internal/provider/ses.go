// internal/provider/ses.go
package provider

import (
	"context"
	"net/mail"

	awsinfra "notification-engine/internal/common/aws"
	"notification-engine/internal/tenantconfig"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the part of the SES client the adapter uses.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmail sends email through Amazon SES with tenant credentials.
type SESEmail struct {
	newClient func(ctx context.Context, creds awsinfra.Credentials) (SESService, error)
	cache     clientCache[SESService]
}

func NewSESEmail() *SESEmail {
	return &SESEmail{newClient: func(ctx context.Context, creds awsinfra.Credentials) (SESService, error) {
		return awsinfra.NewSESClient(ctx, creds)
	}}
}

// NewSESEmailWithClient uses svc for every tenant.
func NewSESEmailWithClient(svc SESService) *SESEmail {
	return &SESEmail{newClient: func(context.Context, awsinfra.Credentials) (SESService, error) { return svc, nil }}
}

func (p *SESEmail) Send(ctx context.Context, cfg tenantconfig.ProviderConfig, msg Message) Result {
	creds := awsCredentials(cfg)
	client, err := p.cache.get(creds, func() (SESService, error) { return p.newClient(ctx, creds) })
	if err != nil {
		return Permanent("ses client: %v", err)
	}

	from := (&mail.Address{Name: cfg.FromName, Address: cfg.FromAddress}).String()
	out, err := client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(from),
		Destination: &types.Destination{ToAddresses: []string{msg.Recipient}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return classifyAWSError("ses", err)
	}
	return Delivered(aws.ToString(out.MessageId))
}
