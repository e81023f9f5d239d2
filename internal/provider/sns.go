// internal/provider/sns.go
package provider

import (
	"context"

	awsinfra "notification-engine/internal/common/aws"
	"notification-engine/internal/tenantconfig"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSService is the part of the SNS client the adapter uses.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSMS sends transactional SMS through Amazon SNS.
type SNSSMS struct {
	newClient func(ctx context.Context, creds awsinfra.Credentials) (SNSService, error)
	cache     clientCache[SNSService]
}

func NewSNSSMS() *SNSSMS {
	return &SNSSMS{newClient: func(ctx context.Context, creds awsinfra.Credentials) (SNSService, error) {
		return awsinfra.NewSNSClient(ctx, creds)
	}}
}

func NewSNSSMSWithClient(svc SNSService) *SNSSMS {
	return &SNSSMS{newClient: func(context.Context, awsinfra.Credentials) (SNSService, error) { return svc, nil }}
}

func (p *SNSSMS) Send(ctx context.Context, cfg tenantconfig.ProviderConfig, msg Message) Result {
	creds := awsCredentials(cfg)
	client, err := p.cache.get(creds, func() (SNSService, error) { return p.newClient(ctx, creds) })
	if err != nil {
		return Permanent("sns client: %v", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if cfg.FromName != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(cfg.FromName)}
	}

	out, err := client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.Recipient),
		Message:           aws.String(msg.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return classifyAWSError("sns", err)
	}
	return Delivered(aws.ToString(out.MessageId))
}
