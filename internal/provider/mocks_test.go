package provider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/mrz1836/postmark"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type MockPostmarkService struct {
	SendEmailFunc func(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

func (m *MockPostmarkService) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	return m.SendEmailFunc(ctx, email)
}

type MockTwilioService struct {
	CreateMessageFunc func(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

func (m *MockTwilioService) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	return m.CreateMessageFunc(params)
}
