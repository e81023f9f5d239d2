// internal/common/aws/ses.go
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ses"
)

// NewSESClient creates an SES client bound to the tenant's credentials.
func NewSESClient(ctx context.Context, creds Credentials) (*ses.Client, error) {
	cfg, err := LoadConfig(ctx, creds)
	if err != nil {
		return nil, err
	}
	return ses.NewFromConfig(cfg), nil
}
