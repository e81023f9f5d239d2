// internal/common/aws/sns.go
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// NewSNSClient creates an SNS client bound to the tenant's credentials.
func NewSNSClient(ctx context.Context, creds Credentials) (*sns.Client, error) {
	cfg, err := LoadConfig(ctx, creds)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg), nil
}
