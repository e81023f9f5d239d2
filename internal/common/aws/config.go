// internal/common/aws/config.go
package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Credentials are tenant-scoped AWS credentials. When the key pair is empty
// the default credential chain of the host is used.
type Credentials struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// LoadConfig builds an aws.Config for the given tenant credentials.
func LoadConfig(ctx context.Context, creds Credentials) (awssdk.Config, error) {
	if creds.Region == "" {
		return awssdk.Config{}, fmt.Errorf("aws region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(creds.Region)}
	if creds.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}
