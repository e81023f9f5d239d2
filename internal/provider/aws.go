// internal/provider/aws.go
package provider

import (
	"errors"
	"sync"

	awsinfra "notification-engine/internal/common/aws"
	"notification-engine/internal/tenantconfig"

	"github.com/aws/smithy-go"
)

func awsTransientCode(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "Throttled", "TooManyRequests",
		"ServiceUnavailable", "InternalFailure", "InternalError", "KMSThrottling",
		"RequestTimeout", "RequestTimeoutException":
		return true
	}
	return false
}

// classifyAWSError maps SDK errors: throttling and server faults are
// transient, other client faults (rejected message, bad credentials,
// invalid parameters) are permanent.
func classifyAWSError(service string, err error) Result {
	if res, ok := classifyNetError(err); ok {
		return res
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if awsTransientCode(apiErr.ErrorCode()) || apiErr.ErrorFault() == smithy.FaultServer {
			return Transient("%s %s: %s", service, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return Permanent("%s %s: %s", service, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return Transient("%s: %v", service, err)
}

func awsCredentials(cfg tenantconfig.ProviderConfig) awsinfra.Credentials {
	return awsinfra.Credentials{
		Region:          cfg.Credentials.Region,
		AccessKeyID:     cfg.Credentials.AccessKeyID,
		SecretAccessKey: cfg.Credentials.SecretAccessKey,
	}
}

// clientCache keeps one SDK client per distinct tenant credential set.
type clientCache[T any] struct {
	mu      sync.Mutex
	clients map[awsinfra.Credentials]T
}

func (c *clientCache[T]) get(creds awsinfra.Credentials, build func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[creds]; ok {
		return client, nil
	}
	client, err := build()
	if err != nil {
		return client, err
	}
	if c.clients == nil {
		c.clients = make(map[awsinfra.Credentials]T)
	}
	c.clients[creds] = client
	return client, nil
}
