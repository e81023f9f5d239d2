// internal/common/http/client.go
package http

import (
	"net/http"
	"time"
)

// NewClient returns an HTTP client with pooled connections sized for
// provider calls. Per-request deadlines come from the request context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
