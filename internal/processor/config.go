// internal/processor/config.go
package processor

import (
	"time"

	"notification-engine/internal/common/config"
)

// Config controls a processing pass.
type Config struct {
	BatchSize       int
	Concurrency     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	SendTimeout     time.Duration
	SettleTimeout   time.Duration
	StaleClaimAfter time.Duration
}

func NewConfig(pc config.ProcessorConfig) Config {
	return Config{
		BatchSize:       pc.BatchSize,
		Concurrency:     pc.Concurrency,
		BaseBackoff:     config.GetDuration(pc.BaseBackoffMs),
		MaxBackoff:      config.GetDuration(pc.MaxBackoffMs),
		SendTimeout:     config.GetDuration(pc.SendTimeoutMs),
		SettleTimeout:   10 * time.Second,
		StaleClaimAfter: config.GetDuration(pc.StaleClaimMs),
	}
}

// DefaultConfig mirrors the loader defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     25,
		Concurrency:   4,
		BaseBackoff:   time.Minute,
		MaxBackoff:    time.Hour,
		SendTimeout:   10 * time.Second,
		SettleTimeout: 10 * time.Second,
	}
}
