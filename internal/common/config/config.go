// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Camunda   CamundaConfig   `mapstructure:"camunda"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CamundaConfig struct {
	BrokerAddress string `mapstructure:"broker_address"`
	MaxJobsActive int    `mapstructure:"max_jobs_active"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
}

// --- Engine Configuration ---

// QueueConfig selects the queue store backend.
type QueueConfig struct {
	Driver         string `mapstructure:"driver"` // "postgres" or "memory"
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
	SeedFile       string `mapstructure:"seed_file"` // memory driver only
}

// ProcessorConfig holds the per-pass processing settings.
type ProcessorConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	Concurrency       int `mapstructure:"concurrency"`
	BaseBackoffMs     int `mapstructure:"base_backoff_ms"`
	MaxBackoffMs      int `mapstructure:"max_backoff_ms"`
	SendTimeoutMs     int `mapstructure:"send_timeout_ms"`
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
	StaleClaimMs      int `mapstructure:"stale_claim_ms"` // 0 disables reclaim
}

// TriggerConfig holds the invocation surfaces.
type TriggerConfig struct {
	IntervalMs   int    `mapstructure:"interval_ms"` // 0 disables the periodic trigger
	HTTPAddress  string `mapstructure:"http_address"`
	ZeebeEnabled bool   `mapstructure:"zeebe_enabled"`
	ZeebeJobType string `mapstructure:"zeebe_job_type"`
}

// AuditConfig controls mirroring of attempt records to Elasticsearch.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
