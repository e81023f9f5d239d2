package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"notification-engine/internal/common/config"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/queue"
	"notification-engine/internal/tenantconfig"
	"notification-engine/internal/trigger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const seedJSON = `{
  "configs": [
    {"tenantId": "T1", "channel": "webhook", "providerId": "webhook", "isActive": true,
     "config": {"endpoint": "https://hooks.example.test/n"}}
  ],
  "templates": [
    {"channel": "webhook", "eventType": "status_update", "body": "{{shipment_id}}"}
  ],
  "jobs": [
    {"id": "J1", "tenantId": "T1", "eventType": "status_update", "channel": "webhook",
     "payload": {"shipment_id": "SH-1"}},
    {"id": "J2", "tenantId": "T1", "eventType": "status_update", "channel": "webhook",
     "payload": {}, "maxRetries": 0, "scheduledFor": "2030-01-01T00:00:00Z"}
  ]
}`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	store := queue.NewMemoryStore()
	source := tenantconfig.NewMemorySource()

	require.NoError(t, LoadSeedFile(writeSeed(t, seedJSON), store, source, 5))

	j1, ok := store.Get("J1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, j1.Status)
	assert.Equal(t, 5, j1.MaxRetries)
	assert.WithinDuration(t, time.Now(), j1.ScheduledFor, time.Minute)

	j2, ok := store.Get("J2")
	require.True(t, ok)
	assert.Equal(t, 0, j2.MaxRetries)
	assert.Equal(t, 2030, j2.ScheduledFor.Year())

	configs, err := source.ActiveConfigs(context.Background(), "T1", models.ChannelWebhook)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.NotEmpty(t, configs[0].ID)

	tmpl, err := source.Template(context.Background(), "T1", models.ChannelWebhook, "status_update")
	require.NoError(t, err)
	require.NotNil(t, tmpl)
	assert.Equal(t, "{{shipment_id}}", tmpl.Body)
}

func TestApplySeed_Errors(t *testing.T) {
	negative := -1
	tests := []struct {
		name    string
		seed    Seed
		wantErr string
	}{
		{
			name:    "unknown channel",
			seed:    Seed{Jobs: []SeedJob{{ID: "J", Channel: "fax"}}},
			wantErr: "unknown channel",
		},
		{
			name:    "negative max retries",
			seed:    Seed{Jobs: []SeedJob{{ID: "J", Channel: models.ChannelEmail, MaxRetries: &negative}}},
			wantErr: "maxRetries must not be negative",
		},
		{
			name:    "duplicate id",
			seed:    Seed{Jobs: []SeedJob{{ID: "J", Channel: models.ChannelSMS}, {ID: "J", Channel: models.ChannelSMS}}},
			wantErr: "already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ApplySeed(tt.seed, queue.NewMemoryStore(), tenantconfig.NewMemorySource(), 5, time.Now())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSeedFile_Malformed(t *testing.T) {
	err := LoadSeedFile(writeSeed(t, `{"jobs": [`), queue.NewMemoryStore(), tenantconfig.NewMemorySource(), 5)
	assert.ErrorContains(t, err, "parse seed file")

	err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.json"), queue.NewMemoryStore(), tenantconfig.NewMemorySource(), 5)
	assert.ErrorContains(t, err, "read seed file")
}

func TestBuild_MemoryDriverRunsSeededPass(t *testing.T) {
	delivered := make(chan string, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		delivered <- string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	seed := strings.ReplaceAll(seedJSON, "https://hooks.example.test/n", ts.URL+"/n")
	cfg := &config.Config{
		Queue:     config.QueueConfig{Driver: config.DriverMemory, SeedFile: writeSeed(t, seed)},
		Processor: config.ProcessorConfig{BatchSize: 10, Concurrency: 2, BaseBackoffMs: 1000, MaxBackoffMs: 60000, SendTimeoutMs: 5000, DefaultMaxRetries: 3},
	}

	a, err := Build(context.Background(), cfg, logger.NewTestLogger(t), Options{})
	require.NoError(t, err)
	defer a.Close()
	assert.Empty(t, a.Checks)

	inv, err := a.Invoker.Invoke(context.Background(), "test", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.Result.Processed)
	assert.Equal(t, 1, inv.Result.Sent)

	require.Len(t, delivered, 1)
	assert.Contains(t, <-delivered, "SH-1")
}

func TestRetry(t *testing.T) {
	log := logger.NewTestLogger(t)
	opts := Options{ConnectAttempts: 3, RetryDelay: time.Millisecond}

	calls := 0
	err := retry(context.Background(), log, "flaky", opts, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retry(context.Background(), log, "down", opts, func() error {
		calls++
		return errors.New("connection refused")
	})
	assert.ErrorContains(t, err, "down failed after 3 attempts")
	assert.Equal(t, 3, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = retry(ctx, log, "cancelled", Options{ConnectAttempts: 5, RetryDelay: time.Hour}, func() error {
		return errors.New("connection refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_PermanentStopsEarly(t *testing.T) {
	calls := 0
	err := retry(context.Background(), logger.NewTestLogger(t), "auth", Options{ConnectAttempts: 5, RetryDelay: time.Hour}, func() error {
		calls++
		return permanent{errors.New("invalid credentials")}
	})
	assert.ErrorContains(t, err, "auth: invalid credentials")
	assert.Equal(t, 1, calls)
}

func TestStartZeebeTrigger_MissingBroker(t *testing.T) {
	a := &App{Checks: make(map[string]trigger.ReadinessCheck), logger: logger.NewTestLogger(t)}

	err := a.StartZeebeTrigger(context.Background(), &config.Config{}, Options{ConnectAttempts: 5, RetryDelay: time.Hour}, zap.NewNop())
	assert.ErrorContains(t, err, "broker address is required")
	assert.NotContains(t, a.Checks, "zeebe")
	assert.Empty(t, a.closers)
}

func TestClose_ReverseOrder(t *testing.T) {
	var order []string
	a := &App{closers: []func() error{
		func() error { order = append(order, "postgres"); return nil },
		func() error { order = append(order, "redis"); return errors.New("already closed") },
	}}

	err := a.Close()
	assert.ErrorContains(t, err, "already closed")
	assert.Equal(t, []string{"redis", "postgres"}, order)
	assert.NoError(t, a.Close())
}
