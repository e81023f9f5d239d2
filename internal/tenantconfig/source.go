// internal/tenantconfig/source.go
package tenantconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"notification-engine/internal/models"
)

// Source reads tenant configuration rows. Implementations must be safe for
// concurrent use and free of side effects.
type Source interface {
	// ActiveConfigs returns every active config for (tenantID, channel).
	ActiveConfigs(ctx context.Context, tenantID string, channel models.Channel) ([]models.TenantNotificationConfig, error)
	// Template returns the tenant template for the event type, falling back
	// to the global default. It returns nil, nil when neither exists.
	Template(ctx context.Context, tenantID string, channel models.Channel, eventType string) (*models.Template, error)
}

const activeConfigsQuery = `
SELECT id, tenant_id, channel, provider_id, config, is_active, created_at
FROM tenant_notification_configs
WHERE tenant_id = $1 AND channel = $2 AND is_active
ORDER BY created_at DESC`

const templateQuery = `
SELECT id, COALESCE(tenant_id, ''), channel, event_type, subject, body
FROM notification_templates
WHERE channel = $2 AND event_type = $3 AND (tenant_id = $1 OR tenant_id IS NULL)
ORDER BY tenant_id NULLS LAST
LIMIT 1`

type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) ActiveConfigs(ctx context.Context, tenantID string, channel models.Channel) ([]models.TenantNotificationConfig, error) {
	rows, err := s.db.QueryContext(ctx, activeConfigsQuery, tenantID, string(channel))
	if err != nil {
		return nil, fmt.Errorf("query active configs: %w", err)
	}
	defer rows.Close()

	var configs []models.TenantNotificationConfig
	for rows.Next() {
		var (
			c  models.TenantNotificationConfig
			ch string
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &ch, &c.ProviderID, &c.Config, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		c.Channel = models.Channel(ch)
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate configs: %w", err)
	}
	return configs, nil
}

func (s *PostgresSource) Template(ctx context.Context, tenantID string, channel models.Channel, eventType string) (*models.Template, error) {
	var (
		t  models.Template
		ch string
	)
	err := s.db.QueryRowContext(ctx, templateQuery, tenantID, string(channel), eventType).
		Scan(&t.ID, &t.TenantID, &ch, &t.EventType, &t.Subject, &t.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	t.Channel = models.Channel(ch)
	return &t, nil
}

// MemorySource is an in-process Source used by the memory queue driver and tests.
type MemorySource struct {
	mu        sync.RWMutex
	configs   []models.TenantNotificationConfig
	templates []models.Template
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

func (s *MemorySource) AddConfig(c models.TenantNotificationConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, c)
}

func (s *MemorySource) AddTemplate(t models.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, t)
}

func (s *MemorySource) ActiveConfigs(ctx context.Context, tenantID string, channel models.Channel) ([]models.TenantNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TenantNotificationConfig
	for _, c := range s.configs {
		if c.IsActive && c.TenantID == tenantID && c.Channel == channel {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *MemorySource) Template(ctx context.Context, tenantID string, channel models.Channel, eventType string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var global *models.Template
	for i := range s.templates {
		t := s.templates[i]
		if t.Channel != channel || t.EventType != eventType {
			continue
		}
		if t.TenantID == tenantID {
			return &t, nil
		}
		if t.TenantID == "" && global == nil {
			global = &t
		}
	}
	return global, nil
}
