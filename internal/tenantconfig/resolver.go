// internal/tenantconfig/resolver.go
package tenantconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/validation"
	"notification-engine/internal/models"
)

var (
	ErrNotConfigured   = errors.New("no active notification config")
	ErrAmbiguous       = errors.New("more than one active notification config")
	ErrTemplateMissing = errors.New("notification template missing")
	ErrInvalidConfig   = errors.New("invalid provider config")

	// ErrSourceUnavailable marks lookups that failed for infrastructure
	// reasons. These are not configuration errors.
	ErrSourceUnavailable = errors.New("tenant config source unavailable")
)

// Resolution is everything needed to send one job.
type Resolution struct {
	ConfigID   string
	ProviderID string
	Provider   ProviderConfig
	Template   models.Template
}

type Resolver struct {
	source Source
	logger logger.Logger
}

func NewResolver(source Source, log logger.Logger) *Resolver {
	return &Resolver{
		source: source,
		logger: log.WithFields(map[string]interface{}{"component": "tenant-config-resolver"}),
	}
}

// Resolve looks up the unique active config for (tenantID, channel), validates
// it against its provider schema and resolves the template for eventType.
// Configuration failures are *errors.StandardError values wrapping one of
// ErrNotConfigured, ErrAmbiguous, ErrTemplateMissing or ErrInvalidConfig.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, channel models.Channel, eventType string) (*Resolution, error) {
	configs, err := r.source.ActiveConfigs(ctx, tenantID, channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	switch len(configs) {
	case 0:
		return nil, apperrors.NewConfigNotConfiguredError(tenantID, string(channel)).WithCause(ErrNotConfigured)
	case 1:
	default:
		ids := make([]string, 0, len(configs))
		for _, c := range configs {
			ids = append(ids, c.ID)
		}
		r.logger.Warn("multiple active configs", map[string]interface{}{
			"tenantId":  tenantID,
			"channel":   channel,
			"configIds": ids,
		})
		return nil, apperrors.NewConfigAmbiguousError(tenantID, string(channel), len(configs)).
			WithCause(ErrAmbiguous).
			WithMetadata(map[string]interface{}{"configIds": ids})
	}

	active := configs[0]
	providerCfg, err := ParseProviderConfig(active.ProviderID, channel, active.Config)
	if err != nil {
		return nil, err
	}

	tmpl, err := r.source.Template(ctx, tenantID, channel, eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if tmpl == nil {
		return nil, apperrors.NewConfigTemplateMissingError(tenantID, string(channel), eventType).WithCause(ErrTemplateMissing)
	}

	r.logger.Debug("resolved tenant config", map[string]interface{}{
		"tenantId":   tenantID,
		"channel":    channel,
		"providerId": active.ProviderID,
		"configId":   active.ID,
		"templateId": tmpl.ID,
	})

	return &Resolution{
		ConfigID:   active.ID,
		ProviderID: active.ProviderID,
		Provider:   *providerCfg,
		Template:   *tmpl,
	}, nil
}

// ParseProviderConfig validates raw against the provider's closed schema and
// decodes it.
func ParseProviderConfig(providerID string, channel models.Channel, raw json.RawMessage) (*ProviderConfig, error) {
	spec, ok := providerSpecs[providerID]
	if !ok {
		return nil, invalid(providerID, fmt.Sprintf("unknown provider %q", providerID))
	}
	if spec.channel != channel {
		return nil, invalid(providerID, fmt.Sprintf("provider delivers %s, config is for %s", spec.channel, channel))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}

	result, err := validation.ValidateJSON(raw, spec.schema)
	if err != nil {
		return nil, invalid(providerID, err.Error())
	}
	if !result.Valid {
		return nil, invalid(providerID, result.Summary())
	}

	var cfg ProviderConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, invalid(providerID, err.Error())
	}
	cfg.ProviderID = providerID
	return &cfg, nil
}

func invalid(providerID, details string) error {
	return apperrors.NewConfigInvalidError(providerID, details).WithCause(ErrInvalidConfig)
}
