// internal/tenantconfig/providers.go
package tenantconfig

import (
	"notification-engine/internal/common/validation"
	"notification-engine/internal/models"
)

// Provider identifiers accepted in tenant_notification_configs.provider_id.
const (
	ProviderSMTP     = "smtp"
	ProviderSES      = "ses"
	ProviderPostmark = "postmark"
	ProviderSNS      = "sns"
	ProviderTwilio   = "twilio"
	ProviderWebhook  = "webhook"
)

// Credentials is the closed set of credential keys any provider may use.
// Each provider's schema narrows which of them are allowed and required.
type Credentials struct {
	Host            string `json:"host,omitempty"`
	Port            int    `json:"port,omitempty"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	ServerToken     string `json:"server_token,omitempty"`
	AccountSID      string `json:"account_sid,omitempty"`
	AuthToken       string `json:"auth_token,omitempty"`
	SigningSecret   string `json:"signing_secret,omitempty"`
}

// ProviderConfig is a validated tenant provider configuration.
type ProviderConfig struct {
	ProviderID         string      `json:"-"`
	FromAddress        string      `json:"from_address,omitempty"`
	FromName           string      `json:"from_name,omitempty"`
	Credentials        Credentials `json:"credentials"`
	Endpoint           string      `json:"endpoint,omitempty"`
	RateLimitPerMinute int         `json:"rateLimitPerMinute,omitempty"`
}

type providerSpec struct {
	channel models.Channel
	schema  validation.JSONSchema
}

var nonEmpty = validation.Int(1)

func credentialsSchema(required []string, props map[string]validation.Property) validation.Property {
	return validation.Property{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: validation.Bool(false),
	}
}

func providerSchema(required []string, props map[string]validation.Property) validation.JSONSchema {
	props["rateLimitPerMinute"] = validation.Property{Type: "integer", Minimum: validation.Float(0)}
	return validation.JSONSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: validation.Bool(false),
	}
}

func awsCredentials() validation.Property {
	return credentialsSchema([]string{"region"}, map[string]validation.Property{
		"region":            {Type: "string", MinLength: nonEmpty},
		"access_key_id":     {Type: "string", MinLength: nonEmpty},
		"secret_access_key": {Type: "string", MinLength: nonEmpty},
	})
}

var providerSpecs = map[string]providerSpec{
	ProviderSMTP: {
		channel: models.ChannelEmail,
		schema: providerSchema([]string{"from_address", "credentials"}, map[string]validation.Property{
			"from_address": {Type: "string", Format: "email"},
			"from_name":    {Type: "string"},
			"credentials": credentialsSchema([]string{"host", "port"}, map[string]validation.Property{
				"host":     {Type: "string", MinLength: nonEmpty},
				"port":     {Type: "integer", Minimum: validation.Float(1), Maximum: validation.Float(65535)},
				"username": {Type: "string"},
				"password": {Type: "string"},
			}),
		}),
	},
	ProviderSES: {
		channel: models.ChannelEmail,
		schema: providerSchema([]string{"from_address", "credentials"}, map[string]validation.Property{
			"from_address": {Type: "string", Format: "email"},
			"from_name":    {Type: "string"},
			"credentials":  awsCredentials(),
		}),
	},
	ProviderPostmark: {
		channel: models.ChannelEmail,
		schema: providerSchema([]string{"from_address", "credentials"}, map[string]validation.Property{
			"from_address": {Type: "string", Format: "email"},
			"from_name":    {Type: "string"},
			"credentials": credentialsSchema([]string{"server_token"}, map[string]validation.Property{
				"server_token": {Type: "string", MinLength: nonEmpty},
			}),
		}),
	},
	ProviderSNS: {
		channel: models.ChannelSMS,
		schema: providerSchema([]string{"credentials"}, map[string]validation.Property{
			"from_name":   {Type: "string", MaxLength: validation.Int(11), Description: "SMS sender ID"},
			"credentials": awsCredentials(),
		}),
	},
	ProviderTwilio: {
		channel: models.ChannelSMS,
		schema: providerSchema([]string{"from_address", "credentials"}, map[string]validation.Property{
			"from_address": {Type: "string", Pattern: validation.String(`^\+[1-9][0-9]{6,14}$`)},
			"credentials": credentialsSchema([]string{"account_sid", "auth_token"}, map[string]validation.Property{
				"account_sid": {Type: "string", MinLength: nonEmpty},
				"auth_token":  {Type: "string", MinLength: nonEmpty},
			}),
		}),
	},
	ProviderWebhook: {
		channel: models.ChannelWebhook,
		schema: providerSchema([]string{"endpoint"}, map[string]validation.Property{
			"endpoint": {Type: "string", Format: "uri"},
			"credentials": credentialsSchema(nil, map[string]validation.Property{
				"signing_secret": {Type: "string", MinLength: nonEmpty},
			}),
		}),
	},
}
