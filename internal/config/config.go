package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CarrierCredentials holds outbound telephony auth for one provider,
// resolved from environment/vault at process start. Mirrors the
// teacher's vault-credential-map pattern (internal/telephony/{twilio,
// vonage}) but flattened to concrete fields instead of a map[string]any.
type CarrierCredentials struct {
	Provider      string `mapstructure:"provider"`
	AccountSID    string `mapstructure:"account_sid"`
	AuthToken     string `mapstructure:"auth_token"`
	ApplicationID string `mapstructure:"application_id"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
}

// Settings is the process-wide configuration surface (spec.md §6.5).
type Settings struct {
	UpstreamAPIKey      string `mapstructure:"upstream_api_key"`
	UpstreamModel       string `mapstructure:"upstream_model"`
	UpstreamVoiceID     string `mapstructure:"upstream_voice_id"`
	WebhookBaseURL      string `mapstructure:"webhook_base_url"`
	QualityAlertWebhook string `mapstructure:"quality_alert_webhook"`

	HTTPAddr    string `mapstructure:"http_addr"`
	DatabaseDSN string `mapstructure:"database_dsn"`
	DatabaseDriver string `mapstructure:"database_driver"`
	RedisAddr   string `mapstructure:"redis_addr"`

	Twilio CarrierCredentials `mapstructure:"twilio"`
	Vonage CarrierCredentials `mapstructure:"vonage"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// Defaults matching spec.md §6.5 ("model id (default: a Flash-class
// audio dialog model), voice id (default Aoede)").
const (
	DefaultUpstreamModel   = "models/gemini-2.0-flash-live-001"
	DefaultUpstreamVoiceID = "Aoede"
	DefaultHTTPAddr        = ":8080"
)

var validate = validator.New()

// Load reads configuration from environment variables (prefixed
// VOICEBRIDGE_) and an optional config file, applying defaults.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("voicebridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees env vars for keys viper knows, so bind them all.
	for _, key := range []string{
		"upstream_api_key", "upstream_model", "upstream_voice_id", "webhook_base_url", "quality_alert_webhook",
		"http_addr", "database_dsn", "database_driver", "redis_addr", "log_level", "log_file",
		"twilio.provider", "twilio.account_sid", "twilio.auth_token", "twilio.application_id", "twilio.private_key_pem",
		"vonage.provider", "vonage.account_sid", "vonage.auth_token", "vonage.application_id", "vonage.private_key_pem",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("upstream_model", DefaultUpstreamModel)
	v.SetDefault("upstream_voice_id", DefaultUpstreamVoiceID)
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("log_level", "info")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var s Settings
	decoderOpts := func(c *mapstructure.DecoderConfig) { c.TagName = "mapstructure" }
	if err := v.Unmarshal(&s, decoderOpts); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if s.UpstreamAPIKey == "" {
		return nil, fmt.Errorf("config: upstream_api_key is required")
	}
	return &s, nil
}

// ValidateAgentConfig runs struct-tag validation (required/non-empty
// fields) in addition to the explicit Clamp/Validate pair above.
func ValidateAgentConfig(ac *AgentConfig) error {
	ac.Clamp()
	if err := validate.Struct(ac); err != nil {
		return fmt.Errorf("config: agent config validation: %w", err)
	}
	return ac.Validate()
}

// DecodeAgentConfig decodes a loosely-typed map (e.g. from a JSON/DB row)
// into an AgentConfig, following the teacher's
// internal_transformer_google option-map-driven construction pattern.
func DecodeAgentConfig(raw map[string]interface{}) (*AgentConfig, error) {
	var ac AgentConfig
	if err := mapstructure.Decode(raw, &ac); err != nil {
		return nil, fmt.Errorf("config: decode agent config: %w", err)
	}
	if err := ValidateAgentConfig(&ac); err != nil {
		return nil, err
	}
	return &ac, nil
}
