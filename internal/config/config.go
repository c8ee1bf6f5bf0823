package config

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/utilitywarehouse/health-watcher/internal/constants"
	"github.com/utilitywarehouse/health-watcher/internal/model"
)

// EndpointConfig is a manually configured endpoint entry in the watcher config file
type EndpointConfig struct {
	Name string `mapstructure:"name"`
	URI  string `mapstructure:"uri"`
}

// WebhookConfig is a webhook entry in the watcher config file
type WebhookConfig struct {
	Name            string `mapstructure:"name"`
	URI             string `mapstructure:"uri"`
	Payload         string `mapstructure:"payload"`
	RestoredPayload string `mapstructure:"restoredPayload"`
}

// Config is the watcher configuration surface consumed by the core
type Config struct {
	EvaluationTimeInSeconds                   int              `mapstructure:"evaluationTimeInSeconds"`
	MinimumSecondsBetweenFailureNotifications int              `mapstructure:"minimumSecondsBetweenFailureNotifications"`
	MaximumHistoryEntriesPerEndpoint          int              `mapstructure:"maximumHistoryEntriesPerEndpoint"`
	HealthChecks                              []EndpointConfig `mapstructure:"healthChecks"`
	Webhooks                                  []WebhookConfig  `mapstructure:"webhooks"`
}

// Load reads the watcher config file, applies defaults and validates it. Invalid
// endpoint or webhook definitions are rejected here, before anything is persisted.
func Load(path string) (Config, error) {

	v := viper.New()
	v.SetDefault("evaluationTimeInSeconds", constants.DefaultEvaluationIntervalSecs)
	v.SetDefault("minimumSecondsBetweenFailureNotifications", constants.DefaultMinimumSecsBetweenFailureNotifications)
	v.SetDefault("maximumHistoryEntriesPerEndpoint", constants.DefaultMaximumHistoryEntriesPerEndpoint)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {

	if c.EvaluationTimeInSeconds <= 0 {
		return errors.New("evaluationTimeInSeconds must be greater than zero")
	}
	if c.MinimumSecondsBetweenFailureNotifications < 0 {
		return errors.New("minimumSecondsBetweenFailureNotifications must not be negative")
	}
	if c.MaximumHistoryEntriesPerEndpoint <= 0 {
		return errors.New("maximumHistoryEntriesPerEndpoint must be greater than zero")
	}

	seen := make(map[string]bool)
	for _, endpoint := range c.HealthChecks {
		if endpoint.Name == "" {
			return errors.New("health check endpoint is missing a name")
		}
		if seen[endpoint.Name] {
			return fmt.Errorf("duplicate health check endpoint name %q", endpoint.Name)
		}
		seen[endpoint.Name] = true
		if err := ValidateEndpointURI(endpoint.URI); err != nil {
			return errors.Wrapf(err, "health check endpoint %q", endpoint.Name)
		}
	}

	for _, webhook := range c.Webhooks {
		if webhook.Name == "" {
			return errors.New("webhook is missing a name")
		}
		if webhook.Payload == "" {
			return fmt.Errorf("webhook %q is missing a payload template", webhook.Name)
		}
		if err := ValidateEndpointURI(webhook.URI); err != nil {
			return errors.Wrapf(err, "webhook %q", webhook.Name)
		}
	}

	return nil
}

// ValidateEndpointURI checks that a uri is an absolute http or https URL
func ValidateEndpointURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return errors.Wrapf(err, "invalid uri %q", uri)
	}
	if !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("uri %q must be an absolute http(s) URL", uri)
	}
	if parsed.Host == "" {
		return fmt.Errorf("uri %q is missing a host", uri)
	}
	return nil
}

// ModelWebhooks converts the configured webhooks into their model form
func (c Config) ModelWebhooks() []model.Webhook {
	webhooks := make([]model.Webhook, 0, len(c.Webhooks))
	for _, w := range c.Webhooks {
		webhooks = append(webhooks, model.Webhook{
			Name:            w.Name,
			URI:             w.URI,
			Payload:         w.Payload,
			RestoredPayload: w.RestoredPayload,
		})
	}
	return webhooks
}
