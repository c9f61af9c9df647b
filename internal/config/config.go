package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Dump renders the effective configuration as YAML with credentials
// masked, for startup logging.
func (c *Config) Dump() (string, error) {
	masked := *c
	if masked.Broker.Password != "" {
		masked.Broker.Password = "***"
	}
	if masked.Broker.ClientSecret != "" {
		masked.Broker.ClientSecret = "***"
	}
	out, err := yaml.Marshal(dumpView(&masked))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// dumpView rebuilds the config as nested maps keyed the way the YAML
// file spells them, since the struct tags are consumed by mapstructure.
func dumpView(c *Config) map[string]any {
	return map[string]any{
		"app": map[string]any{
			"env":       c.App.Env,
			"log_level": c.App.LogLevel,
			"http_addr": c.App.HTTPAddr,
			"log_path":  c.App.LogPath,
		},
		"broker": map[string]any{
			"api_url":         c.Broker.APIURL,
			"username":        c.Broker.Username,
			"password":        c.Broker.Password,
			"app_id":          c.Broker.AppID,
			"timeout_seconds": c.Broker.TimeoutSeconds,
		},
		"gate": map[string]any{
			"min_interval_ms":    c.Gate.MinIntervalMS,
			"max_attempts":       c.Gate.MaxAttempts,
			"backoff_base_ms":    c.Gate.BackoffBaseMS,
			"captcha_penalty_ms": c.Gate.CaptchaPenaltyMS,
			"healthy_queue_max":  c.Gate.HealthyQueueMax,
		},
		"polling": map[string]any{
			"critical_positions":   c.Polling.CriticalPositions,
			"critical_orders":      c.Polling.CriticalOrders,
			"override_duration_ms": c.Polling.OverrideDurationMS,
		},
		"cache": map[string]any{
			"db_path":        c.Cache.DBPath,
			"stale_after_ms": c.Cache.StaleAfterMS,
		},
	}
}
