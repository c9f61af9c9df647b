package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate performs basic sanity checks on the loaded configuration.
func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Gate.validate(); err != nil {
		return err
	}
	if err := c.Polling.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	raw := strings.TrimSpace(b.APIURL)
	if raw == "" {
		return fmt.Errorf("broker.api_url cannot be empty")
	}
	if _, err := url.Parse(raw); err != nil {
		return fmt.Errorf("broker.api_url is not a valid URL: %w", err)
	}
	if strings.TrimSpace(b.Username) == "" {
		return fmt.Errorf("broker.username cannot be empty")
	}
	return nil
}

func (g *GateConfig) validate() error {
	if g.MaxAttempts > 10 {
		return fmt.Errorf("gate.max_attempts must be <= 10 (got %d)", g.MaxAttempts)
	}
	return nil
}

func (p *PollingConfig) validate() error {
	for name, m := range map[string]ModeIntervals{
		"polling.idle":     p.Idle,
		"polling.active":   p.Active,
		"polling.critical": p.Critical,
	} {
		if m.BalanceMS <= 0 || m.PositionsMS <= 0 || m.OrdersMS <= 0 {
			return fmt.Errorf("%s intervals must be positive", name)
		}
	}
	return nil
}
