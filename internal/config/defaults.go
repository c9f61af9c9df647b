package config

import "time"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9981"

	defaultBrokerTimeout = 15

	defaultGateMinIntervalMS    = 1500
	defaultGateMaxAttempts      = 3
	defaultGateBackoffBaseMS    = 2000
	defaultGateCaptchaPenaltyMS = 3600000
	defaultGateHealthyQueueMax  = 10

	defaultCriticalPositions  = 2
	defaultCriticalOrders     = 3
	defaultOverrideDurationMS = 600000

	defaultCacheDBPath       = "/data/db/ftbridge.db"
	defaultCacheStaleAfterMS = 600000
)

var (
	defaultIdleIntervals     = ModeIntervals{BalanceMS: 300000, PositionsMS: 120000, OrdersMS: 120000}
	defaultActiveIntervals   = ModeIntervals{BalanceMS: 60000, PositionsMS: 15000, OrdersMS: 10000}
	defaultCriticalIntervals = ModeIntervals{BalanceMS: 30000, PositionsMS: 5000, OrdersMS: 5000}
)

// applyDefaults fills zero-valued fields for every sub-config.
func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Broker.applyDefaults()
	c.Gate.applyDefaults()
	c.Polling.applyDefaults()
	c.Cache.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (b *BrokerConfig) applyDefaults() {
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = defaultBrokerTimeout
	}
}

func (g *GateConfig) applyDefaults() {
	if g.MinIntervalMS <= 0 {
		g.MinIntervalMS = defaultGateMinIntervalMS
	}
	if g.MaxAttempts <= 0 {
		g.MaxAttempts = defaultGateMaxAttempts
	}
	if g.BackoffBaseMS <= 0 {
		g.BackoffBaseMS = defaultGateBackoffBaseMS
	}
	if g.CaptchaPenaltyMS <= 0 {
		g.CaptchaPenaltyMS = defaultGateCaptchaPenaltyMS
	}
	if g.HealthyQueueMax <= 0 {
		g.HealthyQueueMax = defaultGateHealthyQueueMax
	}
}

func (m *ModeIntervals) applyDefaults(fallback ModeIntervals) {
	if m.BalanceMS <= 0 {
		m.BalanceMS = fallback.BalanceMS
	}
	if m.PositionsMS <= 0 {
		m.PositionsMS = fallback.PositionsMS
	}
	if m.OrdersMS <= 0 {
		m.OrdersMS = fallback.OrdersMS
	}
}

func (p *PollingConfig) applyDefaults() {
	p.Idle.applyDefaults(defaultIdleIntervals)
	p.Active.applyDefaults(defaultActiveIntervals)
	p.Critical.applyDefaults(defaultCriticalIntervals)
	if p.CriticalPositions <= 0 {
		p.CriticalPositions = defaultCriticalPositions
	}
	if p.CriticalOrders <= 0 {
		p.CriticalOrders = defaultCriticalOrders
	}
	if p.OverrideDurationMS <= 0 {
		p.OverrideDurationMS = defaultOverrideDurationMS
	}
}

func (c *CacheConfig) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = defaultCacheDBPath
	}
	if c.StaleAfterMS <= 0 {
		c.StaleAfterMS = defaultCacheStaleAfterMS
	}
}

// Duration helpers so callers do not repeat the millisecond conversion.

func (g GateConfig) MinInterval() time.Duration { return time.Duration(g.MinIntervalMS) * time.Millisecond }

// BackoffBase is the first 429 backoff step; it doubles per attempt.
func (g GateConfig) BackoffBase() time.Duration {
	return time.Duration(g.BackoffBaseMS) * time.Millisecond
}

func (g GateConfig) CaptchaPenalty() time.Duration {
	return time.Duration(g.CaptchaPenaltyMS) * time.Millisecond
}

func (p PollingConfig) OverrideDuration() time.Duration {
	return time.Duration(p.OverrideDurationMS) * time.Millisecond
}

func (c CacheConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMS) * time.Millisecond
}
