package poller

import (
	"fmt"
	"strings"
	"time"

	"ftbridge/internal/config"
	"ftbridge/internal/gateway/broker"
)

// Mode is an account's polling intensity.
type Mode string

const (
	ModeIdle     Mode = "IDLE"
	ModeActive   Mode = "ACTIVE"
	ModeCritical Mode = "CRITICAL"
)

// ParseMode converts user-supplied text into a Mode.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IDLE":
		return ModeIdle, nil
	case "ACTIVE":
		return ModeActive, nil
	case "CRITICAL":
		return ModeCritical, nil
	default:
		return "", fmt.Errorf("unknown polling mode %q", raw)
	}
}

// ComputeMode is the pure mode-determination rule over cached activity
// counts. It is the single source of truth: stored modes are always a
// function of the latest counts, except during a manual override.
func ComputeMode(openPositions, workingOrders int, cfg config.PollingConfig) (Mode, string) {
	switch {
	case openPositions == 0 && workingOrders == 0:
		return ModeIdle, "no trading activity"
	case openPositions > cfg.CriticalPositions || workingOrders > cfg.CriticalOrders:
		return ModeCritical, "high activity"
	default:
		return ModeActive, "active trading"
	}
}

// intervalFor returns the refresh interval for one (mode, kind) pair.
func intervalFor(cfg config.PollingConfig, mode Mode, kind broker.DataKind) time.Duration {
	var m config.ModeIntervals
	switch mode {
	case ModeCritical:
		m = cfg.Critical
	case ModeActive:
		m = cfg.Active
	default:
		m = cfg.Idle
	}
	var ms int
	switch kind {
	case broker.KindBalance:
		ms = m.BalanceMS
	case broker.KindPositions:
		ms = m.PositionsMS
	default:
		ms = m.OrdersMS
	}
	return time.Duration(ms) * time.Millisecond
}
