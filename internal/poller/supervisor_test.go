package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ftbridge/internal/cache"
	"ftbridge/internal/config"
	"ftbridge/internal/events"
	"ftbridge/internal/gate"
	"ftbridge/internal/gateway/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrokerClient serves mutable canned data so tests can shift the
// account's activity between polls.
type fakeBrokerClient struct {
	mu           sync.Mutex
	balance      broker.Balance
	positions    []broker.Position
	orders       []broker.Order
	positionsErr error
	err          error
	fetches      int
}

func (f *fakeBrokerClient) ListAccounts(ctx context.Context) ([]broker.Account, error) {
	return []broker.Account{{ID: 1, Name: "test", Active: true}}, nil
}

func (f *fakeBrokerClient) GetBalance(ctx context.Context, accountID int64) (broker.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return broker.Balance{}, f.err
	}
	return f.balance, nil
}

func (f *fakeBrokerClient) ListPositions(ctx context.Context, accountID int64) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return append([]broker.Position(nil), f.positions...), nil
}

func (f *fakeBrokerClient) ListOrders(ctx context.Context, accountID int64) ([]broker.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return append([]broker.Order(nil), f.orders...), nil
}

func (f *fakeBrokerClient) setPositions(positions []broker.Position) {
	f.mu.Lock()
	f.positions = positions
	f.mu.Unlock()
}

func (f *fakeBrokerClient) setPositionsErr(err error) {
	f.mu.Lock()
	f.positionsErr = err
	f.mu.Unlock()
}

func (f *fakeBrokerClient) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeBrokerClient) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fastPollingConfig keeps the repeating tasks ticking quickly so tests
// observe transitions without long waits.
func fastPollingConfig() config.PollingConfig {
	return config.PollingConfig{
		Idle:               config.ModeIntervals{BalanceMS: 40, PositionsMS: 20, OrdersMS: 20},
		Active:             config.ModeIntervals{BalanceMS: 20, PositionsMS: 10, OrdersMS: 10},
		Critical:           config.ModeIntervals{BalanceMS: 10, PositionsMS: 5, OrdersMS: 5},
		CriticalPositions:  2,
		CriticalOrders:     3,
		OverrideDurationMS: 600000,
	}
}

// newTestSupervisor wires a supervisor over an in-memory cache and a
// gate whose sleeps return instantly.
func newTestSupervisor(t *testing.T, client broker.Client) (*Supervisor, *cache.Cache) {
	t.Helper()
	return newTestSupervisorWithConfig(t, client, fastPollingConfig())
}

func newTestSupervisorWithConfig(t *testing.T, client broker.Client, cfg config.PollingConfig) (*Supervisor, *cache.Cache) {
	t.Helper()
	gw := gate.New(config.GateConfig{
		MinIntervalMS:   1,
		MaxAttempts:     3,
		BackoffBaseMS:   1,
		HealthyQueueMax: 10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gw.Run(ctx)
	}()

	dataCache := cache.New(nil, nil)
	s := NewSupervisor(cfg, gw, client, dataCache, events.NewBus(), nil)
	require.NoError(t, s.Start(ctx))

	t.Cleanup(func() {
		s.Stop()
		cancel()
		<-done
	})
	return s, dataCache
}

func TestSupervisor_InitializeFlatAccountStartsIdle(t *testing.T) {
	client := &fakeBrokerClient{}
	s, _ := newTestSupervisor(t, client)

	require.NoError(t, s.InitializeAccount(context.Background(), 1))
	mode, ok := s.Mode(1)
	require.True(t, ok)
	assert.Equal(t, ModeIdle, mode)

	err := s.InitializeAccount(context.Background(), 1)
	assert.Error(t, err, "double initialization is rejected")
}

func TestSupervisor_InitializeBusyAccountStartsCritical(t *testing.T) {
	client := &fakeBrokerClient{positions: []broker.Position{
		{ContractID: 1, Symbol: "ESZ6", NetPos: 2},
		{ContractID: 2, Symbol: "NQZ6", NetPos: -1},
		{ContractID: 3, Symbol: "CLF7", NetPos: 1},
	}}
	s, _ := newTestSupervisor(t, client)

	require.NoError(t, s.InitializeAccount(context.Background(), 1))
	mode, _ := s.Mode(1)
	assert.Equal(t, ModeCritical, mode)
}

func TestSupervisor_TransitionsWhenActivityAppears(t *testing.T) {
	client := &fakeBrokerClient{}
	s, _ := newTestSupervisor(t, client)
	require.NoError(t, s.InitializeAccount(context.Background(), 1))

	mode, _ := s.Mode(1)
	require.Equal(t, ModeIdle, mode)

	client.setPositions([]broker.Position{{ContractID: 1, Symbol: "ESZ6", NetPos: 1}})
	assert.Eventually(t, func() bool {
		mode, _ := s.Mode(1)
		return mode == ModeActive
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisor_ModeChangeCancelsStaleTimers(t *testing.T) {
	// IDLE ticks fast, ACTIVE ticks once an hour. After the switch to
	// ACTIVE the only timers that could still fetch within the test
	// window are replaced IDLE ones, which must not fire.
	cfg := fastPollingConfig()
	cfg.Active = config.ModeIntervals{BalanceMS: 3600000, PositionsMS: 3600000, OrdersMS: 3600000}

	client := &fakeBrokerClient{}
	s, dataCache := newTestSupervisorWithConfig(t, client, cfg)
	require.NoError(t, s.InitializeAccount(context.Background(), 1))

	mode, _ := s.Mode(1)
	require.Equal(t, ModeIdle, mode)
	require.Eventually(t, func() bool {
		return client.fetchCount() > 2
	}, 2*time.Second, 5*time.Millisecond, "IDLE timers are ticking")

	require.NoError(t, s.ForceMode(1, ModeActive, "quiesce", 10*time.Minute))

	// Let any fetch that was already past the gate drain, then freeze
	// the count and feed data a stale tick would pick up.
	time.Sleep(50 * time.Millisecond)
	before := client.fetchCount()
	client.setPositions([]broker.Position{{ContractID: 1, Symbol: "ESZ6", NetPos: 1}})
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, before, client.fetchCount(), "replaced timers kept fetching")
	openPos, _ := dataCache.Counts(1)
	assert.Zero(t, openPos, "a stale timer wrote into the cache")
}

func TestSupervisor_ForceModeOverridesAndReverts(t *testing.T) {
	client := &fakeBrokerClient{}
	s, _ := newTestSupervisor(t, client)
	require.NoError(t, s.InitializeAccount(context.Background(), 1))

	require.NoError(t, s.ForceMode(1, ModeCritical, "incident drill", 60*time.Millisecond))
	mode, _ := s.Mode(1)
	assert.Equal(t, ModeCritical, mode)

	status := s.Status()
	require.Len(t, status, 1)
	assert.False(t, status[0].OverrideUntil.IsZero())

	// With no activity the derived mode is IDLE, so expiry reverts.
	assert.Eventually(t, func() bool {
		mode, _ := s.Mode(1)
		return mode == ModeIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisor_ForceModeUnknownAccount(t *testing.T) {
	client := &fakeBrokerClient{}
	s, _ := newTestSupervisor(t, client)
	assert.Error(t, s.ForceMode(99, ModeActive, "nope", 0))
}

func TestSupervisor_SecondOverrideReplacesFirst(t *testing.T) {
	client := &fakeBrokerClient{}
	s, _ := newTestSupervisor(t, client)
	require.NoError(t, s.InitializeAccount(context.Background(), 1))

	require.NoError(t, s.ForceMode(1, ModeCritical, "first", 30*time.Millisecond))
	require.NoError(t, s.ForceMode(1, ModeActive, "second", 10*time.Minute))

	// The first override's expiry must not cancel the second.
	time.Sleep(100 * time.Millisecond)
	mode, _ := s.Mode(1)
	assert.Equal(t, ModeActive, mode)
}

func TestSupervisor_ForceRefreshPopulatesCacheAndPropagatesErrors(t *testing.T) {
	client := &fakeBrokerClient{
		balance:   broker.Balance{Balance: 52000, Equity: 52150},
		positions: []broker.Position{{ContractID: 1, Symbol: "ESZ6", NetPos: 1}},
	}
	s, dataCache := newTestSupervisor(t, client)
	require.NoError(t, s.InitializeAccount(context.Background(), 1))

	require.NoError(t, s.ForceRefresh(context.Background(), 1))
	b, _, ok := dataCache.Balance(1)
	require.True(t, ok)
	assert.Equal(t, 52000.0, b.Balance)

	client.setPositionsErr(errors.New("upstream down"))
	err := s.ForceRefresh(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positions")

	assert.Error(t, s.ForceRefresh(context.Background(), 99))
}

func TestSupervisor_RateLimitFailureDropsToProtectiveIdle(t *testing.T) {
	client := &fakeBrokerClient{positions: []broker.Position{{ContractID: 1, Symbol: "ESZ6", NetPos: 1}}}
	s, _ := newTestSupervisor(t, client)
	require.NoError(t, s.InitializeAccount(context.Background(), 1))

	mode, _ := s.Mode(1)
	require.Equal(t, ModeActive, mode)

	client.setErr(&broker.RateLimitError{Status: 429})
	assert.Eventually(t, func() bool {
		mode, _ := s.Mode(1)
		return mode == ModeIdle
	}, 2*time.Second, 5*time.Millisecond)

	status := s.Status()
	require.Len(t, status, 1)
	assert.Contains(t, status[0].Reason, "rate limited")
}

func TestSupervisor_StopAccountRemovesTracking(t *testing.T) {
	client := &fakeBrokerClient{}
	s, _ := newTestSupervisor(t, client)
	require.NoError(t, s.InitializeAccount(context.Background(), 1))

	s.StopAccount(1)
	_, ok := s.Mode(1)
	assert.False(t, ok)
	assert.Empty(t, s.Status())
}
