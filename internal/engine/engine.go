// Package engine assembles the sync core: one SyncEngine owns the
// request gate, freshness cache and polling supervisor and exposes the
// read-only views the serving layer consumes. Construction happens
// once at startup; nothing in the core reaches for globals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ftbridge/internal/bracket"
	"ftbridge/internal/cache"
	"ftbridge/internal/config"
	"ftbridge/internal/events"
	"ftbridge/internal/gate"
	"ftbridge/internal/gateway/broker"
	"ftbridge/internal/logger"
	"ftbridge/internal/poller"
	"ftbridge/internal/store/cachestore"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ErrNoData signals that a kind was never populated for an account:
// collection is in progress, not failed.
var ErrNoData = errors.New("data not available yet, collection in progress")

// SyncEngine is the single owner of the sync core's moving parts.
type SyncEngine struct {
	cfg        *config.Config
	gw         *gate.Gate
	client     broker.Client
	cache      *cache.Cache
	supervisor *poller.Supervisor
	bus        *events.Bus
	store      *cachestore.Store
}

// New wires the engine from its owned parts.
func New(cfg *config.Config, gw *gate.Gate, client broker.Client, c *cache.Cache, sup *poller.Supervisor, bus *events.Bus, store *cachestore.Store) *SyncEngine {
	e := &SyncEngine{
		cfg:        cfg,
		gw:         gw,
		client:     client,
		cache:      c,
		supervisor: sup,
		bus:        bus,
		store:      store,
	}
	gw.SetPenaltyHandler(func(evt gate.PenaltyEvent) {
		bus.PublishPenalty(events.PenaltyActivated{
			Ticket:  evt.Ticket,
			Until:   evt.Until,
			Captcha: evt.Captcha,
		})
	})
	return e
}

// Run starts the gate worker, warms the cache, discovers accounts and
// blocks until ctx is cancelled.
func (e *SyncEngine) Run(ctx context.Context) error {
	if err := e.cache.Warm(ctx); err != nil {
		return fmt.Errorf("warming cache failed: %w", err)
	}
	if err := e.supervisor.Start(ctx); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := e.gw.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		defer e.supervisor.Stop()
		if err := e.trackAccounts(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	return group.Wait()
}

// trackAccounts lists accounts upstream and initializes polling for
// every active one. A single account failing to initialize is logged,
// not fatal: its first scheduled ticks retry the fetches.
func (e *SyncEngine) trackAccounts(ctx context.Context) error {
	res, err := e.gw.Execute(ctx, "account-list", func(ctx context.Context) (any, error) {
		return e.client.ListAccounts(ctx)
	})
	if err != nil {
		return fmt.Errorf("listing accounts failed: %w", err)
	}
	accounts := res.([]broker.Account)
	logger.Infof("engine: discovered %d accounts upstream", len(accounts))

	group, ctx := errgroup.WithContext(ctx)
	for _, acct := range accounts {
		if !acct.Active {
			logger.Infof("engine: skipping inactive account %d (%s)", acct.ID, acct.Name)
			continue
		}
		acct := acct
		group.Go(func() error {
			if err := e.supervisor.InitializeAccount(ctx, acct.ID); err != nil {
				logger.Errorf("engine: initializing account %d failed: %v", acct.ID, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// KindStatus reports the freshness of one cached data kind.
type KindStatus struct {
	Available   bool      `json:"available"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	AgeMS       int64     `json:"ageMs"`
	Stale       bool      `json:"stale"`
}

// Totals aggregates money fields across the snapshot in exact decimal
// arithmetic.
type Totals struct {
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnL"`
	DayPnL        decimal.Decimal `json:"dayPnL"`
}

// AccountSnapshot is the read-only view served to the dashboard. It
// never triggers a fetch: missing kinds are reported as unavailable,
// stale kinds are served anyway with the stale flag set.
type AccountSnapshot struct {
	AccountID int64                 `json:"accountId"`
	Balance   *broker.Balance       `json:"balance,omitempty"`
	Positions []broker.Position     `json:"positions"`
	Orders    []bracket.Group       `json:"orders"`
	Totals    Totals                `json:"totals"`
	DataAge   map[string]KindStatus `json:"dataAge"`
}

// AccountSnapshot assembles the cached view for one account. Returns
// ErrNoData only when no kind was ever populated.
func (e *SyncEngine) AccountSnapshot(accountID int64) (*AccountSnapshot, error) {
	staleAfter := e.cfg.Cache.StaleAfter()
	snap := &AccountSnapshot{
		AccountID: accountID,
		DataAge:   make(map[string]KindStatus, len(broker.Kinds)),
	}
	available := false

	if b, meta, ok := e.cache.Balance(accountID); ok {
		balance := b
		snap.Balance = &balance
		snap.Totals.DayPnL = decimal.NewFromFloat(b.DayPnL)
		snap.DataAge[string(broker.KindBalance)] = kindStatus(meta, staleAfter)
		available = true
	} else {
		snap.DataAge[string(broker.KindBalance)] = KindStatus{}
	}

	if positions, meta, ok := e.cache.Positions(accountID); ok {
		snap.Positions = positions
		total := decimal.Zero
		for _, p := range positions {
			total = total.Add(decimal.NewFromFloat(p.UnrealizedPnL))
		}
		snap.Totals.UnrealizedPnL = total
		snap.DataAge[string(broker.KindPositions)] = kindStatus(meta, staleAfter)
		available = true
	} else {
		snap.DataAge[string(broker.KindPositions)] = KindStatus{}
	}

	if orders, meta, ok := e.cache.Orders(accountID); ok {
		snap.Orders = bracket.Reconcile(orders)
		snap.DataAge[string(broker.KindOrders)] = kindStatus(meta, staleAfter)
		available = true
	} else {
		snap.DataAge[string(broker.KindOrders)] = KindStatus{}
	}

	if !available {
		return nil, ErrNoData
	}
	return snap, nil
}

// GroupedOrders returns the reconciled bracket view of the cached
// order list.
func (e *SyncEngine) GroupedOrders(accountID int64) ([]bracket.Group, error) {
	orders, _, ok := e.cache.Orders(accountID)
	if !ok {
		return nil, ErrNoData
	}
	return bracket.Reconcile(orders), nil
}

// PollingStatus reports every tracked account's polling state.
func (e *SyncEngine) PollingStatus() []poller.AccountStatus {
	return e.supervisor.Status()
}

// ForcePollingMode applies a bounded manual mode override.
func (e *SyncEngine) ForcePollingMode(accountID int64, mode, reason string, duration time.Duration) error {
	parsed, err := poller.ParseMode(mode)
	if err != nil {
		return err
	}
	return e.supervisor.ForceMode(accountID, parsed, reason, duration)
}

// ForceRefresh synchronously refreshes all three kinds for an account.
func (e *SyncEngine) ForceRefresh(ctx context.Context, accountID int64) error {
	return e.supervisor.ForceRefresh(ctx, accountID)
}

// GateStats exposes request gate statistics.
func (e *SyncEngine) GateStats() gate.Stats {
	return e.gw.Snapshot()
}

// Healthy reports overall liveness: gate not penalized or backed up,
// and the snapshot store reachable.
func (e *SyncEngine) Healthy(ctx context.Context) error {
	if !e.gw.Healthy() {
		return fmt.Errorf("request gate unhealthy")
	}
	if e.store != nil {
		if err := e.store.Ping(ctx); err != nil {
			return fmt.Errorf("snapshot store unreachable: %w", err)
		}
	}
	return nil
}

// Bus exposes the event bus for the serving layer to subscribe on.
func (e *SyncEngine) Bus() *events.Bus {
	return e.bus
}

func kindStatus(meta cache.Meta, staleAfter time.Duration) KindStatus {
	return KindStatus{
		Available:   true,
		LastUpdated: meta.LastUpdated,
		AgeMS:       meta.Age.Milliseconds(),
		Stale:       meta.Age > staleAfter,
	}
}
