// Package cache holds the latest fetched snapshot of each data kind
// per account, with a last-write timestamp and a derived activity
// count. Reads never block on a refresh: absent data yields an
// explicit miss, stale data is still served.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ftbridge/internal/events"
	"ftbridge/internal/gateway/broker"
	"ftbridge/internal/logger"
	"ftbridge/internal/store/cachestore"
)

type cacheKey struct {
	account int64
	kind    broker.DataKind
}

// An entry is immutable once written; a new write fully replaces it.
type cacheEntry struct {
	payload any
	raw     []byte
	updated time.Time
	count   int
}

// Meta describes the freshness of a returned snapshot. Age is computed
// at read time and never stored.
type Meta struct {
	LastUpdated time.Time
	Age         time.Duration
	Count       int
}

// Cache is the freshness-scored snapshot store. The persistent backing
// store is optional: when absent, writes are kept in memory only and
// the skip is logged at debug level.
type Cache struct {
	store *cachestore.Store
	bus   *events.Bus

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry

	now func() time.Time
}

// New constructs an empty cache. Call Warm to restore persisted state.
func New(store *cachestore.Store, bus *events.Bus) *Cache {
	return &Cache{
		store:   store,
		bus:     bus,
		entries: make(map[cacheKey]cacheEntry),
		now:     time.Now,
	}
}

// Warm loads persisted snapshots into memory. Decode failures skip the
// row rather than failing startup.
func (c *Cache) Warm(ctx context.Context) error {
	if c.store == nil {
		logger.Debugf("cache: no backing store, starting empty")
		return nil
	}
	records, err := c.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	restored := 0
	c.mu.Lock()
	for _, rec := range records {
		payload, ok := decodePayload(broker.DataKind(rec.Kind), rec.Payload)
		if !ok {
			logger.Warnf("cache: skipping unreadable %s snapshot for account %d", rec.Kind, rec.AccountID)
			continue
		}
		c.entries[cacheKey{account: rec.AccountID, kind: broker.DataKind(rec.Kind)}] = cacheEntry{
			payload: payload,
			raw:     rec.Payload,
			updated: time.UnixMilli(rec.UpdatedAtMS),
			count:   rec.DerivedCount,
		}
		restored++
	}
	c.mu.Unlock()
	if restored > 0 {
		logger.Infof("cache: restored %d snapshots from store", restored)
	}
	return nil
}

// PutBalance replaces the balance snapshot for an account.
func (c *Cache) PutBalance(ctx context.Context, accountID int64, b broker.Balance) {
	c.put(ctx, accountID, broker.KindBalance, b, 0)
}

// PutPositions replaces the position list; the open-position count is
// recomputed on this write, never on read.
func (c *Cache) PutPositions(ctx context.Context, accountID int64, positions []broker.Position) {
	c.put(ctx, accountID, broker.KindPositions, positions, broker.CountOpenPositions(positions))
}

// PutOrders replaces the order list; the working-order count is
// recomputed on this write, never on read.
func (c *Cache) PutOrders(ctx context.Context, accountID int64, orders []broker.Order) {
	c.put(ctx, accountID, broker.KindOrders, orders, broker.CountWorkingOrders(orders))
}

func (c *Cache) put(ctx context.Context, accountID int64, kind broker.DataKind, payload any, count int) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("cache: marshalling %s payload for account %d failed: %v", kind, accountID, err)
		return
	}
	now := c.now()
	c.mu.Lock()
	c.entries[cacheKey{account: accountID, kind: kind}] = cacheEntry{
		payload: payload,
		raw:     raw,
		updated: now,
		count:   count,
	}
	c.mu.Unlock()

	if c.store == nil {
		logger.Debugf("cache: store not initialized, %s snapshot for account %d kept in memory only", kind, accountID)
	} else {
		err := c.store.Upsert(ctx, cachestore.Record{
			AccountID:    accountID,
			Kind:         string(kind),
			Payload:      raw,
			UpdatedAtMS:  now.UnixMilli(),
			DerivedCount: count,
		})
		if err != nil {
			logger.Warnf("cache: persisting %s snapshot for account %d failed: %v", kind, accountID, err)
		}
	}

	if c.bus != nil {
		c.bus.PublishDataUpdated(events.DataUpdated{
			AccountID: accountID,
			Kind:      string(kind),
			Count:     count,
			At:        now,
		})
	}
}

// Balance returns the cached balance and its freshness metadata.
func (c *Cache) Balance(accountID int64) (broker.Balance, Meta, bool) {
	e, ok := c.lookup(accountID, broker.KindBalance)
	if !ok {
		return broker.Balance{}, Meta{}, false
	}
	b, _ := e.payload.(broker.Balance)
	return b, c.meta(e), true
}

// Positions returns the cached position list and its freshness metadata.
func (c *Cache) Positions(accountID int64) ([]broker.Position, Meta, bool) {
	e, ok := c.lookup(accountID, broker.KindPositions)
	if !ok {
		return nil, Meta{}, false
	}
	p, _ := e.payload.([]broker.Position)
	return p, c.meta(e), true
}

// Orders returns the cached order list and its freshness metadata.
func (c *Cache) Orders(accountID int64) ([]broker.Order, Meta, bool) {
	e, ok := c.lookup(accountID, broker.KindOrders)
	if !ok {
		return nil, Meta{}, false
	}
	o, _ := e.payload.([]broker.Order)
	return o, c.meta(e), true
}

// Age returns how old the cached snapshot of the given kind is.
func (c *Cache) Age(accountID int64, kind broker.DataKind) (time.Duration, bool) {
	e, ok := c.lookup(accountID, kind)
	if !ok {
		return 0, false
	}
	return c.now().Sub(e.updated), true
}

// Counts returns the latest derived activity counts for an account.
// A kind that was never populated counts as zero.
func (c *Cache) Counts(accountID int64) (openPositions, workingOrders int) {
	if e, ok := c.lookup(accountID, broker.KindPositions); ok {
		openPositions = e.count
	}
	if e, ok := c.lookup(accountID, broker.KindOrders); ok {
		workingOrders = e.count
	}
	return openPositions, workingOrders
}

func (c *Cache) lookup(accountID int64, kind broker.DataKind) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey{account: accountID, kind: kind}]
	return e, ok
}

func (c *Cache) meta(e cacheEntry) Meta {
	return Meta{
		LastUpdated: e.updated,
		Age:         c.now().Sub(e.updated),
		Count:       e.count,
	}
}

func decodePayload(kind broker.DataKind, raw []byte) (any, bool) {
	switch kind {
	case broker.KindBalance:
		var b broker.Balance
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, false
		}
		return b, true
	case broker.KindPositions:
		var p []broker.Position
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, false
		}
		return p, true
	case broker.KindOrders:
		var o []broker.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, false
		}
		return o, true
	default:
		return nil, false
	}
}
