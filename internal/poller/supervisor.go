// Package poller drives adaptive refresh of tracked accounts. Each
// account carries one mode state machine and three repeating fetch
// tasks (balance, positions, orders) whose intervals depend on the
// current mode. All fetches funnel through the request gate, so
// scheduling is concurrent but network execution stays serialized.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ftbridge/internal/cache"
	"ftbridge/internal/config"
	"ftbridge/internal/events"
	"ftbridge/internal/gate"
	"ftbridge/internal/gateway/broker"
	"ftbridge/internal/logger"
	"ftbridge/internal/store/pollstate"
)

// Supervisor owns per-account polling state and timers.
type Supervisor struct {
	cfg    config.PollingConfig
	gw     *gate.Gate
	client broker.Client
	cache  *cache.Cache
	bus    *events.Bus
	states *pollstate.Store

	mu       sync.Mutex
	accounts map[int64]*accountState
	restored map[int64]pollstate.Record
	rootCtx  context.Context

	now func() time.Time
}

type accountState struct {
	id               int64
	mode             Mode
	lastModeChange   time.Time
	modeChangeReason string
	lastPoll         time.Time

	// generation invalidates stale task callbacks: a task checks its
	// generation before every cache write and mode re-evaluation, so a
	// replaced timer can never write into new state.
	generation int
	cancel     context.CancelFunc

	override      *overrideState
	overrideTimer *time.Timer
}

type overrideState struct {
	mode    Mode
	reason  string
	expires time.Time
}

// AccountStatus is the externally visible polling state of one account.
type AccountStatus struct {
	AccountID      int64     `json:"accountId"`
	Mode           string    `json:"mode"`
	LastModeChange time.Time `json:"lastModeChange"`
	Reason         string    `json:"reason"`
	OpenPositions  int       `json:"openPositions"`
	WorkingOrders  int       `json:"workingOrders"`
	LastPoll       time.Time `json:"lastPoll,omitempty"`
	OverrideUntil  time.Time `json:"overrideUntil,omitempty"`
}

// NewSupervisor constructs a supervisor; Start must be called before
// accounts are initialized. The polling-state store may be nil.
func NewSupervisor(cfg config.PollingConfig, gw *gate.Gate, client broker.Client, c *cache.Cache, bus *events.Bus, states *pollstate.Store) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		gw:       gw,
		client:   client,
		cache:    c,
		bus:      bus,
		states:   states,
		accounts: make(map[int64]*accountState),
		restored: make(map[int64]pollstate.Record),
		now:      time.Now,
	}
}

// Start binds the supervisor to its lifetime context and restores
// persisted polling states for display before the first poll.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.rootCtx = ctx
	s.mu.Unlock()
	if s.states == nil {
		return nil
	}
	records, err := s.states.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("restoring polling states failed: %w", err)
	}
	s.mu.Lock()
	for _, rec := range records {
		s.restored[rec.AccountID] = rec
	}
	s.mu.Unlock()
	if len(records) > 0 {
		logger.Infof("poller: restored polling state for %d accounts", len(records))
	}
	return nil
}

// InitializeAccount performs one synchronous fetch of positions and
// orders so the first mode decision is informed by real data, then
// starts the three repeating tasks.
func (s *Supervisor) InitializeAccount(ctx context.Context, accountID int64) error {
	s.mu.Lock()
	if s.rootCtx == nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor not started")
	}
	if _, exists := s.accounts[accountID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("account %d already tracked", accountID)
	}
	st := &accountState{id: accountID, mode: ModeIdle}
	if rec, ok := s.restored[accountID]; ok {
		if mode, err := ParseMode(rec.Mode); err == nil {
			st.mode = mode
			st.lastModeChange = time.UnixMilli(rec.LastChangeMS)
			st.modeChangeReason = rec.Reason
		}
	}
	s.accounts[accountID] = st
	s.mu.Unlock()

	// Seed the cache before the first mode decision; a failed seed is
	// logged, the repeating tasks will retry on their first tick.
	if err := s.fetchAndCache(ctx, accountID, broker.KindPositions); err != nil {
		logger.Warnf("poller: initial positions fetch for account %d failed: %v", accountID, err)
	}
	if err := s.fetchAndCache(ctx, accountID, broker.KindOrders); err != nil {
		logger.Warnf("poller: initial orders fetch for account %d failed: %v", accountID, err)
	}

	openPos, workingOrders := s.cache.Counts(accountID)
	mode, reason := ComputeMode(openPos, workingOrders, s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyModeLocked(st, mode, reason)
	logger.Infof("poller: account %d initialized in mode %s (%s, positions=%d orders=%d)",
		accountID, mode, reason, openPos, workingOrders)
	return nil
}

// StopAccount cancels all tasks and any pending override for one account.
func (s *Supervisor) StopAccount(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[accountID]
	if !ok {
		return
	}
	if st.cancel != nil {
		st.cancel()
	}
	if st.overrideTimer != nil {
		st.overrideTimer.Stop()
	}
	delete(s.accounts, accountID)
}

// Stop cancels every account's tasks.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.accounts {
		if st.cancel != nil {
			st.cancel()
		}
		if st.overrideTimer != nil {
			st.overrideTimer.Stop()
		}
	}
	s.accounts = make(map[int64]*accountState)
}

// ForceMode pins the account to the given mode for the duration, then
// automatically reverts to the data-derived mode. A second override
// replaces the pending reversion.
func (s *Supervisor) ForceMode(accountID int64, mode Mode, reason string, duration time.Duration) error {
	if duration <= 0 {
		duration = s.cfg.OverrideDuration()
	}
	s.mu.Lock()
	st, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("account %d not tracked", accountID)
	}
	if st.overrideTimer != nil {
		st.overrideTimer.Stop()
	}
	expires := s.now().Add(duration)
	st.override = &overrideState{mode: mode, reason: reason, expires: expires}
	st.overrideTimer = time.AfterFunc(duration, func() { s.expireOverride(accountID, expires) })
	previous := st.mode
	s.applyModeLocked(st, mode, fmt.Sprintf("manual override: %s", reason))
	if previous == mode {
		// The override restarts timers even when the mode label is
		// unchanged.
		s.restartTasksLocked(st)
	}
	s.mu.Unlock()
	logger.Infof("poller: account %d forced to %s until %s (%s)", accountID, mode, expires.Format(time.RFC3339), reason)
	return nil
}

func (s *Supervisor) expireOverride(accountID int64, expires time.Time) {
	s.mu.Lock()
	st, ok := s.accounts[accountID]
	if !ok || st.override == nil || !st.override.expires.Equal(expires) {
		// A newer override replaced this one.
		s.mu.Unlock()
		return
	}
	st.override = nil
	st.overrideTimer = nil
	s.mu.Unlock()

	openPos, workingOrders := s.cache.Counts(accountID)
	mode, reason := ComputeMode(openPos, workingOrders, s.cfg)
	s.mu.Lock()
	if st, ok := s.accounts[accountID]; ok && st.override == nil {
		s.applyModeLocked(st, mode, fmt.Sprintf("override expired: %s", reason))
	}
	s.mu.Unlock()
}

// ForceRefresh polls positions, orders and balance in sequence,
// bypassing the timer schedule but still funneling through the gate.
// Errors propagate to the caller.
func (s *Supervisor) ForceRefresh(ctx context.Context, accountID int64) error {
	s.mu.Lock()
	_, ok := s.accounts[accountID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("account %d not tracked", accountID)
	}
	for _, kind := range []broker.DataKind{broker.KindPositions, broker.KindOrders, broker.KindBalance} {
		if err := s.fetchAndCache(ctx, accountID, kind); err != nil {
			return fmt.Errorf("refreshing %s for account %d failed: %w", kind, accountID, err)
		}
	}
	s.reevaluateMode(accountID)
	return nil
}

// Status reports the polling state of every tracked account.
func (s *Supervisor) Status() []AccountStatus {
	s.mu.Lock()
	out := make([]AccountStatus, 0, len(s.accounts))
	for _, st := range s.accounts {
		status := AccountStatus{
			AccountID:      st.id,
			Mode:           string(st.mode),
			LastModeChange: st.lastModeChange,
			Reason:         st.modeChangeReason,
			LastPoll:       st.lastPoll,
		}
		if st.override != nil {
			status.OverrideUntil = st.override.expires
		}
		out = append(out, status)
	}
	s.mu.Unlock()

	for i := range out {
		out[i].OpenPositions, out[i].WorkingOrders = s.cache.Counts(out[i].AccountID)
	}
	return out
}

// Mode returns the current mode of one account.
func (s *Supervisor) Mode(accountID int64) (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[accountID]
	if !ok {
		return "", false
	}
	return st.mode, true
}

// applyModeLocked records the mode transition and replaces all three
// repeating tasks atomically; old tasks are cancelled before new ones
// start, so no stale tick can fire afterwards. Caller holds s.mu.
func (s *Supervisor) applyModeLocked(st *accountState, mode Mode, reason string) {
	previous := st.mode
	changed := previous != mode || st.cancel == nil
	st.mode = mode
	if previous != mode || st.lastModeChange.IsZero() {
		st.lastModeChange = s.now()
		st.modeChangeReason = reason
	}
	if changed {
		s.restartTasksLocked(st)
		s.persistStateLocked(st)
		if previous != mode && s.bus != nil {
			s.bus.PublishModeChanged(events.ModeChanged{
				AccountID: st.id,
				From:      string(previous),
				To:        string(mode),
				Reason:    reason,
				At:        st.lastModeChange,
			})
		}
	}
}

func (s *Supervisor) restartTasksLocked(st *accountState) {
	if st.cancel != nil {
		st.cancel()
	}
	st.generation++
	gen := st.generation
	ctx, cancel := context.WithCancel(s.rootCtx)
	st.cancel = cancel
	for _, kind := range broker.Kinds {
		go s.runTask(ctx, st.id, kind, gen)
	}
	logger.Debugf("poller: account %d tasks restarted at generation %d (mode=%s)", st.id, gen, st.mode)
}

func (s *Supervisor) persistStateLocked(st *accountState) {
	if s.states == nil {
		return
	}
	rec := pollstate.Record{
		AccountID:    st.id,
		Mode:         string(st.mode),
		LastChangeMS: st.lastModeChange.UnixMilli(),
		Reason:       st.modeChangeReason,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.states.Upsert(ctx, rec); err != nil {
			logger.Warnf("poller: persisting state for account %d failed: %v", rec.AccountID, err)
		}
	}()
}

// runTask is the repeating fetch loop for one (account, kind) pair.
// The interval is re-read from the current mode on every iteration, so
// a mode change is picked up at the next tick even without a restart.
func (s *Supervisor) runTask(ctx context.Context, accountID int64, kind broker.DataKind, gen int) {
	for {
		interval := s.currentInterval(accountID, kind)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !s.generationCurrent(accountID, gen) {
			return
		}
		s.pollOne(ctx, accountID, kind, gen)
	}
}

// pollOne issues one fetch through the gate, caches the result and
// re-evaluates the account's mode. Failures are contained: the next
// scheduled tick is the retry.
func (s *Supervisor) pollOne(ctx context.Context, accountID int64, kind broker.DataKind, gen int) {
	start := s.now()
	err := s.fetchAndCacheGuarded(ctx, accountID, kind, gen)
	elapsed := s.now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warnf("poller: %s poll for account %d failed after %s: %v", kind, accountID, elapsed.Truncate(time.Millisecond), err)
		if s.bus != nil {
			s.bus.PublishPollError(events.PollError{
				AccountID: accountID,
				Kind:      string(kind),
				Error:     err.Error(),
				At:        s.now(),
			})
		}
		if isRateLimitClass(err) {
			s.forceIdleProtective(accountID)
		}
		return
	}
	logger.Debugf("poller: %s poll for account %d ok in %s", kind, accountID, elapsed.Truncate(time.Millisecond))
	if !s.generationCurrent(accountID, gen) {
		return
	}
	s.reevaluateMode(accountID)
}

func (s *Supervisor) fetchAndCacheGuarded(ctx context.Context, accountID int64, kind broker.DataKind, gen int) error {
	switch kind {
	case broker.KindBalance:
		res, err := s.gw.Execute(ctx, gateID(accountID, kind), func(ctx context.Context) (any, error) {
			return s.client.GetBalance(ctx, accountID)
		})
		if err != nil {
			return err
		}
		if !s.generationCurrent(accountID, gen) {
			return nil
		}
		s.cache.PutBalance(ctx, accountID, res.(broker.Balance))
	case broker.KindPositions:
		res, err := s.gw.Execute(ctx, gateID(accountID, kind), func(ctx context.Context) (any, error) {
			return s.client.ListPositions(ctx, accountID)
		})
		if err != nil {
			return err
		}
		if !s.generationCurrent(accountID, gen) {
			return nil
		}
		s.cache.PutPositions(ctx, accountID, res.([]broker.Position))
	case broker.KindOrders:
		res, err := s.gw.Execute(ctx, gateID(accountID, kind), func(ctx context.Context) (any, error) {
			return s.client.ListOrders(ctx, accountID)
		})
		if err != nil {
			return err
		}
		if !s.generationCurrent(accountID, gen) {
			return nil
		}
		s.cache.PutOrders(ctx, accountID, res.([]broker.Order))
	}
	s.mu.Lock()
	if st, ok := s.accounts[accountID]; ok {
		st.lastPoll = s.now()
	}
	s.mu.Unlock()
	return nil
}

// fetchAndCache is the unguarded variant used by synchronous paths
// (initialization, forced refresh).
func (s *Supervisor) fetchAndCache(ctx context.Context, accountID int64, kind broker.DataKind) error {
	return s.fetchAndCacheGuarded(ctx, accountID, kind, -1)
}

// reevaluateMode recomputes the data-derived mode and applies it if it
// changed. Overrides pin the mode until they expire.
func (s *Supervisor) reevaluateMode(accountID int64) {
	openPos, workingOrders := s.cache.Counts(accountID)
	mode, reason := ComputeMode(openPos, workingOrders, s.cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[accountID]
	if !ok || st.override != nil {
		return
	}
	if st.mode != mode {
		logger.Infof("poller: account %d mode %s -> %s (%s, positions=%d orders=%d)",
			accountID, st.mode, mode, reason, openPos, workingOrders)
		s.applyModeLocked(st, mode, reason)
	}
}

// forceIdleProtective drops an account to IDLE after a rate-limit-class
// poll failure. This is deliberately independent of the gate's own
// backoff: the gate protects the connection, this protects the venue
// relationship at account scope.
func (s *Supervisor) forceIdleProtective(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[accountID]
	if !ok || st.override != nil || st.mode == ModeIdle {
		return
	}
	logger.Warnf("poller: account %d dropped to IDLE after rate-limit failure", accountID)
	s.applyModeLocked(st, ModeIdle, "rate limited, protective backoff")
}

func (s *Supervisor) currentInterval(accountID int64, kind broker.DataKind) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode := ModeIdle
	if st, ok := s.accounts[accountID]; ok {
		mode = st.mode
	}
	return intervalFor(s.cfg, mode, kind)
}

func (s *Supervisor) generationCurrent(accountID int64, gen int) bool {
	if gen < 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[accountID]
	return ok && st.generation == gen
}

func isRateLimitClass(err error) bool {
	if broker.IsRateLimit(err) {
		return true
	}
	var re *gate.RetriesExhaustedError
	if errors.As(err, &re) {
		return broker.IsRateLimit(re.Cause) || isPenalty(re.Cause)
	}
	return false
}

func isPenalty(err error) bool {
	pe, ok := broker.IsPenalty(err)
	return ok && pe != nil
}

func gateID(accountID int64, kind broker.DataKind) string {
	return fmt.Sprintf("%s-%d", kind, accountID)
}
