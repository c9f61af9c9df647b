// Package gate serializes all outbound brokerage calls through one FIFO
// worker, enforcing a global minimum spacing between requests and
// reacting to venue penalty signals with queuing and backoff. No two
// requests execute concurrently regardless of which account they serve.
package gate

import (
	"context"
	"sync"
	"time"

	"ftbridge/internal/config"
	"ftbridge/internal/gateway/broker"
	"ftbridge/internal/logger"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
)

// Request is a zero-argument thunk performing one upstream call.
type Request func(ctx context.Context) (any, error)

// PenaltyEvent describes a penalty window activation.
type PenaltyEvent struct {
	Ticket  string
	Until   time.Time
	Captcha bool
}

type outcome struct {
	result any
	err    error
}

type entry struct {
	id       string
	fn       Request
	attempts int
	enqueued time.Time
	done     chan outcome

	mu        sync.Mutex
	cancelled bool
}

func (e *entry) cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

func (e *entry) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Gate is the single serialization point for upstream requests.
type Gate struct {
	cfg     config.GateConfig
	backoff *backoff.Backoff

	mu           sync.Mutex
	queue        []*entry
	penaltyUntil time.Time
	lastExec     time.Time
	stats        counters
	onPenalty    func(PenaltyEvent)

	wake chan struct{}

	// Injected for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type counters struct {
	total     int64
	penalties int64
	failed    int64
	avgMS     float64
}

// New constructs a gate. Run must be started before Execute resolves
// anything.
func New(cfg config.GateConfig) *Gate {
	return &Gate{
		cfg: cfg,
		backoff: &backoff.Backoff{
			Min:    cfg.BackoffBase(),
			Max:    2 * time.Minute,
			Factor: 2,
		},
		wake:  make(chan struct{}, 1),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// SetPenaltyHandler registers a callback fired whenever a penalty
// window is set. Must be called before Run.
func (g *Gate) SetPenaltyHandler(fn func(PenaltyEvent)) {
	g.mu.Lock()
	g.onPenalty = fn
	g.mu.Unlock()
}

// Execute queues the request and blocks until it resolves or ctx is
// cancelled. A cancelled entry is skipped by the worker rather than
// executed. Pass an empty id to get a generated one.
func (g *Gate) Execute(ctx context.Context, id string, fn Request) (any, error) {
	if id == "" {
		id = uuid.NewString()
	}
	e := &entry{
		id:       id,
		fn:       fn,
		enqueued: g.now(),
		done:     make(chan outcome, 1),
	}
	g.mu.Lock()
	g.queue = append(g.queue, e)
	g.mu.Unlock()
	g.signal()

	select {
	case <-ctx.Done():
		e.cancel()
		return nil, ctx.Err()
	case out := <-e.done:
		return out.result, out.err
	}
}

// Run drains the queue until ctx is cancelled. It must be called
// exactly once.
func (g *Gate) Run(ctx context.Context) error {
	for {
		e := g.pop()
		if e == nil {
			select {
			case <-ctx.Done():
				g.failPending(ctx.Err())
				return ctx.Err()
			case <-g.wake:
				continue
			}
		}
		if e.isCancelled() {
			continue
		}
		if err := g.awaitWindow(ctx); err != nil {
			e.done <- outcome{err: err}
			g.failPending(err)
			return err
		}
		g.execute(ctx, e)
	}
}

// Healthy reports whether no penalty window is active and the queue
// depth is below the configured threshold. Callers use it to
// short-circuit optional work under load.
func (g *Gate) Healthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.now().Before(g.penaltyUntil) {
		return false
	}
	return len(g.queue) < g.cfg.HealthyQueueMax
}

// Stats is a point-in-time statistics snapshot.
type Stats struct {
	TotalRequests     int64     `json:"totalRequests"`
	PenaltiesReceived int64     `json:"penaltiesReceived"`
	FailedRequests    int64     `json:"failedRequests"`
	AvgResponseMS     float64   `json:"avgResponseMs"`
	QueueDepth        int       `json:"queueDepth"`
	PenaltyUntil      time.Time `json:"penaltyUntil,omitempty"`
	Healthy           bool      `json:"healthy"`
}

// Snapshot returns current statistics.
func (g *Gate) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Stats{
		TotalRequests:     g.stats.total,
		PenaltiesReceived: g.stats.penalties,
		FailedRequests:    g.stats.failed,
		AvgResponseMS:     g.stats.avgMS,
		QueueDepth:        len(g.queue),
	}
	if g.now().Before(g.penaltyUntil) {
		s.PenaltyUntil = g.penaltyUntil
	}
	s.Healthy = s.PenaltyUntil.IsZero() && s.QueueDepth < g.cfg.HealthyQueueMax
	return s
}

func (g *Gate) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Gate) pop() *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return nil
	}
	e := g.queue[0]
	g.queue = g.queue[1:]
	return e
}

// requeueFront reinserts a penalized entry at the head of the queue:
// the retried request is owed priority over anything queued after it.
func (g *Gate) requeueFront(e *entry) {
	g.mu.Lock()
	g.queue = append([]*entry{e}, g.queue...)
	g.mu.Unlock()
	g.signal()
}

// awaitWindow sleeps out an active penalty window, then enforces the
// minimum spacing since the last executed request.
func (g *Gate) awaitWindow(ctx context.Context) error {
	g.mu.Lock()
	until := g.penaltyUntil
	last := g.lastExec
	g.mu.Unlock()

	if wait := until.Sub(g.now()); wait > 0 {
		logger.Infof("gate: penalty window active, sleeping %s", wait.Truncate(time.Millisecond))
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
	if !last.IsZero() {
		if gap := g.cfg.MinInterval() - g.now().Sub(last); gap > 0 {
			if err := g.sleep(ctx, gap); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Gate) execute(ctx context.Context, e *entry) {
	start := g.now()
	res, err := e.fn(ctx)
	elapsed := g.now().Sub(start)

	g.mu.Lock()
	g.lastExec = g.now()
	g.stats.total++
	g.stats.avgMS += (float64(elapsed.Milliseconds()) - g.stats.avgMS) / float64(g.stats.total)
	g.mu.Unlock()

	e.attempts++
	if err == nil {
		e.done <- outcome{result: res}
		return
	}

	switch {
	case broker.IsCaptcha(err):
		until := g.now().Add(g.cfg.CaptchaPenalty())
		g.setPenalty(until, "", true)
		g.recordFailure()
		logger.Errorf("gate: CAPTCHA suspension, all requests blocked until %s (request=%s)", until.Format(time.RFC3339), e.id)
		e.done <- outcome{err: &PenaltyTimeoutError{ID: e.id, Until: until, Cause: err}}

	case isPenaltyErr(err):
		pe, _ := broker.IsPenalty(err)
		until := g.now().Add(pe.Wait)
		g.setPenalty(until, pe.Ticket, false)
		if e.attempts >= g.cfg.MaxAttempts {
			g.recordFailure()
			logger.Warnf("gate: request %s exhausted %d attempts on penalty ticket %s", e.id, e.attempts, pe.Ticket)
			e.done <- outcome{err: &RetriesExhaustedError{ID: e.id, Attempts: e.attempts, Cause: err}}
			return
		}
		logger.Warnf("gate: penalty ticket %s, retrying request %s after %s (attempt %d/%d)",
			pe.Ticket, e.id, pe.Wait, e.attempts, g.cfg.MaxAttempts)
		g.requeueFront(e)

	case broker.IsRateLimit(err):
		if e.attempts >= g.cfg.MaxAttempts {
			g.recordFailure()
			e.done <- outcome{err: &RetriesExhaustedError{ID: e.id, Attempts: e.attempts, Cause: err}}
			return
		}
		wait := g.backoff.ForAttempt(float64(e.attempts - 1))
		logger.Warnf("gate: rate limited, backing off %s before retrying request %s (attempt %d/%d)",
			wait, e.id, e.attempts, g.cfg.MaxAttempts)
		if serr := g.sleep(ctx, wait); serr != nil {
			e.done <- outcome{err: serr}
			return
		}
		g.requeueFront(e)

	default:
		g.recordFailure()
		e.done <- outcome{err: err}
	}
}

func (g *Gate) setPenalty(until time.Time, ticket string, captcha bool) {
	g.mu.Lock()
	if until.After(g.penaltyUntil) {
		g.penaltyUntil = until
	}
	g.stats.penalties++
	handler := g.onPenalty
	g.mu.Unlock()
	if handler != nil {
		handler(PenaltyEvent{Ticket: ticket, Until: until, Captcha: captcha})
	}
}

func (g *Gate) recordFailure() {
	g.mu.Lock()
	g.stats.failed++
	g.mu.Unlock()
}

func (g *Gate) failPending(err error) {
	g.mu.Lock()
	pending := g.queue
	g.queue = nil
	g.mu.Unlock()
	for _, e := range pending {
		select {
		case e.done <- outcome{err: err}:
		default:
		}
	}
}

func isPenaltyErr(err error) bool {
	_, ok := broker.IsPenalty(err)
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
