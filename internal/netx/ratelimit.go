package netx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"arbflow/config"
	"arbflow/logger"
)

// Budget tracks one venue's documented call allowance: a fixed window counter
// for the hard cap plus a token limiter that smooths bursts inside the window.
// Exhaustion blocks the caller until the window resets; requests are never
// dropped.
type Budget struct {
	mu             sync.Mutex
	limiter        *rate.Limiter
	baseRate       rate.Limit
	windowStart    time.Time
	callsInWindow  int
	maxCalls       int
	window         time.Duration
	throttledUntil time.Time
	restoring      bool
}

// BudgetStatus is a point-in-time copy for the status surface.
type BudgetStatus struct {
	Venue       string        `json:"venue"`
	Used        int           `json:"used"`
	Limit       int           `json:"limit"`
	WindowStart time.Time     `json:"window_start"`
	Window      time.Duration `json:"window"`
}

func newBudget(cfg config.RateBudgetConfig) *Budget {
	b := &Budget{
		windowStart: time.Now(),
		maxCalls:    cfg.MaxCallsPerWindow,
		window:      cfg.Window,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		b.baseRate = rate.Limit(cfg.RequestsPerSecond)
		b.limiter = rate.NewLimiter(b.baseRate, burst)
	}
	return b
}

// Wait blocks until a call slot is available or the context expires. The
// window counter is reserved before the call is issued so concurrent callers
// cannot overshoot the cap.
func (b *Budget) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		if now.Sub(b.windowStart) >= b.window {
			b.windowStart = now
			b.callsInWindow = 0
		}
		if b.callsInWindow < b.maxCalls {
			b.callsInWindow++
			b.mu.Unlock()
			break
		}
		wait := b.windowStart.Add(b.window).Sub(now)
		b.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if b.limiter != nil {
		return b.limiter.Wait(ctx)
	}
	return nil
}

// observeUsedWeight reconciles the local counter with the venue-reported
// used weight so websocket traffic and other processes sharing the key are
// accounted for.
func (b *Budget) observeUsedWeight(used int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if used > b.callsInWindow {
		b.callsInWindow = used
	}
}

// throttle slows the token limiter to a tenth of the configured rate until
// the deadline passes. Overlapping calls extend a single deadline; the
// restore goroutine re-checks it so an earlier throttle expiring cannot lift
// a later one.
func (b *Budget) throttle(d time.Duration) {
	if b.limiter == nil {
		return
	}

	b.mu.Lock()
	if until := time.Now().Add(d); until.After(b.throttledUntil) {
		b.throttledUntil = until
	}
	spawn := !b.restoring
	b.restoring = true
	b.limiter.SetLimit(b.baseRate / 10)
	b.mu.Unlock()

	if !spawn {
		return
	}
	go func() {
		for {
			b.mu.Lock()
			wait := time.Until(b.throttledUntil)
			if wait <= 0 {
				b.restoring = false
				b.limiter.SetLimit(b.baseRate)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			time.Sleep(wait)
		}
	}()
}

func (b *Budget) status(venue string) BudgetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BudgetStatus{
		Venue:       venue,
		Used:        b.callsInWindow,
		Limit:       b.maxCalls,
		WindowStart: b.windowStart,
		Window:      b.window,
	}
}

// BudgetSet holds one Budget per venue. Budgets are registered at startup and
// never removed, so lookups after construction are lock-free reads.
type BudgetSet struct {
	mu      sync.RWMutex
	budgets map[string]*Budget
	log     *logger.Log
}

func NewBudgetSet(log *logger.Log) *BudgetSet {
	return &BudgetSet{
		budgets: make(map[string]*Budget),
		log:     log,
	}
}

// Register installs a budget for the venue.
func (s *BudgetSet) Register(venue string, cfg config.RateBudgetConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[venue] = newBudget(cfg)
}

// Wait blocks until the venue budget admits one call.
func (s *BudgetSet) Wait(ctx context.Context, venue string) error {
	s.mu.RLock()
	b, ok := s.budgets[venue]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no rate budget registered for venue %s", venue)
	}
	return b.Wait(ctx)
}

// usedWeightHeaders in priority order; Binance reports spent weight per
// window, other venues reuse the generic X-RateLimit form.
var usedWeightHeaders = []string{
	"X-MBX-USED-WEIGHT-1M",
	"X-MBX-USED-WEIGHT",
	"X-RateLimit-Used",
}

// UpdateFromHeaders feeds venue-reported usage back into the budget and emits
// a used-weight gauge when a numeric value is found. A Retry-After header
// throttles the token limiter for the advertised period.
func (s *BudgetSet) UpdateFromHeaders(venue, symbol string, header http.Header) {
	s.mu.RLock()
	b, ok := s.budgets[venue]
	s.mu.RUnlock()
	if !ok {
		return
	}

	for _, h := range usedWeightHeaders {
		value := header.Get(h)
		if value == "" {
			continue
		}
		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			s.log.WithComponent("rate_budget").WithFields(logger.Fields{
				"venue":  venue,
				"header": h,
				"value":  value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}
		b.observeUsedWeight(int(used))
		s.log.LogMetric("rate_budget", "used_weight", used, "gauge", logger.Fields{
			"venue":  venue,
			"symbol": symbol,
		})
		break
	}

	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			b.throttle(time.Duration(secs) * time.Second)
			s.log.WithComponent("rate_budget").WithFields(logger.Fields{
				"venue":       venue,
				"retry_after": secs,
			}).Warn("venue requested slowdown, throttling limiter")
		}
	}
}

// Status returns a copy of the venue budget state, or ok=false when the venue
// is unknown.
func (s *BudgetSet) Status(venue string) (BudgetStatus, bool) {
	s.mu.RLock()
	b, ok := s.budgets[venue]
	s.mu.RUnlock()
	if !ok {
		return BudgetStatus{}, false
	}
	return b.status(venue), true
}
