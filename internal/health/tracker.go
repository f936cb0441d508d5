package health

import (
	"sync"
	"time"

	"arbflow/config"
	"arbflow/logger"
)

// State is the circuit position for one venue.
type State int

const (
	// StateClosed: venue available, calls flow normally.
	StateClosed State = iota
	// StateOpen: venue disabled until the cooldown deadline.
	StateOpen
	// StateHalfOpen: cooldown elapsed, a single probe call is admitted.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BlockedFailureSentinel is the consecutive-failure value recorded on a
// detected geo block. A block is not a counted transient failure: the circuit
// opens at once and stays open for the longer block cooldown.
const BlockedFailureSentinel = 999

// Snapshot is a point-in-time copy of one venue's health.
type Snapshot struct {
	Venue               string
	State               State
	Available           bool
	Blocked             bool
	ConsecutiveFailures int
	LastCheckedAt       time.Time
	DisabledUntil       time.Time
}

type venueState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastCheckedAt       time.Time
	disabledUntil       time.Time
	blocked             bool
	probing             bool
	blockCooldown       time.Duration
}

// Tracker is the per-venue circuit breaker. It is a pure state machine fed by
// call outcomes; it never performs network I/O itself. Each venue has its own
// lock so one venue's churn cannot block reads on another.
type Tracker struct {
	mu        sync.RWMutex
	venues    map[string]*venueState
	threshold int
	cooldown  time.Duration
	blockBase time.Duration
	log       *logger.Log
}

// NewTracker builds a tracker with the configured thresholds.
func NewTracker(cfg config.BreakerConfig, log *logger.Log) *Tracker {
	return &Tracker{
		venues:    make(map[string]*venueState),
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		blockBase: cfg.BlockCooldown,
		log:       log,
	}
}

// Register creates tracking state for a venue. Safe to call more than once.
func (t *Tracker) Register(venue string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.venues[venue]; !ok {
		t.venues[venue] = &venueState{blockCooldown: t.blockBase}
	}
}

func (t *Tracker) state(venue string) *venueState {
	t.mu.RLock()
	s, ok := t.venues[venue]
	t.mu.RUnlock()
	if ok {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.venues[venue]; !ok {
		s = &venueState{blockCooldown: t.blockBase}
		t.venues[venue] = s
	}
	return s
}

func (s *venueState) currentState(now time.Time) State {
	if s.disabledUntil.IsZero() {
		return StateClosed
	}
	if now.Before(s.disabledUntil) {
		return StateOpen
	}
	return StateHalfOpen
}

// Allow reports whether a call to the venue may proceed. In half-open only a
// single probe is admitted; concurrent callers are turned away until the
// probe outcome is reported.
func (t *Tracker) Allow(venue string) bool {
	s := t.state(venue)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.currentState(time.Now()) {
	case StateClosed:
		return true
	case StateOpen:
		return false
	default:
		if s.probing {
			return false
		}
		s.probing = true
		t.log.WithComponent("health").WithFields(logger.Fields{
			"venue": venue,
		}).Info("cooldown elapsed, admitting probe call")
		return true
	}
}

// ReportSuccess closes the circuit and resets the failure counter.
func (t *Tracker) ReportSuccess(venue string) {
	s := t.state(venue)
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOpen := !s.disabledUntil.IsZero()
	s.consecutiveFailures = 0
	s.disabledUntil = time.Time{}
	s.blocked = false
	s.probing = false
	s.blockCooldown = t.blockBase
	s.lastCheckedAt = time.Now()

	if wasOpen {
		t.log.WithComponent("health").WithFields(logger.Fields{
			"venue": venue,
		}).Info("probe succeeded, venue restored")
	}
}

// ReportFailure records a transient failure. The circuit opens once the
// consecutive-failure threshold is reached, or immediately when a half-open
// probe fails.
func (t *Tracker) ReportFailure(venue string) {
	s := t.state(venue)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.lastCheckedAt = now

	if s.probing {
		s.probing = false
		s.disabledUntil = now.Add(t.cooldown)
		t.log.WithComponent("health").WithFields(logger.Fields{
			"venue":          venue,
			"disabled_until": s.disabledUntil,
		}).Warn("probe failed, cooldown restarted")
		return
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= t.threshold && s.disabledUntil.IsZero() {
		s.disabledUntil = now.Add(t.cooldown)
		t.log.WithComponent("health").WithFields(logger.Fields{
			"venue":          venue,
			"failures":       s.consecutiveFailures,
			"disabled_until": s.disabledUntil,
		}).Warn("failure threshold reached, circuit opened")
	}
}

// ReportBlock opens the circuit immediately with the block cooldown,
// regardless of the failure counter. Repeated blocks double the cooldown
// because geo restrictions do not self-heal on the transient-error timescale.
func (t *Tracker) ReportBlock(venue string) {
	s := t.state(venue)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.lastCheckedAt = now
	if s.blocked {
		s.blockCooldown *= 2
	}
	s.blocked = true
	s.probing = false
	s.consecutiveFailures = BlockedFailureSentinel
	s.disabledUntil = now.Add(s.blockCooldown)

	t.log.WithComponent("health").WithFields(logger.Fields{
		"venue":          venue,
		"disabled_until": s.disabledUntil,
		"cooldown":       s.blockCooldown.String(),
	}).Error("geo block detected, circuit opened")
}

// ReportSoftFailure records a caller-side deadline expiry. A local timeout is
// not proof the venue is unhealthy, so only the timestamp moves; an in-flight
// probe slot is released without reopening the circuit.
func (t *Tracker) ReportSoftFailure(venue string) {
	s := t.state(venue)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheckedAt = time.Now()
	s.probing = false
}

// Reset returns the venue to closed. Manual operator action; also the only
// fast path out of a block cooldown.
func (t *Tracker) Reset(venue string) {
	s := t.state(venue)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.disabledUntil = time.Time{}
	s.blocked = false
	s.probing = false
	s.blockCooldown = t.blockBase
	s.lastCheckedAt = time.Now()

	t.log.WithComponent("health").WithFields(logger.Fields{
		"venue": venue,
	}).Info("circuit manually reset")
}

// Get returns a copy of the venue's health.
func (t *Tracker) Get(venue string) Snapshot {
	s := t.state(venue)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.currentState(time.Now())
	return Snapshot{
		Venue:               venue,
		State:               st,
		Available:           st != StateOpen,
		Blocked:             s.blocked,
		ConsecutiveFailures: s.consecutiveFailures,
		LastCheckedAt:       s.lastCheckedAt,
		DisabledUntil:       s.disabledUntil,
	}
}

// Snapshots returns health copies for every registered venue.
func (t *Tracker) Snapshots() map[string]Snapshot {
	t.mu.RLock()
	names := make([]string, 0, len(t.venues))
	for name := range t.venues {
		names = append(names, name)
	}
	t.mu.RUnlock()

	out := make(map[string]Snapshot, len(names))
	for _, name := range names {
		out[name] = t.Get(name)
	}
	return out
}
