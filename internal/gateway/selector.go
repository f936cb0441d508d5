package gateway

import (
	"sync"

	"arbflow/internal/health"
	"arbflow/internal/venue"
	"arbflow/logger"
)

// Selector decides which venue serves the next call. It is sticky: the active
// venue keeps serving until its circuit opens, which prevents flapping between
// venues with similar health. Recovery of a better-priority venue is handled
// softly: once its cooldown elapses it is offered ahead of the active venue
// for a single probe, and promotion only happens after that probe succeeds.
type Selector struct {
	mu      sync.Mutex
	log     *logger.Entry
	reg     *venue.Registry
	tracker *health.Tracker
	active  string
}

func NewSelector(reg *venue.Registry, tracker *health.Tracker, log *logger.Log) *Selector {
	s := &Selector{
		log:     log.WithComponent("selector"),
		reg:     reg,
		tracker: tracker,
	}
	if list := reg.List(); len(list) > 0 {
		s.active = list[0].ID
	}
	return s
}

// Active returns the currently preferred venue id.
func (s *Selector) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Candidates returns venue ids in the order they should be tried. Venues with
// an open circuit are excluded entirely; half-open venues that outrank the
// active one come first so they get their recovery probe.
func (s *Selector) Candidates() []string {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	list := s.reg.List()
	activePriority := 0
	for _, d := range list {
		if d.ID == active {
			activePriority = d.Priority
		}
	}

	var recovering, rest []string
	activeEligible := false
	for _, d := range list {
		snap := s.tracker.Get(d.ID)
		if snap.State == health.StateOpen {
			continue
		}
		switch {
		case d.ID == active:
			activeEligible = true
		case snap.State == health.StateHalfOpen && d.Priority < activePriority:
			recovering = append(recovering, d.ID)
		default:
			rest = append(rest, d.ID)
		}
	}

	out := make([]string, 0, len(list))
	out = append(out, recovering...)
	if activeEligible {
		out = append(out, active)
	}
	return append(out, rest...)
}

// Promote records that a venue served successfully. A non-active server
// becomes the new active venue; this covers both mid-aggregation fallback and
// recovery of a preferred venue.
func (s *Selector) Promote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.active {
		return
	}
	logger.IncrementVenueFallback()
	s.log.WithFields(logger.Fields{
		"from": s.active,
		"to":   id,
	}).Info("active venue changed")
	s.active = id
}

// ForceActive pins the active venue regardless of priority. Operator action;
// the circuit still applies on subsequent calls.
func (s *Selector) ForceActive(id string) bool {
	if _, ok := s.reg.Get(id); !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.active {
		s.log.WithFields(logger.Fields{
			"from": s.active,
			"to":   id,
		}).Warn("active venue forced by operator")
		s.active = id
	}
	return true
}
