package gateway

import (
	"testing"
	"time"

	"arbflow/config"
	"arbflow/internal/health"
	"arbflow/internal/netx"
	"arbflow/internal/venue"
	"arbflow/logger"
)

func testSelector(t *testing.T, cooldown time.Duration) (*Selector, *health.Tracker) {
	t.Helper()
	cfg := &config.Config{
		Venues: []config.VenueConfig{
			{ID: "binance", Priority: 1, Spot: "http://x", Futures: "http://x",
				RateLimit: config.RateBudgetConfig{MaxCallsPerWindow: 10, Window: time.Minute}},
			{ID: "bybit", Priority: 2, Spot: "http://x", Futures: "http://x",
				RateLimit: config.RateBudgetConfig{MaxCallsPerWindow: 10, Window: time.Minute}},
			{ID: "okx", Priority: 3, Spot: "http://x", Futures: "http://x",
				RateLimit: config.RateBudgetConfig{MaxCallsPerWindow: 10, Window: time.Minute}},
		},
	}
	log := logger.GetLogger()
	budgets := netx.NewBudgetSet(log)
	pool, err := netx.NewTransportPool(nil, time.Second)
	if err != nil {
		t.Fatalf("transport pool: %v", err)
	}
	client := netx.NewClient(log, budgets, pool, netx.NewFingerprintRotator(nil), config.RetryConfig{
		MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond,
	}, time.Second)
	reg, err := venue.NewRegistry(cfg, client, log)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tracker := health.NewTracker(config.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         cooldown,
		BlockCooldown:    cooldown,
	}, log)
	return NewSelector(reg, tracker, log), tracker
}

func TestCandidatesPriorityOrder(t *testing.T) {
	s, _ := testSelector(t, time.Hour)
	got := s.Candidates()
	want := []string{"binance", "bybit", "okx"}
	if len(got) != 3 {
		t.Fatalf("candidates = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidates[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCandidatesSkipOpenCircuits(t *testing.T) {
	s, tracker := testSelector(t, time.Hour)
	tracker.ReportBlock("binance")

	got := s.Candidates()
	if len(got) != 2 || got[0] != "bybit" {
		t.Errorf("candidates = %v, want bybit first", got)
	}
}

func TestPromoteMovesActive(t *testing.T) {
	s, tracker := testSelector(t, time.Hour)
	tracker.ReportBlock("binance")
	s.Promote("bybit")

	if s.Active() != "bybit" {
		t.Errorf("active = %q", s.Active())
	}
	got := s.Candidates()
	if got[0] != "bybit" {
		t.Errorf("candidates = %v, active should lead", got)
	}
}

func TestRecoveredVenueOfferedBeforeActive(t *testing.T) {
	s, tracker := testSelector(t, 20*time.Millisecond)
	tracker.ReportBlock("binance")
	s.Promote("bybit")

	time.Sleep(30 * time.Millisecond)
	// binance is half-open now and outranks the active venue, so it gets
	// first shot at a recovery probe.
	got := s.Candidates()
	if len(got) == 0 || got[0] != "binance" {
		t.Errorf("candidates = %v, want binance first for probe", got)
	}
}

func TestForceActiveRejectsUnknown(t *testing.T) {
	s, _ := testSelector(t, time.Hour)
	if s.ForceActive("nowhere") {
		t.Error("unknown venue accepted")
	}
	if !s.ForceActive("okx") {
		t.Fatal("force failed")
	}
	if s.Active() != "okx" {
		t.Errorf("active = %q", s.Active())
	}
}
