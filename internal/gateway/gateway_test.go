package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"arbflow/config"
	"arbflow/internal/cache"
	"arbflow/internal/health"
	"arbflow/internal/model"
	"arbflow/internal/netx"
	"arbflow/internal/venue"
	"arbflow/logger"
)

// binanceHandler serves the endpoints the binance connector uses, with a
// canned spot price.
func binanceHandler(spotPrice string, calls *int32) http.Handler {
	mux := http.NewServeMux()
	count := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/api/v3/ticker/price", count(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"` + spotPrice + `"}`))
	}))
	mux.HandleFunc("/fapi/v1/premiumIndex", count(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","markPrice":"64100.00","lastFundingRate":"0.0001","nextFundingTime":1700003600000,"time":1700000000000}`))
	}))
	mux.HandleFunc("/api/v3/ticker/24hr", count(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","volume":"1000.5","quoteVolume":"64000000","closeTime":1700000000000}`))
	}))
	mux.HandleFunc("/api/v3/ping", count(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	return mux
}

// bybitHandler serves the v5 tickers endpoint for both categories.
func bybitHandler(spotPrice string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("category") == "linear" {
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[{"symbol":"BTCUSDT","lastPrice":"65090.0","markPrice":"65100.0","fundingRate":"0.0002","nextFundingTime":"1700003600000","volume24h":"2000","turnover24h":"130000000"}]},"time":1700000000000}`))
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot","list":[{"symbol":"BTCUSDT","lastPrice":"` + spotPrice + `","volume24h":"900.25","turnover24h":"58000000"}]},"time":1700000000000}`))
	})
	mux.HandleFunc("/v5/market/time", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{},"time":1700000000000}`))
	})
	return mux
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

type harness struct {
	gw      *Gateway
	tracker *health.Tracker
	store   *cache.Store
}

func newHarness(t *testing.T, binanceSrv, bybitSrv *httptest.Server, cacheTTL time.Duration) *harness {
	t.Helper()
	return newHarnessTimeout(t, binanceSrv, bybitSrv, cacheTTL, 5*time.Second)
}

func newHarnessTimeout(t *testing.T, binanceSrv, bybitSrv *httptest.Server, cacheTTL, snapshotTimeout time.Duration) *harness {
	t.Helper()
	cfg := &config.Config{
		Venues: []config.VenueConfig{
			{ID: "binance", Priority: 1, Spot: binanceSrv.URL, Futures: binanceSrv.URL,
				RateLimit: config.RateBudgetConfig{MaxCallsPerWindow: 1000, Window: time.Minute}},
			{ID: "bybit", Priority: 2, Spot: bybitSrv.URL, Futures: bybitSrv.URL,
				RateLimit: config.RateBudgetConfig{MaxCallsPerWindow: 1000, Window: time.Minute}},
		},
		Gateway: config.GatewayConfig{
			CacheTTL:        cacheTTL,
			CacheSweep:      time.Minute,
			SnapshotTimeout: snapshotTimeout,
			Breaker: config.BreakerConfig{
				FailureThreshold: 3,
				Cooldown:         time.Hour,
				BlockCooldown:    time.Hour,
			},
			Retry: config.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
	}

	log := logger.GetLogger()
	budgets := netx.NewBudgetSet(log)
	for _, v := range cfg.Venues {
		budgets.Register(v.ID, v.RateLimit)
	}
	pool, err := netx.NewTransportPool(nil, 2*time.Second)
	if err != nil {
		t.Fatalf("transport pool: %v", err)
	}
	client := netx.NewClient(log, budgets, pool, netx.NewFingerprintRotator(nil), cfg.Gateway.Retry, 2*time.Second)

	reg, err := venue.NewRegistry(cfg, client, log)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tracker := health.NewTracker(cfg.Gateway.Breaker, log)
	store := cache.New(log, cfg.Gateway.CacheTTL, cfg.Gateway.CacheSweep)

	return &harness{
		gw:      New(cfg.Gateway, reg, tracker, store, budgets, log),
		tracker: tracker,
		store:   store,
	}
}

func TestSnapshotFromPrimary(t *testing.T) {
	binanceSrv := httptest.NewServer(binanceHandler("64000.00", nil))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(bybitHandler("65000.12"))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	snap, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.ServedBy != "binance" {
		t.Errorf("served by %q, want binance", snap.ServedBy)
	}
	if snap.SpotPrice != 64000.00 || snap.FuturesPrice != 64100.00 {
		t.Errorf("prices: %+v", snap)
	}
	if snap.Basis != 100 {
		t.Errorf("basis = %v, want 100", snap.Basis)
	}
	if snap.BasisPercent == 0 {
		t.Error("basis percent not derived")
	}
	if snap.Volume24h != 1000.5 {
		t.Errorf("volume = %v", snap.Volume24h)
	}
}

func TestBlockedPrimaryFallsBackAndOpensCircuit(t *testing.T) {
	binanceSrv := httptest.NewServer(statusHandler(http.StatusUnavailableForLegalReasons))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(bybitHandler("65000.12"))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	snap, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.ServedBy != "bybit" {
		t.Errorf("served by %q, want bybit", snap.ServedBy)
	}
	if snap.SpotPrice != 65000.12 {
		t.Errorf("spot price = %v", snap.SpotPrice)
	}

	// A single blocked response must open the circuit without waiting for
	// the failure threshold.
	bs := h.tracker.Get("binance")
	if bs.State != health.StateOpen || !bs.Blocked {
		t.Errorf("binance health = %+v, want open+blocked", bs)
	}
	if bs.ConsecutiveFailures != health.BlockedFailureSentinel {
		t.Errorf("failures = %d, want sentinel", bs.ConsecutiveFailures)
	}
	if h.gw.Selector().Active() != "bybit" {
		t.Errorf("active = %q, want bybit after fallback", h.gw.Selector().Active())
	}
}

func TestAllVenuesDownIsIncomplete(t *testing.T) {
	binanceSrv := httptest.NewServer(statusHandler(http.StatusInternalServerError))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(statusHandler(http.StatusInternalServerError))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	_, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT")
	var inc *model.SnapshotIncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("expected SnapshotIncompleteError, got %v", err)
	}
	if len(inc.Missing) != 4 {
		t.Errorf("missing = %v, want all four fields", inc.Missing)
	}
	if len(inc.Causes) != 4 {
		t.Errorf("causes = %v", inc.Causes)
	}
}

func TestNoVenueAvailable(t *testing.T) {
	binanceSrv := httptest.NewServer(statusHandler(http.StatusInternalServerError))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(statusHandler(http.StatusInternalServerError))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	h.tracker.ReportBlock("binance")
	h.tracker.ReportBlock("bybit")

	_, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT")
	var inc *model.SnapshotIncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("expected SnapshotIncompleteError, got %v", err)
	}
	var nv *model.NoVenueAvailableError
	if !errors.As(inc.Causes["spot_price"], &nv) {
		t.Errorf("spot cause = %v, want NoVenueAvailableError", inc.Causes["spot_price"])
	}
}

func TestCacheAbsorbsRepeatSnapshots(t *testing.T) {
	var calls int32
	binanceSrv := httptest.NewServer(binanceHandler("64000.00", &calls))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(bybitHandler("65000.12"))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	if _, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	after := atomic.LoadInt32(&calls)

	if _, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != after {
		t.Errorf("second snapshot hit upstream: %d calls, want %d", got, after)
	}
}

func TestStatusAndReset(t *testing.T) {
	binanceSrv := httptest.NewServer(statusHandler(http.StatusForbidden))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(bybitHandler("65000.12"))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	if _, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	statuses := h.gw.Status()
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses", len(statuses))
	}
	if statuses[0].Venue != "binance" || statuses[0].Available {
		t.Errorf("binance status = %+v, want unavailable", statuses[0])
	}
	if !statuses[1].Active {
		t.Errorf("bybit should be active: %+v", statuses[1])
	}
	if statuses[1].BudgetLimit != 1000 || statuses[1].BudgetUsed == 0 {
		t.Errorf("budget not reported: %+v", statuses[1])
	}

	if h.gw.ResetVenue("nowhere") {
		t.Error("reset of unknown venue should fail")
	}
	if !h.gw.ResetVenue("binance") {
		t.Fatal("reset failed")
	}
	if got := h.tracker.Get("binance"); got.State != health.StateClosed {
		t.Errorf("state after reset = %s", got.State)
	}
}

func TestForceVenue(t *testing.T) {
	binanceSrv := httptest.NewServer(binanceHandler("64000.00", nil))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(bybitHandler("65000.12"))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	if !h.gw.ForceVenue("bybit") {
		t.Fatal("force failed")
	}
	if h.gw.Selector().Active() != "bybit" {
		t.Errorf("active = %q", h.gw.Selector().Active())
	}

	snap, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.ServedBy != "bybit" {
		t.Errorf("served by %q after force", snap.ServedBy)
	}
}

func TestForcedVenueBypassesOtherVenueCache(t *testing.T) {
	binanceSrv := httptest.NewServer(binanceHandler("64000.00", nil))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(bybitHandler("65000.12"))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	snap, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if snap.ServedBy != "binance" {
		t.Fatalf("served by %q, want binance", snap.ServedBy)
	}

	// Cached binance values must not answer for bybit after the operator
	// pins it active; entries are scoped per venue.
	if !h.gw.ForceVenue("bybit") {
		t.Fatal("force failed")
	}
	snap, err = h.gw.GetSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("snapshot after force: %v", err)
	}
	if snap.ServedBy != "bybit" {
		t.Errorf("served by %q after force, want bybit", snap.ServedBy)
	}
	if snap.SpotPrice != 65000.12 {
		t.Errorf("spot price = %v, want bybit's 65000.12", snap.SpotPrice)
	}
}

func TestSnapshotDeadlineReturnsIncomplete(t *testing.T) {
	hang := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	binanceSrv := httptest.NewServer(hang)
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(hang)
	defer bybitSrv.Close()

	h := newHarnessTimeout(t, binanceSrv, bybitSrv, time.Minute, 300*time.Millisecond)

	start := time.Now()
	_, err := h.gw.GetSnapshot(context.Background(), "BTCUSDT")
	elapsed := time.Since(start)

	var inc *model.SnapshotIncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("expected SnapshotIncompleteError, got %v", err)
	}
	if elapsed < 250*time.Millisecond {
		t.Errorf("returned before the deadline: %s", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("deadline not enforced: %s", elapsed)
	}

	// An unresponsive venue on a caller deadline is a soft failure: the
	// circuit stays closed.
	if got := h.tracker.Get("binance"); got.State != health.StateClosed {
		t.Errorf("binance state = %s, want closed after deadline", got.State)
	}
}

func TestConnectivityProbes(t *testing.T) {
	binanceSrv := httptest.NewServer(statusHandler(http.StatusUnavailableForLegalReasons))
	defer binanceSrv.Close()
	bybitSrv := httptest.NewServer(bybitHandler("65000.12"))
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	results := h.gw.TestConnectivity(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	byVenue := map[string]model.ConnectivityResult{}
	for _, r := range results {
		byVenue[r.Venue] = r
	}
	if byVenue["binance"].OK {
		t.Error("binance probe should fail")
	}
	if byVenue["binance"].Error == "" {
		t.Error("probe error text missing")
	}
	if !byVenue["bybit"].OK {
		t.Errorf("bybit probe failed: %s", byVenue["bybit"].Error)
	}
	if h.tracker.Get("binance").State != health.StateOpen {
		t.Error("blocked probe should open the circuit")
	}
}

func TestOrderBookFallback(t *testing.T) {
	binanceSrv := httptest.NewServer(statusHandler(http.StatusInternalServerError))
	defer binanceSrv.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/orderbook", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"s":"BTCUSDT","b":[["64999.9","0.5"]],"a":[["65000.1","0.8"]],"ts":1700000000000},"time":1700000000000}`))
	})
	bybitSrv := httptest.NewServer(mux)
	defer bybitSrv.Close()

	h := newHarness(t, binanceSrv, bybitSrv, time.Minute)
	book, err := h.gw.GetOrderBook(context.Background(), "BTCUSDT", model.MarketTypeSpot, 25)
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if book.Venue != "bybit" {
		t.Errorf("book venue = %q", book.Venue)
	}
	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Errorf("depth = %d/%d", len(book.Bids), len(book.Asks))
	}
}
