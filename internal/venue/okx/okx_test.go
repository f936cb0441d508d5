package okx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arbflow/config"
	"arbflow/internal/model"
	"arbflow/internal/netx"
	"arbflow/logger"
)

func testConnector(t *testing.T, handler http.Handler) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	budgets := netx.NewBudgetSet(logger.GetLogger())
	budgets.Register("okx", config.RateBudgetConfig{MaxCallsPerWindow: 100, Window: time.Minute})
	pool, err := netx.NewTransportPool(nil, time.Second)
	if err != nil {
		t.Fatalf("transport pool: %v", err)
	}
	client := netx.NewClient(logger.GetLogger(), budgets, pool, netx.NewFingerprintRotator(nil), config.RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, time.Second)

	return New(config.VenueConfig{ID: "okx", Spot: srv.URL, Futures: srv.URL}, client, logger.GetLogger())
}

func TestFetchSpotTickerMapsInstrument(t *testing.T) {
	c := testConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("instId"); got != "BTC-USDT" {
			t.Errorf("instId = %q, want BTC-USDT", got)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"65000.12","vol24h":"8000","volCcy24h":"520000000","ts":"1700000000000"}]}`))
	}))

	tk, err := c.FetchTicker(context.Background(), "BTCUSDT", model.MarketTypeSpot)
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if tk.Price != 65000.12 {
		t.Errorf("price = %v", tk.Price)
	}
	if tk.Timestamp.UnixMilli() != 1700000000000 {
		t.Errorf("timestamp = %v", tk.Timestamp)
	}
}

func TestFuturesTickerUsesSwapInstrument(t *testing.T) {
	c := testConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("instId"); got != "BTC-USDT-SWAP" {
			t.Errorf("instId = %q, want BTC-USDT-SWAP", got)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","last":"65100.5","vol24h":"9000","volCcy24h":"580000000","ts":"1700000000000"}]}`))
	}))

	tk, err := c.FetchTicker(context.Background(), "BTCUSDT", model.MarketTypeFuture)
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if tk.Price != 65100.5 {
		t.Errorf("price = %v", tk.Price)
	}
}

func TestFetchFundingRate(t *testing.T) {
	c := testConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v5/public/funding-rate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","fundingRate":"0.00015","nextFundingTime":"1700003600000","fundingTime":"1700000000000"}]}`))
	}))

	fr, err := c.FetchFundingRate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchFundingRate: %v", err)
	}
	if fr.Rate != 0.00015 {
		t.Errorf("rate = %v", fr.Rate)
	}
}

func TestVenueErrorCode(t *testing.T) {
	c := testConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	}))

	if _, err := c.FetchTicker(context.Background(), "BTCUSDT", model.MarketTypeSpot); err == nil {
		t.Error("expected error for non-zero code")
	}
}

func TestFetchOrderBookIgnoresExtraColumns(t *testing.T) {
	c := testConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[{"bids":[["64999.9","0.5","0","3"]],"asks":[["65000.1","0.8","0","1"]],"ts":"1700000000000"}]}`))
	}))

	book, err := c.FetchOrderBook(context.Background(), "BTCUSDT", model.MarketTypeSpot, 20)
	if err != nil {
		t.Fatalf("FetchOrderBook: %v", err)
	}
	if len(book.Bids) != 1 || book.Bids[0].Quantity != 0.5 {
		t.Errorf("bids = %+v", book.Bids)
	}
}
