package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"arbflow/config"
	"arbflow/internal/cache"
	"arbflow/internal/gateway"
	"arbflow/internal/health"
	"arbflow/internal/netx"
	"arbflow/internal/venue"
	"arbflow/logger"
)

// binanceStub answers every endpoint the binance connector needs so the
// gateway behind the API has a live venue.
func binanceStub() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"64000.00"}`))
	})
	mux.HandleFunc("/fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","markPrice":"64100.00","lastFundingRate":"0.0001","nextFundingTime":1700003600000,"time":1700000000000}`))
	})
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","volume":"1000.5","quoteVolume":"64000000","closeTime":1700000000000}`))
	})
	mux.HandleFunc("/api/v3/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	return mux
}

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	srv := httptest.NewServer(binanceStub())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Venues: []config.VenueConfig{
			{ID: "binance", Priority: 1, Spot: srv.URL, Futures: srv.URL,
				RateLimit: config.RateBudgetConfig{MaxCallsPerWindow: 1000, Window: time.Minute}},
		},
		Gateway: config.GatewayConfig{
			CacheTTL:        time.Minute,
			CacheSweep:      time.Minute,
			SnapshotTimeout: 5 * time.Second,
			Breaker:         config.BreakerConfig{FailureThreshold: 3, Cooldown: time.Hour, BlockCooldown: time.Hour},
			Retry:           config.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
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
	gw := gateway.New(cfg.Gateway, reg, tracker, store, budgets, log)

	s := NewServer(config.DashboardConfig{Enabled: true, Address: ":0"}, gw, log)
	if s == nil {
		t.Fatal("server should be enabled")
	}
	router, err := s.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	return router
}

func TestDisabledServerIsNil(t *testing.T) {
	if s := NewServer(config.DashboardConfig{Enabled: false}, nil, logger.GetLogger()); s != nil {
		t.Error("disabled dashboard should return nil server")
	}
	var s *Server
	if got := s.Address(); got != "" {
		t.Errorf("nil server address = %q", got)
	}
}

func TestHealthz(t *testing.T) {
	router := testRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	router := testRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var payload struct {
		Active string `json:"active"`
		Venues []struct {
			Venue     string `json:"venue"`
			Available bool   `json:"available"`
		} `json:"venues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Active != "binance" || len(payload.Venues) != 1 {
		t.Errorf("payload = %+v", payload)
	}
	if !payload.Venues[0].Available {
		t.Error("venue should be available")
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	router := testRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/snapshot/btcusdt", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var snap struct {
		Symbol    string  `json:"symbol"`
		SpotPrice float64 `json:"spot_price"`
		ServedBy  string  `json:"served_by"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Symbol != "BTCUSDT" || snap.SpotPrice != 64000.00 || snap.ServedBy != "binance" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestLimitsEndpoint(t *testing.T) {
	router := testRouter(t)

	// A snapshot spends budget so the endpoint has usage to report.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/snapshot/btcusdt", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/limits", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("limits status = %d, body = %s", w.Code, w.Body.String())
	}
	var payload struct {
		Limits []struct {
			Venue string `json:"venue"`
			Used  int    `json:"used"`
			Limit int    `json:"limit"`
		} `json:"limits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Limits) != 1 {
		t.Fatalf("limits = %+v", payload.Limits)
	}
	if payload.Limits[0].Venue != "binance" || payload.Limits[0].Limit != 1000 {
		t.Errorf("budget identity = %+v", payload.Limits[0])
	}
	if payload.Limits[0].Used == 0 {
		t.Error("budget usage not reported")
	}
}

func TestVenueActionsRejectUnknown(t *testing.T) {
	router := testRouter(t)
	for _, path := range []string{"/api/venues/nowhere/reset", "/api/venues/nowhere/activate"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
	}
}

func TestVenueResetAndCacheClear(t *testing.T) {
	router := testRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/venues/binance/reset", nil))
	if w.Code != http.StatusOK {
		t.Errorf("reset status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))
	if w.Code != http.StatusOK {
		t.Errorf("cache clear status = %d", w.Code)
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "0.0.0.0:8080"},
		{":9090", "0.0.0.0:9090"},
		{"127.0.0.1", "127.0.0.1:8080"},
		{"localhost:3000", "localhost:3000"},
		{"http://0.0.0.0:8080", "0.0.0.0:8080"},
	}
	for _, tt := range tests {
		if got := normalizeAddress(tt.in); got != tt.want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
