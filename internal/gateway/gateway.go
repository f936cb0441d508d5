package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"arbflow/config"
	"arbflow/internal/cache"
	"arbflow/internal/health"
	"arbflow/internal/model"
	"arbflow/internal/netx"
	"arbflow/internal/venue"
	"arbflow/logger"
)

// Gateway aggregates market data across venues with automatic fallback. Each
// snapshot field is fetched independently, so a venue failing mid-aggregation
// only degrades the fields it had not yet served.
type Gateway struct {
	log      *logger.Entry
	cfg      config.GatewayConfig
	reg      *venue.Registry
	tracker  *health.Tracker
	selector *Selector
	store    *cache.Store
	budgets  *netx.BudgetSet
}

func New(cfg config.GatewayConfig, reg *venue.Registry, tracker *health.Tracker, store *cache.Store, budgets *netx.BudgetSet, log *logger.Log) *Gateway {
	g := &Gateway{
		log:      log.WithComponent("gateway"),
		cfg:      cfg,
		reg:      reg,
		tracker:  tracker,
		selector: NewSelector(reg, tracker, log),
		store:    store,
		budgets:  budgets,
	}
	for _, d := range reg.List() {
		tracker.Register(d.ID)
	}
	return g
}

// Selector exposes the venue selector for operator surfaces.
func (g *Gateway) Selector() *Selector { return g.selector }

// Cache exposes the response cache for the stream write-through.
func (g *Gateway) Cache() *cache.Store { return g.store }

type fieldResult struct {
	value float64
	venue string
}

// GetSnapshot fetches all four snapshot fields concurrently and derives the
// basis figures. When one or more fields cannot be served by any venue the
// error is a *model.SnapshotIncompleteError naming them; the gateway never
// fabricates partial snapshots silently.
func (g *Gateway) GetSnapshot(ctx context.Context, symbol string) (model.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.SnapshotTimeout)
	defer cancel()

	results := make(map[model.Field]fieldResult, 4)
	causes := make(map[string]error, 4)
	var mu sync.Mutex

	fields := []model.Field{
		model.FieldSpotPrice,
		model.FieldFuturesPrice,
		model.FieldFundingRate,
		model.FieldVolume24h,
	}

	var eg errgroup.Group
	for _, field := range fields {
		field := field
		eg.Go(func() error {
			value, servedBy, err := g.fetchField(ctx, symbol, field)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				causes[string(field)] = err
				return nil
			}
			results[field] = fieldResult{value: value, venue: servedBy}
			return nil
		})
	}
	eg.Wait()

	if len(causes) > 0 {
		missing := make([]string, 0, len(causes))
		for f := range causes {
			missing = append(missing, f)
		}
		sort.Strings(missing)
		logger.IncrementSnapshot(false)
		return model.MarketSnapshot{}, &model.SnapshotIncompleteError{
			Symbol:  symbol,
			Missing: missing,
			Causes:  causes,
		}
	}

	snap := model.NewMarketSnapshot(symbol,
		results[model.FieldSpotPrice].value,
		results[model.FieldFuturesPrice].value,
		results[model.FieldFundingRate].value,
		results[model.FieldVolume24h].value,
		model.SnapshotSources{
			Spot:    results[model.FieldSpotPrice].venue,
			Futures: results[model.FieldFuturesPrice].venue,
			Funding: results[model.FieldFundingRate].venue,
			Volume:  results[model.FieldVolume24h].venue,
		})
	logger.IncrementSnapshot(true)
	return snap, nil
}

// fetchField serves one snapshot field from cache or from the first healthy
// venue in selection order, recording the outcome of every attempt in the
// health tracker.
func (g *Gateway) fetchField(ctx context.Context, symbol string, field model.Field) (float64, string, error) {
	candidates := g.selector.Candidates()
	if len(candidates) == 0 {
		return 0, "", &model.NoVenueAvailableError{Market: marketFor(field)}
	}

	var lastErr error
	tried := 0
	for _, id := range candidates {
		// Cache entries are venue-scoped, so the lookup happens per
		// candidate: data cached from a deprioritized venue never
		// shadows the venue selection wants to serve from.
		if e, ok := g.store.Get(id, symbol, field); ok {
			if v, ok := e.Value.(float64); ok {
				return v, e.Venue, nil
			}
		}
		if !g.tracker.Allow(id) {
			continue
		}
		tried++
		conn, ok := g.reg.Connector(id)
		if !ok {
			continue
		}

		value, err := fetchFrom(ctx, conn, symbol, field)
		if err == nil {
			g.tracker.ReportSuccess(id)
			g.selector.Promote(id)
			g.store.Put(id, symbol, field, value)
			return value, id, nil
		}

		lastErr = err
		g.recordFailure(id, err)
		if ctx.Err() != nil {
			return 0, "", fmt.Errorf("fetch %s for %s: %w", field, symbol, err)
		}
	}

	if tried == 0 {
		return 0, "", &model.NoVenueAvailableError{Market: marketFor(field)}
	}
	return 0, "", fmt.Errorf("fetch %s for %s: %w", field, symbol, lastErr)
}

// recordFailure translates a call error into the right health signal. A
// caller-side deadline is soft: it says nothing about the venue.
func (g *Gateway) recordFailure(id string, err error) {
	var blocked *model.BlockedError
	switch {
	case errors.As(err, &blocked):
		g.tracker.ReportBlock(id)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		g.tracker.ReportSoftFailure(id)
	default:
		g.tracker.ReportFailure(id)
	}
}

func fetchFrom(ctx context.Context, conn venue.Connector, symbol string, field model.Field) (float64, error) {
	switch field {
	case model.FieldSpotPrice:
		t, err := conn.FetchTicker(ctx, symbol, model.MarketTypeSpot)
		if err != nil {
			return 0, err
		}
		return t.Price, nil
	case model.FieldFuturesPrice:
		t, err := conn.FetchTicker(ctx, symbol, model.MarketTypeFuture)
		if err != nil {
			return 0, err
		}
		return t.Price, nil
	case model.FieldFundingRate:
		fr, err := conn.FetchFundingRate(ctx, symbol)
		if err != nil {
			return 0, err
		}
		return fr.Rate, nil
	case model.FieldVolume24h:
		v, err := conn.Fetch24hVolume(ctx, symbol, model.MarketTypeSpot)
		if err != nil {
			return 0, err
		}
		return v.BaseVolume, nil
	default:
		return 0, fmt.Errorf("unknown snapshot field %q", field)
	}
}

func marketFor(field model.Field) string {
	switch field {
	case model.FieldFuturesPrice, model.FieldFundingRate:
		return string(model.MarketTypeFuture)
	default:
		return string(model.MarketTypeSpot)
	}
}

// GetOrderBook serves a depth snapshot with the same fallback walk as the
// scalar fields but without caching: books go stale faster than the TTL.
func (g *Gateway) GetOrderBook(ctx context.Context, symbol string, market model.MarketType, depth int) (model.OrderBook, error) {
	candidates := g.selector.Candidates()
	var lastErr error
	tried := 0
	for _, id := range candidates {
		if !g.tracker.Allow(id) {
			continue
		}
		tried++
		conn, ok := g.reg.Connector(id)
		if !ok {
			continue
		}
		book, err := conn.FetchOrderBook(ctx, symbol, market, depth)
		if err == nil {
			g.tracker.ReportSuccess(id)
			g.selector.Promote(id)
			return book, nil
		}
		lastErr = err
		g.recordFailure(id, err)
		if ctx.Err() != nil {
			return model.OrderBook{}, err
		}
	}
	if tried == 0 {
		return model.OrderBook{}, &model.NoVenueAvailableError{Market: string(market)}
	}
	return model.OrderBook{}, fmt.Errorf("order book for %s: %w", symbol, lastErr)
}

// TestConnectivity probes every configured venue concurrently. Probe outcomes
// feed the health tracker like any other call.
func (g *Gateway) TestConnectivity(ctx context.Context) []model.ConnectivityResult {
	list := g.reg.List()
	results := make([]model.ConnectivityResult, len(list))

	var eg errgroup.Group
	for i, d := range list {
		i, d := i, d
		eg.Go(func() error {
			conn, ok := g.reg.Connector(d.ID)
			if !ok {
				return nil
			}
			start := time.Now()
			err := conn.Probe(ctx)
			latency := time.Since(start)

			res := model.ConnectivityResult{
				Venue:     d.ID,
				OK:        err == nil,
				Latency:   latency,
				LatencyMs: float64(latency.Microseconds()) / 1000,
				CheckedAt: time.Now(),
			}
			if err != nil {
				res.Error = err.Error()
				g.recordFailure(d.ID, &model.ProbeError{Venue: d.ID, Latency: latency, Err: err})
			} else {
				g.tracker.ReportSuccess(d.ID)
			}
			results[i] = res
			return nil
		})
	}
	eg.Wait()
	return results
}

// Status composes the operator view: registry identity, circuit state and
// rate budget usage per venue, in priority order.
func (g *Gateway) Status() []model.VenueStatus {
	active := g.selector.Active()
	snaps := g.tracker.Snapshots()

	out := make([]model.VenueStatus, 0, len(snaps))
	for _, d := range g.reg.List() {
		snap := snaps[d.ID]
		st := model.VenueStatus{
			Venue:               d.ID,
			DisplayName:         d.DisplayName,
			Priority:            d.Priority,
			Available:           snap.Available,
			Active:              d.ID == active,
			Blocked:             snap.Blocked,
			ConsecutiveFailures: snap.ConsecutiveFailures,
			LastCheckedAt:       snap.LastCheckedAt,
			DisabledUntil:       snap.DisabledUntil,
		}
		if bs, ok := g.budgets.Status(d.ID); ok {
			st.BudgetUsed = bs.Used
			st.BudgetLimit = bs.Limit
		}
		out = append(out, st)
	}
	return out
}

// Limits reports per-venue rate budget usage in priority order.
func (g *Gateway) Limits() []netx.BudgetStatus {
	list := g.reg.List()
	out := make([]netx.BudgetStatus, 0, len(list))
	for _, d := range list {
		if bs, ok := g.budgets.Status(d.ID); ok {
			out = append(out, bs)
		}
	}
	return out
}

// ResetVenue clears the venue's circuit state. Returns false for unknown ids.
func (g *Gateway) ResetVenue(id string) bool {
	if _, ok := g.reg.Get(id); !ok {
		return false
	}
	g.tracker.Reset(id)
	return true
}

// ForceVenue resets the venue and pins it as active.
func (g *Gateway) ForceVenue(id string) bool {
	if !g.selector.ForceActive(id) {
		return false
	}
	g.tracker.Reset(id)
	return true
}

// ClearCache drops all cached field values.
func (g *Gateway) ClearCache() {
	g.store.Flush()
}
