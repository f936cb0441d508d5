package venue

import (
	"context"

	"arbflow/internal/model"
)

// Connector is the per-venue market-data surface. Implementations normalize
// venue payloads into model types and never retry, cache or track health
// themselves; the shared HTTP client owns the outbound policy and the gateway
// owns selection.
//
// PlaceOrder and CancelOrder are part of the shape shared with the execution
// engine; gateway connectors answer them with model.ErrExecutionUnsupported.
type Connector interface {
	Venue() string

	FetchTicker(ctx context.Context, symbol string, market model.MarketType) (model.Ticker, error)
	FetchFundingRate(ctx context.Context, symbol string) (model.FundingRate, error)
	Fetch24hVolume(ctx context.Context, symbol string, market model.MarketType) (model.VolumeStat, error)
	FetchOrderBook(ctx context.Context, symbol string, market model.MarketType, depth int) (model.OrderBook, error)

	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error)
	CancelOrder(ctx context.Context, venueOrderID string) error

	// Probe performs one cheap unauthenticated call, used by connectivity
	// checks and circuit-breaker recovery probes.
	Probe(ctx context.Context) error
}
