package model

import "time"

// MarketType selects the venue segment a connector talks to.
type MarketType string

const (
	MarketTypeSpot   MarketType = "spot"
	MarketTypeFuture MarketType = "future"
)

// Field identifies one independently fetched snapshot component.
type Field string

const (
	FieldSpotPrice    Field = "spot_price"
	FieldFuturesPrice Field = "futures_price"
	FieldFundingRate  Field = "funding_rate"
	FieldVolume24h    Field = "volume_24h"
)

// Ticker is a normalized last-price observation.
type Ticker struct {
	Venue     string
	Symbol    string
	Market    MarketType
	Price     float64
	Timestamp time.Time
}

// FundingRate is the current perpetual funding rate plus the next settlement
// time when the venue reports one.
type FundingRate struct {
	Venue       string
	Symbol      string
	Rate        float64
	NextFunding time.Time
	Timestamp   time.Time
}

// VolumeStat is rolling 24h traded volume in base units, with quote turnover
// when available.
type VolumeStat struct {
	Venue         string
	Symbol        string
	Market        MarketType
	BaseVolume    float64
	QuoteTurnover float64
	Timestamp     time.Time
}

// PriceLevel is one order book row.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a depth snapshot, bids descending and asks ascending.
type OrderBook struct {
	Venue     string
	Symbol    string
	Market    MarketType
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// PriceUpdate is one streamed mark-price/funding observation.
type PriceUpdate struct {
	Venue       string
	Symbol      string
	MarkPrice   float64
	IndexPrice  float64
	FundingRate float64
	NextFunding time.Time
	Timestamp   time.Time
}

// OrderSide is shared with the external trading engine.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderRequest is the shared order shape. The gateway itself never routes
// orders; see ErrExecutionUnsupported.
type OrderRequest struct {
	Symbol   string
	Market   MarketType
	Side     OrderSide
	Quantity float64
	Price    float64
}

// OrderAck acknowledges a routed order.
type OrderAck struct {
	Venue        string
	VenueOrderID string
	Timestamp    time.Time
}
