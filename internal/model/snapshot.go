package model

import "time"

// SnapshotSources records which venue served each snapshot component. A
// mid-aggregation fallback can source every field from a different venue.
type SnapshotSources struct {
	Spot    string `json:"spot"`
	Futures string `json:"futures"`
	Funding string `json:"funding"`
	Volume  string `json:"volume"`
}

// MarketSnapshot is the gateway output: one point-in-time aggregated
// market-data record for a symbol. It is derived on every call and never
// persisted by the gateway.
type MarketSnapshot struct {
	Symbol       string          `json:"symbol"`
	SpotPrice    float64         `json:"spot_price"`
	FuturesPrice float64         `json:"futures_price"`
	Basis        float64         `json:"basis"`
	BasisPercent float64         `json:"basis_percent"`
	FundingRate  float64         `json:"funding_rate"`
	Volume24h    float64         `json:"volume_24h"`
	TimestampMs  int64           `json:"timestamp_ms"`
	ServedBy     string          `json:"served_by"`
	Sources      SnapshotSources `json:"sources"`
}

// NewMarketSnapshot derives basis figures from the collected fields. ServedBy
// is the venue that answered the spot leg, which is also the snapshot venue in
// the common no-fallback case.
func NewMarketSnapshot(symbol string, spot, futures, funding, volume float64, sources SnapshotSources) MarketSnapshot {
	basis := futures - spot
	basisPct := 0.0
	if spot > 0 {
		basisPct = basis / spot * 100
	}
	return MarketSnapshot{
		Symbol:       symbol,
		SpotPrice:    spot,
		FuturesPrice: futures,
		Basis:        basis,
		BasisPercent: basisPct,
		FundingRate:  funding,
		Volume24h:    volume,
		TimestampMs:  time.Now().UnixMilli(),
		ServedBy:     sources.Spot,
		Sources:      sources,
	}
}
