// Package kucoin normalizes KuCoin spot and futures payloads. The two
// segments are separate APIs with different symbol grammars and different
// scalar encodings: spot reports strings, futures contracts report numbers.
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"arbflow/config"
	"arbflow/internal/model"
	"arbflow/internal/netx"
	"arbflow/internal/symbols"
	"arbflow/logger"
)

const venueID = "kucoin"

type Connector struct {
	client   *netx.Client
	log      *logger.Entry
	spotBase string
	futBase  string
	probeURL string
}

func New(cfg config.VenueConfig, client *netx.Client, log *logger.Log) *Connector {
	probe := cfg.Probe
	if probe == "" {
		probe = cfg.Spot + "/api/v1/timestamp"
	}
	return &Connector{
		client:   client,
		log:      log.WithComponent("venue.kucoin"),
		spotBase: cfg.Spot,
		futBase:  cfg.Futures,
		probeURL: probe,
	}
}

func (c *Connector) Venue() string { return venueID }

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type level1Data struct {
	Price string `json:"price"`
	Time  int64  `json:"time"`
}

type statsData struct {
	Symbol   string `json:"symbol"`
	Vol      string `json:"vol"`
	VolValue string `json:"volValue"`
	Time     int64  `json:"time"`
}

type contractData struct {
	Symbol              string  `json:"symbol"`
	MarkPrice           float64 `json:"markPrice"`
	LastTradePrice      float64 `json:"lastTradePrice"`
	FundingFeeRate      float64 `json:"fundingFeeRate"`
	NextFundingRateTime int64   `json:"nextFundingRateTime"`
	VolumeOf24h         float64 `json:"volumeOf24h"`
	TurnoverOf24h       float64 `json:"turnoverOf24h"`
}

type level2Data struct {
	Time int64      `json:"time"`
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

func (c *Connector) FetchTicker(ctx context.Context, symbol string, market model.MarketType) (model.Ticker, error) {
	if market == model.MarketTypeFuture {
		contract, err := c.fetchContract(ctx, symbol)
		if err != nil {
			return model.Ticker{}, err
		}
		price := contract.MarkPrice
		if price == 0 {
			price = contract.LastTradePrice
		}
		return model.Ticker{
			Venue:     venueID,
			Symbol:    symbol,
			Market:    market,
			Price:     price,
			Timestamp: time.Now(),
		}, nil
	}

	sym := symbols.ToVenue(venueID, symbol, market)
	body, err := c.get(ctx, symbol, c.spotBase+"/api/v1/market/orderbook/level1", url.Values{"symbol": {sym}})
	if err != nil {
		return model.Ticker{}, err
	}
	var d level1Data
	if err := unwrap(body, &d); err != nil {
		return model.Ticker{}, err
	}
	price, err := strconv.ParseFloat(d.Price, 64)
	if err != nil {
		return model.Ticker{}, fmt.Errorf("kucoin price %q: %w", d.Price, err)
	}
	return model.Ticker{
		Venue:     venueID,
		Symbol:    symbol,
		Market:    market,
		Price:     price,
		Timestamp: time.UnixMilli(d.Time),
	}, nil
}

func (c *Connector) FetchFundingRate(ctx context.Context, symbol string) (model.FundingRate, error) {
	contract, err := c.fetchContract(ctx, symbol)
	if err != nil {
		return model.FundingRate{}, err
	}
	now := time.Now()
	return model.FundingRate{
		Venue:  venueID,
		Symbol: symbol,
		Rate:   contract.FundingFeeRate,
		// The contract reports time remaining until settlement, not a
		// wall-clock deadline.
		NextFunding: now.Add(time.Duration(contract.NextFundingRateTime) * time.Millisecond),
		Timestamp:   now,
	}, nil
}

func (c *Connector) Fetch24hVolume(ctx context.Context, symbol string, market model.MarketType) (model.VolumeStat, error) {
	if market == model.MarketTypeFuture {
		contract, err := c.fetchContract(ctx, symbol)
		if err != nil {
			return model.VolumeStat{}, err
		}
		return model.VolumeStat{
			Venue:         venueID,
			Symbol:        symbol,
			Market:        market,
			BaseVolume:    contract.VolumeOf24h,
			QuoteTurnover: contract.TurnoverOf24h,
			Timestamp:     time.Now(),
		}, nil
	}

	sym := symbols.ToVenue(venueID, symbol, market)
	body, err := c.get(ctx, symbol, c.spotBase+"/api/v1/market/stats", url.Values{"symbol": {sym}})
	if err != nil {
		return model.VolumeStat{}, err
	}
	var d statsData
	if err := unwrap(body, &d); err != nil {
		return model.VolumeStat{}, err
	}
	base, err := strconv.ParseFloat(d.Vol, 64)
	if err != nil {
		return model.VolumeStat{}, fmt.Errorf("kucoin volume %q: %w", d.Vol, err)
	}
	quote, _ := strconv.ParseFloat(d.VolValue, 64)
	return model.VolumeStat{
		Venue:         venueID,
		Symbol:        symbol,
		Market:        market,
		BaseVolume:    base,
		QuoteTurnover: quote,
		Timestamp:     time.UnixMilli(d.Time),
	}, nil
}

func (c *Connector) FetchOrderBook(ctx context.Context, symbol string, market model.MarketType, depth int) (model.OrderBook, error) {
	if market == model.MarketTypeFuture {
		return model.OrderBook{}, fmt.Errorf("kucoin futures order book is not wired")
	}
	endpoint := c.spotBase + "/api/v1/market/orderbook/level2_20"
	if depth > 20 {
		endpoint = c.spotBase + "/api/v1/market/orderbook/level2_100"
	}
	sym := symbols.ToVenue(venueID, symbol, market)
	body, err := c.get(ctx, symbol, endpoint, url.Values{"symbol": {sym}})
	if err != nil {
		return model.OrderBook{}, err
	}
	var d level2Data
	if err := unwrap(body, &d); err != nil {
		return model.OrderBook{}, err
	}
	book := model.OrderBook{
		Venue:     venueID,
		Symbol:    symbol,
		Market:    market,
		Timestamp: time.UnixMilli(d.Time),
	}
	if book.Bids, err = parseLevels(d.Bids); err != nil {
		return model.OrderBook{}, err
	}
	if book.Asks, err = parseLevels(d.Asks); err != nil {
		return model.OrderBook{}, err
	}
	return book, nil
}

func (c *Connector) fetchContract(ctx context.Context, symbol string) (*contractData, error) {
	contract := symbols.ToVenue(venueID, symbol, model.MarketTypeFuture)
	body, err := c.get(ctx, symbol, c.futBase+"/api/v1/contracts/"+contract, nil)
	if err != nil {
		return nil, err
	}
	var d contractData
	if err := unwrap(body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func parseLevels(rows [][]string) ([]model.PriceLevel, error) {
	levels := make([]model.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("kucoin depth price %q: %w", row[0], err)
		}
		qty, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("kucoin depth size %q: %w", row[1], err)
		}
		levels = append(levels, model.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

func (c *Connector) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error) {
	return model.OrderAck{}, model.ErrExecutionUnsupported
}

func (c *Connector) CancelOrder(ctx context.Context, venueOrderID string) error {
	return model.ErrExecutionUnsupported
}

func (c *Connector) Probe(ctx context.Context) error {
	_, err := c.client.Execute(ctx, netx.Request{Venue: venueID, URL: c.probeURL})
	return err
}

func unwrap(body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("kucoin envelope: %w", err)
	}
	if env.Code != "200000" {
		return fmt.Errorf("kucoin error %s: %s", env.Code, env.Msg)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("kucoin data payload: %w", err)
	}
	return nil
}

func (c *Connector) get(ctx context.Context, symbol, endpoint string, q url.Values) ([]byte, error) {
	resp, err := c.client.Execute(ctx, netx.Request{
		Venue:  venueID,
		Symbol: symbol,
		URL:    endpoint,
		Query:  q,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
