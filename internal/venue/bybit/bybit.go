// Package bybit normalizes Bybit v5 market payloads. Spot and linear perps
// share one payload envelope, distinguished by the category query parameter.
package bybit

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

const venueID = "bybit"

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
		probe = cfg.Spot + "/v5/market/time"
	}
	return &Connector{
		client:   client,
		log:      log.WithComponent("venue.bybit"),
		spotBase: cfg.Spot,
		futBase:  cfg.Futures,
		probeURL: probe,
	}
}

func (c *Connector) Venue() string { return venueID }

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

type tickerResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol          string `json:"symbol"`
		LastPrice       string `json:"lastPrice"`
		MarkPrice       string `json:"markPrice"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
		Volume24h       string `json:"volume24h"`
		Turnover24h     string `json:"turnover24h"`
	} `json:"list"`
}

type orderbookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Ts     int64      `json:"ts"`
}

func category(market model.MarketType) string {
	if market == model.MarketTypeFuture {
		return "linear"
	}
	return "spot"
}

func (c *Connector) base(market model.MarketType) string {
	if market == model.MarketTypeFuture {
		return c.futBase
	}
	return c.spotBase
}

func (c *Connector) fetchTickerRow(ctx context.Context, symbol string, market model.MarketType) (*tickerResult, int64, error) {
	sym := symbols.ToVenue(venueID, symbol, market)
	body, err := c.get(ctx, symbol, c.base(market)+"/v5/market/tickers", url.Values{
		"category": {category(market)},
		"symbol":   {sym},
	})
	if err != nil {
		return nil, 0, err
	}
	env, err := unwrap(body)
	if err != nil {
		return nil, 0, err
	}
	var res tickerResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, 0, fmt.Errorf("bybit ticker payload: %w", err)
	}
	if len(res.List) == 0 {
		return nil, 0, fmt.Errorf("bybit returned no ticker rows for %s", sym)
	}
	return &res, env.Time, nil
}

func (c *Connector) FetchTicker(ctx context.Context, symbol string, market model.MarketType) (model.Ticker, error) {
	res, ts, err := c.fetchTickerRow(ctx, symbol, market)
	if err != nil {
		return model.Ticker{}, err
	}
	row := res.List[0]
	raw := row.LastPrice
	if market == model.MarketTypeFuture && row.MarkPrice != "" {
		raw = row.MarkPrice
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return model.Ticker{}, fmt.Errorf("bybit price %q: %w", raw, err)
	}
	return model.Ticker{
		Venue:     venueID,
		Symbol:    symbol,
		Market:    market,
		Price:     price,
		Timestamp: time.UnixMilli(ts),
	}, nil
}

func (c *Connector) FetchFundingRate(ctx context.Context, symbol string) (model.FundingRate, error) {
	res, ts, err := c.fetchTickerRow(ctx, symbol, model.MarketTypeFuture)
	if err != nil {
		return model.FundingRate{}, err
	}
	row := res.List[0]
	rate, err := strconv.ParseFloat(row.FundingRate, 64)
	if err != nil {
		return model.FundingRate{}, fmt.Errorf("bybit funding rate %q: %w", row.FundingRate, err)
	}
	next, _ := strconv.ParseInt(row.NextFundingTime, 10, 64)
	return model.FundingRate{
		Venue:       venueID,
		Symbol:      symbol,
		Rate:        rate,
		NextFunding: time.UnixMilli(next),
		Timestamp:   time.UnixMilli(ts),
	}, nil
}

func (c *Connector) Fetch24hVolume(ctx context.Context, symbol string, market model.MarketType) (model.VolumeStat, error) {
	res, ts, err := c.fetchTickerRow(ctx, symbol, market)
	if err != nil {
		return model.VolumeStat{}, err
	}
	row := res.List[0]
	base, err := strconv.ParseFloat(row.Volume24h, 64)
	if err != nil {
		return model.VolumeStat{}, fmt.Errorf("bybit volume %q: %w", row.Volume24h, err)
	}
	quote, _ := strconv.ParseFloat(row.Turnover24h, 64)
	return model.VolumeStat{
		Venue:         venueID,
		Symbol:        symbol,
		Market:        market,
		BaseVolume:    base,
		QuoteTurnover: quote,
		Timestamp:     time.UnixMilli(ts),
	}, nil
}

func (c *Connector) FetchOrderBook(ctx context.Context, symbol string, market model.MarketType, depth int) (model.OrderBook, error) {
	if depth <= 0 {
		depth = 25
	}
	sym := symbols.ToVenue(venueID, symbol, market)
	body, err := c.get(ctx, symbol, c.base(market)+"/v5/market/orderbook", url.Values{
		"category": {category(market)},
		"symbol":   {sym},
		"limit":    {strconv.Itoa(depth)},
	})
	if err != nil {
		return model.OrderBook{}, err
	}
	env, err := unwrap(body)
	if err != nil {
		return model.OrderBook{}, err
	}
	var res orderbookResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return model.OrderBook{}, fmt.Errorf("bybit orderbook payload: %w", err)
	}
	book := model.OrderBook{
		Venue:     venueID,
		Symbol:    symbol,
		Market:    market,
		Timestamp: time.UnixMilli(res.Ts),
	}
	if book.Bids, err = parseLevels(res.Bids); err != nil {
		return model.OrderBook{}, err
	}
	if book.Asks, err = parseLevels(res.Asks); err != nil {
		return model.OrderBook{}, err
	}
	return book, nil
}

func parseLevels(rows [][]string) ([]model.PriceLevel, error) {
	levels := make([]model.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bybit depth price %q: %w", row[0], err)
		}
		qty, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bybit depth size %q: %w", row[1], err)
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

func unwrap(body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("bybit envelope: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit error %d: %s", env.RetCode, env.RetMsg)
	}
	return &env, nil
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
