// Package okx normalizes OKX v5 market payloads. Spot and swap instruments
// live on one API; the instrument id carries the market segment.
package okx

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

const venueID = "okx"

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
		probe = cfg.Spot + "/api/v5/public/time"
	}
	return &Connector{
		client:   client,
		log:      log.WithComponent("venue.okx"),
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

type tickerRow struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	Vol24h    string `json:"vol24h"`
	VolCcy24h string `json:"volCcy24h"`
	Ts        string `json:"ts"`
}

type fundingRow struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
	FundingTime     string `json:"fundingTime"`
}

type bookRow struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
	Ts   string     `json:"ts"`
}

func (c *Connector) base(market model.MarketType) string {
	if market == model.MarketTypeFuture {
		return c.futBase
	}
	return c.spotBase
}

func (c *Connector) FetchTicker(ctx context.Context, symbol string, market model.MarketType) (model.Ticker, error) {
	row, err := c.fetchTickerRow(ctx, symbol, market)
	if err != nil {
		return model.Ticker{}, err
	}
	price, err := strconv.ParseFloat(row.Last, 64)
	if err != nil {
		return model.Ticker{}, fmt.Errorf("okx last price %q: %w", row.Last, err)
	}
	return model.Ticker{
		Venue:     venueID,
		Symbol:    symbol,
		Market:    market,
		Price:     price,
		Timestamp: msTime(row.Ts),
	}, nil
}

func (c *Connector) FetchFundingRate(ctx context.Context, symbol string) (model.FundingRate, error) {
	instID := symbols.ToVenue(venueID, symbol, model.MarketTypeFuture)
	body, err := c.get(ctx, symbol, c.futBase+"/api/v5/public/funding-rate", url.Values{"instId": {instID}})
	if err != nil {
		return model.FundingRate{}, err
	}
	var rows []fundingRow
	if err := unwrap(body, &rows); err != nil {
		return model.FundingRate{}, err
	}
	if len(rows) == 0 {
		return model.FundingRate{}, fmt.Errorf("okx returned no funding data for %s", instID)
	}
	rate, err := strconv.ParseFloat(rows[0].FundingRate, 64)
	if err != nil {
		return model.FundingRate{}, fmt.Errorf("okx funding rate %q: %w", rows[0].FundingRate, err)
	}
	return model.FundingRate{
		Venue:       venueID,
		Symbol:      symbol,
		Rate:        rate,
		NextFunding: msTime(rows[0].NextFundingTime),
		Timestamp:   msTime(rows[0].FundingTime),
	}, nil
}

func (c *Connector) Fetch24hVolume(ctx context.Context, symbol string, market model.MarketType) (model.VolumeStat, error) {
	row, err := c.fetchTickerRow(ctx, symbol, market)
	if err != nil {
		return model.VolumeStat{}, err
	}
	base, err := strconv.ParseFloat(row.Vol24h, 64)
	if err != nil {
		return model.VolumeStat{}, fmt.Errorf("okx volume %q: %w", row.Vol24h, err)
	}
	quote, _ := strconv.ParseFloat(row.VolCcy24h, 64)
	return model.VolumeStat{
		Venue:         venueID,
		Symbol:        symbol,
		Market:        market,
		BaseVolume:    base,
		QuoteTurnover: quote,
		Timestamp:     msTime(row.Ts),
	}, nil
}

func (c *Connector) FetchOrderBook(ctx context.Context, symbol string, market model.MarketType, depth int) (model.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	instID := symbols.ToVenue(venueID, symbol, market)
	body, err := c.get(ctx, symbol, c.base(market)+"/api/v5/market/books", url.Values{
		"instId": {instID},
		"sz":     {strconv.Itoa(depth)},
	})
	if err != nil {
		return model.OrderBook{}, err
	}
	var rows []bookRow
	if err := unwrap(body, &rows); err != nil {
		return model.OrderBook{}, err
	}
	if len(rows) == 0 {
		return model.OrderBook{}, fmt.Errorf("okx returned no book data for %s", instID)
	}
	book := model.OrderBook{
		Venue:     venueID,
		Symbol:    symbol,
		Market:    market,
		Timestamp: msTime(rows[0].Ts),
	}
	if book.Bids, err = parseLevels(rows[0].Bids); err != nil {
		return model.OrderBook{}, err
	}
	if book.Asks, err = parseLevels(rows[0].Asks); err != nil {
		return model.OrderBook{}, err
	}
	return book, nil
}

func (c *Connector) fetchTickerRow(ctx context.Context, symbol string, market model.MarketType) (*tickerRow, error) {
	instID := symbols.ToVenue(venueID, symbol, market)
	body, err := c.get(ctx, symbol, c.base(market)+"/api/v5/market/ticker", url.Values{"instId": {instID}})
	if err != nil {
		return nil, err
	}
	var rows []tickerRow
	if err := unwrap(body, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("okx returned no ticker data for %s", instID)
	}
	return &rows[0], nil
}

// OKX book rows carry extra columns after price and size; only the first two
// matter here.
func parseLevels(rows [][]string) ([]model.PriceLevel, error) {
	levels := make([]model.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("okx depth price %q: %w", row[0], err)
		}
		qty, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("okx depth size %q: %w", row[1], err)
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
		return fmt.Errorf("okx envelope: %w", err)
	}
	if env.Code != "0" {
		return fmt.Errorf("okx error %s: %s", env.Code, env.Msg)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("okx data payload: %w", err)
	}
	return nil
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
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
