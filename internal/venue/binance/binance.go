// Package binance normalizes Binance spot and USD-M futures REST payloads.
package binance

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

const venueID = "binance"

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
		probe = cfg.Spot + "/api/v3/ping"
	}
	return &Connector{
		client:   client,
		log:      log.WithComponent("venue.binance"),
		spotBase: cfg.Spot,
		futBase:  cfg.Futures,
		probeURL: probe,
	}
}

func (c *Connector) Venue() string { return venueID }

type priceTickerPayload struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type premiumIndexPayload struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

type dayStatsPayload struct {
	Symbol      string `json:"symbol"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quoteVolume"`
	CloseTime   int64  `json:"closeTime"`
}

type depthPayload struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

func (c *Connector) FetchTicker(ctx context.Context, symbol string, market model.MarketType) (model.Ticker, error) {
	sym := symbols.ToVenue(venueID, symbol, market)
	q := url.Values{"symbol": {sym}}

	if market == model.MarketTypeFuture {
		body, err := c.get(ctx, symbol, c.futBase+"/fapi/v1/premiumIndex", q)
		if err != nil {
			return model.Ticker{}, err
		}
		var p premiumIndexPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return model.Ticker{}, fmt.Errorf("binance premium index payload: %w", err)
		}
		price, err := strconv.ParseFloat(p.MarkPrice, 64)
		if err != nil {
			return model.Ticker{}, fmt.Errorf("binance mark price %q: %w", p.MarkPrice, err)
		}
		return model.Ticker{
			Venue:     venueID,
			Symbol:    symbol,
			Market:    market,
			Price:     price,
			Timestamp: time.UnixMilli(p.Time),
		}, nil
	}

	body, err := c.get(ctx, symbol, c.spotBase+"/api/v3/ticker/price", q)
	if err != nil {
		return model.Ticker{}, err
	}
	var p priceTickerPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.Ticker{}, fmt.Errorf("binance ticker payload: %w", err)
	}
	price, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return model.Ticker{}, fmt.Errorf("binance price %q: %w", p.Price, err)
	}
	return model.Ticker{
		Venue:     venueID,
		Symbol:    symbol,
		Market:    market,
		Price:     price,
		Timestamp: time.Now(),
	}, nil
}

func (c *Connector) FetchFundingRate(ctx context.Context, symbol string) (model.FundingRate, error) {
	sym := symbols.ToVenue(venueID, symbol, model.MarketTypeFuture)
	body, err := c.get(ctx, symbol, c.futBase+"/fapi/v1/premiumIndex", url.Values{"symbol": {sym}})
	if err != nil {
		return model.FundingRate{}, err
	}
	var p premiumIndexPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.FundingRate{}, fmt.Errorf("binance premium index payload: %w", err)
	}
	rate, err := strconv.ParseFloat(p.LastFundingRate, 64)
	if err != nil {
		return model.FundingRate{}, fmt.Errorf("binance funding rate %q: %w", p.LastFundingRate, err)
	}
	return model.FundingRate{
		Venue:       venueID,
		Symbol:      symbol,
		Rate:        rate,
		NextFunding: time.UnixMilli(p.NextFundingTime),
		Timestamp:   time.UnixMilli(p.Time),
	}, nil
}

func (c *Connector) Fetch24hVolume(ctx context.Context, symbol string, market model.MarketType) (model.VolumeStat, error) {
	sym := symbols.ToVenue(venueID, symbol, market)
	endpoint := c.spotBase + "/api/v3/ticker/24hr"
	if market == model.MarketTypeFuture {
		endpoint = c.futBase + "/fapi/v1/ticker/24hr"
	}
	body, err := c.get(ctx, symbol, endpoint, url.Values{"symbol": {sym}})
	if err != nil {
		return model.VolumeStat{}, err
	}
	var p dayStatsPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.VolumeStat{}, fmt.Errorf("binance 24hr payload: %w", err)
	}
	base, err := strconv.ParseFloat(p.Volume, 64)
	if err != nil {
		return model.VolumeStat{}, fmt.Errorf("binance volume %q: %w", p.Volume, err)
	}
	quote, _ := strconv.ParseFloat(p.QuoteVolume, 64)
	return model.VolumeStat{
		Venue:         venueID,
		Symbol:        symbol,
		Market:        market,
		BaseVolume:    base,
		QuoteTurnover: quote,
		Timestamp:     time.UnixMilli(p.CloseTime),
	}, nil
}

func (c *Connector) FetchOrderBook(ctx context.Context, symbol string, market model.MarketType, depth int) (model.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	sym := symbols.ToVenue(venueID, symbol, market)
	endpoint := c.spotBase + "/api/v3/depth"
	if market == model.MarketTypeFuture {
		endpoint = c.futBase + "/fapi/v1/depth"
	}
	body, err := c.get(ctx, symbol, endpoint, url.Values{
		"symbol": {sym},
		"limit":  {strconv.Itoa(depth)},
	})
	if err != nil {
		return model.OrderBook{}, err
	}
	var p depthPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.OrderBook{}, fmt.Errorf("binance depth payload: %w", err)
	}
	book := model.OrderBook{
		Venue:     venueID,
		Symbol:    symbol,
		Market:    market,
		Timestamp: time.Now(),
	}
	if book.Bids, err = parseLevels(p.Bids); err != nil {
		return model.OrderBook{}, err
	}
	if book.Asks, err = parseLevels(p.Asks); err != nil {
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
			return nil, fmt.Errorf("binance depth price %q: %w", row[0], err)
		}
		qty, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("binance depth quantity %q: %w", row[1], err)
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
