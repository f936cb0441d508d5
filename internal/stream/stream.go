// Package stream keeps a websocket mark-price feed alongside the REST
// gateway. Streamed updates are written through to the response cache so
// snapshot calls can be answered without spending REST rate budget while the
// feed is healthy.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"arbflow/config"
	"arbflow/internal/cache"
	"arbflow/internal/model"
	"arbflow/logger"
)

// Reader streams mark-price updates for the configured symbols and fans them
// out on a buffered channel. A slow consumer loses updates rather than
// stalling the read loop; drops are counted.
type Reader struct {
	cfg     config.StreamConfig
	store   *cache.Store
	log     *logger.Log
	symbols []string

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	updates chan model.PriceUpdate
	dropped int64
}

func NewReader(cfg config.StreamConfig, symbols []string, store *cache.Store, log *logger.Log) *Reader {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1000
	}
	return &Reader{
		cfg:     cfg,
		store:   store,
		log:     log,
		symbols: symbols,
		updates: make(chan model.PriceUpdate, buffer),
	}
}

// Updates is the consumer side of the feed.
func (r *Reader) Updates() <-chan model.PriceUpdate { return r.updates }

// Dropped reports how many updates were lost to a full consumer channel.
func (r *Reader) Dropped() int64 { return atomic.LoadInt64(&r.dropped) }

// Start launches one websocket worker per symbol.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("stream reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	if !r.cfg.Enabled {
		return fmt.Errorf("stream disabled via configuration")
	}
	if len(r.symbols) == 0 {
		return fmt.Errorf("no symbols configured for stream reader")
	}

	for _, sym := range r.symbols {
		symbol := strings.ToUpper(sym)
		r.wg.Add(1)
		go r.streamSymbol(symbol)
	}

	r.log.WithComponent("stream").WithFields(logger.Fields{
		"venue":   r.cfg.Venue,
		"symbols": r.symbols,
	}).Info("mark-price stream started")
	return nil
}

// Stop waits for all websocket workers to exit.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("stream").Info("stopping mark-price stream")
	r.wg.Wait()
	r.log.WithComponent("stream").Info("mark-price stream stopped")
}

type markPricePayload struct {
	Event           string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

func (r *Reader) streamSymbol(symbol string) {
	defer r.wg.Done()

	baseURL := strings.TrimSpace(r.cfg.URL)
	if baseURL == "" {
		baseURL = "wss://fstream.binance.com/ws"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	reconnect := r.cfg.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}

	endpoint := fmt.Sprintf("%s/%s@markPrice@1s", baseURL, strings.ToLower(symbol))

	log := r.log.WithComponent("stream").WithFields(logger.Fields{
		"symbol":   symbol,
		"endpoint": endpoint,
	})

	dialer := websocket.Dialer{}
	for {
		if r.ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.Dial(endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to mark-price websocket")
			select {
			case <-time.After(reconnect):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		// ReadMessage only returns on traffic or a broken connection, so a
		// watcher closes the conn on shutdown to unblock a silent feed.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-r.ctx.Done():
				conn.Close()
			case <-watchDone:
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				close(watchDone)
				if r.ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("mark-price stream error, reconnecting")
				break
			}
			r.handleMessage(symbol, raw)
		}

		select {
		case <-time.After(reconnect):
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reader) handleMessage(symbol string, raw []byte) {
	var payload markPricePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		r.log.WithComponent("stream").WithError(err).Debug("failed to decode mark-price payload")
		return
	}
	logger.IncrementStreamRead(len(raw))

	mark := parseFloat(payload.MarkPrice)
	index := parseFloat(payload.IndexPrice)
	funding := parseFloat(payload.FundingRate)

	eventTime := time.UnixMilli(payload.EventTime)
	if payload.EventTime == 0 {
		eventTime = time.Now().UTC()
	}
	var nextFunding time.Time
	if payload.NextFundingTime > 0 {
		nextFunding = time.UnixMilli(payload.NextFundingTime).UTC()
	}

	update := model.PriceUpdate{
		Venue:       r.cfg.Venue,
		Symbol:      symbol,
		MarkPrice:   mark,
		IndexPrice:  index,
		FundingRate: funding,
		NextFunding: nextFunding,
		Timestamp:   eventTime.UTC(),
	}

	// Write-through keeps snapshot calls off the REST budget while the
	// stream is live.
	if r.store != nil && mark > 0 {
		r.store.Put(r.cfg.Venue, symbol, model.FieldFuturesPrice, mark)
		r.store.Put(r.cfg.Venue, symbol, model.FieldFundingRate, funding)
	}

	select {
	case r.updates <- update:
		logger.RecordChannelMessage("stream_updates", len(raw))
	default:
		atomic.AddInt64(&r.dropped, 1)
		logger.RecordChannelMessage("stream_dropped", len(raw))
	}
}

func parseFloat(v string) float64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return val
}
