package netx

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"arbflow/config"
	"arbflow/internal/model"
	"arbflow/logger"
)

// Request describes one venue call. Symbol is only used for metric tagging.
type Request struct {
	Venue  string
	Symbol string
	Method string
	URL    string
	Query  url.Values
}

// Response is the classified outcome of a successful exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
	Attempts   int
	Route      string
}

// Client is the single outbound policy object: every venue call flows through
// Execute, which enforces the rate budget, rotates fingerprints and proxy
// routes between attempts, applies exponential backoff to retryable failures
// and reports blocks immediately.
type Client struct {
	log          *logger.Log
	budgets      *BudgetSet
	transports   *TransportPool
	fingerprints *FingerprintRotator
	retry        config.RetryConfig
	timeout      time.Duration
}

// NewClient wires the policy object. The transport pool and budget set are
// shared with the gateway so operator surfaces can inspect them.
func NewClient(log *logger.Log, budgets *BudgetSet, transports *TransportPool, fingerprints *FingerprintRotator, retry config.RetryConfig, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		log:          log,
		budgets:      budgets,
		transports:   transports,
		fingerprints: fingerprints,
		retry:        retry,
		timeout:      timeout,
	}
}

// Budgets exposes the budget set for status reporting.
func (c *Client) Budgets() *BudgetSet { return c.budgets }

// Execute performs the request with the full retry/bypass policy. It returns
// *model.BlockedError when the venue rejects the request origin, or
// *model.RetryableError once the retry budget is spent on transient failures.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	bo := &backoff.Backoff{
		Min:    c.retry.BaseDelay,
		Max:    c.retry.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	requestID := uuid.NewString()
	log := c.log.WithComponent("netx").WithFields(logger.Fields{
		"venue":      req.Venue,
		"url":        req.URL,
		"request_id": requestID,
	})

	var (
		lastErr     error
		lastStatus  int
		lastBlocked *model.BlockedError
	)

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			logger.IncrementVenueRetry()
			select {
			case <-time.After(bo.Duration()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.budgets.Wait(ctx, req.Venue); err != nil {
			return nil, err
		}
		logger.IncrementVenueRequest()

		resp, err := c.do(ctx, req, requestID, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Debug("transport failure, retrying")
			continue
		}

		switch Classify(req.Venue, resp.StatusCode, resp.Header, resp.Body) {
		case ClassOK:
			c.budgets.UpdateFromHeaders(req.Venue, req.Symbol, resp.Header)
			resp.Attempts = attempt + 1
			return resp, nil
		case ClassBlocked:
			logger.IncrementVenueBlock()
			lastBlocked = &model.BlockedError{
				Venue:      req.Venue,
				StatusCode: resp.StatusCode,
				Marker:     BlockMarker(req.Venue, resp.Body),
			}
			// A block never heals by waiting; only a different route can
			// help. Without spare proxy routes, bail out immediately.
			if c.transports.Size() <= 1 || attempt+1 >= c.retry.MaxAttempts {
				log.WithFields(logger.Fields{"status": resp.StatusCode, "route": resp.Route}).Warn("venue blocked request")
				return nil, lastBlocked
			}
			log.WithFields(logger.Fields{"status": resp.StatusCode, "route": resp.Route}).Warn("venue blocked request, rotating proxy route")
			continue
		default:
			lastStatus = resp.StatusCode
			lastErr = nil
			log.WithFields(logger.Fields{"status": resp.StatusCode, "attempt": attempt}).Debug("retryable venue failure")
		}
	}

	if lastBlocked != nil {
		return nil, lastBlocked
	}
	return nil, &model.RetryableError{
		Venue:      req.Venue,
		StatusCode: lastStatus,
		Attempts:   c.retry.MaxAttempts,
		Err:        lastErr,
	}
}

func (c *Client) do(ctx context.Context, req Request, requestID string, attempt int) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	fullURL := req.URL
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Request-Id", requestID)

	var (
		transport http.RoundTripper
		route     string
	)
	if attempt == 0 {
		transport, route = c.transports.Direct()
	} else {
		transport, route = c.transports.Next()
	}

	client := &http.Client{
		Transport: fingerprintTransport{fp: c.fingerprints.Next(), base: transport},
		Timeout:   c.timeout,
	}

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Latency:    time.Since(start),
		Route:      route,
	}, nil
}
