package netx

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// fingerprintTransport wraps an existing RoundTripper and stamps the rotating
// header identity on all outgoing requests.
type fingerprintTransport struct {
	fp   Fingerprint
	base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.fp.UserAgent != "" {
		req.Header.Set("User-Agent", t.fp.UserAgent)
	}
	if t.fp.Accept != "" {
		req.Header.Set("Accept", t.fp.Accept)
	}
	if t.fp.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", t.fp.AcceptLanguage)
	}
	if t.base != nil {
		return t.base.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// TransportPool owns one direct transport plus one per configured proxy and
// hands them out round-robin. Every outbound call receives its transport
// explicitly; nothing mutates http.DefaultTransport.
type TransportPool struct {
	mu         sync.Mutex
	transports []http.RoundTripper
	labels     []string
	index      int
}

// NewTransportPool builds the pool. Index 0 is always the direct route;
// proxies follow in configuration order. Malformed proxy URLs fail loudly at
// startup rather than silently falling back to a direct call.
func NewTransportPool(proxies []string, timeout time.Duration) (*TransportPool, error) {
	pool := &TransportPool{
		transports: []http.RoundTripper{baseTransport(nil, timeout)},
		labels:     []string{"direct"},
	}
	for _, p := range proxies {
		u, err := url.Parse(p)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", p)
		}
		pool.transports = append(pool.transports, baseTransport(u, timeout))
		pool.labels = append(pool.labels, u.Host)
	}
	return pool, nil
}

func baseTransport(proxy *url.URL, timeout time.Duration) *http.Transport {
	t := &http.Transport{
		MaxIdleConns:          32,
		MaxConnsPerHost:       16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return t
}

// Next returns the next route in rotation along with its label for logging.
func (p *TransportPool) Next() (http.RoundTripper, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.index % len(p.transports)
	p.index++
	return p.transports[i], p.labels[i]
}

// Direct returns the non-proxied route.
func (p *TransportPool) Direct() (http.RoundTripper, string) {
	return p.transports[0], p.labels[0]
}

// Size reports the number of distinct routes (direct + proxies).
func (p *TransportPool) Size() int {
	return len(p.transports)
}
