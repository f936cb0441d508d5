package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrExecutionUnsupported is returned by connector order primitives. Order
// routing lives in the trading engine, not in the gateway; the interface is
// shared so both sides speak the same types.
var ErrExecutionUnsupported = errors.New("order execution is handled outside the gateway")

// ErrRateLimited signals that a venue budget is exhausted for the current
// window. It never leaves the network layer; callers wait instead.
var ErrRateLimited = errors.New("venue rate budget exhausted")

// ConfigError marks a fatal startup misconfiguration such as an unknown venue
// id or malformed credentials.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// RetryableError wraps a transient network failure (timeout, reset, 5xx, 429)
// after the retry budget has been spent.
type RetryableError struct {
	Venue      string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("venue %s: transient failure after %d attempts (status %d): %v",
		e.Venue, e.Attempts, e.StatusCode, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// BlockedError reports a detected geo/IP block. Retrying the same request is
// futile; only a fingerprint/proxy rotation or a venue switch can recover, so
// the health tracker opens the circuit immediately.
type BlockedError struct {
	Venue      string
	StatusCode int
	Marker     string
}

func (e *BlockedError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("venue %s blocked the request (status %d, marker %q)", e.Venue, e.StatusCode, e.Marker)
	}
	return fmt.Sprintf("venue %s blocked the request (status %d)", e.Venue, e.StatusCode)
}

// NoVenueAvailableError is the terminal per-call failure raised when every
// venue circuit is open for the requested market.
type NoVenueAvailableError struct {
	Market string
}

func (e *NoVenueAvailableError) Error() string {
	return fmt.Sprintf("no venue available for %s market", e.Market)
}

// SnapshotIncompleteError names the snapshot fields that could not be obtained
// from any venue. The analysis layer decides whether a partial snapshot is
// usable; the gateway does not guess.
type SnapshotIncompleteError struct {
	Symbol  string
	Missing []string
	Causes  map[string]error
}

func (e *SnapshotIncompleteError) Error() string {
	return fmt.Sprintf("snapshot for %s incomplete, missing: %s", e.Symbol, strings.Join(e.Missing, ", "))
}

// ProbeError carries the result of a failed connectivity probe.
type ProbeError struct {
	Venue   string
	Latency time.Duration
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe of venue %s failed after %s: %v", e.Venue, e.Latency, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }
