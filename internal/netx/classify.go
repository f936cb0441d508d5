package netx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Class buckets every outcome of an outbound call.
type Class int

const (
	// ClassOK is any 2xx response.
	ClassOK Class = iota
	// ClassRetryable covers timeouts, connection resets, 5xx and plain 429;
	// the client backs off, rotates its fingerprint and retries.
	ClassRetryable
	// ClassBlocked is a detected geo/IP restriction. Retrying identically is
	// futile, so the failure is reported as a block, not a generic error.
	ClassBlocked
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassBlocked:
		return "blocked"
	default:
		return "retryable"
	}
}

// geoMarkers are CDN/WAF phrases that turn an otherwise generic error status
// into a block. Lowercase substring match against the response body.
var geoMarkers = []string{
	"cloudfront",
	"access denied",
	"unavailable in your region",
	"restricted location",
	"service unavailable from a restricted location",
	"not available in your country",
	"error 1020",
}

// ClassifyError buckets a transport-level failure. Context cancellation is
// passed through untouched so deadlines surface to the caller.
func ClassifyError(err error) Class {
	if err == nil {
		return ClassOK
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ClassRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassRetryable
	}
	// connection refused, reset, DNS failure
	return ClassRetryable
}

// Classify buckets an HTTP response for the given venue. The body is consulted
// for CDN/geo markers and venue-specific ban phrasing because several venues
// return bans under generic statuses.
func Classify(venue string, status int, header http.Header, body []byte) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassOK
	case status == http.StatusForbidden, status == http.StatusUnavailableForLegalReasons:
		return ClassBlocked
	case status == http.StatusTeapot:
		// Binance escalates repeated 429s to 418 auto-bans.
		return ClassBlocked
	}

	msg := strings.ToLower(string(body))
	if server := strings.ToLower(header.Get("Server")); server == "cloudfront" || server == "awselb/2.0" {
		if status >= 400 {
			return ClassBlocked
		}
	}
	for _, marker := range geoMarkers {
		if strings.Contains(msg, marker) {
			return ClassBlocked
		}
	}
	if _, ipBan := detectLimit(venue, msg); ipBan {
		return ClassBlocked
	}

	if status == http.StatusTooManyRequests || status >= 500 {
		return ClassRetryable
	}

	// Remaining 4xx are caller bugs, not venue degradation; treat as
	// retryable so the error surfaces after the retry budget without
	// poisoning the venue circuit with a block.
	return ClassRetryable
}

// BlockMarker returns the matched block phrase for diagnostics, if any.
func BlockMarker(venue string, body []byte) string {
	msg := strings.ToLower(string(body))
	for _, marker := range geoMarkers {
		if strings.Contains(msg, marker) {
			return marker
		}
	}
	if _, ipBan := detectLimit(venue, msg); ipBan {
		return "ip ban"
	}
	return ""
}

// detectLimit inspects the message returned from a venue and determines
// whether it signals a rate limit exceed or an IP ban. The detection logic is
// customised per venue as each one uses different wording.
func detectLimit(venue, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(venue) {
	case "binance":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	case "okx":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "frequency limit")
		ipBan = strings.Contains(lowerMsg, "ip") && (strings.Contains(lowerMsg, "blocked") || strings.Contains(lowerMsg, "ban"))
	case "kucoin":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "limit") && strings.Contains(lowerMsg, "triggered")
	case "bybit":
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits"))
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}
