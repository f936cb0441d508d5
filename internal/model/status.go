package model

import "time"

// VenueStatus is the operator-facing view of one venue.
type VenueStatus struct {
	Venue               string    `json:"venue"`
	DisplayName         string    `json:"display_name"`
	Priority            int       `json:"priority"`
	Available           bool      `json:"available"`
	Active              bool      `json:"active"`
	Blocked             bool      `json:"blocked"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	DisabledUntil       time.Time `json:"disabled_until,omitempty"`
	BudgetUsed          int       `json:"budget_used"`
	BudgetLimit         int       `json:"budget_limit"`
}

// ConnectivityResult is one venue probe outcome.
type ConnectivityResult struct {
	Venue     string        `json:"venue"`
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"latency"`
	LatencyMs float64       `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}
