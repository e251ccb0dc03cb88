// Package health reports whether the backing database is reachable. Results
// are informational and never gate queue operations.
package health

import (
	"context"
	"time"
)

// States.
const (
	StateNotConfigured = "not_configured"
	StateConnected     = "connected"
	StateError         = "error"
)

// Colors for dashboard badges.
const (
	ColorGray   = "gray"
	ColorGreen  = "green"
	ColorYellow = "yellow"
	ColorRed    = "red"
)

// Defaults.
const (
	DefaultTimeout       = 5 * time.Second
	DefaultSlowThreshold = 500 * time.Millisecond
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Status is the outcome of one check.
type Status struct {
	Reachable bool      `json:"reachable"`
	Detail    string    `json:"detail"`
	State     string    `json:"state"`
	Color     string    `json:"color"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker pings a database.
type Checker struct {
	db            Pinger
	timeout       time.Duration
	slowThreshold time.Duration
}

// NewChecker creates a Checker. A nil db reports not_configured.
func NewChecker(db Pinger) *Checker {
	return &Checker{db: db, timeout: DefaultTimeout, slowThreshold: DefaultSlowThreshold}
}

// WithSlowThreshold sets the latency above which a healthy ping shows yellow.
func (c *Checker) WithSlowThreshold(d time.Duration) *Checker {
	c.slowThreshold = d
	return c
}

// Check pings the database once.
func (c *Checker) Check(ctx context.Context) Status {
	st := Status{CheckedAt: time.Now().UTC()}
	if c.db == nil {
		st.State = StateNotConfigured
		st.Color = ColorGray
		st.Detail = "database not configured"
		return st
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.db.PingContext(ctx)
	latency := time.Since(start)
	st.LatencyMS = latency.Milliseconds()

	if err != nil {
		st.State = StateError
		st.Color = ColorRed
		st.Detail = err.Error()
		return st
	}

	st.Reachable = true
	st.State = StateConnected
	st.Color = ColorGreen
	st.Detail = "ok"
	if latency > c.slowThreshold {
		st.Color = ColorYellow
		st.Detail = "slow"
	}
	return st
}
