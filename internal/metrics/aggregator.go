// Package metrics folds lifecycle events and injected engagement signals into
// per-stylist and global counters.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/zulandar/stylequeue/internal/events"
	"github.com/zulandar/stylequeue/internal/models"
)

// Defaults.
const (
	DefaultWindow     = 50
	DefaultDedupeSize = 10000
)

// SignalKind names an injected engagement fact.
type SignalKind string

// Signal kinds.
const (
	SignalConversion   SignalKind = "conversion"
	SignalOpen         SignalKind = "open"
	SignalClick        SignalKind = "click"
	SignalSatisfaction SignalKind = "satisfaction"
)

// Valid reports whether k is a known kind.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalConversion, SignalOpen, SignalClick, SignalSatisfaction:
		return true
	}
	return false
}

// Signal is an engagement fact reported by an outside system.
type Signal struct {
	ID        string     `json:"id"`
	StylistID string     `json:"stylist_id"`
	Kind      SignalKind `json:"kind"`
	Value     float64    `json:"value"`
}

// SignalStat summarizes one signal kind.
type SignalStat struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Snapshot is a point-in-time view of one stylist or the whole pool.
type Snapshot struct {
	EmailsSent           int                       `json:"emails_sent"`
	ConversationsClaimed int                       `json:"conversations_claimed"`
	AvgResponseMinutes   float64                   `json:"avg_response_minutes"`
	ResponseSamples      int                       `json:"response_samples"`
	Signals              map[SignalKind]SignalStat `json:"signals"`
}

type counters struct {
	emailsSent int
	claimed    int
	responses  []time.Duration // last window sends, oldest first
	signals    map[SignalKind]*running
}

type running struct {
	count int
	sum   float64
}

func newCounters() *counters {
	return &counters{signals: make(map[SignalKind]*running)}
}

func (c *counters) addResponse(d time.Duration, window int) {
	c.responses = append(c.responses, d)
	if len(c.responses) > window {
		c.responses = c.responses[len(c.responses)-window:]
	}
}

func (c *counters) addSignal(k SignalKind, v float64) {
	r, ok := c.signals[k]
	if !ok {
		r = &running{}
		c.signals[k] = r
	}
	r.count++
	r.sum += v
}

func (c *counters) snapshot() Snapshot {
	s := Snapshot{
		EmailsSent:           c.emailsSent,
		ConversationsClaimed: c.claimed,
		ResponseSamples:      len(c.responses),
		Signals:              make(map[SignalKind]SignalStat, len(c.signals)),
	}
	if n := len(c.responses); n > 0 {
		var total time.Duration
		for _, d := range c.responses {
			total += d
		}
		s.AvgResponseMinutes = total.Minutes() / float64(n)
	}
	for k, r := range c.signals {
		s.Signals[k] = SignalStat{Count: r.count, Average: r.sum / float64(r.count)}
	}
	return s
}

type openClaim struct {
	stylistID string
	at        time.Time
}

// Aggregator is safe for concurrent use. Applying the same event twice has
// no further effect.
type Aggregator struct {
	mu       sync.Mutex
	seen     *lru.Cache[string, struct{}]
	window   int
	global   *counters
	stylists map[string]*counters
	open     map[string]openClaim
	logger   zerolog.Logger
}

// NewAggregator creates an Aggregator averaging response time over the last
// window sends and remembering dedupeSize event ids.
func NewAggregator(window, dedupeSize int, logger zerolog.Logger) (*Aggregator, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if dedupeSize <= 0 {
		dedupeSize = DefaultDedupeSize
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("metrics: dedupe cache: %w", err)
	}
	return &Aggregator{
		seen:     seen,
		window:   window,
		global:   newCounters(),
		stylists: make(map[string]*counters),
		open:     make(map[string]openClaim),
		logger:   logger.With().Str("component", "metrics").Logger(),
	}, nil
}

func (a *Aggregator) stylist(id string) *counters {
	c, ok := a.stylists[id]
	if !ok {
		c = newCounters()
		a.stylists[id] = c
	}
	return c
}

// firstSighting records key and reports whether it was new. Caller holds a.mu.
func (a *Aggregator) firstSighting(key string) bool {
	if a.seen.Contains(key) {
		return false
	}
	a.seen.Add(key, struct{}{})
	return true
}

// Apply folds one event. It reports whether the event changed anything.
func (a *Aggregator) Apply(evt events.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if evt.ID != "" && !a.firstSighting("event:"+evt.ID) {
		return false
	}

	switch evt.Type {
	case events.TypeConversationClaimed:
		if evt.StylistID == "" {
			return false
		}
		if o, ok := a.open[evt.ConversationID]; ok && o.stylistID == evt.StylistID {
			return false
		}
		a.open[evt.ConversationID] = openClaim{stylistID: evt.StylistID, at: evt.Timestamp}
		a.stylist(evt.StylistID).claimed++
		a.global.claimed++
		return true

	case events.TypeConversationUpdated:
		if evt.Status == models.StatusPending || evt.Status == models.StatusEscalated {
			_, ok := a.open[evt.ConversationID]
			delete(a.open, evt.ConversationID)
			return ok
		}
		return false

	case events.TypeEmailSent:
		if evt.StylistID == "" {
			return false
		}
		s := a.stylist(evt.StylistID)
		s.emailsSent++
		a.global.emailsSent++
		if o, ok := a.open[evt.ConversationID]; ok && o.stylistID == evt.StylistID {
			d := max(evt.Timestamp.Sub(o.at), 0)
			s.addResponse(d, a.window)
			a.global.addResponse(d, a.window)
		}
		delete(a.open, evt.ConversationID)
		return true
	}
	return false
}

// RecordSignal folds an engagement signal. Duplicate IDs are ignored.
func (a *Aggregator) RecordSignal(sig Signal) (bool, error) {
	if sig.ID == "" {
		return false, fmt.Errorf("metrics: signal id is required")
	}
	if sig.StylistID == "" {
		return false, fmt.Errorf("metrics: signal stylist_id is required")
	}
	if !sig.Kind.Valid() {
		return false, fmt.Errorf("metrics: unknown signal kind %q", sig.Kind)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.firstSighting("signal:" + sig.ID) {
		return false, nil
	}
	a.stylist(sig.StylistID).addSignal(sig.Kind, sig.Value)
	a.global.addSignal(sig.Kind, sig.Value)
	return true, nil
}

// Global returns pool-wide metrics.
func (a *Aggregator) Global() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.global.snapshot()
}

// Stylist returns one stylist's metrics.
func (a *Aggregator) Stylist(id string) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.stylists[id]
	if !ok {
		return newCounters().snapshot(), false
	}
	return c.snapshot(), true
}

// Stylists returns every stylist's metrics.
func (a *Aggregator) Stylists() map[string]Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Snapshot, len(a.stylists))
	for id, c := range a.stylists {
		out[id] = c.snapshot()
	}
	return out
}

// Run applies events from sub until ctx is done or the subscription closes.
func (a *Aggregator) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if a.Apply(evt) {
				a.logger.Debug().Str("event_id", evt.ID).Str("type", string(evt.Type)).Msg("metrics updated")
			}
		}
	}
}
