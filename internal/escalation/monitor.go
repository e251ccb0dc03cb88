// Package escalation watches the queue for SLA breaches and claims that have
// been held too long.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/queue"
)

// Defaults.
const (
	DefaultInterval     = 30 * time.Second
	DefaultClaimTimeout = 30 * time.Minute
)

// DefaultThresholds are the per-priority SLA windows.
var DefaultThresholds = map[models.Priority]time.Duration{
	models.PriorityUrgent: 10 * time.Minute,
	models.PriorityHigh:   20 * time.Minute,
	models.PriorityNormal: 45 * time.Minute,
	models.PriorityLow:    120 * time.Minute,
}

// Queue is the subset of the queue manager the monitor drives.
type Queue interface {
	Pending() []models.Conversation
	EscalateIf(ctx context.Context, id, reason string, still func(models.Conversation) bool) (*models.Conversation, error)
	Release(ctx context.Context, id, stylistID string, reason queue.ReleaseReason) (*models.Conversation, error)
	ExpiredClaims(ctx context.Context, cutoff time.Time) ([]models.Claim, error)
}

// Config holds monitor thresholds and cadence.
type Config struct {
	Thresholds   map[models.Priority]time.Duration
	ClaimTimeout time.Duration
	Interval     time.Duration
	Schedule     string // cron expression; overrides Interval when set
	Now          func() time.Time
}

// Report summarizes one scan.
type Report struct {
	Scanned   int      `json:"scanned"`
	Escalated []string `json:"escalated"`
	Released  []string `json:"released"`
	Failed    int      `json:"failed"`
}

// Monitor escalates breached conversations and times out stale claims.
type Monitor struct {
	q      Queue
	cfg    Config
	logger zerolog.Logger
}

// NewMonitor creates a Monitor. Missing thresholds fall back to DefaultThresholds.
func NewMonitor(q Queue, cfg Config, logger zerolog.Logger) *Monitor {
	th := make(map[models.Priority]time.Duration, len(DefaultThresholds))
	for p, d := range DefaultThresholds {
		th[p] = d
	}
	for p, d := range cfg.Thresholds {
		if d > 0 {
			th[p] = d
		}
	}
	cfg.Thresholds = th
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultClaimTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		q:      q,
		cfg:    cfg,
		logger: logger.With().Str("component", "escalation").Logger(),
	}
}

// Breached reports whether c's whole-minute wait exceeds its priority's
// threshold at now. The clock restarts on the latest customer reply or escalation.
func (m *Monitor) Breached(c models.Conversation, now time.Time) bool {
	since := c.LastUserReplyAt
	if c.EscalatedAt != nil && c.EscalatedAt.After(since) {
		since = *c.EscalatedAt
	}
	threshold, ok := m.cfg.Thresholds[c.Priority]
	if !ok {
		return false
	}
	return queue.WaitMinutes(since, now) > int(threshold/time.Minute)
}

// stillBreached re-checks a snapshot decision against the stored row. A claim
// or a customer reply since the snapshot cancels the escalation.
func (m *Monitor) stillBreached(now time.Time) func(models.Conversation) bool {
	return func(c models.Conversation) bool {
		return c.Status == models.StatusPending && m.Breached(c, now)
	}
}

// Scan runs one pass: SLA breaches first, then claim timeouts.
func (m *Monitor) Scan(ctx context.Context) (Report, error) {
	now := m.cfg.Now()
	var r Report

	pending := m.q.Pending()
	r.Scanned = len(pending)
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		if !m.Breached(c, now) {
			continue
		}
		if _, err := m.q.EscalateIf(ctx, c.ID, "sla_breach", m.stillBreached(now)); err != nil {
			if m.skippable(err) {
				m.logger.Debug().Err(err).Str("conversation_id", c.ID).Msg("escalation skipped")
				continue
			}
			r.Failed++
			m.logger.Error().Err(err).Str("conversation_id", c.ID).Msg("escalate failed")
			continue
		}
		r.Escalated = append(r.Escalated, c.ID)
	}

	claims, err := m.q.ExpiredClaims(ctx, now.Add(-m.cfg.ClaimTimeout))
	if err != nil {
		return r, fmt.Errorf("escalation: list expired claims: %w", err)
	}
	for _, cl := range claims {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		if _, err := m.q.Release(ctx, cl.ConversationID, cl.StylistID, queue.ReasonEscalationTimeout); err != nil {
			if m.skippable(err) {
				m.logger.Debug().Err(err).Str("conversation_id", cl.ConversationID).Msg("timeout release skipped")
				continue
			}
			r.Failed++
			m.logger.Error().Err(err).Str("conversation_id", cl.ConversationID).Msg("timeout release failed")
			continue
		}
		r.Released = append(r.Released, cl.ConversationID)
	}

	if len(r.Escalated) > 0 || len(r.Released) > 0 {
		m.logger.Info().
			Int("escalated", len(r.Escalated)).
			Int("released", len(r.Released)).
			Msg("escalation scan")
	}
	return r, nil
}

// skippable reports errors caused by a concurrent state change since the
// snapshot was taken.
func (m *Monitor) skippable(err error) bool {
	switch sqerr.CodeOf(err) {
	case sqerr.ErrNotFound, sqerr.ErrInvalidTransition, sqerr.ErrConflict, sqerr.ErrNotHeld:
		return true
	}
	return false
}

// Run scans on the configured cadence until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.Schedule != "" {
		return m.runCron(ctx)
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.cfg.Interval).Msg("escalation monitor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) runCron(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.Schedule, func() { m.tick(ctx) }); err != nil {
		return fmt.Errorf("escalation: schedule %q: %w", m.cfg.Schedule, err)
	}
	c.Start()
	m.logger.Info().Str("schedule", m.cfg.Schedule).Msg("escalation monitor started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (m *Monitor) tick(ctx context.Context) {
	if _, err := m.Scan(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error().Err(err).Msg("escalation scan failed")
	}
}

// ValidateSchedule checks a cron expression.
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("escalation: invalid schedule %q: %w", expr, err)
	}
	return nil
}
