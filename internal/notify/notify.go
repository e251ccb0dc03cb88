// Package notify posts escalation alerts to chat platforms (Slack, Discord).
// Delivery is best effort: a failed post is logged and never surfaces to the
// queue operation that caused the escalation.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/stylequeue/internal/config"
	"github.com/zulandar/stylequeue/internal/events"
	"github.com/zulandar/stylequeue/internal/models"
)

const defaultSendTimeout = 10 * time.Second

// Color constants for alert severity.
const (
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Alert is a platform-neutral escalation notice.
type Alert struct {
	ConversationID string
	Priority       models.Priority
	StylistID      string // former holder, empty when escalated from the queue
	At             time.Time
	Title          string
	Body           string
	Color          string
	Fields         []Field
}

// Field is a key-value pair displayed with an alert.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Sink delivers alerts to one platform.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Notifier turns escalation events into alerts and fans them out to sinks.
type Notifier struct {
	sinks   []Sink
	logger  zerolog.Logger
	timeout time.Duration
}

// New creates a Notifier. With no sinks every event is dropped.
func New(logger zerolog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{
		sinks:   sinks,
		logger:  logger.With().Str("component", "notify").Logger(),
		timeout: defaultSendTimeout,
	}
}

// FromConfig builds the sinks enabled in cfg.
func FromConfig(cfg config.NotifyConfig) ([]Sink, error) {
	var sinks []Sink
	if cfg.SlackWebhookURL != "" {
		s, err := NewSlack(SlackOpts{WebhookURL: cfg.SlackWebhookURL})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.DiscordBotToken != "" {
		d, err := NewDiscord(DiscordOpts{BotToken: cfg.DiscordBotToken, ChannelID: cfg.DiscordChannelID})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	return sinks, nil
}

// Enabled reports whether any sink is configured.
func (n *Notifier) Enabled() bool { return len(n.sinks) > 0 }

// Handle sends an alert when evt reports a conversation entering escalated.
// It returns the number of sinks that accepted the alert.
func (n *Notifier) Handle(ctx context.Context, evt events.Event) int {
	a, ok := AlertFor(evt)
	if !ok {
		return 0
	}
	delivered := 0
	for _, s := range n.sinks {
		sctx, cancel := context.WithTimeout(ctx, n.timeout)
		err := s.Send(sctx, a)
		cancel()
		if err != nil {
			n.logger.Warn().Err(err).
				Str("sink", s.Name()).
				Str("conversation_id", a.ConversationID).
				Msg("escalation alert failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Run consumes sub until ctx is done or the subscription closes.
func (n *Notifier) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			n.Handle(ctx, evt)
		}
	}
}

// AlertFor formats an escalation event. ok is false for any other event.
func AlertFor(evt events.Event) (Alert, bool) {
	if evt.Type != events.TypeConversationUpdated || evt.Status != models.StatusEscalated {
		return Alert{}, false
	}
	a := Alert{
		ConversationID: evt.ConversationID,
		Priority:       evt.Priority,
		StylistID:      evt.StylistID,
		At:             evt.Timestamp,
		Title:          fmt.Sprintf("Conversation %s escalated", evt.ConversationID),
		Color:          ColorWarning,
		Fields: []Field{
			{Name: "Priority", Value: string(evt.Priority), Short: true},
		},
	}
	if evt.Priority == models.PriorityUrgent {
		a.Color = ColorError
	}
	if evt.StylistID != "" {
		a.Body = fmt.Sprintf("Escalated while held by %s.", evt.StylistID)
		a.Fields = append(a.Fields, Field{Name: "Previous stylist", Value: evt.StylistID, Short: true})
	} else {
		a.Body = "Waited past its response window without a reply."
	}
	return a, true
}
