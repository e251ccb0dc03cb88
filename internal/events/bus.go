package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// DefaultHistory is the number of recent events kept for replay.
const DefaultHistory = 1024

// Bus is an in-memory pub/sub. Publish never blocks: each subscriber has an
// unbounded FIFO drained by its own goroutine, so a slow reader delays only
// itself and sees events in publish order.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	history []Event
	next    int // ring write position
	full    bool
	closed  bool

	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistory sets the replay ring size.
func WithHistory(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.history = make([]Event, n)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithLogger sets the bus logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[string]*subscriber),
		history: make([]Event, DefaultHistory),
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With().Str("component", "events").Logger()
	return b
}

// Subscription is a live stream of events.
type Subscription struct {
	ID string
	C  <-chan Event

	bus *Bus
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s.ID)
}

// Subscribe registers a subscriber. The subscription ends when ctx is done,
// Unsubscribe is called, or the bus is closed; C is then closed.
func (b *Bus) Subscribe(ctx context.Context, f Filter) *Subscription {
	return b.SubscribeFrom(ctx, f, "")
}

// SubscribeFrom is Subscribe preceded by a replay of retained events published
// after lastID. Replay and live delivery are gapless.
func (b *Bus) SubscribeFrom(ctx context.Context, f Filter, lastID string) *Subscription {
	s := newSubscriber(uuid.NewString(), f)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return &Subscription{ID: s.id, C: s.out, bus: b}
	}
	if lastID != "" {
		replaying := false
		for _, evt := range b.retained() {
			deliver := s.match(evt)
			if replaying && deliver {
				s.queue = append(s.queue, evt)
			}
			if evt.ID == lastID {
				replaying = true
			}
		}
		if !replaying {
			// lastID aged out of the ring; the caller gets everything retained.
			s.queue = s.queue[:0]
			s.active = make(map[string]bool)
			for _, evt := range b.retained() {
				if s.match(evt) {
					s.queue = append(s.queue, evt)
				}
			}
		}
	} else {
		for _, evt := range b.retained() {
			s.track(evt)
		}
	}
	replay := len(s.queue) > 0
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.pump()
	if replay {
		s.wake()
	}

	b.logger.Debug().Str("sub_id", s.id).Str("stylist_id", f.StylistID).Msg("subscriber added")

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(s.id)
		case <-s.done:
		}
	}()

	return &Subscription{ID: s.id, C: s.out, bus: b}
}

// Publish stamps evt with an ID and timestamp (when unset), records it in the
// history ring and queues it for every matching subscriber.
func (b *Bus) Publish(evt Event) Event {
	if evt.ID == "" {
		evt.ID = ulid.Make().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return evt
	}

	b.history[b.next] = evt
	b.next = (b.next + 1) % len(b.history)
	if b.next == 0 {
		b.full = true
	}

	for _, s := range b.subs {
		if s.match(evt) {
			s.push(evt)
		}
	}
	return evt
}

// Since returns retained events published after lastID. ok is false when
// lastID is no longer retained, in which case every retained event is returned.
func (b *Bus) Since(lastID string) (evts []Event, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := b.retained()
	for i, evt := range all {
		if evt.ID == lastID {
			return append([]Event(nil), all[i+1:]...), true
		}
	}
	return append([]Event(nil), all...), false
}

// retained returns the ring contents oldest first. Caller holds b.mu.
func (b *Bus) retained() []Event {
	if !b.full {
		return b.history[:b.next]
	}
	out := make([]Event, 0, len(b.history))
	out = append(out, b.history[b.next:]...)
	return append(out, b.history[:b.next]...)
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	s.stop()
	b.logger.Debug().Str("sub_id", id).Msg("subscriber removed")
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts down the bus and ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	b.logger.Debug().Msg("bus closed")
}
