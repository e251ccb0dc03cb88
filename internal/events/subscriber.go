package events

import (
	"sync"

	"github.com/zulandar/stylequeue/internal/models"
)

type subscriber struct {
	id     string
	filter Filter
	types  map[Type]bool
	active map[string]bool // conversations the scoped stylist is working

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newSubscriber(id string, f Filter) *subscriber {
	s := &subscriber{
		id:     id,
		filter: f,
		active: make(map[string]bool),
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	if len(f.Types) > 0 {
		s.types = make(map[Type]bool, len(f.Types))
		for _, t := range f.Types {
			s.types[t] = true
		}
	}
	return s
}

// match reports whether evt should be delivered, updating the stylist's active
// set as a side effect. Called in publish order under the bus lock.
func (s *subscriber) match(evt Event) bool {
	scoped := s.track(evt)
	if s.types != nil && !s.types[evt.Type] {
		return false
	}
	return scoped
}

// track updates the active set and reports whether evt passes stylist scoping.
func (s *subscriber) track(evt Event) bool {
	stylist := s.filter.StylistID
	if stylist == "" || !evt.Type.stylistScoped() {
		return true
	}

	mine := evt.StylistID == stylist || s.active[evt.ConversationID]
	switch evt.Type {
	case TypeConversationClaimed:
		if evt.StylistID == stylist {
			s.active[evt.ConversationID] = true
		} else {
			delete(s.active, evt.ConversationID)
			mine = false
		}
	case TypeConversationUpdated:
		if evt.Status != models.StatusClaimed && evt.Status != models.StatusInProgress {
			delete(s.active, evt.ConversationID)
		}
	case TypeEmailSent:
		delete(s.active, evt.ConversationID)
	}
	return mine
}

func (s *subscriber) push(evt Event) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	evt := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return evt, true
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.signal:
		case <-s.done:
			return
		}
		for {
			evt, ok := s.pop()
			if !ok {
				break
			}
			select {
			case s.out <- evt:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}
