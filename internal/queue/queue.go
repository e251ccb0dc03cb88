// Package queue keeps the ordered index of pending conversations and
// arbitrates claims, releases, escalations and re-triage.
package queue

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/stylequeue/internal/conversation"
	"github.com/zulandar/stylequeue/internal/events"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/profile"
)

// TimeoutPolicy decides what happens to a claim that outlives the claim timeout.
type TimeoutPolicy string

// Timeout policies.
const (
	OnTimeoutEscalate TimeoutPolicy = "escalate"
	OnTimeoutRequeue  TimeoutPolicy = "requeue"
)

// DefaultProfileTimeout bounds each context lookup during List.
const DefaultProfileTimeout = 200 * time.Millisecond

// Entry is a pending conversation as offered to stylists.
type Entry struct {
	models.Conversation
	Wait           time.Duration    `json:"-"`
	WaitMinutes    int              `json:"wait_minutes"`
	ContextSummary *profile.Summary `json:"context_summary,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	MinPriority models.Priority
	Predicate   func(models.Conversation) bool
}

func (f Filter) allows(c models.Conversation) bool {
	if f.MinPriority != "" && c.Priority.Rank() < f.MinPriority.Rank() {
		return false
	}
	return f.Predicate == nil || f.Predicate(c)
}

// Options configures a Manager.
type Options struct {
	Store          *conversation.Store
	Bus            events.Publisher
	Profiles       profile.Provider // optional
	Logger         zerolog.Logger
	OnTimeout      TimeoutPolicy
	AutoRetriage   bool
	ProfileTimeout time.Duration
}

// Manager owns the pending index and every queue-side state change.
type Manager struct {
	store          *conversation.Store
	bus            events.Publisher
	profiles       profile.Provider
	logger         zerolog.Logger
	onTimeout      TimeoutPolicy
	autoRetriage   bool
	profileTimeout time.Duration

	mu    sync.RWMutex
	index map[string]*indexEntry
}

type indexEntry struct {
	conv   models.Conversation
	hidden bool // claim in flight
}

// NewManager creates a Manager. Call Rebuild to load existing pending work.
func NewManager(opts Options) *Manager {
	if opts.OnTimeout == "" {
		opts.OnTimeout = OnTimeoutEscalate
	}
	if opts.ProfileTimeout <= 0 {
		opts.ProfileTimeout = DefaultProfileTimeout
	}
	return &Manager{
		store:          opts.Store,
		bus:            opts.Bus,
		profiles:       opts.Profiles,
		logger:         opts.Logger.With().Str("component", "queue").Logger(),
		onTimeout:      opts.OnTimeout,
		autoRetriage:   opts.AutoRetriage,
		profileTimeout: opts.ProfileTimeout,
		index:          make(map[string]*indexEntry),
	}
}

// Rebuild replaces the index with every pending conversation in the store.
func (m *Manager) Rebuild(ctx context.Context) error {
	pending, err := m.store.Pending(ctx)
	if err != nil {
		return err
	}
	index := make(map[string]*indexEntry, len(pending))
	for _, c := range pending {
		index[c.ID] = &indexEntry{conv: c}
	}

	m.mu.Lock()
	m.index = index
	m.mu.Unlock()

	m.logger.Info().Int("pending", len(index)).Msg("queue index rebuilt")
	return nil
}

// Intake creates a conversation and enqueues it.
func (m *Manager) Intake(ctx context.Context, opts conversation.CreateOpts) (*models.Conversation, error) {
	c, err := m.store.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	if _, err := m.Enqueue(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Enqueue indexes a pending conversation. The stored row is re-read under the
// conversation lock, so a conversation claimed since c was read is not
// indexed. It reports false, and publishes nothing, when the conversation is
// already indexed or no longer pending.
func (m *Manager) Enqueue(ctx context.Context, c *models.Conversation) (bool, error) {
	unlock, err := m.store.Lock(ctx, c.ID)
	if err != nil {
		return false, err
	}
	defer unlock()

	cur, err := m.store.Get(ctx, c.ID)
	if err != nil {
		return false, err
	}
	if cur.Status != models.StatusPending {
		m.logger.Debug().Str("conversation_id", c.ID).Str("status", string(cur.Status)).Msg("enqueue skipped")
		return false, nil
	}

	m.mu.Lock()
	if _, ok := m.index[cur.ID]; ok {
		m.mu.Unlock()
		return false, nil
	}
	m.index[cur.ID] = &indexEntry{conv: *cur}
	m.mu.Unlock()

	m.bus.Publish(events.ForConversation(events.TypeNewConversation, cur, ""))
	m.publishQueueUpdated(cur)
	return true, nil
}

// List lazily yields pending entries in queue order. Each iteration takes a
// fresh snapshot; entries claimed mid-iteration are skipped.
func (m *Manager) List(ctx context.Context, f Filter) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		now := m.store.Now()
		snap := m.snapshotAt(f, now)
		for _, c := range snap {
			if ctx.Err() != nil {
				return
			}
			if !m.listed(c.ID) {
				continue
			}
			e := Entry{
				Conversation:   c,
				Wait:           max(now.Sub(c.LastUserReplyAt), 0),
				WaitMinutes:    WaitMinutes(c.LastUserReplyAt, now),
				ContextSummary: m.lookupProfile(ctx, c.RequesterID),
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Snapshot materializes List.
func (m *Manager) Snapshot(ctx context.Context, f Filter) []Entry {
	var out []Entry
	for e := range m.List(ctx, f) {
		out = append(out, e)
	}
	return out
}

// Pending returns the listed pending conversations in queue order, without
// profile context.
func (m *Manager) Pending() []models.Conversation {
	return m.snapshotAt(Filter{}, m.store.Now())
}

// Len returns the number of listed pending conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.index {
		if !e.hidden {
			n++
		}
	}
	return n
}

func (m *Manager) snapshotAt(f Filter, now time.Time) []models.Conversation {
	m.mu.RLock()
	out := make([]models.Conversation, 0, len(m.index))
	for _, e := range m.index {
		if !e.hidden && f.allows(e.conv) {
			out = append(out, e.conv)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Conversation) int {
		return compareEntries(a, b, now)
	})
	return out
}

// WaitMinutes is the whole minutes elapsed from since to now, never negative.
func WaitMinutes(since, now time.Time) int {
	return int(max(now.Sub(since), 0) / time.Minute)
}

// compareEntries orders by priority desc, wait_minutes desc, created_at asc,
// id asc.
func compareEntries(a, b models.Conversation, now time.Time) int {
	if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
		return c
	}
	if c := cmp.Compare(WaitMinutes(b.LastUserReplyAt, now), WaitMinutes(a.LastUserReplyAt, now)); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (m *Manager) listed(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.index[id]
	return ok && !e.hidden
}

func (m *Manager) lookupProfile(ctx context.Context, userID string) *profile.Summary {
	if m.profiles == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, m.profileTimeout)
	defer cancel()
	sum, err := m.profiles.Lookup(lctx, userID)
	if err != nil {
		m.logger.Debug().Err(err).Str("user_id", userID).Msg("profile lookup skipped")
		return nil
	}
	return sum
}

func (m *Manager) setHidden(id string, hidden bool) {
	m.mu.Lock()
	if e, ok := m.index[id]; ok {
		e.hidden = hidden
	}
	m.mu.Unlock()
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.index, id)
	m.mu.Unlock()
}

// refresh replaces an indexed entry with c when c is newer. It reports
// whether the entry changed.
func (m *Manager) refresh(c *models.Conversation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.index[c.ID]
	if !ok || c.Status != models.StatusPending || c.Version <= e.conv.Version {
		return false
	}
	e.conv = *c
	return true
}

// put indexes c when pending and drops it otherwise.
func (m *Manager) put(c *models.Conversation) {
	m.mu.Lock()
	if c.Status == models.StatusPending {
		m.index[c.ID] = &indexEntry{conv: *c}
	} else {
		delete(m.index, c.ID)
	}
	m.mu.Unlock()
}

func (m *Manager) publishQueueUpdated(c *models.Conversation) {
	m.bus.Publish(events.Event{
		Type:           events.TypeQueueUpdated,
		ConversationID: c.ID,
		Priority:       c.Priority,
		Status:         c.Status,
	})
}

// Stats summarizes the pending queue.
type Stats struct {
	Pending        int                     `json:"pending"`
	Urgent         int                     `json:"urgent"`
	AvgWaitMinutes float64                 `json:"avg_wait_minutes"`
	ByPriority     map[models.Priority]int `json:"by_priority"`
}

// Stats computes queue statistics at the store's current time.
func (m *Manager) Stats() Stats {
	now := m.store.Now()
	st := Stats{ByPriority: make(map[models.Priority]int, len(models.Priorities))}
	for _, p := range models.Priorities {
		st.ByPriority[p] = 0
	}

	var total time.Duration
	m.mu.RLock()
	for _, e := range m.index {
		if e.hidden {
			continue
		}
		st.Pending++
		st.ByPriority[e.conv.Priority]++
		if e.conv.Priority == models.PriorityUrgent {
			st.Urgent++
		}
		total += max(now.Sub(e.conv.LastUserReplyAt), 0)
	}
	m.mu.RUnlock()

	if st.Pending > 0 {
		st.AvgWaitMinutes = total.Minutes() / float64(st.Pending)
	}
	return st
}
