package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/stylequeue/internal/conversation"
	"github.com/zulandar/stylequeue/internal/db"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/events"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/profile"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu   sync.Mutex
	evts []events.Event
}

func (r *recorder) Publish(evt events.Event) events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evt.ID = fmt.Sprintf("evt-%d", len(r.evts)+1)
	r.evts = append(r.evts, evt)
	return evt
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.evts {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store *conversation.Store
	mgr   *Manager
	clock *testClock
	rec   *recorder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() { db.Close(gdb) })

	clock := &testClock{now: t0}
	store := conversation.NewStore(gdb, conversation.WithClock(clock.Now))
	rec := &recorder{}

	opts.Store = store
	opts.Bus = rec
	opts.Logger = zerolog.Nop()
	return &fixture{store: store, mgr: NewManager(opts), clock: clock, rec: rec}
}

func (f *fixture) intake(t *testing.T, subject string, p models.Priority) *models.Conversation {
	t.Helper()
	c, err := f.mgr.Intake(context.Background(), conversation.CreateOpts{
		RequesterID: "u-" + subject,
		Subject:     subject,
		Priority:    p,
	})
	require.NoError(t, err)
	return c
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Subject
	}
	return out
}

func TestIntake_EnqueuesAndPublishes(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.intake(t, "a", models.PriorityNormal)

	assert.Equal(t, 1, f.mgr.Len())
	require.Len(t, f.rec.ofType(events.TypeNewConversation), 1)
	assert.Equal(t, c.ID, f.rec.ofType(events.TypeNewConversation)[0].ConversationID)
	assert.Len(t, f.rec.ofType(events.TypeQueueUpdated), 1)

	// Enqueue of an indexed conversation is a no-op.
	added, err := f.mgr.Enqueue(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, f.rec.ofType(events.TypeNewConversation), 1)
}

func TestEnqueue_SkipsConversationClaimedSinceRead(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	c, err := f.store.Create(ctx, conversation.CreateOpts{ID: "c-early", RequesterID: "u-1", Subject: "early"})
	require.NoError(t, err)

	// The id is known to the client, so a claim can land before enqueue.
	_, err = f.mgr.Claim(ctx, c.ID, "s-a")
	require.NoError(t, err)

	added, err := f.mgr.Enqueue(ctx, c)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 0, f.mgr.Len())
	assert.Empty(t, f.mgr.Snapshot(ctx, Filter{}))
	assert.Empty(t, f.rec.ofType(events.TypeNewConversation))

	_, err = f.mgr.Claim(ctx, c.ID, "s-b")
	assert.True(t, sqerr.Is(err, sqerr.ErrClaimConflict))
}

func TestEnqueue_IndexesStoredRow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	c, err := f.store.Create(ctx, conversation.CreateOpts{RequesterID: "u-1", Subject: "a"})
	require.NoError(t, err)

	f.clock.Add(time.Minute)
	_, err = f.store.RecordReply(ctx, c.ID, f.clock.Now())
	require.NoError(t, err)

	added, err := f.mgr.Enqueue(ctx, c)
	require.NoError(t, err)
	assert.True(t, added)

	entries := f.mgr.Snapshot(ctx, Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, c.Version+1, entries[0].Version)
	assert.True(t, entries[0].LastUserReplyAt.Equal(t0.Add(time.Minute)))
}

func TestList_StrictOrder(t *testing.T) {
	f := newFixture(t, Options{})

	f.intake(t, "normal-old", models.PriorityNormal)
	f.clock.Add(time.Minute)
	f.intake(t, "urgent-new", models.PriorityUrgent)
	f.clock.Add(time.Minute)
	f.intake(t, "normal-new", models.PriorityNormal)
	f.intake(t, "normal-tie", models.PriorityNormal) // same instant as normal-new
	f.clock.Add(time.Minute)
	f.intake(t, "low", models.PriorityLow)
	f.intake(t, "high", models.PriorityHigh)

	got := f.mgr.Snapshot(context.Background(), Filter{})
	require.Len(t, got, 6)
	assert.Equal(t, "urgent-new", got[0].Subject)
	assert.Equal(t, "high", got[1].Subject)
	assert.Equal(t, "normal-old", got[2].Subject)
	assert.Equal(t, "low", got[5].Subject)

	// Ties on priority, wait and created_at fall back to id.
	a, b := got[3], got[4]
	assert.Less(t, a.ID, b.ID)

	assert.Equal(t, 3, got[2].WaitMinutes)
	assert.Equal(t, 2, got[0].WaitMinutes)

	// Same order on every iteration.
	assert.Equal(t, ids(got), ids(f.mgr.Snapshot(context.Background(), Filter{})))
}

func TestList_OrdersByWholeMinutes(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	a := f.intake(t, "a", models.PriorityNormal)
	f.clock.Add(10 * time.Second)
	f.intake(t, "b", models.PriorityNormal)
	f.clock.Add(10 * time.Second)
	_, err := f.mgr.RecordReply(ctx, a.ID, f.clock.Now())
	require.NoError(t, err)

	// b has waited 10s longer, but both have waited 4 whole minutes, so
	// creation order decides.
	f.clock.Add(4*time.Minute + 30*time.Second)
	got := f.mgr.Snapshot(ctx, Filter{})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.Equal(t, 4, got[0].WaitMinutes)
	assert.Equal(t, 4, got[1].WaitMinutes)
}

func TestWaitMinutes(t *testing.T) {
	assert.Equal(t, 45, WaitMinutes(t0, t0.Add(45*time.Minute+59*time.Second)))
	assert.Equal(t, 46, WaitMinutes(t0, t0.Add(46*time.Minute)))
	assert.Equal(t, 0, WaitMinutes(t0, t0.Add(-time.Minute)))
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t, Options{})
	f.intake(t, "low", models.PriorityLow)
	f.intake(t, "high", models.PriorityHigh)
	f.intake(t, "urgent", models.PriorityUrgent)

	got := f.mgr.Snapshot(context.Background(), Filter{MinPriority: models.PriorityHigh})
	assert.Equal(t, []string{"urgent", "high"}, ids(got))

	got = f.mgr.Snapshot(context.Background(), Filter{Predicate: func(c models.Conversation) bool {
		return c.Subject == "low"
	}})
	assert.Equal(t, []string{"low"}, ids(got))
}

func TestList_EarlyStopAndRestart(t *testing.T) {
	f := newFixture(t, Options{})
	for i := 0; i < 5; i++ {
		f.intake(t, fmt.Sprintf("c%d", i), models.PriorityNormal)
		f.clock.Add(time.Second)
	}

	seq := f.mgr.List(context.Background(), Filter{})
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	// The sequence restarts from a fresh snapshot.
	n = 0
	for range seq {
		n++
	}
	assert.Equal(t, 5, n)
}

type slowProfiles struct{}

func (slowProfiles) Lookup(ctx context.Context, userID string) (*profile.Summary, error) {
	if userID == "u-fast" {
		return &profile.Summary{UserID: userID, RecentPurchases: 2}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestList_ProfileContextIsBestEffort(t *testing.T) {
	f := newFixture(t, Options{Profiles: slowProfiles{}, ProfileTimeout: 10 * time.Millisecond})
	f.intake(t, "fast", models.PriorityHigh)
	f.intake(t, "slow", models.PriorityNormal)

	got := f.mgr.Snapshot(context.Background(), Filter{})
	require.Len(t, got, 2)
	require.NotNil(t, got[0].ContextSummary)
	assert.Equal(t, 2, got[0].ContextSummary.RecentPurchases)
	assert.Nil(t, got[1].ContextSummary)
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.intake(t, "hot", models.PriorityUrgent)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stylist := fmt.Sprintf("s-%d", i)
			_, err := f.mgr.Claim(context.Background(), c.ID, stylist)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, stylist)
			case sqerr.Is(err, sqerr.ErrClaimConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, conflicts)

	stored, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.ClaimedBy)
	assert.Equal(t, models.StatusClaimed, stored.Status)
	assert.Empty(t, f.mgr.Snapshot(context.Background(), Filter{}))
	assert.Len(t, f.rec.ofType(events.TypeConversationClaimed), 1)
}

func TestClaim_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.mgr.Claim(ctx, "missing", "s-1")
	assert.True(t, sqerr.Is(err, sqerr.ErrNotFound))

	c := f.intake(t, "a", models.PriorityNormal)
	_, err = f.mgr.Claim(ctx, c.ID, "")
	assert.True(t, sqerr.Is(err, sqerr.ErrInvalidRequest))

	_, err = f.mgr.Claim(ctx, c.ID, "s-1")
	require.NoError(t, err)

	// Re-claim by the holder is still a conflict.
	_, err = f.mgr.Claim(ctx, c.ID, "s-1")
	assert.True(t, sqerr.Is(err, sqerr.ErrClaimConflict))

	// Escalated conversations are not claimable.
	_, err = f.mgr.Escalate(ctx, c.ID, "test")
	require.NoError(t, err)
	_, err = f.mgr.Claim(ctx, c.ID, "s-2")
	assert.True(t, sqerr.Is(err, sqerr.ErrNotFound))
}

func TestClaim_EventOrder(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.intake(t, "a", models.PriorityNormal)

	_, err := f.mgr.Claim(context.Background(), c.ID, "s-1")
	require.NoError(t, err)

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	var types []events.Type
	for _, e := range f.rec.evts {
		types = append(types, e.Type)
	}
	assert.Equal(t, []events.Type{
		events.TypeNewConversation,
		events.TypeQueueUpdated,
		events.TypeConversationClaimed,
		events.TypeQueueUpdated,
	}, types)
	assert.Equal(t, "s-1", f.rec.evts[2].StylistID)
}

func TestBeginWork(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	c := f.intake(t, "a", models.PriorityNormal)

	_, err := f.mgr.BeginWork(ctx, c.ID, "s-1")
	assert.True(t, sqerr.Is(err, sqerr.ErrNotClaimed))

	_, err = f.mgr.Claim(ctx, c.ID, "s-1")
	require.NoError(t, err)

	got, err := f.mgr.BeginWork(ctx, c.ID, "s-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)

	// Idempotent.
	_, err = f.mgr.BeginWork(ctx, c.ID, "s-1")
	require.NoError(t, err)
	assert.Len(t, f.rec.ofType(events.TypeConversationUpdated), 1)
}

func TestRelease_StylistRequeuesPreservingCreatedAt(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	c := f.intake(t, "a", models.PriorityNormal)

	for i := 0; i < 3; i++ {
		f.clock.Add(time.Minute)
		_, err := f.mgr.Claim(ctx, c.ID, "s-1")
		require.NoError(t, err)
		got, err := f.mgr.Release(ctx, c.ID, "s-1", ReasonStylistRelease)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.True(t, got.CreatedAt.Equal(t0))
	}

	entries := f.mgr.Snapshot(ctx, Filter{})
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CreatedAt.Equal(t0))
	assert.Equal(t, models.PriorityNormal, entries[0].Priority)
}

func TestRelease_NotHeld(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	c := f.intake(t, "a", models.PriorityNormal)

	_, err := f.mgr.Release(ctx, c.ID, "s-1", ReasonStylistRelease)
	assert.True(t, sqerr.Is(err, sqerr.ErrNotHeld))

	_, err = f.mgr.Claim(ctx, c.ID, "s-1")
	require.NoError(t, err)

	_, err = f.mgr.Release(ctx, c.ID, "s-2", ReasonStylistRelease)
	assert.True(t, sqerr.Is(err, sqerr.ErrNotHeld), "another stylist's claim")

	_, err = f.mgr.Release(ctx, c.ID, "s-1", "bored")
	assert.True(t, sqerr.Is(err, sqerr.ErrInvalidRequest))
}

func TestRelease_TimeoutPolicies(t *testing.T) {
	tests := []struct {
		name         string
		policy       TimeoutPolicy
		autoRetriage bool
		wantStatus   models.Status
		wantPriority models.Priority
		wantIndexed  bool
	}{
		{"requeue", OnTimeoutRequeue, false, models.StatusPending, models.PriorityNormal, true},
		{"escalate and retriage", OnTimeoutEscalate, true, models.StatusPending, models.PriorityHigh, true},
		{"escalate only", OnTimeoutEscalate, false, models.StatusEscalated, models.PriorityNormal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{OnTimeout: tt.policy, AutoRetriage: tt.autoRetriage})
			ctx := context.Background()
			c := f.intake(t, "a", models.PriorityNormal)
			_, err := f.mgr.Claim(ctx, c.ID, "s-1")
			require.NoError(t, err)

			got, err := f.mgr.Release(ctx, c.ID, "", ReasonEscalationTimeout)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantPriority, got.Priority)
			assert.Empty(t, got.ClaimedBy)
			assert.True(t, got.CreatedAt.Equal(t0))
			assert.Equal(t, tt.wantIndexed, f.mgr.Len() == 1)

			claims, err := f.mgr.ExpiredClaims(ctx, t0.Add(time.Hour))
			require.NoError(t, err)
			assert.Empty(t, claims)
		})
	}
}

func TestEscalate_RetriagesOneTierUp(t *testing.T) {
	f := newFixture(t, Options{AutoRetriage: true})
	ctx := context.Background()
	c := f.intake(t, "a", models.PriorityNormal)

	f.clock.Add(46 * time.Minute)
	got, err := f.mgr.Escalate(ctx, c.ID, "sla_breach")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	assert.Equal(t, 1, got.EscalationCount)
	assert.True(t, got.CreatedAt.Equal(t0))

	updates := f.rec.ofType(events.TypeConversationUpdated)
	require.Len(t, updates, 2)
	assert.Equal(t, models.StatusEscalated, updates[0].Status)
	assert.Equal(t, models.StatusPending, updates[1].Status)

	entries := f.mgr.Snapshot(ctx, Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, models.PriorityHigh, entries[0].Priority)
}

func TestEscalate_AlreadyEscalatedIsInvalid(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	c := f.intake(t, "a", models.PriorityNormal)

	_, err := f.mgr.Escalate(ctx, c.ID, "x")
	require.NoError(t, err)
	_, err = f.mgr.Escalate(ctx, c.ID, "x")
	assert.True(t, sqerr.Is(err, sqerr.ErrInvalidTransition), "escalated twice without retriage")
}

func TestRetriage(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	c := f.intake(t, "a", models.PriorityHigh)

	_, err := f.mgr.Escalate(ctx, c.ID, "x")
	require.NoError(t, err)
	assert.Equal(t, 0, f.mgr.Len())

	_, err = f.mgr.Retriage(ctx, c.ID, models.RoleStylist)
	assert.True(t, sqerr.Is(err, sqerr.ErrForbidden))

	got, err := f.mgr.Retriage(ctx, c.ID, models.RoleSeniorStylist)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, got.Priority)
	assert.Equal(t, 1, f.mgr.Len())

	_, err = f.mgr.Retriage(ctx, c.ID, models.RoleAdmin)
	assert.True(t, sqerr.Is(err, sqerr.ErrInvalidTransition))
}

func TestRecordReply_Reorders(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.intake(t, "a", models.PriorityNormal)
	f.clock.Add(time.Minute)
	f.intake(t, "b", models.PriorityNormal)

	f.clock.Add(time.Minute)
	_, err := f.mgr.RecordReply(ctx, a.ID, f.clock.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a"}, ids(f.mgr.Snapshot(ctx, Filter{})))
}

func TestEscalateIf_ChangedRowIsLeftAlone(t *testing.T) {
	f := newFixture(t, Options{AutoRetriage: true})
	ctx := context.Background()
	c := f.intake(t, "a", models.PriorityNormal)
	_, err := f.mgr.Claim(ctx, c.ID, "s-1")
	require.NoError(t, err)

	pendingOnly := func(c models.Conversation) bool { return c.Status == models.StatusPending }
	_, err = f.mgr.EscalateIf(ctx, c.ID, "sla_breach", pendingOnly)
	assert.True(t, sqerr.Is(err, sqerr.ErrConflict))

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClaimed, stored.Status)
	assert.Equal(t, "s-1", stored.ClaimedBy)
	assert.Equal(t, 0, stored.EscalationCount)
	assert.Empty(t, f.rec.ofType(events.TypeConversationUpdated))
}

func TestRecordReply_IndexFollowsConcurrentRelease(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	c := f.intake(t, "a", models.PriorityNormal)

	for i := 0; i < 20; i++ {
		_, err := f.mgr.Claim(ctx, c.ID, "s-1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.mgr.Release(ctx, c.ID, "s-1", ReasonStylistRelease)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.mgr.RecordReply(ctx, c.ID, f.clock.Now())
			assert.NoError(t, err)
		}()
		wg.Wait()

		stored, err := f.store.Get(ctx, c.ID)
		require.NoError(t, err)
		entries := f.mgr.Snapshot(ctx, Filter{})
		require.Len(t, entries, 1)
		assert.Equal(t, stored.Version, entries[0].Version)
		assert.Equal(t, models.StatusPending, entries[0].Status)
		assert.Empty(t, entries[0].ClaimedBy)
	}
}

func TestRefresh_IgnoresStaleSnapshots(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.intake(t, "a", models.PriorityNormal)

	fresh := *c
	fresh.Version = c.Version + 2
	fresh.Subject = "fresh"
	assert.True(t, f.mgr.refresh(&fresh))

	stale := *c
	stale.Version = c.Version + 1
	stale.Subject = "stale"
	assert.False(t, f.mgr.refresh(&stale))

	claimed := *c
	claimed.Version = c.Version + 3
	claimed.Status = models.StatusClaimed
	assert.False(t, f.mgr.refresh(&claimed))

	assert.Equal(t, []string{"fresh"}, ids(f.mgr.Snapshot(context.Background(), Filter{})))
}

func TestRebuild(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.intake(t, "a", models.PriorityNormal)
	f.intake(t, "b", models.PriorityLow)
	_, err := f.mgr.Claim(ctx, a.ID, "s-1")
	require.NoError(t, err)

	fresh := NewManager(Options{Store: f.store, Bus: f.rec, Logger: zerolog.Nop()})
	require.NoError(t, fresh.Rebuild(ctx))
	assert.Equal(t, []string{"b"}, ids(fresh.Snapshot(ctx, Filter{})))
}

func TestStats(t *testing.T) {
	f := newFixture(t, Options{})
	f.intake(t, "a", models.PriorityUrgent)
	f.clock.Add(10 * time.Minute)
	f.intake(t, "b", models.PriorityNormal)

	st := f.mgr.Stats()
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 1, st.Urgent)
	assert.Equal(t, 1, st.ByPriority[models.PriorityNormal])
	assert.InDelta(t, 5.0, st.AvgWaitMinutes, 1e-9)
}
