package draft

import (
	"context"
	"errors"
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
	"github.com/zulandar/stylequeue/internal/queue"
	"github.com/zulandar/stylequeue/internal/transport"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

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

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.evts {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *conversation.Store
	queue   *queue.Manager
	builder *Builder
	mock    *transport.Mock
	rec     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "draft.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() { db.Close(gdb) })

	store := conversation.NewStore(gdb, conversation.WithClock(func() time.Time { return t0 }))
	rec := &recorder{}
	mock := transport.NewMock()
	return &fixture{
		store: store,
		queue: queue.NewManager(queue.Options{Store: store, Bus: rec, Logger: zerolog.Nop()}),
		builder: NewBuilder(Options{
			Store:     store,
			Transport: transport.NewIdempotent(gdb, mock, "mock"),
			Bus:       rec,
			Logger:    zerolog.Nop(),
		}),
		mock: mock,
		rec:  rec,
	}
}

// claimed creates a conversation claimed by stylist and returns its id.
func (f *fixture) claimed(t *testing.T, stylist string) string {
	t.Helper()
	ctx := context.Background()
	c, err := f.queue.Intake(ctx, conversation.CreateOpts{
		RequesterID:    "u-1",
		RequesterEmail: "client@example.com",
		Subject:        "Wedding guest outfit",
	})
	require.NoError(t, err)
	_, err = f.queue.Claim(ctx, c.ID, stylist)
	require.NoError(t, err)
	return c.ID
}

func heroLook() models.EmailModule {
	return models.EmailModule{
		Type:      models.ModuleHeroLook,
		Title:     "The look",
		Rationale: "Soft **sage** works with your palette.",
		Items: []models.EmailItem{
			{ProductID: "p-1", Brand: "Acme", Title: "Linen blazer", PriceQuoted: 180},
		},
	}
}

func TestCreate_RequiresClaim(t *testing.T) {
	f := newFixture(t)
	id := f.claimed(t, "alice")

	_, err := f.builder.Create(context.Background(), id, "bob")
	assert.True(t, sqerr.Is(err, sqerr.ErrNotClaimed))

	_, err = f.builder.Create(context.Background(), "missing", "alice")
	assert.True(t, sqerr.Is(err, sqerr.ErrNotFound))
}

func TestCreate_BeginsWorkAndReusesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.claimed(t, "alice")

	d, err := f.builder.Create(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Wedding guest outfit", d.SubjectLine)
	assert.Equal(t, "draft-"+d.ID, d.IdempotencyKey)
	assert.Equal(t, models.DraftStatusDraft, d.Status)

	c, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, c.Status)

	again, err := f.builder.Create(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)
	assert.Equal(t, 1, f.rec.count(events.TypeConversationUpdated), "began work once")
}

func TestModules_AddRemoveReorder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.builder.Create(ctx, f.claimed(t, "alice"), "alice")
	require.NoError(t, err)

	d, err = f.builder.AddModule(ctx, d.ID, "alice", heroLook())
	require.NoError(t, err)
	d, err = f.builder.AddModule(ctx, d.ID, "alice", models.EmailModule{Type: models.ModuleStyleStory, Title: "Why", Rationale: "Because."})
	require.NoError(t, err)
	d, err = f.builder.AddModule(ctx, d.ID, "alice", models.EmailModule{
		Type:    models.ModulePerk,
		Actions: []models.EmailAction{{Label: "Shop", Kind: models.ActionExternalLink, URL: "https://shop.example.com"}},
	})
	require.NoError(t, err)
	require.Len(t, d.Modules, 3)
	a, b, c := d.Modules[0].ModuleID, d.Modules[1].ModuleID, d.Modules[2].ModuleID
	assert.NotEmpty(t, a)

	d, err = f.builder.Reorder(ctx, d.ID, "alice", []string{c, a, b})
	require.NoError(t, err)
	assert.Equal(t, models.ModulePerk, d.Modules[0].Type)

	got, err := f.builder.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c, a, b}, []string{got.Modules[0].ModuleID, got.Modules[1].ModuleID, got.Modules[2].ModuleID})

	d, err = f.builder.RemoveModule(ctx, d.ID, "alice", a)
	require.NoError(t, err)
	assert.Len(t, d.Modules, 2)

	_, err = f.builder.RemoveModule(ctx, d.ID, "alice", a)
	assert.True(t, sqerr.Is(err, sqerr.ErrNotFound))
}

func TestReorder_Inconsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.builder.Create(ctx, f.claimed(t, "alice"), "alice")
	require.NoError(t, err)
	d, err = f.builder.AddModule(ctx, d.ID, "alice", heroLook())
	require.NoError(t, err)
	d, err = f.builder.AddModule(ctx, d.ID, "alice", heroLook())
	require.NoError(t, err)
	a, b := d.Modules[0].ModuleID, d.Modules[1].ModuleID

	for name, ids := range map[string][]string{
		"missing":   {a},
		"duplicate": {a, a},
		"unknown":   {a, "zzz"},
		"extra":     {a, b, "zzz"},
	} {
		_, err := f.builder.Reorder(ctx, d.ID, "alice", ids)
		assert.True(t, sqerr.Is(err, sqerr.ErrInconsistent), name)
	}

	got, err := f.builder.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got.Modules[0].ModuleID, "order unchanged")
}

func TestAddModule_RejectsMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.builder.Create(ctx, f.claimed(t, "alice"), "alice")
	require.NoError(t, err)

	_, err = f.builder.AddModule(ctx, d.ID, "alice", models.EmailModule{Type: "banner"})
	assert.True(t, sqerr.Is(err, sqerr.ErrInvalidRequest))

	_, err = f.builder.AddModule(ctx, d.ID, "alice", models.EmailModule{
		Type:    models.ModulePerk,
		Actions: []models.EmailAction{{Label: "x", Kind: "teleport"}},
	})
	assert.True(t, sqerr.Is(err, sqerr.ErrInvalidRequest))

	_, err = f.builder.AddModule(ctx, d.ID, "bob", heroLook())
	assert.True(t, sqerr.Is(err, sqerr.ErrNotClaimed))
}

func TestSave_PartialUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.builder.Create(ctx, f.claimed(t, "alice"), "alice")
	require.NoError(t, err)

	subject := "Three looks for the wedding"
	scheduled := true
	d, err = f.builder.Save(ctx, d.ID, "alice", SaveOpts{SubjectLine: &subject, IsScheduled: &scheduled})
	require.NoError(t, err)
	assert.Equal(t, subject, d.SubjectLine)
	assert.True(t, d.IsScheduled)
	assert.Nil(t, d.ScheduledSendAt)

	d, err = f.builder.Save(ctx, d.ID, "alice", SaveOpts{ClearSchedule: true})
	require.NoError(t, err)
	assert.False(t, d.IsScheduled)
	assert.Equal(t, subject, d.SubjectLine)
}

func TestSend_ValidationFailureRefusesSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.claimed(t, "alice")
	d, err := f.builder.Create(ctx, convID, "alice")
	require.NoError(t, err)

	mod := heroLook()
	mod.Items = nil
	d, err = f.builder.AddModule(ctx, d.ID, "alice", mod)
	require.NoError(t, err)

	_, err = f.builder.Send(ctx, d.ID, "alice")
	e, ok := sqerr.As(err)
	require.True(t, ok)
	assert.Equal(t, sqerr.ErrValidationFailed, e.Code)
	require.Len(t, e.Violations, 1)
	assert.Equal(t, "hero_look.items_required", e.Violations[0].Rule)
	assert.Equal(t, d.Modules[0].ModuleID, e.Violations[0].ModuleID)

	assert.Equal(t, 0, f.mock.Calls())
	c, err := f.store.Get(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, c.Status)
}

func TestSend_CompletesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.claimed(t, "alice")
	d, err := f.builder.Create(ctx, convID, "alice")
	require.NoError(t, err)
	d, err = f.builder.AddModule(ctx, d.ID, "alice", heroLook())
	require.NoError(t, err)

	res, err := f.builder.Send(ctx, d.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "mock-1", res.MessageID)
	assert.Equal(t, models.DraftStatusSent, res.Draft.Status)
	assert.Equal(t, models.StatusCompleted, res.Conversation.Status)
	assert.Equal(t, "alice", res.Conversation.CompletedBy)
	assert.Empty(t, res.Conversation.ClaimedBy)

	sent := f.mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "client@example.com", sent[0].To)
	assert.Equal(t, d.IdempotencyKey, sent[0].IdempotencyKey)
	assert.Contains(t, sent[0].HTML, "<strong>sage</strong>")

	claims, err := f.store.Claims(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claims)

	assert.Equal(t, 1, f.rec.count(events.TypeEmailSent))

	// Sending again returns the recorded result without a new event.
	again, err := f.builder.Send(ctx, d.ID, "alice")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, "mock-1", again.MessageID)
	assert.Equal(t, 1, f.rec.count(events.TypeEmailSent))
	assert.Equal(t, 1, f.mock.Calls())

	// Sent drafts are frozen.
	_, err = f.builder.AddModule(ctx, d.ID, "alice", heroLook())
	assert.True(t, sqerr.Is(err, sqerr.ErrInvalidTransition))
}

func TestSend_RetryAfterTransportFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.claimed(t, "alice")
	d, err := f.builder.Create(ctx, convID, "alice")
	require.NoError(t, err)
	d, err = f.builder.AddModule(ctx, d.ID, "alice", heroLook())
	require.NoError(t, err)

	f.mock.FailNext(1, errors.New("connection reset"))
	_, err = f.builder.Send(ctx, d.ID, "alice")
	e, ok := sqerr.As(err)
	require.True(t, ok)
	assert.Equal(t, sqerr.ErrTransport, e.Code)
	assert.True(t, e.Retryable)
	assert.Equal(t, d.IdempotencyKey, e.Details["idempotency_key"])

	c, err := f.store.Get(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, c.Status, "nothing changed")
	assert.Equal(t, 0, f.rec.count(events.TypeEmailSent))

	_, err = f.builder.Send(ctx, d.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, f.rec.count(events.TypeEmailSent))
	assert.Len(t, f.mock.Sent(), 1)
}

func TestSend_RequiresOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.claimed(t, "alice")
	d, err := f.builder.Create(ctx, convID, "alice")
	require.NoError(t, err)
	d, err = f.builder.AddModule(ctx, d.ID, "alice", heroLook())
	require.NoError(t, err)

	_, err = f.builder.Send(ctx, d.ID, "bob")
	assert.True(t, sqerr.Is(err, sqerr.ErrNotClaimed))

	// Alice released the claim; her draft can no longer be sent.
	_, err = f.queue.Release(ctx, convID, "alice", queue.ReasonStylistRelease)
	require.NoError(t, err)
	_, err = f.builder.Send(ctx, d.ID, "alice")
	assert.True(t, sqerr.Is(err, sqerr.ErrNotClaimed))
	assert.Equal(t, 0, f.mock.Calls())
}
